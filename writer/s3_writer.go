package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// archiveRecord is the parquet schema of archived points.
type archiveRecord struct {
	Symbol    string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Price     float64  `parquet:"name=price, type=DOUBLE"`
	Volume    int64    `parquet:"name=volume, type=INT64"`
	Bid       *float64 `parquet:"name=bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	Ask       *float64 `parquet:"name=ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	Source    string   `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	DataType  string   `parquet:"name=data_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metadata  string   `parquet:"name=metadata, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes every flushed batch to S3 as one snappy-compressed
// parquet object, partitioned by date and hour.
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	log    *logger.Log
}

func NewS3Archive(ctx context.Context, cfg appconfig.S3Config, log *logger.Log) (*S3Archive, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	bucket, err := normalizeBucketName(cfg.Bucket)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":     bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 archive initialized")

	return &S3Archive{client: client, bucket: bucket, prefix: cfg.Prefix, log: log}, nil
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

func (a *S3Archive) StoreBatch(ctx context.Context, points []models.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	data, err := encodeParquet(points)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}

	key := archiveKey(a.prefix, batchTime(points), uuid.NewString())
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	a.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(points),
		"bytes":   len(data),
	}).Debug("batch archived")
	logger.IncrementSinkWrite("s3", len(points))
	return nil
}

func (a *S3Archive) Close() error { return nil }

// batchTime is the newest point timestamp in the batch.
func batchTime(points []models.DataPoint) time.Time {
	var newest time.Time
	for _, p := range points {
		if p.Timestamp.After(newest) {
			newest = p.Timestamp
		}
	}
	if newest.IsZero() {
		newest = time.Now()
	}
	return newest.UTC()
}

func archiveKey(prefix string, ts time.Time, id string) string {
	ts = ts.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("batch_%s.parquet", id),
	)
}

func encodeParquet(points []models.DataPoint) ([]byte, error) {
	mf := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mf, new(archiveRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, p := range points {
		meta := ""
		if len(p.Metadata) > 0 {
			raw, err := json.Marshal(p.Metadata)
			if err != nil {
				return nil, err
			}
			meta = string(raw)
		}
		rec := archiveRecord{
			Symbol:    p.Symbol,
			Timestamp: p.Timestamp.UTC().UnixMilli(),
			Price:     p.Price,
			Volume:    p.Volume,
			Bid:       p.Bid,
			Ask:       p.Ask,
			Source:    p.Source,
			DataType:  string(p.Category),
			Metadata:  meta,
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}
