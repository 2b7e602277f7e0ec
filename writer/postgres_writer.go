package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

const postgresInsertChunk = 500

// marketDataRow is one row of the market_data table.
type marketDataRow struct {
	ID        uint           `gorm:"primaryKey"`
	Symbol    string         `gorm:"type:varchar(20);not null;index:idx_market_data_symbol_timestamp,priority:1"`
	Timestamp time.Time      `gorm:"type:timestamptz;not null;index:idx_market_data_symbol_timestamp,priority:2,sort:desc;index:idx_market_data_timestamp,sort:desc"`
	Price     float64        `gorm:"type:decimal(15,4)"`
	Volume    int64          `gorm:"type:bigint"`
	Bid       *float64       `gorm:"type:decimal(15,4)"`
	Ask       *float64       `gorm:"type:decimal(15,4)"`
	Source    string         `gorm:"type:varchar(50)"`
	DataType  string         `gorm:"column:data_type;type:varchar(20)"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	PointKey  string         `gorm:"column:point_key;type:char(64);not null;uniqueIndex:uq_market_data_point_key"`
	CreatedAt time.Time      `gorm:"default:now()"`
}

func (marketDataRow) TableName() string { return "market_data" }

// qualityMetricRow is one row of the data_quality_metrics table.
type qualityMetricRow struct {
	ID               uint      `gorm:"primaryKey"`
	Timestamp        time.Time `gorm:"type:timestamptz;not null;index"`
	TotalPoints      int64
	ValidPoints      int64
	RejectedPoints   int64
	LatencyMs        float64 `gorm:"type:decimal(10,2)"`
	ThroughputPerSec float64 `gorm:"type:decimal(10,2)"`
}

func (qualityMetricRow) TableName() string { return "data_quality_metrics" }

// PostgresStore writes batches to PostgreSQL in one transaction each. A row
// is identified by point_key, a digest of every field of the point, so only
// exact duplicates (a re-delivered batch) are skipped.
type PostgresStore struct {
	cfg appconfig.PostgresConfig
	db  *gorm.DB
	log *logger.Log

	schemaMu    sync.Mutex
	provisioned bool
}

func NewPostgresStore(cfg appconfig.PostgresConfig, log *logger.Log) (*PostgresStore, error) {
	return newPostgresStoreFromDSN(postgresDSN(cfg), cfg, log)
}

func newPostgresStoreFromDSN(dsn string, cfg appconfig.PostgresConfig, log *logger.Log) (*PostgresStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MinConnections)
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	log.WithComponent("postgres_writer").WithFields(logger.Fields{
		"host":            cfg.Host,
		"database":        cfg.Database,
		"min_connections": cfg.MinConnections,
		"max_connections": cfg.MaxConnections,
	}).Info("postgres store initialized")

	return &PostgresStore{cfg: cfg, db: db, log: log}, nil
}

func postgresDSN(cfg appconfig.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u.String()
}

// ensureSchema creates tables and indexes on first use.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.provisioned {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&marketDataRow{}, &qualityMetricRow{}); err != nil {
		return fmt.Errorf("provision schema: %w", err)
	}
	s.provisioned = true
	s.log.WithComponent("postgres_writer").Info("schema provisioned")
	return nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.WriteTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.WriteTimeout)
	}
	return context.WithCancel(ctx)
}

// StoreBatch inserts points in a single transaction. Any error rolls back
// the whole batch.
func (s *PostgresStore) StoreBatch(ctx context.Context, points []models.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	rows, err := toMarketDataRows(points)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "point_key"}},
			DoNothing: true,
		}).CreateInBatches(rows, postgresInsertChunk).Error
	})
	if err != nil {
		return fmt.Errorf("store batch of %d: %w", len(points), err)
	}

	entry := s.log.WithComponent("postgres_writer")
	logger.LogPerformanceEntry(entry, "postgres_writer", "store_batch", time.Since(start), logger.Fields{"records": len(rows)})
	logger.LogDataFlowEntry(entry, "pipeline", "postgres", len(rows), "market_data")
	logger.IncrementSinkWrite("postgres", len(rows))
	return nil
}

// StoreQualityMetrics appends one data-quality summary row.
func (s *PostgresStore) StoreQualityMetrics(ctx context.Context, report models.QualityReport) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	row := toQualityMetricRow(report)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store quality metrics: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.log.WithComponent("postgres_writer").Debug("closing postgres pool")
	return sqlDB.Close()
}

// toMarketDataRows converts points into rows. Exact duplicates within the
// batch are dropped because one INSERT ... ON CONFLICT may not touch the same
// row twice; distinct observations sharing a timestamp all survive.
// Timestamps keep microsecond precision to match timestamptz.
func toMarketDataRows(points []models.DataPoint) ([]marketDataRow, error) {
	rows := make([]marketDataRow, 0, len(points))
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		var meta datatypes.JSON
		if len(p.Metadata) > 0 {
			raw, err := json.Marshal(p.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata for %s: %w", p.Symbol, err)
			}
			meta = datatypes.JSON(raw)
		}
		row := marketDataRow{
			Symbol:    p.Symbol,
			Timestamp: p.Timestamp.UTC().Truncate(time.Microsecond),
			Price:     p.Price,
			Volume:    p.Volume,
			Bid:       p.Bid,
			Ask:       p.Ask,
			Source:    p.Source,
			DataType:  string(p.Category),
			Metadata:  meta,
		}
		row.PointKey = pointKey(row)
		if _, dup := seen[row.PointKey]; dup {
			continue
		}
		seen[row.PointKey] = struct{}{}
		rows = append(rows, row)
	}
	return rows, nil
}

// pointKey digests every stored field of a row. Metadata is already
// canonical: encoding/json sorts map keys.
func pointKey(r marketDataRow) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%v\x00%d\x00", r.Symbol, r.Timestamp.UnixNano(), r.Source, r.DataType, r.Price, r.Volume)
	for _, v := range []*float64{r.Bid, r.Ask} {
		if v == nil {
			h.Write([]byte("-\x00"))
			continue
		}
		fmt.Fprintf(h, "%v\x00", *v)
	}
	h.Write(r.Metadata)
	return hex.EncodeToString(h.Sum(nil))
}

func toQualityMetricRow(r models.QualityReport) qualityMetricRow {
	return qualityMetricRow{
		Timestamp:        r.Timestamp.UTC(),
		TotalPoints:      r.TotalPoints,
		ValidPoints:      r.ValidPoints,
		RejectedPoints:   r.RejectedPoints,
		LatencyMs:        r.LatencyMs,
		ThroughputPerSec: r.ThroughputPerSec,
	}
}
