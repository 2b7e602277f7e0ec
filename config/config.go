package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Streaming StreamingConfig `yaml:"streaming"`
	Storage   StorageConfig   `yaml:"storage"`
	Sources   SourcesConfig   `yaml:"sources"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

type PipelineConfig struct {
	BatchSize       int             `yaml:"batch_size" validate:"gt=0"`
	BatchTimeout    time.Duration   `yaml:"batch_timeout" validate:"gt=0"`
	MaxQueueSize    int             `yaml:"max_queue_size" validate:"gt=0"`
	DequeueTimeout  time.Duration   `yaml:"dequeue_timeout" validate:"gt=0"`
	FlushOnStop     bool            `yaml:"flush_on_stop"`
	MetricsInterval time.Duration   `yaml:"metrics_interval" validate:"gte=0"`
	LatencySamples  int             `yaml:"latency_samples" validate:"gt=0"`
	Validator       ValidatorConfig `yaml:"validator"`
}

// ValidatorConfig tunes the per-symbol anomaly check. The defaults flag a
// price deviating more than 50% from the mean of the last 10 accepted prices
// once more than 10 prices have been seen.
type ValidatorConfig struct {
	HistorySize      int     `yaml:"history_size" validate:"gt=0"`
	Warmup           int     `yaml:"warmup" validate:"gte=0"`
	Window           int     `yaml:"window" validate:"gt=0"`
	AnomalyThreshold float64 `yaml:"anomaly_threshold" validate:"gt=0"`
}

type StreamingConfig struct {
	Enabled bool        `yaml:"enabled"`
	Driver  string      `yaml:"driver" validate:"oneof=kafka nats"`
	Kafka   KafkaConfig `yaml:"kafka"`
	NATS    NATSConfig  `yaml:"nats"`
}

type KafkaConfig struct {
	BootstrapServers  []string      `yaml:"bootstrap_servers"`
	Compression       string        `yaml:"compression" validate:"oneof=none gzip snappy lz4 zstd"`
	BatchBytes        int64         `yaml:"batch_bytes" validate:"gt=0"`
	Linger            time.Duration `yaml:"linger" validate:"gte=0"`
	Retries           int           `yaml:"retries" validate:"gte=0"`
	Acks              int           `yaml:"acks" validate:"oneof=-1 0 1"`
	Partitions        int           `yaml:"partitions" validate:"gt=0"`
	ReplicationFactor int           `yaml:"replication_factor" validate:"gt=0"`
	DialTimeout       time.Duration `yaml:"dial_timeout" validate:"gt=0"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" validate:"gte=0"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

type StorageConfig struct {
	PostgreSQL PostgresConfig `yaml:"postgresql"`
	S3         S3Config       `yaml:"s3"`
	Redis      RedisConfig    `yaml:"redis"`
}

type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	MinConnections  int           `yaml:"min_connections" validate:"gte=0"`
	MaxConnections  int           `yaml:"max_connections" validate:"gt=0,gtefield=MinConnections"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age" validate:"gte=0"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "marketpipe", Version: "dev"},
		Pipeline: PipelineConfig{
			BatchSize:       100,
			BatchTimeout:    time.Second,
			MaxQueueSize:    10000,
			DequeueTimeout:  100 * time.Millisecond,
			FlushOnStop:     true,
			MetricsInterval: time.Minute,
			LatencySamples:  1000,
			Validator: ValidatorConfig{
				HistorySize:      100,
				Warmup:           10,
				Window:           10,
				AnomalyThreshold: 0.5,
			},
		},
		Streaming: StreamingConfig{
			Driver: "kafka",
			Kafka: KafkaConfig{
				BootstrapServers:  []string{"localhost:9092"},
				Compression:       "gzip",
				BatchBytes:        16384,
				Linger:            10 * time.Millisecond,
				Retries:           3,
				Acks:              1,
				Partitions:        3,
				ReplicationFactor: 1,
				DialTimeout:       10 * time.Second,
			},
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				ClientID:       "marketpipe",
				ConnectTimeout: 5 * time.Second,
				ReconnectWait:  2 * time.Second,
				MaxReconnects:  -1,
			},
		},
		Storage: StorageConfig{
			PostgreSQL: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "trading_data",
				User:            "postgres",
				SSLMode:         "disable",
				MinConnections:  5,
				MaxConnections:  20,
				ConnMaxIdleTime: 5 * time.Minute,
				WriteTimeout:    30 * time.Second,
			},
			S3:    S3Config{Prefix: "market_data"},
			Redis: RedisConfig{Addr: "localhost:6379", TTL: 10 * time.Minute},
		},
		Sources: defaultSources(),
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{ListenAddr: ":2112"},
			CloudWatch: CloudWatchConfig{Namespace: "MarketPipe", Dashboard: "MarketPipe"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := lookupEnv("PIPELINE_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_BATCH_SIZE: %w", err)
		}
		cfg.Pipeline.BatchSize = n
	}
	if v, ok := lookupEnv("PIPELINE_BATCH_TIMEOUT"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_BATCH_TIMEOUT: %w", err)
		}
		cfg.Pipeline.BatchTimeout = d
	}
	if v, ok := lookupEnv("PIPELINE_MAX_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_MAX_QUEUE_SIZE: %w", err)
		}
		cfg.Pipeline.MaxQueueSize = n
	}
	if v, ok := lookupEnv("PIPELINE_LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v, ok := lookupEnv("KAFKA_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KAFKA_ENABLED: %w", err)
		}
		cfg.Streaming.Enabled = b
		if b {
			cfg.Streaming.Driver = "kafka"
		}
	}
	if v, ok := lookupEnv("KAFKA_BOOTSTRAP_SERVERS"); ok {
		cfg.Streaming.Kafka.BootstrapServers = splitList(v)
	}
	if v, ok := lookupEnv("NATS_URL"); ok {
		cfg.Streaming.NATS.URL = v
	}

	pg := &cfg.Storage.PostgreSQL
	if v, ok := lookupEnv("POSTGRES_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("POSTGRES_ENABLED: %w", err)
		}
		pg.Enabled = b
	}
	if v, ok := lookupEnv("POSTGRES_HOST"); ok {
		pg.Host = v
	}
	if v, ok := lookupEnv("POSTGRES_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POSTGRES_PORT: %w", err)
		}
		pg.Port = n
	}
	if v, ok := lookupEnv("POSTGRES_DATABASE"); ok {
		pg.Database = v
	}
	if v, ok := lookupEnv("POSTGRES_USER"); ok {
		pg.User = v
	}
	if v, ok := lookupEnv("POSTGRES_PASSWORD"); ok {
		pg.Password = v
	}

	if v, ok := lookupEnv("REDIS_ADDR"); ok {
		cfg.Storage.Redis.Addr = v
	}
	if v, ok := lookupEnv("REDIS_PASSWORD"); ok {
		cfg.Storage.Redis.Password = v
	}

	// S3 settings only matter when the archive is on.
	if cfg.Storage.S3.Enabled {
		if v, ok := lookupEnv("AWS_ACCESS_KEY_ID"); ok {
			cfg.Storage.S3.AccessKeyID = v
		}
		if v, ok := lookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			cfg.Storage.S3.SecretAccessKey = v
		}
		if v, ok := lookupEnv("AWS_REGION"); ok {
			cfg.Storage.S3.Region = v
		}
		if v, ok := lookupEnv("S3_BUCKET"); ok {
			cfg.Storage.S3.Bucket = v
		}
	}

	applySourceEnvOverrides(&cfg.Sources)
	return nil
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// parseSeconds accepts either a Go duration ("250ms") or a bare number of
// seconds ("0.1").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("expected duration or seconds, got %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateConfig(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				return fmt.Errorf("%s failed %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Errorf("%s failed %s", field, fe.Tag())
		}
		return err
	}

	if cfg.Streaming.Enabled {
		switch cfg.Streaming.Driver {
		case "kafka":
			if len(cfg.Streaming.Kafka.BootstrapServers) == 0 {
				return fmt.Errorf("streaming.kafka.bootstrap_servers is required when kafka streaming is enabled")
			}
		case "nats":
			if strings.TrimSpace(cfg.Streaming.NATS.URL) == "" {
				return fmt.Errorf("streaming.nats.url is required when nats streaming is enabled")
			}
		}
	}

	if cfg.Storage.PostgreSQL.Enabled {
		if cfg.Storage.PostgreSQL.Host == "" {
			return fmt.Errorf("storage.postgresql.host is required when postgresql is enabled")
		}
		if cfg.Storage.PostgreSQL.Database == "" {
			return fmt.Errorf("storage.postgresql.database is required when postgresql is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}

	if cfg.Metrics.Prometheus.Enabled && cfg.Metrics.Prometheus.ListenAddr == "" {
		return fmt.Errorf("metrics.prometheus.listen_addr is required when prometheus is enabled")
	}

	for name, src := range cfg.Sources.Registry() {
		if err := validateSource(name, src); err != nil {
			return err
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
