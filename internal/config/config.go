package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// MinPartSize is the smallest part size accepted by S3-compatible multipart uploads (except the last part)
const MinPartSize = 5 * 1024 * 1024

// MaxParts is the most parts an S3-compatible multipart upload accepts
const MaxParts = 10000

type Config struct {
	Env      Env
	Log      LogConfig
	Server   ServerConfig
	Metrics  MetricsConfig
	Minio    MinioConfig
	Fallback FallbackConfig
	NATS     NATSConfig
	Database DatabaseConfig
	Backfill BackfillConfig
	Monitor  MonitorConfig
	Edge     EdgeConfig
	Worker   WorkerConfig
}

type Env struct {
	Env    string `envconfig:"ENV" default:"DEV"`
	Region string `envconfig:"REGION" default:"local"`
}

type LogConfig struct {
	Format string `envconfig:"LOG_FORMAT" default:"text"`
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
}

type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"localhost"`
	Port string `envconfig:"SERVER_PORT" default:"8080"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Address string `envconfig:"METRICS_ADDRESS" default:":9090"`
}

// MinioConfig configures the primary store
type MinioConfig struct {
	Endpoint   string `envconfig:"MINIO_ENDPOINT" required:"true"`
	BucketName string `envconfig:"MINIO_BUCKET_NAME" required:"true"`
	AccessKey  string `envconfig:"MINIO_ACCESS_KEY" required:"true"`
	SecretKey  string `envconfig:"MINIO_SECRET_KEY" required:"true"`
	Region     string `envconfig:"MINIO_REGION" default:"us-east-1"`
	UseSSL     bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

// FallbackConfig configures the secondary origin.
// BucketURL is a gocloud.dev bucket URL (gs://bucket, s3://bucket?region=..., file:///dir) used by the dispatcher
// and workers. OriginURL is the HTTP endpoint the edge proxies misses to, Timeout bounds its dial and response headers.
type FallbackConfig struct {
	BucketURL string        `envconfig:"FALLBACK_BUCKET_URL"`
	OriginURL string        `envconfig:"FALLBACK_ORIGIN_URL"`
	Timeout   time.Duration `envconfig:"FALLBACK_TIMEOUT" default:"10s"`
}

type NATSConfig struct {
	URL              string        `envconfig:"NATS_URL" required:"true"`
	StreamName       string        `envconfig:"NATS_STREAM_NAME" default:"BACKFILL"`
	BackfillSubject  string        `envconfig:"NATS_BACKFILL_SUBJECT" default:"backfill.uri"`
	SingleSubject    string        `envconfig:"NATS_SINGLE_SUBJECT" default:"backfill.task.single"`
	MultipartSubject string        `envconfig:"NATS_MULTIPART_SUBJECT" default:"backfill.task.multipart"`
	DeadLetter       string        `envconfig:"NATS_DEAD_LETTER_SUBJECT" default:"backfill.dead"`
	ConsumerName     string        `envconfig:"NATS_CONSUMER_NAME" default:"backfill"`
	AckWait          time.Duration `envconfig:"NATS_ACK_WAIT" default:"5m"`
	MaxDeliver       int           `envconfig:"NATS_MAX_DELIVER" default:"5"`
	DuplicateWindow  time.Duration `envconfig:"NATS_DUPLICATE_WINDOW" default:"5m"`
	Retention        time.Duration `envconfig:"NATS_RETENTION" default:"24h"`
}

type DatabaseConfig struct {
	Host           string        `envconfig:"DB_HOST" required:"true"`
	Port           int           `envconfig:"DB_PORT" default:"5432"`
	User           string        `envconfig:"DB_USER" required:"true"`
	Password       string        `envconfig:"DB_PASSWORD" required:"true"`
	Name           string        `envconfig:"DB_NAME" required:"true"`
	SSLMode        string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxOpenCons    int           `envconfig:"DB_MAX_OPEN_CONS" default:"25"`
	MaxIdleCons    int           `envconfig:"DB_MAX_IDLE_CONS" default:"5"`
	ConMaxLifeTime time.Duration `envconfig:"DB_CONMAX_LIFE_TIME" default:"5m"`
}

// BackfillConfig drives the single vs multipart decision.
//
// Suggested profiles:
//   - small files (images, js, css), max 256MB: part 5MiB, single 16MiB
//   - medium files (zip, audio, short video), max 512MB: part 10MiB, single 64MiB
//   - large files (apk, video), max 1GB: part 16MiB, single 256MiB
//   - very large files, up to 30GB: part 32MiB, single 512MiB
type BackfillConfig struct {
	SingleMaxSize ByteSize `envconfig:"BACKFILL_SINGLE_MAX_SIZE" default:"256MiB"`
	PartSize      ByteSize `envconfig:"BACKFILL_PART_SIZE" default:"16MiB"`
	MaxObjectSize ByteSize `envconfig:"BACKFILL_MAX_OBJECT_SIZE" default:"30GiB"`
}

type MonitorConfig struct {
	Interval    time.Duration `envconfig:"MONITOR_INTERVAL" default:"5m"`
	StaleAfter  time.Duration `envconfig:"MONITOR_STALE_AFTER" default:"5m"`
	QueuedAfter time.Duration `envconfig:"MONITOR_QUEUED_AFTER" default:"24h"`
	MaxAttempts int           `envconfig:"MONITOR_MAX_ATTEMPTS" default:"3"`
}

// WorkerConfig sets how many tasks of each kind one worker process copies in parallel
type WorkerConfig struct {
	SingleConcurrency    int `envconfig:"WORKER_SINGLE_CONCURRENCY" default:"1"`
	MultipartConcurrency int `envconfig:"WORKER_MULTIPART_CONCURRENCY" default:"1"`
}

type EdgeConfig struct {
	NotifyBuffer  int           `envconfig:"EDGE_NOTIFY_BUFFER" default:"1024"`
	NotifyWorkers int           `envconfig:"EDGE_NOTIFY_WORKERS" default:"4"`
	NotifyRetries uint64        `envconfig:"EDGE_NOTIFY_RETRIES" default:"3"`
	NotifyBackoff time.Duration `envconfig:"EDGE_NOTIFY_BACKOFF" default:"100ms"`
}

// ByteSize is a size in bytes that accepts human readable values (16MiB, 30GB, 1048576)
type ByteSize int64

// Decode implements envconfig.Decoder
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}
	*b = ByteSize(n)
	return nil
}

// Int64 returns the size as int64
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Validate checks sizes are usable for multipart uploads
func (c BackfillConfig) Validate() error {
	if c.PartSize < MinPartSize {
		return fmt.Errorf("part size %s is below the %s minimum", c.PartSize, ByteSize(MinPartSize))
	}
	if c.SingleMaxSize < c.PartSize {
		return errors.New("single object threshold must not be smaller than the part size")
	}
	if c.MaxObjectSize < c.SingleMaxSize {
		return errors.New("max object size must not be smaller than the single object threshold")
	}
	if parts := (c.MaxObjectSize + c.PartSize - 1) / c.PartSize; parts > MaxParts {
		return fmt.Errorf("max object size %s needs %d parts of %s, the store accepts %d", c.MaxObjectSize, parts, c.PartSize, MaxParts)
	}
	return nil
}

// Load reads an optional .env file then the process environment, every section
func Load() (*Config, error) {
	var cfg Config

	_ = godotenv.Load()

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Backfill.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Fallback.requireBucket(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEdge reads the sections used by the edge router
func LoadEdge() (*Config, error) {
	var cfg Config
	if err := loadSections(&cfg.Env, &cfg.Log, &cfg.Server, &cfg.Metrics, &cfg.Minio, &cfg.Fallback, &cfg.NATS, &cfg.Edge); err != nil {
		return nil, err
	}
	if cfg.Fallback.OriginURL == "" {
		return nil, errors.New("required key FALLBACK_ORIGIN_URL missing value")
	}
	return &cfg, nil
}

// LoadDispatcher reads the sections used by the backfill dispatcher
func LoadDispatcher() (*Config, error) {
	var cfg Config
	if err := loadSections(&cfg.Env, &cfg.Log, &cfg.Metrics, &cfg.Minio, &cfg.Fallback, &cfg.NATS, &cfg.Database, &cfg.Backfill); err != nil {
		return nil, err
	}
	if err := cfg.Backfill.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Fallback.requireBucket(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWorker reads the sections used by the copy workers
func LoadWorker() (*Config, error) {
	var cfg Config
	if err := loadSections(&cfg.Env, &cfg.Log, &cfg.Metrics, &cfg.Minio, &cfg.Fallback, &cfg.NATS, &cfg.Database, &cfg.Worker); err != nil {
		return nil, err
	}
	if err := cfg.Fallback.requireBucket(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadMonitor reads the sections used by the reconciliation monitor
func LoadMonitor() (*Config, error) {
	var cfg Config
	if err := loadSections(&cfg.Env, &cfg.Log, &cfg.Metrics, &cfg.Minio, &cfg.NATS, &cfg.Database, &cfg.Monitor); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadSections(sections ...any) error {
	_ = godotenv.Load()

	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return err
		}
	}
	return nil
}

func (c FallbackConfig) requireBucket() error {
	if c.BucketURL == "" {
		return errors.New("required key FALLBACK_BUCKET_URL missing value")
	}
	return nil
}

// LoadDatabase reads only the database settings
func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := loadSections(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
