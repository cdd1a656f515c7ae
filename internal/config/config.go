package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Log      LogConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Leads    LeadConfig
	Tracing  TracingConfig
	Export   ExportConfig
	Badge    BadgeConfig
}

type APIConfig struct {
	Addr            string
	MaxUploadBytes  int64
	SessionTTL      time.Duration
	PreviewSize     int
	RateLimit       int
	RateLimitWindow time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

// LeadConfig controls delivery of the profile collected on the upload form.
// An empty Endpoint records leads without posting them anywhere.
type LeadConfig struct {
	Endpoint      string
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
	Enqueue       bool
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// ExportConfig selects where exported badges are archived: "none", "local"
// or "minio".
type ExportConfig struct {
	Archive     string
	LocalDir    string
	Prefix      string
	FilePrefix  string
	Resolutions string
	LinkTTL     time.Duration
}

type BadgeConfig struct {
	QRContent string
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:            env("BADGEFLOW_API_ADDR", ":8080"),
			MaxUploadBytes:  int64(envInt("BADGEFLOW_MAX_UPLOAD_BYTES", 20<<20)),
			SessionTTL:      envDuration("BADGEFLOW_SESSION_TTL", 30*time.Minute),
			PreviewSize:     envInt("BADGEFLOW_PREVIEW_SIZE", 512),
			RateLimit:       envInt("BADGEFLOW_RATE_LIMIT", 30),
			RateLimitWindow: envDuration("BADGEFLOW_RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "badgeflow-exports"),
			Region:    env("MINIO_REGION", "us-east-1"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Leads: LeadConfig{
			Endpoint:      env("LEAD_ENDPOINT", ""),
			SigningSecret: env("LEAD_SIGNING_SECRET", ""),
			Timeout:       envDuration("LEAD_TIMEOUT", 10*time.Second),
			MaxAttempts:   envInt("LEAD_MAX_ATTEMPTS", 3),
			Enqueue:       envBool("LEAD_ENQUEUE", true),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Export: ExportConfig{
			Archive:     env("EXPORT_ARCHIVE", "none"),
			LocalDir:    env("EXPORT_LOCAL_DIR", "./.badgeflow-exports"),
			Prefix:      env("EXPORT_OBJECT_PREFIX", "exports"),
			FilePrefix:  env("EXPORT_FILE_PREFIX", "GHCI-badge"),
			Resolutions: env("EXPORT_RESOLUTIONS", "1x:1:Low,2x:3:Medium,3x:5:High,5x:8:Ultra"),
			LinkTTL:     envDuration("EXPORT_LINK_TTL", 15*time.Minute),
		},
		Badge: BadgeConfig{
			QRContent: env("BADGE_QR_CONTENT", ""),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
