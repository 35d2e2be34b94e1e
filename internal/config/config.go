package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	CDN      CDNConfig
}

type ServerConfig struct {
	Port        int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	// WriteTimeout must stay 0 while the event stream endpoint is served;
	// a finite timeout would sever long-lived SSE connections.
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"0"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type PipelineConfig struct {
	WorkDir            string        `envconfig:"PIPELINE_WORK_DIR" default:"/tmp/hlsmill"`
	FFmpegPath         string        `envconfig:"PIPELINE_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath        string        `envconfig:"PIPELINE_FFPROBE_PATH" default:"ffprobe"`
	CancelPollInterval time.Duration `envconfig:"PIPELINE_CANCEL_POLL_INTERVAL" default:"1s"`
	JobRetention       time.Duration `envconfig:"PIPELINE_JOB_RETENTION" default:"24h"`
	SweepInterval      time.Duration `envconfig:"PIPELINE_SWEEP_INTERVAL" default:"1h"`
	ShutdownTimeout    time.Duration `envconfig:"PIPELINE_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"hlsmill"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"hlsmill"`
	DBName   string `envconfig:"POSTGRES_DB" default:"hlsmill"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	// Enabled gates the durable job archive. Without it jobs live only in
	// memory and disappear at the retention sweep.
	Enabled bool `envconfig:"POSTGRES_ENABLED" default:"true"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type MinIOConfig struct {
	Endpoint       string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	PublicEndpoint string `envconfig:"MINIO_PUBLIC_ENDPOINT" default:""`
	AccessKey      string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"MINIO_BUCKET" default:"hls"`
	UseSSL         bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"hlsmill"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"hlsmill"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
	// Prefetch bounds the number of jobs a single process converts at once.
	Prefetch int `envconfig:"RABBITMQ_PREFETCH" default:"1"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL time.Duration `envconfig:"REDIS_CACHE_TTL" default:"10m"`
	// Enabled gates the terminal-snapshot cache in front of the job store.
	Enabled bool `envconfig:"REDIS_ENABLED" default:"true"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type CDNConfig struct {
	// BaseURL fronts the bucket for playback. Empty means playback URLs are
	// presigned directly against MinIO.
	BaseURL string `envconfig:"CDN_BASE_URL" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
