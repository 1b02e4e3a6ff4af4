package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       App
	Server    Server
	Postgres  Postgres
	Queue     Queue
	RabbitMQ  *RabbitMQ
	Redis     Redis
	Worker    Worker
	MinIO     MinIO
	YtDlp     YtDlp
	Whisper   Whisper
	Ollama    Ollama
	Generator Generator
	FFmpeg    FFmpeg
	Tracing   Tracing
	Poller    Poller
}

type App struct {
	Environment string
	LogLevel    string
}

type Server struct {
	HttpPort    string
	CorsOrigins []string
}

type Postgres struct {
	DSN         string
	AutoMigrate bool
}

type Queue struct {
	Driver string
	// MaxDeliveries bounds how often one work item is handed out before the
	// job is failed instead of requeued.
	MaxDeliveries int
	// RequeueDelay is the first pause before a work item that hit an
	// infrastructure error goes back to the queue. It doubles per delivery up
	// to RequeueDelayMax.
	RequeueDelay    time.Duration
	RequeueDelayMax time.Duration
}

type RabbitMQ struct {
	Host         string
	Port         int
	User         string
	Pass         string
	ExchangeName string
	Kind         string
	QueueName    string
	Prefetch     int
}

type Redis struct {
	URL          string
	Prefix       string
	Lease        time.Duration
	PollInterval time.Duration
}

type Worker struct {
	Count          int
	StageTimeout   time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	WorkDir        string
}

type MinIO struct {
	URL             string
	AccessID        string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

type YtDlp struct {
	Binary      string
	MaxDuration time.Duration
	Format      string
}

type Whisper struct {
	Binary   string
	Model    string
	Language string
	FFmpeg   string
}

type Ollama struct {
	URL     string
	Model   string
	Timeout time.Duration
}

type Generator struct {
	URL     string
	Timeout time.Duration
}

type FFmpeg struct {
	Binary string
}

type Tracing struct {
	Endpoint string
}

type Poller struct {
	Active time.Duration
	Idle   time.Duration
	APIURL string
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.corsOrigins", []string{"http://localhost:3000", "http://localhost:5173"})
	viper.SetDefault("postgres.autoMigrate", true)
	viper.SetDefault("queue.driver", "rabbitmq")
	viper.SetDefault("queue.maxDeliveries", 5)
	viper.SetDefault("queue.requeueDelay", "2s")
	viper.SetDefault("queue.requeueDelayMax", "1m")
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.pass", "guest")
	viper.SetDefault("rabbitmq.exchange", "clip_exchange")
	viper.SetDefault("rabbitmq.kind", "direct")
	viper.SetDefault("rabbitmq.queue", "clip_jobs")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.prefix", "clip-worker")
	viper.SetDefault("redis.lease", "30s")
	viper.SetDefault("redis.pollInterval", "500ms")
	viper.SetDefault("worker.count", 2)
	viper.SetDefault("worker.stageTimeout", "15m")
	viper.SetDefault("worker.maxAttempts", 3)
	viper.SetDefault("worker.backoffInitial", "2s")
	viper.SetDefault("worker.backoffMax", "30s")
	viper.SetDefault("worker.workDir", "temp")
	viper.SetDefault("minio.bucket", "clips")
	viper.SetDefault("ytdlp.binary", "yt-dlp")
	viper.SetDefault("ytdlp.maxDuration", "10m")
	viper.SetDefault("ytdlp.format", "best[ext=mp4]/best")
	viper.SetDefault("whisper.binary", "whisper-cli")
	viper.SetDefault("whisper.model", "models/ggml-base.bin")
	viper.SetDefault("whisper.language", "auto")
	viper.SetDefault("whisper.ffmpeg", "ffmpeg")
	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.2")
	viper.SetDefault("ollama.timeout", "5m")
	viper.SetDefault("generator.timeout", "30m")
	viper.SetDefault("ffmpeg.binary", "ffmpeg")
	viper.SetDefault("poller.active", "3s")
	viper.SetDefault("poller.idle", "10s")
	viper.SetDefault("poller.apiURL", "http://localhost:8080")
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
			LogLevel:    viper.GetString("app.logLevel"),
		},
		Server: Server{
			HttpPort:    viper.GetString("server.port"),
			CorsOrigins: viper.GetStringSlice("server.corsOrigins"),
		},
		Postgres: Postgres{
			DSN:         viper.GetString("postgres.dsn"),
			AutoMigrate: viper.GetBool("postgres.autoMigrate"),
		},
		Queue: Queue{
			Driver:          viper.GetString("queue.driver"),
			MaxDeliveries:   viper.GetInt("queue.maxDeliveries"),
			RequeueDelay:    viper.GetDuration("queue.requeueDelay"),
			RequeueDelayMax: viper.GetDuration("queue.requeueDelayMax"),
		},
		RabbitMQ: &RabbitMQ{
			Host:         viper.GetString("rabbitmq.host"),
			Port:         viper.GetInt("rabbitmq.port"),
			User:         viper.GetString("rabbitmq.user"),
			Pass:         viper.GetString("rabbitmq.pass"),
			ExchangeName: viper.GetString("rabbitmq.exchange"),
			Kind:         viper.GetString("rabbitmq.kind"),
			QueueName:    viper.GetString("rabbitmq.queue"),
			Prefetch:     viper.GetInt("rabbitmq.prefetch"),
		},
		Redis: Redis{
			URL:          viper.GetString("redis.url"),
			Prefix:       viper.GetString("redis.prefix"),
			Lease:        viper.GetDuration("redis.lease"),
			PollInterval: viper.GetDuration("redis.pollInterval"),
		},
		Worker: Worker{
			Count:          viper.GetInt("worker.count"),
			StageTimeout:   viper.GetDuration("worker.stageTimeout"),
			MaxAttempts:    viper.GetInt("worker.maxAttempts"),
			BackoffInitial: viper.GetDuration("worker.backoffInitial"),
			BackoffMax:     viper.GetDuration("worker.backoffMax"),
			WorkDir:        viper.GetString("worker.workDir"),
		},
		MinIO: MinIO{
			URL:             viper.GetString("minio.url"),
			AccessID:        viper.GetString("minio.accessId"),
			SecretAccessKey: viper.GetString("minio.secretAccessKey"),
			Bucket:          viper.GetString("minio.bucket"),
			UseSSL:          viper.GetBool("minio.useSSL"),
		},
		YtDlp: YtDlp{
			Binary:      viper.GetString("ytdlp.binary"),
			MaxDuration: viper.GetDuration("ytdlp.maxDuration"),
			Format:      viper.GetString("ytdlp.format"),
		},
		Whisper: Whisper{
			Binary:   viper.GetString("whisper.binary"),
			Model:    viper.GetString("whisper.model"),
			Language: viper.GetString("whisper.language"),
			FFmpeg:   viper.GetString("whisper.ffmpeg"),
		},
		Ollama: Ollama{
			URL:     viper.GetString("ollama.url"),
			Model:   viper.GetString("ollama.model"),
			Timeout: viper.GetDuration("ollama.timeout"),
		},
		Generator: Generator{
			URL:     viper.GetString("generator.url"),
			Timeout: viper.GetDuration("generator.timeout"),
		},
		FFmpeg: FFmpeg{
			Binary: viper.GetString("ffmpeg.binary"),
		},
		Tracing: Tracing{
			Endpoint: viper.GetString("tracing.endpoint"),
		},
		Poller: Poller{
			Active: viper.GetDuration("poller.active"),
			Idle:   viper.GetDuration("poller.idle"),
			APIURL: viper.GetString("poller.apiURL"),
		},
	}, nil
}
