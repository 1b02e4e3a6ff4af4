package server

import (
	"context"
	"errors"
	"fmt"

	"clip-worker/config"
	"clip-worker/constant"
	"clip-worker/migrations"
	"clip-worker/pkg/execx"
	"clip-worker/pkg/ffmpeg"
	"clip-worker/pkg/generator"
	"clip-worker/pkg/ollama"
	"clip-worker/pkg/rabbitmq"
	"clip-worker/pkg/storage"
	"clip-worker/pkg/whisper"
	"clip-worker/pkg/ytdlp"
	"clip-worker/queue"
	"clip-worker/repository"
	"clip-worker/service"

	"github.com/rs/zerolog"
)

// deps holds the opened infrastructure. close releases it in reverse order.
type deps struct {
	repo    repository.JobRepository
	queue   queue.Queue
	closers []func() error
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *deps) close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to release resource")
		}
	}
	d.closers = nil
}

func openDeps(ctx context.Context, cfg *config.Config, mode Mode) (*deps, error) {
	d := &deps{}
	if err := d.openStore(ctx, cfg, mode); err != nil {
		d.close(ctx)
		return nil, err
	}
	if err := d.openQueue(ctx, cfg, mode); err != nil {
		d.close(ctx)
		return nil, err
	}
	return d, nil
}

func (d *deps) openStore(ctx context.Context, cfg *config.Config, mode Mode) error {
	if cfg.Postgres.DSN == "" {
		if mode != ModeAll {
			return errors.New("postgres.dsn is required unless api and worker run in one process")
		}
		zerolog.Ctx(ctx).Warn().Msg("postgres.dsn not set, jobs are kept in memory")
		d.repo = repository.NewMemoryRepo()
		return nil
	}

	db, err := config.NewDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	d.onClose(db.Close)

	if cfg.Postgres.AutoMigrate {
		if err := migrations.Run(db); err != nil {
			return err
		}
	}

	repo, err := repository.NewRepo(db)
	if err != nil {
		return err
	}
	d.repo = repo
	return nil
}

func (d *deps) openQueue(ctx context.Context, cfg *config.Config, mode Mode) error {
	switch constant.QueueDriver(cfg.Queue.Driver) {
	case constant.QueueDriverRabbitMQ:
		conn, err := config.NewRabbitMQConn(ctx, cfg.RabbitMQ)
		if err != nil {
			return err
		}
		d.onClose(conn.Close)
		q, err := rabbitmq.NewQueue(ctx, conn, cfg.RabbitMQ)
		if err != nil {
			return err
		}
		d.onClose(q.Close)
		d.queue = q
	case constant.QueueDriverRedis:
		rdb, err := config.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		d.onClose(rdb.Close)
		q := queue.NewRedisQueue(rdb, queue.RedisOptions{
			Prefix:       cfg.Redis.Prefix,
			Lease:        cfg.Redis.Lease,
			PollInterval: cfg.Redis.PollInterval,
		})
		d.onClose(q.Close)
		d.queue = q
	case constant.QueueDriverMemory:
		if mode != ModeAll {
			return errors.New("the memory queue driver only works with the server command")
		}
		q := queue.NewMemoryQueue()
		d.onClose(q.Close)
		d.queue = q
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
	zerolog.Ctx(ctx).Info().Str("driver", cfg.Queue.Driver).Msg("queue ready")
	return nil
}

// newCollaborators builds the stage adapters. Without MinIO settings produced
// files stay in the work directory and their local paths become locators.
func newCollaborators(ctx context.Context, cfg *config.Config) (service.Collaborators, error) {
	var (
		clipStore ffmpeg.Uploader
		genStore  generator.Uploader
	)
	if cfg.MinIO.URL != "" {
		client, err := config.NewStorage(cfg.MinIO)
		if err != nil {
			return service.Collaborators{}, fmt.Errorf("minio client: %w", err)
		}
		store := storage.NewMinIO(client, cfg.MinIO.Bucket)
		if err := store.EnsureBucket(ctx); err != nil {
			return service.Collaborators{}, err
		}
		clipStore, genStore = store, store
	} else {
		zerolog.Ctx(ctx).Warn().Msg("minio.url not set, outputs stay on local disk")
	}

	runner := execx.OSRunner{}
	return service.Collaborators{
		Downloader: ytdlp.NewDownloader(runner, ytdlp.Options{
			Binary:      cfg.YtDlp.Binary,
			Format:      cfg.YtDlp.Format,
			MaxDuration: cfg.YtDlp.MaxDuration,
			WorkDir:     cfg.Worker.WorkDir,
		}),
		Transcriber: whisper.NewTranscriber(runner, whisper.Options{
			Binary:   cfg.Whisper.Binary,
			Model:    cfg.Whisper.Model,
			Language: cfg.Whisper.Language,
			FFmpeg:   cfg.Whisper.FFmpeg,
		}),
		Analyzer:  ollama.NewAnalyzer(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout),
		Renderer:  ffmpeg.NewRenderer(runner, cfg.FFmpeg.Binary, cfg.Worker.WorkDir, clipStore),
		Generator: generator.NewClient(cfg.Generator.URL, cfg.Generator.Timeout, genStore),
	}, nil
}
