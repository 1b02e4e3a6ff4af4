package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clip-worker/config"
	"clip-worker/constant"
	jobHandler "clip-worker/handler"
	"clip-worker/service"
	"clip-worker/tracing"
	"clip-worker/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Mode selects which halves of the service a process runs.
type Mode int

const (
	// ModeAll serves the jobs API and runs the worker pool.
	ModeAll Mode = iota
	// ModeAPI serves the jobs API only.
	ModeAPI
	// ModeWorker runs the worker pool and serves health and metrics only.
	ModeWorker
)

func (m Mode) String() string {
	switch m {
	case ModeAPI:
		return "api"
	case ModeWorker:
		return "worker"
	default:
		return "all"
	}
}

func (m Mode) api() bool    { return m == ModeAll || m == ModeAPI }
func (m Mode) worker() bool { return m == ModeAll || m == ModeWorker }

func Run(cfg *config.Config, mode Mode) error {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().
		Str("env", cfg.App.Environment).
		Str("mode", mode.String()).
		Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).
		Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := tracing.Init(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	d, err := openDeps(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	poolDone := make(chan struct{})
	if mode.worker() {
		collab, err := newCollaborators(ctx, cfg)
		if err != nil {
			return err
		}
		executor, err := service.NewExecutor(d.repo, collab, service.ExecutorConfig{
			StageTimeout:   cfg.Worker.StageTimeout,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			BackoffInitial: cfg.Worker.BackoffInitial,
			BackoffMax:     cfg.Worker.BackoffMax,
		})
		if err != nil {
			return err
		}
		workHandler := jobHandler.NewWorkHandler(executor, cfg.Queue.MaxDeliveries,
			jobHandler.WithRequeueDelay(cfg.Queue.RequeueDelay, cfg.Queue.RequeueDelayMax))
		pool := worker.NewPool(d.queue, workHandler, cfg.Worker.Count)
		go func() {
			defer close(poolDone)
			pool.Run(ctx)
		}()
	} else {
		close(poolDone)
	}

	r := gin.Default()
	r.Use(withLogger(ctx), corsMiddleware(cfg.Server.CorsOrigins))
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if mode.api() {
		jobHandler.NewJobAPI(
			service.NewSubmissionService(d.repo, d.queue),
			service.NewQueryService(d.repo),
		).Register(r)
	}

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", handler.Addr).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		zerolog.Ctx(ctx).Error().Err(err).Msg("http server failed")
		cancel()
	}

	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("http shutdown")
	}

	<-poolDone
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return nil
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// withLogger attaches the root logger to every request context.
func withLogger(ctx context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

// SetupLogger sets the global level and returns a context carrying the root
// logger.
func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.App.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
