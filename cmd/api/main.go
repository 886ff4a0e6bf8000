package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-tripshare/internal/config"
	"backend-tripshare/internal/db"
	"backend-tripshare/internal/metrics"
	"backend-tripshare/internal/relay"
	"backend-tripshare/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain
var exitFn = os.Exit

func main() {
	if code := mainRunner(mainDepsProvider()); code != 0 {
		exitFn(code)
	}
}

type mainDeps struct {
	loadConfig      func() (config.Config, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, string, *slog.Logger) error
	connectRedis    func(config.Config) *redis.Client
	connectNATS     func(config.Config, relay.ConnectionMetrics, *slog.Logger) (*relay.NATSMirror, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Backends, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		connectNATS: func(cfg config.Config, m relay.ConnectionMetrics, log *slog.Logger) (*relay.NATSMirror, error) {
			return relay.NewNATSMirror(cfg.NATSURL, cfg.NATSSubjectPrefix, m, log)
		},
		notify: signal.Notify,
		run:    Run,
	}
}

// Backends are the optional external services. Any of them may be nil.
type Backends struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	NATS     *relay.NATSMirror
	Metrics  *metrics.Collector
}

func (b Backends) close() {
	if b.NATS != nil {
		b.NATS.Close()
	}
	if b.Postgres != nil {
		b.Postgres.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// realMain returns the process exit code: non-zero when the configuration is
// invalid or the server stops with an error.
func realMain(deps mainDeps) int {
	cfg, err := deps.loadConfig()
	if err != nil {
		slog.Error("configuration error", "error", err)
		return 1
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	backends := Backends{Metrics: metrics.NewCollector()}

	if cfg.PostgresURL != "" {
		pg, err := deps.connectPostgres(cfg)
		if err != nil {
			logger.Warn("postgres connection failed, position archive disabled", "error", err)
		} else if err := deps.migrate(context.Background(), cfg.PostgresURL, logger); err != nil {
			logger.Warn("migrations failed, position archive disabled", "error", err)
			pg.Close()
		} else {
			backends.Postgres = pg
		}
	}

	backends.Redis = deps.connectRedis(cfg)

	if cfg.NATSURL != "" {
		nm, err := deps.connectNATS(cfg, backends.Metrics, logger)
		if err != nil {
			logger.Warn("nats connection failed, nats mirror disabled", "error", err)
		} else {
			backends.NATS = nm
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, backends, signals, nil); err != nil {
		logger.Error("server exited with error", "error", err)
		return 1
	}
	return 0
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

const defaultShutdownTimeout = 5 * time.Second

// Run starts the HTTP server and waits for termination signals. Backends are
// closed on the way out, whether or not shutdown succeeded.
func Run(ctx context.Context, cfg config.Config, b Backends, signals <-chan os.Signal, listen ListenFunc) error {
	defer b.close()

	opts := []server.Option{server.WithLogger(slog.Default())}
	if b.Metrics != nil {
		opts = append(opts, server.WithMetrics(b.Metrics))
	}
	if b.NATS != nil {
		opts = append(opts, server.WithMirrors(b.NATS))
	}
	srv := server.NewServer(cfg, b.Postgres, b.Redis, opts...)
	defer srv.Close()

	n, err := srv.LoadSeed()
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	if n > 0 {
		slog.Info("seed loaded", "trips", n)
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.ServerPort)
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down server")
	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
