package server

import (
	"errors"
	"log/slog"

	"backend-tripshare/internal/config"
	"backend-tripshare/internal/feed"
	"backend-tripshare/internal/metrics"
	"backend-tripshare/internal/relay"
	"backend-tripshare/internal/stream"
	"backend-tripshare/internal/tracking"
	"backend-tripshare/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Trips   *trip.Service
	Archive *tracking.Archive
	Metrics *metrics.Collector

	log     *slog.Logger
	mirrors []stream.Mirror
}

type Option func(*Server)

// WithMirrors adds broadcast mirrors on top of the Redis one created from the
// redis client.
func WithMirrors(mirrors ...stream.Mirror) Option {
	return func(s *Server) { s.mirrors = append(s.mirrors, mirrors...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.Metrics = c }
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, opts ...Option) *Server {
	s := &Server{
		Cfg:   cfg,
		DB:    db,
		Redis: redisClient,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Metrics == nil {
		s.Metrics = metrics.NewCollector()
	}
	if redisClient != nil {
		s.mirrors = append([]stream.Mirror{relay.NewRedisMirror(redisClient)}, s.mirrors...)
	}

	s.Stream = stream.NewHub(
		stream.WithMirrors(s.mirrors...),
		stream.WithMetrics(s.Metrics),
		stream.WithSendBuffer(cfg.WSSendBuffer),
		stream.WithMirrorQueue(cfg.MirrorQueueSize),
		stream.WithLogger(s.log),
	)

	store := trip.NewStore()
	svcOpts := []trip.Option{trip.WithMetrics(s.Metrics), trip.WithLogger(s.log)}
	if db != nil {
		s.Archive = tracking.NewArchive(db)
		svcOpts = append(svcOpts, trip.WithPositionSink(s.Archive))
	}
	s.Trips = trip.NewService(store, s.Stream, svcOpts...)
	s.Metrics.WatchTrips(store.Len)

	s.App = fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(s.log),
		DisableStartupMessage: true,
	})
	s.App.Use(recover.New())
	s.App.Use(requestid.New())
	s.App.Use(requestLogger(s.log))
	s.App.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	trips := s.App.Group("/trips")
	trip.RegisterRoutes(trips, s.Trips)
	tracking.RegisterRoutes(trips, s.Archive, s.Trips)
	feed.RegisterRoutes(trips, s.Trips)

	stream.RegisterRoutes(s.App, s.Stream, stream.NewDispatcher(s.Stream, s.Trips, s.Cfg.RealtimeErrorEvents))
}

// Close flushes queued mirror traffic. Call it after the app has shut down and
// before the mirror backends are closed.
func (s *Server) Close() {
	s.Stream.Close()
}

// LoadSeed inserts the configured seed trips. It is a no-op when seeding is
// disabled.
func (s *Server) LoadSeed() (int, error) {
	if !s.Cfg.SeedDemo {
		return 0, nil
	}
	var (
		trips []trip.Trip
		err   error
	)
	if s.Cfg.SeedFile != "" {
		trips, err = trip.LoadSeedFile(s.Cfg.SeedFile)
	} else {
		trips, err = trip.DemoSeed()
	}
	if err != nil {
		return 0, err
	}
	if err := s.Trips.Seed(trips); err != nil {
		return 0, err
	}
	return len(trips), nil
}

// errorHandler renders every error as {"error": message}. Only *fiber.Error
// messages reach the client; anything else is logged and becomes a bare 500.
func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		log.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.Locals("requestid"),
			"error", err,
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": internalErrorMessage})
	}
}

const internalErrorMessage = "internal server error"
