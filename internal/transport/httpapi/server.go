package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/usecase"
)

// Service is what the HTTP API needs from the assistant.
type Service interface {
	Answer(ctx context.Context, q domain.Query) (domain.Answer, error)
	Ingest(ctx context.Context, docs []domain.Document) (*usecase.IngestResult, error)
	Remove(docIDs ...string) (int, error)
	Clear(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
	Stats() domain.Stats
	GeneratorModel() string
}

type Options struct {
	BodyLimit int
	Logger    *zap.Logger
}

type Server struct {
	app     *fiber.App
	service Service
	log     *zap.Logger
}

func New(service Service, opts Options) *Server {
	log := logger.OrNop(opts.Logger).Named("http")

	cfg := fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	s := &Server{
		app:     app,
		service: service,
		log:     log,
	}

	app.Use(s.requestLogger)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.health)

	v1 := s.app.Group("/v1")
	v1.Post("/answer", s.answer)
	v1.Post("/ingest", s.ingest)
	v1.Delete("/documents", s.removeDocuments)
	v1.Post("/clear", s.clear)
	v1.Get("/history/:session_id", s.history)
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		status = statusFor(err)
	}
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)))
	return err
}
