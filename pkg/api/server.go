package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/health"
	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
	"github.com/fenlabs/ballast/pkg/types"
)

// Core is the slice of the service the HTTP adapter exposes.
type Core interface {
	Mutate(ctx context.Context, m *types.MutationRequest) (string, error)
	Query(ctx context.Context, accountID int64, currency string) (*types.Balance, error)
	LedgerHistory(ctx context.Context, accountID int64, currency string, limit int) ([]*types.LedgerEntry, error)
	TransactionStatus(ctx context.Context, transactionID string) (*types.LedgerEntry, error)
	CreateAccount(ctx context.Context, accountKey string) (*types.Account, error)
	GetAccount(ctx context.Context, accountKey string) (*types.Account, error)
}

// Server is the HTTP request adapter: a thin validation and status-mapping
// layer over the core. No business rule lives here.
type Server struct {
	app      *fiber.App
	addr     string
	core     Core
	checkers []health.Checker
	logger   zerolog.Logger
}

// NewServer builds the router.
func NewServer(addr string, core Core, checkers []health.Checker) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "ballast",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	s := &Server{
		app:      app,
		addr:     addr,
		core:     core,
		checkers: checkers,
		logger:   log.WithComponent("api"),
	}

	app.Use(s.observe)

	app.Post("/v1/mutations", s.handleMutate)
	app.Get("/v1/balances/:account/:currency", s.handleQuery)
	app.Get("/v1/balances/:account/:currency/ledger", s.handleLedgerHistory)
	app.Get("/v1/transactions/:id", s.handleTransaction)
	app.Post("/v1/accounts", s.handleCreateAccount)
	app.Get("/v1/accounts/:key", s.handleGetAccount)

	app.Get("/healthz", s.handleLiveness)
	app.Get("/readyz", s.handleReadiness)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return s
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("http adapter listening")
	return s.app.Listen(s.addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// observe records request metrics and logs failures.
func (s *Server) observe(c *fiber.Ctx) error {
	timer := metrics.NewTimer()
	err := c.Next()

	status := c.Response().StatusCode()
	metrics.APIRequestsTotal.WithLabelValues(c.Method(), statusClass(status)).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, c.Method())

	if status >= 500 {
		s.logger.Warn().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Msg("request failed")
	}
	return err
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func (s *Server) handleLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleReadiness pings every dependency; any failure makes the node
// not-ready so load balancers stop routing to it.
func (s *Server) handleReadiness(c *fiber.Ctx) error {
	failures := health.CheckAll(c.UserContext(), 5*time.Second, s.checkers)
	if len(failures) == 0 {
		return c.JSON(fiber.Map{"status": "ready"})
	}

	detail := make(map[string]string, len(failures))
	for name, err := range failures {
		detail[name] = err.Error()
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":   "not ready",
		"failures": detail,
	})
}
