package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
)

const (
	bodyLimit       = "64K"
	shutdownTimeout = 10 * time.Second
)

// Syncer runs sync cycles. *indexer.Indexer satisfies it.
type Syncer interface {
	Sync(ctx context.Context, root string) (*indexer.SyncResult, error)
	Busy() bool
}

// Searcher answers queries. *searcher.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Invalidate()
}

// StatusSource reports index statistics. storage.Store satisfies it.
type StatusSource interface {
	Status(ctx context.Context) (*storage.Status, error)
}

// Deps are the application components the handlers call into.
type Deps struct {
	Indexer  Syncer
	Searcher Searcher
	Store    StatusSource
	Root     string
	Logger   *slog.Logger
}

// Server is the JSON API over the document index.
type Server struct {
	echo   *echo.Echo
	logger *slog.Logger
}

// New builds the echo instance and registers every route.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/api/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
	}))
	e.Use(middleware.BodyLimit(bodyLimit))

	h := NewHandler(deps.Indexer, deps.Searcher, deps.Store, deps.Root, logger)

	api := e.Group("/api")
	api.GET("/health", h.HandleHealth)
	api.GET("/search", h.HandleSearch)
	api.POST("/sync", h.HandleSync)
	api.GET("/status", h.HandleStatus)

	return &Server{echo: e, logger: logger}
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http api stopped")
	return nil
}
