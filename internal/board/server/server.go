// Package server is the board: it queues login requests submitted by humans,
// hands them to the worker one at a time and relays OTP codes between the
// two.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/observability"
)

//go:embed index.html
var indexHTML []byte

// Store is the persistence the board needs. *store.Store implements it.
type Store interface {
	Enqueue(ctx context.Context, phone string, prefs schemas.Preferences) (int64, error)
	ClaimNext(ctx context.Context) (*schemas.LoginJob, error)
	SetStatus(ctx context.Context, id int64, status schemas.JobStatus) error
	SubmitOTP(ctx context.Context, phone, code string) (int64, error)
	LatestOTP(ctx context.Context, phone string) (*schemas.OtpCode, error)
	MarkOTPUsed(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// Server serves the board API and the submission form.
type Server struct {
	store   Store
	token   string
	limiter *clientLimiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a board server. metrics may be nil.
func New(store Store, cfg config.ServerConfig, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Server{
		store:   store,
		token:   cfg.Token,
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics: metrics,
		logger:  logger.Named("board"),
	}
}

// Handler wires every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Human surface.
	mux.Handle("GET /{$}", s.limited(http.HandlerFunc(s.handleIndex)))
	mux.Handle("POST /login_request", s.limited(http.HandlerFunc(s.handleLoginRequest)))
	mux.Handle("POST /submit", s.limited(http.HandlerFunc(s.handleSubmit)))

	// Worker API.
	mux.Handle("GET /api/login/next", s.authorized(http.HandlerFunc(s.handleLoginNext)))
	mux.Handle("POST /api/login/mark", s.authorized(http.HandlerFunc(s.handleLoginMark)))
	mux.Handle("GET /api/otp/latest", s.authorized(http.HandlerFunc(s.handleOTPLatest)))
	mux.Handle("POST /api/otp/mark_used", s.authorized(http.HandlerFunc(s.handleOTPMarkUsed)))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.withLogging(mux)
}

// Serve runs srv until ctx is done, then shuts it down gracefully within
// timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("Shutting down HTTP server", zap.String("addr", srv.Addr))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
