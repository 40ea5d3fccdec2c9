// Package client talks to the board API: it claims login jobs, polls for
// relayed OTP codes and reports outcomes.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/normalize"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

var (
	// ErrTransientCollaborator is returned when the job fetch timed out on
	// both attempts.
	ErrTransientCollaborator = errors.New("board temporarily unavailable")
	// ErrOtpTimeout is returned when no code arrived in time.
	ErrOtpTimeout = errors.New("timed out waiting for OTP")
)

// StatusError is a non-2xx answer from the board.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("board returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("board returned HTTP %d: %s", e.Code, e.Detail)
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	cfg    config.BoardConfig
	http   *http.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// New creates a client for the board at cfg.BaseURL.
func New(cfg config.BoardConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid board base URL %q", cfg.BaseURL)
	}
	c := &Client{
		base:   base,
		token:  cfg.Token,
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger.Named("board"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends one request bounded by timeout and decodes a JSON answer into
// out, which may be nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e schemas.ErrorResponse
		_ = json.Unmarshal(body, &e)
		return &StatusError{Code: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// NextJob claims the oldest queued job. It returns nil when the queue is
// empty. A timed-out fetch is retried once; a second timeout yields
// ErrTransientCollaborator.
func (c *Client) NextJob(ctx context.Context) (*schemas.LoginJob, error) {
	var resp schemas.NextJobResponse
	err := c.do(ctx, http.MethodGet, "/api/login/next", nil, c.cfg.FetchTimeout, &resp)
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		c.logger.Warn("Job fetch timed out, retrying once", zap.Error(err))
		if err := poll.Sleep(ctx, c.cfg.RetryBackoff); err != nil {
			return nil, err
		}
		resp = schemas.NextJobResponse{}
		err = c.do(ctx, http.MethodGet, "/api/login/next", nil, c.cfg.FetchTimeout, &resp)
		if err != nil && isTimeout(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientCollaborator, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetching next job: %w", err)
	}

	job, ok := resp.Job()
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// LatestOTP returns the newest usable code for phone, if any.
func (c *Client) LatestOTP(ctx context.Context, phone string) (schemas.OtpCode, bool, error) {
	var resp schemas.LatestOTPResponse
	q := url.Values{"phone": {phone}}
	if err := c.do(ctx, http.MethodGet, "/api/otp/latest", q, c.cfg.OTPTimeout, &resp); err != nil {
		return schemas.OtpCode{}, false, fmt.Errorf("fetching latest OTP: %w", err)
	}
	if resp.Code == nil || *resp.Code == "" {
		return schemas.OtpCode{}, false, nil
	}
	otp := schemas.OtpCode{Phone: phone, Code: normalize.Code(*resp.Code)}
	if resp.ID != nil {
		otp.ID = *resp.ID
	}
	return otp, true, nil
}

// WaitForOTP polls LatestOTP every interval until a code shows up or
// timeout elapses. Lookup errors are logged and polling continues.
func (c *Client) WaitForOTP(ctx context.Context, phone string, interval, timeout time.Duration) (schemas.OtpCode, error) {
	otp, err := poll.Value(ctx, interval, timeout, func(ctx context.Context) (schemas.OtpCode, bool) {
		otp, ok, err := c.LatestOTP(ctx, phone)
		if err != nil {
			c.logger.Warn("OTP lookup failed", zap.String("phone", phone), zap.Error(err))
			return schemas.OtpCode{}, false
		}
		return otp, ok
	})
	if errors.Is(err, poll.ErrTimeout) {
		return schemas.OtpCode{}, fmt.Errorf("%w after %v", ErrOtpTimeout, timeout)
	}
	return otp, err
}

// MarkOtpUsed consumes a code. Failures are logged, never returned.
func (c *Client) MarkOtpUsed(ctx context.Context, id int64) {
	q := url.Values{"id": {strconv.FormatInt(id, 10)}}
	if err := c.do(ctx, http.MethodPost, "/api/otp/mark_used", q, c.cfg.ReportTimeout, nil); err != nil {
		c.logger.Warn("Could not mark OTP used", zap.Int64("otp_id", id), zap.Error(err))
	}
}

// ReportStatus records a job outcome. Failures are logged, never returned.
func (c *Client) ReportStatus(ctx context.Context, jobID int64, status schemas.JobStatus) {
	q := url.Values{"id": {strconv.FormatInt(jobID, 10)}, "status": {string(status)}}
	if err := c.do(ctx, http.MethodPost, "/api/login/mark", q, c.cfg.ReportTimeout, nil); err != nil {
		c.logger.Warn("Could not report job status", zap.Int64("job_id", jobID), zap.String("status", string(status)), zap.Error(err))
	}
}
