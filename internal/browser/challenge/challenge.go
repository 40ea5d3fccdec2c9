// Package challenge recognises the anti-bot interstitial the portal serves
// in front of real content.
package challenge

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/poll"
)

// DefaultPollInterval is how often WaitUntilClear re-checks the page.
const DefaultPollInterval = 2500 * time.Millisecond

var (
	// locationMarkers appear in the title or URL of the interstitial.
	locationMarkers = []string{"radware", "verify", "verifying-your-browser"}
	// bodyMarkers appear in its visible text.
	bodyMarkers = []string{"incident id", "verifying your browser"}
)

// PageState is what the detector reads from the page.
type PageState interface {
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
}

// Classify reports whether the given page properties belong to the
// interstitial. Matching ignores case.
func Classify(title, url, body string) bool {
	title, url, body = strings.ToLower(title), strings.ToLower(url), strings.ToLower(body)
	for _, m := range locationMarkers {
		if strings.Contains(title, m) || strings.Contains(url, m) {
			return true
		}
	}
	for _, m := range bodyMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// Detector classifies live pages.
type Detector struct {
	logger   *zap.Logger
	interval time.Duration
}

// NewDetector creates a detector polling at interval.
func NewDetector(logger *zap.Logger, interval time.Duration) *Detector {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Detector{logger: logger.Named("challenge"), interval: interval}
}

// IsBlocked reports whether the page currently shows the interstitial. A page
// whose title or URL cannot be read is treated as not blocked; a body that
// cannot be read is treated as empty.
func (d *Detector) IsBlocked(ctx context.Context, page PageState) bool {
	title, err := page.Title(ctx)
	if err != nil {
		d.logger.Debug("Title unavailable, assuming clear", zap.Error(err))
		return false
	}
	url, err := page.URL(ctx)
	if err != nil {
		d.logger.Debug("URL unavailable, assuming clear", zap.Error(err))
		return false
	}
	body, err := page.BodyText(ctx)
	if err != nil {
		body = ""
	}
	return Classify(title, url, body)
}

// WaitUntilClear polls until the interstitial is gone or timeout elapses. It
// reports whether the page cleared.
func (d *Detector) WaitUntilClear(ctx context.Context, page PageState, timeout time.Duration) bool {
	err := poll.Until(ctx, d.interval, timeout, func(ctx context.Context) (bool, error) {
		return !d.IsBlocked(ctx, page), nil
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, poll.ErrTimeout):
		d.logger.Warn("Anti-bot challenge still present after timeout", zap.Duration("timeout", timeout))
	default:
		d.logger.Warn("Stopped waiting for anti-bot challenge", zap.Error(err))
	}
	return false
}
