package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/otp-board/internal/browser/dom/domtest"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		title, url, body string
		want             bool
	}{
		{"clear page", "זימון תור", "https://govisit.gov.il/he/app/appointment/29/1870/info", "בחרו שירות", false},
		{"radware title", "Radware Bot Manager", "https://govisit.gov.il/", "", true},
		{"verify url", "", "https://govisit.gov.il/verifying-your-browser?x=1", "", true},
		{"incident id body", "Loading", "https://govisit.gov.il/", "Please wait... Incident ID: 12345", true},
		{"verifying body mixed case", "", "https://x/", "VERIFYING YOUR BROWSER", true},
		{"verification is not a marker", "Verification", "https://x/", "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.title, tt.url, tt.body))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	d := NewDetector(zap.NewNop(), time.Millisecond)
	ctx := context.Background()

	page := domtest.New(`<html><head><title>Radware Captcha</title></head><body></body></html>`)
	assert.True(t, d.IsBlocked(ctx, page))

	page = domtest.New(`<html><head><title>ממשל זמין</title></head><body><p>Incident ID: 9</p></body></html>`)
	assert.True(t, d.IsBlocked(ctx, page))

	page.TitleErr = errors.New("target closed")
	assert.False(t, d.IsBlocked(ctx, page), "unreadable pages are treated as clear")
}

func TestWaitUntilClear(t *testing.T) {
	ctx := context.Background()

	t.Run("clears after a while", func(t *testing.T) {
		d := NewDetector(zap.NewNop(), 5*time.Millisecond)
		page := domtest.New(`<html><head><title>Radware</title></head><body></body></html>`)
		go func() {
			time.Sleep(20 * time.Millisecond)
			page.SetHTML(0, `<html><head><title>זימון תור</title></head><body></body></html>`)
		}()
		assert.True(t, d.WaitUntilClear(ctx, page, time.Second))
	})

	t.Run("times out and warns", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		d := NewDetector(zap.New(core), 5*time.Millisecond)
		page := domtest.New(`<html><head><title>Radware</title></head><body></body></html>`)

		assert.False(t, d.WaitUntilClear(ctx, page, 20*time.Millisecond))
		assert.Equal(t, 1, logs.FilterMessage("Anti-bot challenge still present after timeout").Len())
	})
}
