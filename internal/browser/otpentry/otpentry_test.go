package otpentry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/dom/domtest"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
)

func newTestHandler(t *testing.T, page *domtest.Page) *Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := New(locator.New(page, logger, locator.WithTypeDelay(0)), logger)
	h.interval = 5 * time.Millisecond
	return h
}

func TestEnter_SingleField(t *testing.T) {
	page := domtest.New(`<html><body><form>
		<input id="phone" type="tel" value="0501234567" style="display:none">
		<input id="otp" name="smsCode" inputmode="numeric" value="9">
	</form></body></html>`)
	h := newTestHandler(t, page)

	require.True(t, h.Enter(context.Background(), "482913", time.Second))

	assert.Equal(t, "482913", page.Value("otp"), "field is cleared before typing")
	assert.Contains(t, page.ActionsOf("events"), "otp")
}

func TestEnter_StrategyPrecedence(t *testing.T) {
	page := domtest.New(`<html><body>
		<input id="generic" type="text">
		<input id="one-time" autocomplete="one-time-code">
	</body></html>`)
	h := newTestHandler(t, page)

	require.True(t, h.Enter(context.Background(), "1234", time.Second))
	assert.Equal(t, "1234", page.Value("one-time"))
	assert.Equal(t, "", page.Value("generic"))
}

func TestEnter_SegmentedBoxes(t *testing.T) {
	page := domtest.New(`<html><body>
		<input id="d1" type="tel" maxlength="1"><input id="d2" type="tel" maxlength="1">
		<input id="d3" type="tel" maxlength="1"><input id="d4" type="tel" maxlength="1">
		<input id="d5" type="tel" maxlength="1"><input id="d6" type="tel" maxlength="1">
	</body></html>`)
	h := newTestHandler(t, page)

	require.True(t, h.Enter(context.Background(), "482913", time.Second))

	for i, want := range []string{"4", "8", "2", "9", "1", "3"} {
		assert.Equal(t, want, page.Value([]string{"d1", "d2", "d3", "d4", "d5", "d6"}[i]))
	}
}

func TestEnter_TooFewBoxes(t *testing.T) {
	page := domtest.New(`<html><body>
		<input aria-label="ספרה 1" maxlength="1"><input aria-label="ספרה 2" maxlength="1">
	</body></html>`)
	h := newTestHandler(t, page)

	assert.False(t, h.Enter(context.Background(), "482913", 30*time.Millisecond))
	assert.Empty(t, page.ActionsOf("type"))
}

func TestEnter_FieldAppearsLater(t *testing.T) {
	page := domtest.New(`<html><body><p>שולחים קוד...</p></body></html>`)
	h := newTestHandler(t, page)
	go func() {
		time.Sleep(20 * time.Millisecond)
		page.SetHTML(dom.MainFrame, `<html><body><input id="code" placeholder="הזינו קוד"></body></html>`)
	}()

	require.True(t, h.Enter(context.Background(), "7788", time.Second))
	assert.Equal(t, "7788", page.Value("code"))
}

const verifyURL = "https://portal.test/he/auth/verify"

func TestConfirmLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled button is re-enabled and clicked", func(t *testing.T) {
		page := domtest.New(`<html><body><form id="f">
			<input id="otp" autocomplete="one-time-code">
			<button id="login" disabled>התחברות</button>
		</form></body></html>`)
		page.SetURL(verifyURL)
		page.OnClick("login", func(p *domtest.Page) { p.SetURL("https://portal.test/he/app/appointment") })
		h := newTestHandler(t, page)

		assert.True(t, h.ConfirmLogin(ctx, time.Second))
		assert.Equal(t, []string{"login"}, page.ActionsOf("enable"))
		assert.Equal(t, []string{"login"}, page.ActionsOf("click"))
	})

	t.Run("falls back to form submission", func(t *testing.T) {
		page := domtest.New(`<html><body><form id="verify-form"><input id="otp" autocomplete="one-time-code"></form></body></html>`)
		page.SetURL(verifyURL)
		h := newTestHandler(t, page)

		assert.True(t, h.ConfirmLogin(ctx, 10*time.Millisecond))
		assert.Equal(t, []string{"verify-form"}, page.ActionsOf("submit"))
	})

	t.Run("falls back to Enter in the OTP field", func(t *testing.T) {
		page := domtest.New(`<html><body><input id="otp" autocomplete="one-time-code"></body></html>`)
		page.SetURL(verifyURL)
		h := newTestHandler(t, page)

		assert.True(t, h.ConfirmLogin(ctx, 10*time.Millisecond))
		assert.Equal(t, []string{"otp"}, page.ActionsOf("key"))
	})

	t.Run("portal already left verification", func(t *testing.T) {
		page := domtest.New(`<html><body><input id="d1" maxlength="1"><p>בחירת תאריך</p></body></html>`)
		page.SetURL("https://portal.test/he/app/appointment")
		h := newTestHandler(t, page)

		assert.True(t, h.ConfirmLogin(ctx, 10*time.Millisecond))
		assert.Empty(t, page.ActionsOf("click"))
		assert.Empty(t, page.ActionsOf("submit"))
	})

	t.Run("nothing to submit", func(t *testing.T) {
		page := domtest.New(`<html><body><p>שגיאה</p></body></html>`)
		page.SetURL(verifyURL)
		h := newTestHandler(t, page)

		assert.False(t, h.ConfirmLogin(ctx, 10*time.Millisecond))
	})
}
