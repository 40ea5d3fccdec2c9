// Package otpentry types a one-time passcode into whichever widget the login
// page renders for it, then confirms the login.
package otpentry

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

const (
	DefaultTimeout      = 45 * time.Second
	defaultPollInterval = 300 * time.Millisecond
	// verifyPathMarker is part of the URL while the code is being checked.
	verifyPathMarker = "auth/verify"
)

// singleFieldSpec finds a one-field OTP input, most specific first. Boxes
// that hold a single character cannot take the whole code and are left to
// the segmented path.
var singleFieldSpec = wholeCode(locator.Spec{
	{Name: "otp.autocomplete", XPath: "//input[@autocomplete='one-time-code']"},
	{Name: "otp.name", XPath: "//input[" + dom.AttrContainsFold("name", "code") + "]"},
	{Name: "otp.id", XPath: "//input[" + dom.AttrContainsFold("id", "code") + "]"},
	{Name: "otp.aria-label", XPath: "//input[" + dom.AttrContains("aria-label", "קוד") + "]"},
	{Name: "otp.placeholder", XPath: "//input[" + dom.AttrContains("placeholder", "קוד") + "]"},
	{Name: "otp.inputmode", XPath: "//input[@inputmode='numeric']"},
	{Name: "otp.tel", XPath: "//input[@type='tel']"},
	{Name: "otp.password", XPath: "//input[@type='password']"},
	{Name: "otp.text", XPath: "//input[@type='text']"},
})

func wholeCode(spec locator.Spec) locator.Spec {
	for i := range spec {
		spec[i].XPath += "[not(@maxlength='1')]"
	}
	return spec
}

// segmentQuery finds one-box-per-digit widgets.
var segmentQuery = dom.Query{
	Name: "otp.segments",
	XPath: "//input[" + dom.AnyOf(
		"@maxlength='1'",
		dom.AttrContains("aria-label", "ספרה"),
		dom.AttrContainsFold("aria-label", "digit"),
	) + "]",
}

// Handler enters codes through a locator engine.
type Handler struct {
	loc      *locator.Engine
	logger   *zap.Logger
	interval time.Duration
}

// New creates a handler.
func New(loc *locator.Engine, logger *zap.Logger) *Handler {
	return &Handler{loc: loc, logger: logger.Named("otp"), interval: defaultPollInterval}
}

// Enter types code into a single OTP field or, failing that, into a row of
// per-digit boxes. It keeps looking until timeout and reports whether either
// shape was found and filled. Only the main document is searched.
func (h *Handler) Enter(ctx context.Context, code string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	err := poll.Until(ctx, h.interval, timeout, func(ctx context.Context) (bool, error) {
		if el, ok := h.loc.Find(ctx, dom.MainFrame, singleFieldSpec); ok {
			return h.fillSingle(ctx, el, code), nil
		}
		if boxes := h.loc.All(ctx, dom.MainFrame, segmentQuery, locator.Usable); len(boxes) >= len(code) {
			return h.fillSegments(ctx, boxes, code), nil
		}
		return false, nil
	})
	if err != nil {
		h.logger.Warn("OTP input not found", zap.Duration("timeout", timeout), zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) fillSingle(ctx context.Context, el dom.Element, code string) bool {
	page := h.loc.Page()
	if err := page.Clear(ctx, el); err != nil {
		h.logger.Debug("Could not clear OTP field", zap.Error(err))
	}
	if err := h.loc.ClickSafely(ctx, el); err != nil {
		h.logger.Debug("Could not click OTP field", zap.Error(err))
	}
	if err := page.TypeText(ctx, el, code, h.loc.TypeDelay()); err != nil {
		h.logger.Debug("Typing OTP failed, retrying", zap.Error(err))
		return false
	}
	if err := page.DispatchInputEvents(ctx, el); err != nil {
		h.logger.Debug("OTP input events failed", zap.Error(err))
	}
	h.logger.Info("OTP typed into single field", zap.String("field", el.Name+el.ID))
	return true
}

func (h *Handler) fillSegments(ctx context.Context, boxes []dom.Element, code string) bool {
	page := h.loc.Page()
	for i, digit := range strings.Split(code, "") {
		box := boxes[i]
		if err := page.Clear(ctx, box); err != nil {
			h.logger.Debug("Could not clear OTP box", zap.Int("box", i), zap.Error(err))
		}
		if err := page.TypeText(ctx, box, digit, 0); err != nil {
			h.logger.Debug("Typing OTP digit failed, retrying", zap.Int("box", i), zap.Error(err))
			return false
		}
		if err := poll.Sleep(ctx, h.loc.TypeDelay()); err != nil {
			return false
		}
	}
	h.logger.Info("OTP typed into segmented boxes", zap.Int("boxes", len(boxes)))
	return true
}

// confirmLabels are the texts of the control that submits the code.
var confirmLabels = []string{"התחברות", "אישור", "כניסה", "המשך", "Submit", "Continue", "Next", "Sign in", "Log in"}

func confirmSpec() locator.Spec {
	spec := make(locator.Spec, 0, len(confirmLabels)+1)
	for _, l := range confirmLabels {
		spec = append(spec, dom.Query{
			Name:  "confirm." + l,
			XPath: "//*[(self::button or self::a) and " + dom.TextContains(l) + "]",
		})
	}
	return append(spec, dom.Query{
		Name:  "confirm.submit",
		XPath: "//button[@type='submit'] | //input[@type='submit']",
	})
}

// ConfirmLogin submits the entered code. Portals often keep the button
// disabled until their own validation runs, so the control is re-enabled
// before clicking. Without any button it submits the first form, and as a
// last resort presses Enter in the OTP field. It then waits up to
// settle for the page to leave the verification URL. The wait is
// best-effort; ConfirmLogin reports whether a submission was made or the
// portal already left the verification page on its own, as segmented
// widgets do once the last digit is typed.
func (h *Handler) ConfirmLogin(ctx context.Context, settle time.Duration) bool {
	page := h.loc.Page()
	if h.leftVerification(ctx) {
		h.logger.Info("Code accepted without confirmation")
		return true
	}
	submitted := false

	if el, ok := h.loc.FindWith(ctx, dom.MainFrame, confirmSpec(), locator.Visible); ok {
		if err := page.Enable(ctx, el); err != nil {
			h.logger.Debug("Could not re-enable confirm control", zap.Error(err))
		}
		if err := h.loc.ClickSafely(ctx, el); err == nil {
			h.logger.Info("Clicked login confirmation", zap.String("label", el.Label()))
			submitted = true
		}
	}
	if !submitted {
		if ok, err := page.SubmitForm(ctx, nil); err == nil && ok {
			h.logger.Info("Submitted login form directly")
			submitted = true
		}
	}
	if !submitted {
		if el, ok := h.loc.Find(ctx, dom.MainFrame, singleFieldSpec); ok {
			if err := page.PressKey(ctx, el, "Enter"); err == nil {
				h.logger.Info("Pressed Enter in OTP field")
				submitted = true
			}
		}
	}

	err := poll.Until(ctx, h.interval, settle, func(ctx context.Context) (bool, error) {
		return h.leftVerification(ctx), nil
	})
	if err != nil {
		h.logger.Debug("Still on the verification page", zap.Error(err))
		return submitted
	}
	if !submitted {
		h.logger.Info("Portal left the verification page without a confirm control")
	}
	return true
}

func (h *Handler) leftVerification(ctx context.Context) bool {
	u, err := h.loc.Page().URL(ctx)
	return err == nil && u != "" && !strings.Contains(u, verifyPathMarker)
}
