// Package login walks the portal from its service info page to the point
// where an SMS code has been requested.
package login

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

const (
	DefaultContinueTimeout = 30 * time.Second
	DefaultPhoneTimeout    = 40 * time.Second
	DefaultTriggerTimeout  = 30 * time.Second
)

// Timeouts bounds each step of the flow.
type Timeouts struct {
	Continue time.Duration
	Phone    time.Duration
	Trigger  time.Duration
	// Settle is the pause after leaving the info page.
	Settle   time.Duration
	Interval time.Duration
}

// DefaultTimeouts returns the production bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Continue: DefaultContinueTimeout,
		Phone:    DefaultPhoneTimeout,
		Trigger:  DefaultTriggerTimeout,
		Settle:   time.Second,
		Interval: 500 * time.Millisecond,
	}
}

// Flow drives the login entry steps on one page.
type Flow struct {
	loc        *locator.Engine
	logger     *zap.Logger
	continueID string
	t          Timeouts
}

// New creates a flow. continueID is the DOM id of the portal's "continue to
// appointment" control; it may be empty.
func New(loc *locator.Engine, logger *zap.Logger, continueID string, t Timeouts) *Flow {
	return &Flow{loc: loc, logger: logger.Named("login"), continueID: continueID, t: t}
}

func (f *Flow) continueSpec() locator.Spec {
	var spec locator.Spec
	if f.continueID != "" {
		spec = append(spec, dom.Query{Name: "continue.id", XPath: "//*[" + dom.AttrEquals("id", f.continueID) + "]"})
	}
	label := dom.TextContains("להמשך זימון")
	return append(spec,
		dom.Query{Name: "continue.button", XPath: "//button[" + label + "]"},
		dom.Query{Name: "continue.link", XPath: "//a[" + label + "]"},
	)
}

// ClickContinue leaves the service info page for the login form.
func (f *Flow) ClickContinue(ctx context.Context) bool {
	el, err := f.loc.WaitFind(ctx, f.continueSpec(), f.t.Interval, f.t.Continue)
	if err != nil {
		f.logger.Warn("Continue control not found", zap.Error(err))
		return false
	}
	if err := f.loc.ClickSafely(ctx, el); err != nil {
		f.logger.Warn("Continue control not clickable", zap.Error(err))
		return false
	}
	return poll.Sleep(ctx, f.t.Settle) == nil
}

var phoneSpec = locator.Spec{
	{Name: "phone.tel", XPath: "//input[@type='tel']"},
	{Name: "phone.name", XPath: "//input[" + dom.AttrContains("name", "phone") + "]"},
	{Name: "phone.autocomplete", XPath: "//input[@autocomplete='tel']"},
}

// WaitPhoneField finds the phone input in the main document or, since the
// login widget is often embedded, in any child frame.
func (f *Flow) WaitPhoneField(ctx context.Context) (dom.Element, bool) {
	el, err := f.loc.WaitFind(ctx, phoneSpec, f.t.Interval, f.t.Phone)
	if err != nil {
		f.logger.Warn("Phone field not found", zap.Error(err))
		return dom.Element{}, false
	}
	f.logger.Info("Phone field found", zap.Int("frame", el.Frame))
	return el, true
}

const clickable = "(self::button or self::a or @role='button')"

var smsTriggerSpec = locator.Spec{
	{Name: "sms.send-code", XPath: "//*[" + clickable + " and " + dom.AllOf(dom.TextContains("שלח"), dom.TextContains("קוד")) + "]"},
	{Name: "sms.send-sms", XPath: "//*[" + clickable + " and " + dom.AllOf(dom.TextContains("שלחו"), dom.TextContains("SMS")) + "]"},
	{Name: "sms.get-code", XPath: "//*[" + clickable + " and " + dom.TextContains("קבלת קוד") + "]"},
	{Name: "sms.continue", XPath: "//*[" + clickable + " and " + dom.AnyOf(dom.TextContains("המשך"), dom.TextContains("כניסה")) + "]"},
	{Name: "sms.submit", XPath: "//button[@type='submit']"},
}

// SendSms types phone into field and presses the control that makes the
// portal text a code. The trigger is looked up in the field's own frame.
func (f *Flow) SendSms(ctx context.Context, field dom.Element, phone string) bool {
	page := f.loc.Page()
	if err := page.Clear(ctx, field); err != nil {
		f.logger.Debug("Could not clear phone field", zap.Error(err))
	}
	if err := page.TypeText(ctx, field, phone, f.loc.TypeDelay()); err != nil {
		f.logger.Warn("Could not type phone number", zap.Error(err))
		return false
	}

	trigger, err := poll.Value(ctx, f.t.Interval, f.t.Trigger, func(ctx context.Context) (dom.Element, bool) {
		return f.loc.Find(ctx, field.Frame, smsTriggerSpec)
	})
	if err != nil {
		f.logger.Warn("SMS trigger not found", zap.Error(err))
		return false
	}
	if err := f.loc.ClickSafely(ctx, trigger); err != nil {
		f.logger.Warn("SMS trigger not clickable", zap.Error(err))
		return false
	}
	f.logger.Info("SMS requested", zap.String("trigger", trigger.Label()))
	return true
}
