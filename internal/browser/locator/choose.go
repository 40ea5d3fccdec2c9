package locator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

// optionSpec lists where custom dropdown widgets render their choices.
func optionSpec(wanted string) Spec {
	text := dom.TextContains(wanted)
	return Spec{
		{Name: "option.role", XPath: "//*[@role='option' and " + text + "]"},
		{Name: "option.li", XPath: "//li[" + text + "]"},
		{Name: "option.class", XPath: "//div[contains(@class,'option') and " + text + "]"},
	}
}

// Choose picks the entry containing wanted in a select-like control. A
// native <select> gets its option chosen directly. Anything else is opened
// with a click and the rendered option is clicked. When no rendered option
// shows up, wanted is typed into the control and confirmed with Enter.
// An empty wanted is a successful no-op.
func (e *Engine) Choose(ctx context.Context, el dom.Element, wanted string) (bool, error) {
	if wanted == "" {
		return true, nil
	}

	if el.IsNativeSelect() {
		ok, err := e.page.SelectOption(ctx, el, wanted)
		if err != nil {
			e.logger.Debug("Native option selection failed", zap.Error(err))
		}
		if ok {
			if err := e.page.DispatchInputEvents(ctx, el); err != nil {
				e.logger.Debug("Change event dispatch failed", zap.Error(err))
			}
			return true, nil
		}
	}

	if err := e.ClickSafely(ctx, el); err != nil {
		return false, fmt.Errorf("opening select-like control: %w", err)
	}
	if err := poll.Sleep(ctx, e.openPause); err != nil {
		return false, err
	}

	for _, q := range optionSpec(wanted) {
		opt, err := poll.Value(ctx, e.optionPoll, e.optionWait, func(ctx context.Context) (dom.Element, bool) {
			if els := e.All(ctx, el.Frame, q, Usable); len(els) > 0 {
				return els[0], true
			}
			return dom.Element{}, false
		})
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if err := e.ClickSafely(ctx, opt); err != nil {
			e.logger.Debug("Option click failed", zap.String("strategy", q.Name), zap.Error(err))
			continue
		}
		e.logger.Debug("Option chosen", zap.String("strategy", q.Name), zap.String("wanted", wanted))
		return true, nil
	}

	// Type-ahead fallback for comboboxes that filter as you type.
	if err := e.page.TypeText(ctx, el, wanted, e.typeDelay); err != nil {
		return false, fmt.Errorf("typing into select-like control: %w", err)
	}
	if err := e.page.PressKey(ctx, el, "Enter"); err != nil {
		return false, fmt.Errorf("confirming select-like control: %w", err)
	}
	return true, nil
}
