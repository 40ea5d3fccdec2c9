// Package locator finds elements on pages whose markup is not under our
// control. Every lookup is an ordered list of declarative strategies; the
// first strategy that yields a usable element wins.
package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

// Spec is an ordered fallback chain of strategies.
type Spec []dom.Query

// Accept decides whether a matched element qualifies.
type Accept func(dom.Element) bool

var (
	// Usable accepts visible, enabled elements.
	Usable Accept = dom.Element.Usable
	// Visible accepts visible elements regardless of disabled state.
	Visible Accept = func(e dom.Element) bool { return e.Visible }
)

// Engine runs specs against one page.
type Engine struct {
	page       dom.Page
	logger     *zap.Logger
	typeDelay  time.Duration
	openPause  time.Duration
	optionWait time.Duration
	optionPoll time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTypeDelay sets the pause between typed characters.
func WithTypeDelay(d time.Duration) Option { return func(e *Engine) { e.typeDelay = d } }

// WithOptionWait sets how long each option strategy of a custom select is
// polled, and the pause after opening the widget.
func WithOptionWait(wait, openPause time.Duration) Option {
	return func(e *Engine) {
		e.optionWait = wait
		e.openPause = openPause
	}
}

// New creates an engine bound to page.
func New(page dom.Page, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		page:       page,
		logger:     logger.Named("locator"),
		typeDelay:  20 * time.Millisecond,
		openPause:  300 * time.Millisecond,
		optionWait: 5 * time.Second,
		optionPoll: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Page returns the page the engine drives.
func (e *Engine) Page() dom.Page { return e.page }

// TypeDelay is the per-character pause used for typing.
func (e *Engine) TypeDelay() time.Duration { return e.typeDelay }

// All returns every element in frame matched by q that accept admits. Query
// failures count as no match.
func (e *Engine) All(ctx context.Context, frame int, q dom.Query, accept Accept) []dom.Element {
	els, err := e.page.Query(ctx, frame, q)
	if err != nil {
		e.logger.Debug("Strategy query failed", zap.String("strategy", q.Name), zap.Int("frame", frame), zap.Error(err))
		return nil
	}
	out := els[:0]
	for _, el := range els {
		if accept(el) {
			out = append(out, el)
		}
	}
	return out
}

// FindWith tries each strategy of spec in order within frame and returns the
// first element accept admits.
func (e *Engine) FindWith(ctx context.Context, frame int, spec Spec, accept Accept) (dom.Element, bool) {
	for _, q := range spec {
		if els := e.All(ctx, frame, q, accept); len(els) > 0 {
			e.logger.Debug("Strategy matched", zap.String("strategy", q.Name), zap.Int("frame", frame))
			return els[0], true
		}
	}
	return dom.Element{}, false
}

// Find is FindWith restricted to visible, enabled elements.
func (e *Engine) Find(ctx context.Context, frame int, spec Spec) (dom.Element, bool) {
	return e.FindWith(ctx, frame, spec, Usable)
}

// FindInFrames searches the main document first, then each child frame in
// document order.
func (e *Engine) FindInFrames(ctx context.Context, spec Spec, accept Accept) (dom.Element, bool) {
	if el, ok := e.FindWith(ctx, dom.MainFrame, spec, accept); ok {
		return el, true
	}
	n, err := e.page.FrameCount(ctx)
	if err != nil {
		e.logger.Debug("Could not count frames", zap.Error(err))
		return dom.Element{}, false
	}
	for frame := 1; frame <= n; frame++ {
		if el, ok := e.FindWith(ctx, frame, spec, accept); ok {
			return el, true
		}
	}
	return dom.Element{}, false
}

// WaitFind polls FindInFrames until a usable element appears or timeout
// elapses.
func (e *Engine) WaitFind(ctx context.Context, spec Spec, interval, timeout time.Duration) (dom.Element, error) {
	el, err := poll.Value(ctx, interval, timeout, func(ctx context.Context) (dom.Element, bool) {
		return e.FindInFrames(ctx, spec, Usable)
	})
	if err != nil {
		return dom.Element{}, fmt.Errorf("waiting for %s: %w", spec.name(), err)
	}
	return el, nil
}

func (s Spec) name() string {
	if len(s) == 0 {
		return "element"
	}
	return s[0].Name
}

// ClickSafely performs a native click and falls back to a script click.
func (e *Engine) ClickSafely(ctx context.Context, el dom.Element) error {
	if err := e.page.Click(ctx, el); err != nil {
		e.logger.Debug("Native click failed, falling back to script click", zap.String("ref", el.Ref), zap.Error(err))
		if err := e.page.ScriptClick(ctx, el); err != nil {
			return fmt.Errorf("clicking %q: %w", el.Label(), err)
		}
	}
	return nil
}

// SetText replaces the value of a text control the way a person would:
// click, select all, delete, type, then let the page's listeners know.
func (e *Engine) SetText(ctx context.Context, el dom.Element, text string) error {
	if err := e.ClickSafely(ctx, el); err != nil {
		return err
	}
	if err := e.page.Clear(ctx, el); err != nil {
		return fmt.Errorf("clearing field: %w", err)
	}
	if err := e.page.TypeText(ctx, el, text, e.typeDelay); err != nil {
		return fmt.Errorf("typing into field: %w", err)
	}
	if err := e.page.DispatchInputEvents(ctx, el); err != nil {
		e.logger.Debug("Input event dispatch failed", zap.Error(err))
	}
	if err := e.page.Blur(ctx, el); err != nil {
		e.logger.Debug("Blur failed", zap.Error(err))
	}
	return nil
}
