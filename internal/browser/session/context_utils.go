// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// bind returns a context that carries the values of browser (the chromedp
// target) but is also canceled when op is done. Protocol calls need the
// former and must honor the caller's deadline from the latter.
func bind(browser, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(browser)
	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps its parent's values but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{} { return nil }
func (valueOnlyContext) Err() error { return nil }

// Detach returns a context with the values of ctx that is never canceled.
// Cleanup that must run after a step's deadline uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
