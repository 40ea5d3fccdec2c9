// internal/browser/session/session.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

// ErrDriverFatal marks failures of the browser itself: it could not start,
// or it died under us. The session cannot be used afterwards.
var ErrDriverFatal = errors.New("browser driver failure")

// Session is one browser process with one tab and its own profile
// directory. It implements dom.Page over the DevTools protocol.
type Session struct {
	id         string
	headless   bool
	profileDir string
	logger     *zap.Logger
	navTimeout time.Duration
	snapshots  SnapshotConfig
	keys       *cadence

	// ctx is the chromedp tab context; protocol calls derive from it.
	ctx          context.Context
	cancelTab    context.CancelFunc
	cancelBrowse context.CancelFunc

	closeOnce sync.Once
	onClose   func(*Session)
}

var _ dom.Page = (*Session)(nil)

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Headless reports whether the browser runs without a window.
func (s *Session) Headless() bool { return s.headless }

// ProfileDir is the browser's user data directory.
func (s *Session) ProfileDir() string { return s.profileDir }

// Alive reports whether the browser is still usable.
func (s *Session) Alive() bool { return s.ctx.Err() == nil }

// close stops the tab and the browser process. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancelTab()
		s.cancelBrowse()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// run executes actions on the tab within the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDriverFatal, err)
	}
	runCtx, cancel := bind(s.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && s.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrDriverFatal, err)
	}
	return err
}

// call evaluates fn, a JavaScript function expression, with args encoded as
// JSON and decodes its return value into res.
func (s *Session) call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding script argument: %w", err)
		}
		encoded[i] = string(b)
	}
	expr := "(() => {" + prelude + "return (" + fn + ")(" + strings.Join(encoded, ", ") + ");})()"
	return s.run(ctx, chromedp.Evaluate(expr, res))
}

// callOn is call for scripts that act on a tagged element.
func (s *Session) callOn(ctx context.Context, fn string, el dom.Element, extra ...interface{}) error {
	var ok bool
	args := append([]interface{}{el.Frame, el.Ref}, extra...)
	if err := s.call(ctx, fn, &ok, args...); err != nil {
		return fmt.Errorf("element %s: %w", el.Ref, err)
	}
	return nil
}

// -- dom.Page --

func (s *Session) FrameCount(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, frameCountJS, &n)
	return n, err
}

type elementJSON struct {
	Ref         string `json:"ref"`
	Tag         string `json:"tag"`
	Text        string `json:"text"`
	AriaLabel   string `json:"ariaLabel"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Placeholder string `json:"placeholder"`
	Visible     bool   `json:"visible"`
	Enabled     bool   `json:"enabled"`
	Pressed     bool   `json:"pressed"`
}

func (s *Session) Query(ctx context.Context, frame int, q dom.Query) ([]dom.Element, error) {
	var raw []elementJSON
	if err := s.call(ctx, queryJS, &raw, frame, q.XPath); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}
	out := make([]dom.Element, len(raw))
	for i, r := range raw {
		out[i] = dom.Element{
			Ref:         r.Ref,
			Frame:       frame,
			Tag:         r.Tag,
			Text:        r.Text,
			AriaLabel:   r.AriaLabel,
			Type:        r.Type,
			Name:        r.Name,
			ID:          r.ID,
			Placeholder: r.Placeholder,
			Visible:     r.Visible,
			Enabled:     r.Enabled,
			Pressed:     r.Pressed,
		}
	}
	return out, nil
}

// Click dispatches a real mouse click at the element's center.
func (s *Session) Click(ctx context.Context, el dom.Element) error {
	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.call(ctx, centerJS, &pt, el.Frame, el.Ref); err != nil {
		return fmt.Errorf("locating %s: %w", el.Ref, err)
	}
	return s.run(ctx, chromedp.MouseClickXY(pt.X, pt.Y))
}

func (s *Session) ScriptClick(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, scriptClickJS, el)
}

func (s *Session) Focus(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, focusJS, el)
}

func (s *Session) Blur(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, blurJS, el)
}

func (s *Session) Clear(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, clearJS, el)
}

func (s *Session) DispatchInputEvents(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, eventsJS, el)
}

func (s *Session) Enable(ctx context.Context, el dom.Element) error {
	return s.callOn(ctx, enableJS, el)
}

// TypeText focuses the element and sends text as key events, pausing about
// delay between characters.
func (s *Session) TypeText(ctx context.Context, el dom.Element, text string, delay time.Duration) error {
	if err := s.Focus(ctx, el); err != nil {
		return err
	}
	var prev rune
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("typing into %s: %w", el.Ref, err)
		}
		if err := poll.Sleep(ctx, s.keys.next(delay, prev, r)); err != nil {
			return err
		}
		prev = r
	}
	return nil
}

var namedKeys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
	"Delete":    kb.Delete,
}

func (s *Session) PressKey(ctx context.Context, el dom.Element, key string) error {
	if err := s.Focus(ctx, el); err != nil {
		return err
	}
	if k, ok := namedKeys[key]; ok {
		key = k
	}
	return s.run(ctx, chromedp.KeyEvent(key))
}

func (s *Session) SelectOption(ctx context.Context, el dom.Element, text string) (bool, error) {
	var ok bool
	if err := s.call(ctx, selectOptionJS, &ok, el.Frame, el.Ref, text); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Session) SubmitForm(ctx context.Context, el *dom.Element) (bool, error) {
	frame, ref := -1, ""
	if el != nil {
		frame, ref = el.Frame, el.Ref
	}
	var ok bool
	if err := s.call(ctx, submitJS, &ok, frame, ref); err != nil {
		return false, err
	}
	return ok, nil
}

// Navigate loads url, bounded by the configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	s.logger.Info("Navigating", zap.String("url", url))
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, s.navTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var t string
	err := s.run(ctx, chromedp.Title(&t))
	return t, err
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *Session) BodyText(ctx context.Context) (string, error) {
	var t string
	err := s.call(ctx, bodyTextJS, &t)
	return t, err
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Snapshot saves a screenshot for the operator and logs where the page was.
// Failures are logged and otherwise ignored.
func (s *Session) Snapshot(ctx context.Context, tag string) {
	if !s.snapshots.Enabled {
		return
	}
	WriteSnapshot(Detach(ctx), s, s.snapshots.Dir, tag, time.Now(), s.logger)
}
