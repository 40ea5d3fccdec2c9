// browser/dom/page.go
package dom

import (
	"context"
	"strings"
	"time"
)

// MainFrame addresses the top-level document. Child frames are numbered from
// 1 in document order.
const MainFrame = 0

// Query is one named lookup strategy. Expressions are XPath 1.0 evaluated
// against the frame's document.
type Query struct {
	Name  string
	XPath string
}

// Element describes a node matched by a Query at the moment of the lookup.
// Ref is a temporary handle that is only valid until the page navigates or
// re-renders; callers never keep it across steps.
type Element struct {
	Ref         string
	Frame       int
	Tag         string
	Text        string
	AriaLabel   string
	Type        string
	Name        string
	ID          string
	Placeholder string
	Visible     bool
	Enabled     bool
	Pressed     bool
}

// Label is what a human would read on the control: its aria-label when set,
// otherwise its trimmed text.
func (e Element) Label() string {
	if l := strings.TrimSpace(e.AriaLabel); l != "" {
		return l
	}
	return strings.TrimSpace(e.Text)
}

// Usable reports whether the element can be interacted with.
func (e Element) Usable() bool { return e.Visible && e.Enabled }

// IsNativeSelect reports whether the element is a <select>.
func (e Element) IsNativeSelect() bool { return strings.EqualFold(e.Tag, "select") }

// IsTextInput reports whether the element accepts typed text.
func (e Element) IsTextInput() bool {
	switch strings.ToLower(e.Tag) {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(e.Type) {
		case "", "text", "tel", "number", "password", "search", "email", "date", "time":
			return true
		}
	}
	return false
}

// Page is the set of primitives the locator, form and scanner packages need
// from a live page. The chromedp session implements it; tests use an
// HTML-backed fake.
type Page interface {
	// FrameCount returns the number of reachable child frames.
	FrameCount(ctx context.Context) (int, error)
	// Query returns every element in frame matching q, in document order.
	Query(ctx context.Context, frame int, q Query) ([]Element, error)

	// Click scrolls el into view and performs a native mouse click.
	Click(ctx context.Context, el Element) error
	// ScriptClick calls el.click() from page script.
	ScriptClick(ctx context.Context, el Element) error
	Focus(ctx context.Context, el Element) error
	// Clear selects the whole value of el and deletes it.
	Clear(ctx context.Context, el Element) error
	// TypeText sends text one character at a time, pausing delay between
	// characters.
	TypeText(ctx context.Context, el Element, text string, delay time.Duration) error
	// PressKey sends a single named key ("Enter", "Tab") to el.
	PressKey(ctx context.Context, el Element, key string) error
	// DispatchInputEvents fires bubbling input and change events on el.
	DispatchInputEvents(ctx context.Context, el Element) error
	Blur(ctx context.Context, el Element) error
	// Enable strips disabled and aria-disabled from el.
	Enable(ctx context.Context, el Element) error
	// SelectOption picks the first option of a native select whose text
	// contains text. It reports false when no option matched.
	SelectOption(ctx context.Context, el Element, text string) (bool, error)
	// SubmitForm submits the form enclosing el, or the first form in the main
	// document when el is nil. It reports false when there was no form.
	SubmitForm(ctx context.Context, el *Element) (bool, error)

	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}
