// Package domtest provides an HTML-backed dom.Page for tests. Queries are
// real XPath evaluated with htmlquery, so locator strategies are exercised
// against realistic markup without a browser.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/otp-board/internal/browser/dom"
)

// Action is one recorded interaction.
type Action struct {
	Kind   string
	Target string
	Value  string
}

func (a Action) String() string {
	if a.Value == "" {
		return a.Kind + " " + a.Target
	}
	return fmt.Sprintf("%s %s %q", a.Kind, a.Target, a.Value)
}

// Page is a fake dom.Page. Frame 0 is the main document.
type Page struct {
	mu       sync.Mutex
	frames   []*html.Node
	url      string
	title    string
	refs     map[string]*html.Node
	nodeRefs map[*html.Node]string
	nextRef  int
	actions  []Action
	onClick  map[string]func(*Page)
	onEnter  map[string]func(*Page)

	// QueryErr, when set, is returned by every Query.
	QueryErr error
	// TitleErr, when set, is returned by Title and URL.
	TitleErr error
}

var _ dom.Page = (*Page)(nil)

// New parses the main document and any child frame documents.
func New(mainHTML string, frames ...string) *Page {
	p := &Page{
		refs:     map[string]*html.Node{},
		nodeRefs: map[*html.Node]string{},
		onClick:  map[string]func(*Page){},
		onEnter:  map[string]func(*Page){},
		url:      "https://portal.test/",
	}
	p.frames = append(p.frames, mustParse(mainHTML))
	for _, f := range frames {
		p.frames = append(p.frames, mustParse(f))
	}
	return p
}

func mustParse(s string) *html.Node {
	doc, err := htmlquery.Parse(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("domtest: bad fixture: %v", err))
	}
	return doc
}

// SetHTML replaces the document of frame. Existing refs become stale.
func (p *Page) SetHTML(frame int, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[frame] = mustParse(s)
}

// SetURL changes the reported location.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// SetTitle overrides the <title> of the main document.
func (p *Page) SetTitle(t string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = t
}

// OnClick runs fn after any element whose id or label equals key is clicked.
func (p *Page) OnClick(key string, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[key] = fn
}

// OnEnter runs fn after Enter is pressed in the element whose id equals key.
func (p *Page) OnEnter(key string, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnter[key] = fn
}

// Actions returns a copy of the interaction log.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// ActionsOf returns the targets of every action of the given kind.
func (p *Page) ActionsOf(kind string) []string {
	var out []string
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a.Target)
		}
	}
	return out
}

// Value returns the current value of the element with the given id in any
// frame.
func (p *Page) Value(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, doc := range p.frames {
		if n := htmlquery.FindOne(doc, fmt.Sprintf("//*[@id=%q]", id)); n != nil {
			return attr(n, "value")
		}
	}
	return ""
}

// SelectedOption returns the text of the selected option of a native select.
func (p *Page) SelectedOption(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := htmlquery.FindOne(p.frames[0], fmt.Sprintf("//select[@id=%q]", id))
	if sel == nil {
		return ""
	}
	if opt := htmlquery.FindOne(sel, ".//option[@selected]"); opt != nil {
		return strings.TrimSpace(htmlquery.InnerText(opt))
	}
	return ""
}

func (p *Page) record(kind string, n *html.Node, value string) {
	p.actions = append(p.actions, Action{Kind: kind, Target: targetKey(n), Value: value})
}

func targetKey(n *html.Node) string {
	if n == nil {
		return "<page>"
	}
	for _, key := range []string{"id", "name", "aria-label"} {
		if v := attr(n, key); v != "" {
			return v
		}
	}
	return collapse(htmlquery.InnerText(n))
}

// -- dom.Page --

func (p *Page) FrameCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames) - 1, nil
}

func (p *Page) Query(ctx context.Context, frame int, q dom.Query) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	if frame < 0 || frame >= len(p.frames) {
		return nil, fmt.Errorf("no frame %d", frame)
	}
	nodes, err := htmlquery.QueryAll(p.frames[frame], q.XPath)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, p.describe(frame, n))
	}
	return out, nil
}

func (p *Page) describe(frame int, n *html.Node) dom.Element {
	ref, ok := p.nodeRefs[n]
	if !ok {
		p.nextRef++
		ref = fmt.Sprintf("ref-%d", p.nextRef)
		p.nodeRefs[n] = ref
		p.refs[ref] = n
	}
	return dom.Element{
		Ref:         ref,
		Frame:       frame,
		Tag:         n.Data,
		Text:        collapse(htmlquery.InnerText(n)),
		AriaLabel:   attr(n, "aria-label"),
		Type:        attr(n, "type"),
		Name:        attr(n, "name"),
		ID:          attr(n, "id"),
		Placeholder: attr(n, "placeholder"),
		Visible:     visible(n),
		Enabled:     !hasAttr(n, "disabled") && attr(n, "aria-disabled") != "true",
		Pressed:     attr(n, "aria-pressed") == "true" || attr(n, "aria-selected") == "true",
	}
}

func (p *Page) node(el dom.Element) (*html.Node, error) {
	n, ok := p.refs[el.Ref]
	if !ok {
		return nil, errors.New("stale element reference")
	}
	return n, nil
}

func (p *Page) Click(ctx context.Context, el dom.Element) error {
	return p.click(el, "click")
}

func (p *Page) ScriptClick(ctx context.Context, el dom.Element) error {
	return p.click(el, "script-click")
}

func (p *Page) click(el dom.Element, kind string) error {
	p.mu.Lock()
	n, err := p.node(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record(kind, n, "")
	hook := p.onClick[attr(n, "id")]
	if hook == nil {
		hook = p.onClick[p.describe(el.Frame, n).Label()]
	}
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Focus(ctx context.Context, el dom.Element) error {
	return p.simple(el, "focus")
}

func (p *Page) Blur(ctx context.Context, el dom.Element) error {
	return p.simple(el, "blur")
}

func (p *Page) DispatchInputEvents(ctx context.Context, el dom.Element) error {
	return p.simple(el, "events")
}

func (p *Page) simple(el dom.Element, kind string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(el)
	if err != nil {
		return err
	}
	p.record(kind, n, "")
	return nil
}

func (p *Page) Clear(ctx context.Context, el dom.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(el)
	if err != nil {
		return err
	}
	setAttr(n, "value", "")
	p.record("clear", n, "")
	return nil
}

func (p *Page) TypeText(ctx context.Context, el dom.Element, text string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(el)
	if err != nil {
		return err
	}
	setAttr(n, "value", attr(n, "value")+text)
	p.record("type", n, text)
	return nil
}

func (p *Page) PressKey(ctx context.Context, el dom.Element, key string) error {
	p.mu.Lock()
	n, err := p.node(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("key", n, key)
	hook := p.onEnter[attr(n, "id")]
	p.mu.Unlock()

	if key == "Enter" && hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Enable(ctx context.Context, el dom.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(el)
	if err != nil {
		return err
	}
	removeAttr(n, "disabled")
	removeAttr(n, "aria-disabled")
	p.record("enable", n, "")
	return nil
}

func (p *Page) SelectOption(ctx context.Context, el dom.Element, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(el)
	if err != nil {
		return false, err
	}
	for _, opt := range htmlquery.Find(n, ".//option") {
		if strings.Contains(collapse(htmlquery.InnerText(opt)), text) {
			for _, other := range htmlquery.Find(n, ".//option") {
				removeAttr(other, "selected")
			}
			setAttr(opt, "selected", "selected")
			p.record("select", n, text)
			return true, nil
		}
	}
	return false, nil
}

func (p *Page) SubmitForm(ctx context.Context, el *dom.Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var form *html.Node
	if el == nil {
		form = htmlquery.FindOne(p.frames[0], "//form")
	} else {
		n, err := p.node(*el)
		if err != nil {
			return false, err
		}
		for a := n.Parent; a != nil; a = a.Parent {
			if a.Type == html.ElementNode && a.Data == "form" {
				form = a
				break
			}
		}
	}
	if form == nil {
		return false, nil
	}
	p.record("submit", form, "")
	return true, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.actions = append(p.actions, Action{Kind: "navigate", Target: url})
	return nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TitleErr != nil {
		return "", p.TitleErr
	}
	if p.title != "" {
		return p.title, nil
	}
	if t := htmlquery.FindOne(p.frames[0], "//title"); t != nil {
		return strings.TrimSpace(htmlquery.InnerText(t)), nil
	}
	return "", nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TitleErr != nil {
		return "", p.TitleErr
	}
	return p.url, nil
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if body := htmlquery.FindOne(p.frames[0], "//body"); body != nil {
		return htmlquery.InnerText(body), nil
	}
	return "", nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

// -- node helpers --

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// visible treats hidden inputs, the hidden attribute and inline
// display:none on the node or any ancestor as invisible.
func visible(n *html.Node) bool {
	if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
		return false
	}
	for a := n; a != nil; a = a.Parent {
		if a.Type != html.ElementNode {
			continue
		}
		if hasAttr(a, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attr(a, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
