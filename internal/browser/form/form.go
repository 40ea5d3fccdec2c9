// Package form fills the post-login booking wizard: the identity number step
// and the optional search filters.
package form

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

const (
	DefaultNextTimeout  = 15 * time.Second
	defaultNextInterval = 300 * time.Millisecond
)

// nextLabels are the texts of controls that advance the wizard, in
// preference order.
var nextLabels = []string{"השלב הבא", "הבא", "המשך", "Next", "Continue", "חפש תורים", "חיפוש", "חפש"}

// Filler drives one page through the wizard.
type Filler struct {
	loc          *locator.Engine
	logger       *zap.Logger
	nextTimeout  time.Duration
	nextInterval time.Duration
}

// New creates a filler.
func New(loc *locator.Engine, logger *zap.Logger) *Filler {
	return &Filler{
		loc:          loc,
		logger:       logger.Named("form"),
		nextTimeout:  DefaultNextTimeout,
		nextInterval: defaultNextInterval,
	}
}

// -- field specs --

var identitySpec = func() locator.Spec {
	var spec locator.Spec
	for _, phrase := range []string{"מספר זהות", "תעודת זהות", "ת.ז"} {
		text := dom.TextContains(phrase)
		spec = append(spec,
			dom.Query{Name: "id.label-following." + phrase, XPath: "//label[" + text + "]/following::input[1]"},
			dom.Query{Name: "id.label-container." + phrase, XPath: "//div[.//label[" + text + "]]//input"},
		)
	}
	return append(spec,
		dom.Query{Name: "id.name", XPath: "//input[" + dom.AttrContains("name", "id") + "]"},
		dom.Query{Name: "id.inputmode", XPath: "//input[@inputmode='numeric']"},
		dom.Query{Name: "id.aria-label", XPath: "//input[" + dom.AttrContains("aria-label", "זהות") + "]"},
		dom.Query{Name: "id.placeholder", XPath: "//input[" + dom.AttrContains("placeholder", "זהות") + "]"},
	)
}()

const fieldTest = "(self::input or self::select or @role='combobox')"

// labeledSpec finds the control that belongs to a visible label containing
// any of words. preferSelect adds any dropdown on the page as a fallback;
// fallback is appended verbatim when set.
func labeledSpec(field string, words []string, preferSelect bool, fallback string) locator.Spec {
	var spec locator.Spec
	for _, w := range words {
		text := dom.TextContains(w)
		spec = append(spec,
			dom.Query{Name: field + ".label-following." + w, XPath: "//label[" + text + "]/following::*[" + fieldTest + "][1]"},
			dom.Query{Name: field + ".label-container." + w, XPath: "//div[.//label[" + text + "]]//*[" + fieldTest + "]"},
		)
	}
	if preferSelect {
		spec = append(spec, dom.Query{Name: field + ".any-select", XPath: "//*[@role='combobox'] | //select"})
	}
	if fallback != "" {
		spec = append(spec, dom.Query{Name: field + ".fallback", XPath: fallback})
	}
	return spec
}

var (
	citySpec     = labeledSpec("city", []string{"עיר", "יישוב"}, true, "")
	branchSpec   = labeledSpec("branch", []string{"סניף", "לשכה"}, true, "")
	dateSpec     = labeledSpec("date", []string{"תאריך"}, false, "//input[@type='date']")
	timeFromSpec = labeledSpec("time_from", []string{"שעת התחלה", "משעה"}, false, "//input[@type='time']")
	timeToSpec   = labeledSpec("time_to", []string{"שעת סיום", "עד שעה"}, false, "")
)

// -- steps --

// FillIdentity types the identity number and advances the wizard. An empty
// number or a page without an identity field is a skipped success. It
// reports false only when the field was filled but nothing advanced it.
func (f *Filler) FillIdentity(ctx context.Context, idNumber string) bool {
	if idNumber == "" {
		f.logger.Info("No identity number in job, skipping identity step")
		return true
	}

	el, ok := f.loc.FindWith(ctx, dom.MainFrame, identitySpec, locator.Visible)
	if !ok {
		f.logger.Info("Identity field not found on current page, skipping identity step")
		return true
	}
	if err := f.loc.SetText(ctx, el, idNumber); err != nil {
		f.logger.Warn("Could not type identity number", zap.Error(err))
		return false
	}

	if f.ClickNext(ctx, f.nextTimeout) {
		return true
	}
	if err := f.loc.Page().PressKey(ctx, el, "Enter"); err != nil {
		f.logger.Warn("Could not advance past identity step", zap.Error(err))
		return false
	}
	return true
}

type filterField struct {
	name  string
	value string
	spec  locator.Spec
}

// FillFilters fills whichever of the preference fields the page offers and
// advances the wizard when at least one was filled. Missing fields are
// skipped. It always reports true: filters narrow the search but never gate
// the job.
func (f *Filler) FillFilters(ctx context.Context, prefs schemas.Preferences) bool {
	if !prefs.HasFilters() {
		f.logger.Info("No filters in job, skipping filters step")
		return true
	}

	fields := []filterField{
		{"city", prefs.City, citySpec},
		{"branch", prefs.Branch, branchSpec},
		{"date", prefs.Date, dateSpec},
		{"time_from", prefs.TimeFrom, timeFromSpec},
		{"time_to", prefs.TimeTo, timeToSpec},
	}

	var last *dom.Element
	for _, fld := range fields {
		if fld.value == "" {
			continue
		}
		el, ok := f.loc.FindWith(ctx, dom.MainFrame, fld.spec, locator.Visible)
		if !ok {
			f.logger.Info("Filter field not on page", zap.String("field", fld.name))
			continue
		}
		if err := f.set(ctx, el, fld.value); err != nil {
			f.logger.Warn("Could not fill filter", zap.String("field", fld.name), zap.Error(err))
			continue
		}
		f.logger.Info("Filter filled", zap.String("field", fld.name), zap.String("value", fld.value))
		filled := el
		last = &filled
	}

	if last == nil {
		return true
	}
	if !f.ClickNext(ctx, f.nextTimeout) {
		if err := f.loc.Page().PressKey(ctx, *last, "Enter"); err != nil {
			f.logger.Debug("Enter on last filter failed", zap.Error(err))
		}
	}
	return true
}

func (f *Filler) set(ctx context.Context, el dom.Element, value string) error {
	if el.IsTextInput() {
		return f.loc.SetText(ctx, el, value)
	}
	_, err := f.loc.Choose(ctx, el, value)
	return err
}

// -- next / continue --

var nextButtonSpec = func() locator.Spec {
	spec := make(locator.Spec, 0, len(nextLabels)+1)
	for _, l := range nextLabels {
		spec = append(spec, dom.Query{Name: "next." + l, XPath: "//button[" + dom.TextContains(l) + "]"})
	}
	return append(spec, dom.Query{Name: "next.submit-input", XPath: "//input[@type='submit']"})
}()

var labelledButtons = func() dom.Query {
	preds := make([]string, 0, len(nextLabels))
	for _, l := range nextLabels {
		preds = append(preds, dom.TextContains(l))
	}
	return dom.Query{
		Name:  "next.any-labelled",
		XPath: "//*[(self::button or @role='button' or (self::input and @type='submit')) and " + dom.AnyOf(preds...) + "]",
	}
}()

// ClickNext looks for a control that advances the wizard until timeout. Each
// round tries visible enabled buttons by label, then any submit input, then
// submits the form enclosing any labelled button directly, even a disabled
// one.
func (f *Filler) ClickNext(ctx context.Context, timeout time.Duration) bool {
	page := f.loc.Page()
	err := poll.Until(ctx, f.nextInterval, timeout, func(ctx context.Context) (bool, error) {
		if el, ok := f.loc.Find(ctx, dom.MainFrame, nextButtonSpec); ok {
			if err := f.loc.ClickSafely(ctx, el); err == nil {
				f.logger.Info("Advanced wizard", zap.String("label", el.Label()))
				return true, nil
			}
		}
		for _, el := range f.loc.All(ctx, dom.MainFrame, labelledButtons, func(dom.Element) bool { return true }) {
			if err := page.Enable(ctx, el); err != nil {
				continue
			}
			target := el
			if ok, err := page.SubmitForm(ctx, &target); err == nil && ok {
				f.logger.Info("Advanced wizard by submitting form", zap.String("label", el.Label()))
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		f.logger.Info("No next/continue control found", zap.Duration("timeout", timeout))
		return false
	}
	return true
}
