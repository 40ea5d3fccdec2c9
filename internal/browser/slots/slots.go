// Package slots reads the appointment times the portal currently offers.
package slots

import (
	"context"
	"iter"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

// UnknownDate labels a report whose day could not be identified.
const UnknownDate = "unknown date"

const defaultDayPause = 400 * time.Millisecond

var timeOfDay = regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d\b`)

var (
	selectedDayQuery = dom.Query{
		Name:  "slots.selected-day",
		XPath: "//button[(@aria-pressed='true' or @aria-selected='true' or contains(@class,'selected')) and string-length(normalize-space(.))<=2]",
	}
	dateHeaderQuery = dom.Query{
		Name: "slots.date-header",
		XPath: "//*[self::h1 or self::h2 or self::h3 or self::div][" + dom.AnyOf(
			dom.TextContains("תאריך"), dom.TextContains("יום"), dom.TextContains("חודש"),
		) + "]",
	}
	// Only the innermost element holding a time counts, so a container never
	// contributes the times of its disabled children.
	timeCandidateQuery = dom.Query{
		Name:  "slots.time-candidates",
		XPath: "//*[self::button or self::li or self::div or self::span][contains(normalize-space(.),':') and not(*[contains(normalize-space(.),':')]) and not(ancestor-or-self::*[@aria-disabled='true' or @disabled])]",
	}
	dayButtonQuery = dom.Query{
		Name:  "slots.day-buttons",
		XPath: "//button[not(@disabled) and not(@aria-disabled='true') and normalize-space(.)!='' and string-length(normalize-space(.))<=2]",
	}
)

// ExtractTimes returns every HH:MM time found in texts, deduplicated and
// sorted.
func ExtractTimes(texts ...string) []string {
	var out []string
	for _, t := range texts {
		out = append(out, timeOfDay.FindAllString(t, -1)...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Scanner reads slots from the main document of one page.
type Scanner struct {
	loc      *locator.Engine
	logger   *zap.Logger
	dayPause time.Duration
}

// New creates a scanner.
func New(loc *locator.Engine, logger *zap.Logger) *Scanner {
	return &Scanner{loc: loc, logger: logger.Named("slots"), dayPause: defaultDayPause}
}

// Scan yields the slots of the day on screen and, when deep is set, of up
// to maxDays further days reached by clicking day buttons not seen before.
// The walk also stops when no unseen day remains or after 2*maxDays
// attempts. The sequence reads the live page and cannot be restarted.
func (s *Scanner) Scan(ctx context.Context, deep bool, maxDays int) iter.Seq[schemas.SlotReport] {
	return func(yield func(schemas.SlotReport) bool) {
		first := schemas.SlotReport{DateLabel: s.currentDateLabel(ctx), Times: s.visibleTimes(ctx)}
		// The day on screen counts as scanned under both of its names.
		seen := map[string]struct{}{first.DateLabel: {}}
		if sel, ok := s.selectedDay(ctx); ok {
			if l := dayLabel(sel); l != "" {
				seen[l] = struct{}{}
			}
		}
		if !yield(first) || !deep {
			return
		}

		scanned := 0
		for attempt := 0; attempt < maxDays*2 && scanned < maxDays; attempt++ {
			if ctx.Err() != nil {
				return
			}
			day, label, ok := s.nextDay(ctx, seen)
			if !ok {
				return
			}
			seen[label] = struct{}{}

			if err := s.loc.ClickSafely(ctx, day); err != nil {
				s.logger.Debug("Day button click failed", zap.String("day", label), zap.Error(err))
				continue
			}
			if err := poll.Sleep(ctx, s.dayPause); err != nil {
				return
			}
			scanned++
			if !yield(schemas.SlotReport{DateLabel: label, Times: s.visibleTimes(ctx)}) {
				return
			}
		}
	}
}

func dayLabel(el dom.Element) string {
	if l := strings.TrimSpace(el.AriaLabel); l != "" {
		return l
	}
	return strings.TrimSpace(el.Text)
}

func (s *Scanner) nextDay(ctx context.Context, seen map[string]struct{}) (dom.Element, string, bool) {
	for _, el := range s.loc.All(ctx, dom.MainFrame, dayButtonQuery, locator.Visible) {
		label := dayLabel(el)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		return el, label, true
	}
	return dom.Element{}, "", false
}

func anyElement(dom.Element) bool { return true }

func (s *Scanner) selectedDay(ctx context.Context) (dom.Element, bool) {
	sel := s.loc.All(ctx, dom.MainFrame, selectedDayQuery, anyElement)
	if len(sel) == 0 {
		return dom.Element{}, false
	}
	return sel[0], true
}

func (s *Scanner) currentDateLabel(ctx context.Context) string {
	if sel, ok := s.selectedDay(ctx); ok {
		if l := strings.TrimSpace(sel.AriaLabel); l != "" {
			return l
		}
	}
	for _, h := range s.loc.All(ctx, dom.MainFrame, dateHeaderQuery, anyElement) {
		if h.Text != "" {
			return h.Text
		}
	}
	return UnknownDate
}

func (s *Scanner) visibleTimes(ctx context.Context) []string {
	candidates := s.loc.All(ctx, dom.MainFrame, timeCandidateQuery, locator.Visible)
	texts := make([]string, 0, len(candidates))
	for _, el := range candidates {
		texts = append(texts, el.Text)
	}
	return ExtractTimes(texts...)
}

// Format renders a report as one log line.
func Format(r schemas.SlotReport) string {
	if len(r.Times) == 0 {
		return "SLOTS | " + r.DateLabel + " | no times"
	}
	return "SLOTS | " + r.DateLabel + " | " + strings.Join(r.Times, ", ")
}
