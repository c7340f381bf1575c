// Package extract pulls delivery dates and buyer decisions out of free-form
// mail text. Pattern heuristics live here alongside a model-backed
// extractor; callers try the model first and fall back to the patterns.
package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// 2026-01-15, 2026/01/15
	ymdPattern = regexp.MustCompile(`\b(20\d{2})[-/](0?[1-9]|1[0-2])[-/](0?[1-9]|[12]\d|3[01])\b`)

	// 15-01-2026, 15/01/2026
	dmyPattern = regexp.MustCompile(`\b(0?[1-9]|[12]\d|3[01])[-/](0?[1-9]|1[0-2])[-/](20\d{2})\b`)

	monthAlt = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

	// 13 january 2026, 13th jan. 2026
	dayMonthPattern = regexp.MustCompile(`\b(0?[1-9]|[12]\d|3[01])(?:st|nd|rd|th)?\s+` + monthAlt + `\.?,?\s+(20\d{2})\b`)

	// january 13 2026, jan 13th, 2026
	monthDayPattern = regexp.MustCompile(`\b` + monthAlt + `\.?\s+(0?[1-9]|[12]\d|3[01])(?:st|nd|rd|th)?,?\s+(20\d{2})\b`)

	tomorrowPattern = regexp.MustCompile(`\btomorrow\b`)
	nextWeekPattern = regexp.MustCompile(`\bnext week\b`)
	inNPattern      = regexp.MustCompile(`\b(?:in|within)\s+(\d+)\s+(day|week)s?\b`)
	weekdayPattern  = regexp.MustCompile(`\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	deliveryHints = []string{"deliver", "delivery", "eta", "ship", "dispatch", "by "}
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// match is a date found at a byte offset of the lower-cased text.
type match struct {
	at   int
	date time.Time
}

func joinText(subject, body string) string {
	return strings.ToLower(subject + "\n" + body)
}

// RelativeDate resolves phrases such as "tomorrow", "next week",
// "in 3 days" or "next friday" against ref. The phrases are tried in that
// order and the first kind present wins.
func RelativeDate(text string, ref time.Time) fn.Option[time.Time] {
	m, ok := relative(strings.ToLower(text), ref)
	if !ok {
		return fn.None[time.Time]()
	}
	return fn.Some(m.date)
}

func relative(text string, ref time.Time) (match, bool) {
	if ref.IsZero() {
		return match{}, false
	}
	day := types.DateOf(ref)

	if loc := tomorrowPattern.FindStringIndex(text); loc != nil {
		return match{at: loc[0], date: day.AddDate(0, 0, 1)}, true
	}
	if loc := nextWeekPattern.FindStringIndex(text); loc != nil {
		return match{at: loc[0], date: day.AddDate(0, 0, 7)}, true
	}
	if sm := inNPattern.FindStringSubmatchIndex(text); sm != nil {
		n, err := strconv.Atoi(text[sm[2]:sm[3]])
		if err == nil {
			if text[sm[4]:sm[5]] == "week" {
				n *= 7
			}
			return match{at: sm[0], date: day.AddDate(0, 0, n)}, true
		}
	}
	if sm := weekdayPattern.FindStringSubmatchIndex(text); sm != nil {
		target := weekdays[text[sm[2]:sm[3]]]
		ahead := (int(target) - int(day.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return match{at: sm[0], date: day.AddDate(0, 0, ahead)}, true
	}
	return match{}, false
}

// absolute returns every valid absolute date in text in pattern order:
// numeric year-first, numeric day-first, day-month, month-day.
func absolute(text string) []match {
	var out []match

	for _, sm := range ymdPattern.FindAllStringSubmatchIndex(text, -1) {
		if d, ok := mkDate(text[sm[2]:sm[3]], text[sm[4]:sm[5]], text[sm[6]:sm[7]]); ok {
			out = append(out, match{at: sm[0], date: d})
		}
	}
	for _, sm := range dmyPattern.FindAllStringSubmatchIndex(text, -1) {
		if d, ok := mkDate(text[sm[6]:sm[7]], text[sm[4]:sm[5]], text[sm[2]:sm[3]]); ok {
			out = append(out, match{at: sm[0], date: d})
		}
	}
	for _, sm := range dayMonthPattern.FindAllStringSubmatchIndex(text, -1) {
		month := monthNumber(text[sm[4]:sm[5]])
		if d, ok := mkDate(text[sm[6]:sm[7]], month, text[sm[2]:sm[3]]); ok {
			out = append(out, match{at: sm[0], date: d})
		}
	}
	for _, sm := range monthDayPattern.FindAllStringSubmatchIndex(text, -1) {
		month := monthNumber(text[sm[2]:sm[3]])
		if d, ok := mkDate(text[sm[6]:sm[7]], month, text[sm[4]:sm[5]]); ok {
			out = append(out, match{at: sm[0], date: d})
		}
	}
	return out
}

func monthNumber(name string) string {
	months := []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}
	if len(name) < 3 {
		return ""
	}
	i := slices.Index(months, name[:3])
	if i < 0 {
		return ""
	}
	return strconv.Itoa(i + 1)
}

// mkDate builds a UTC date and rejects impossible days such as 31/02.
func mkDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// AnyDate returns the first date mentioned in the message. Relative
// phrases win over absolute dates, matching how suppliers usually answer
// ("we can ship tomorrow, not 2026-02-01 as planned").
func AnyDate(subject, body string, ref time.Time) fn.Option[time.Time] {
	text := joinText(subject, body)
	if m, ok := relative(text, ref); ok {
		return fn.Some(m.date)
	}
	if all := absolute(text); len(all) > 0 {
		return fn.Some(all[0].date)
	}
	return fn.None[time.Time]()
}

// AllDates returns every distinct calendar date mentioned in the message,
// sorted ascending.
func AllDates(subject, body string, ref time.Time) []time.Time {
	var out []time.Time
	for _, m := range allMatches(joinText(subject, body), ref) {
		out = append(out, m.date)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// allMatches returns relative and absolute matches deduplicated by date.
func allMatches(text string, ref time.Time) []match {
	var out []match
	add := func(m match) {
		for _, e := range out {
			if e.date.Equal(m.date) {
				return
			}
		}
		out = append(out, m)
	}
	if m, ok := relative(text, ref); ok {
		add(m)
	}
	for _, m := range absolute(text) {
		add(m)
	}
	return out
}

// PromisedDate extracts a newly promised delivery date. Text without any
// delivery wording is ignored so that unrelated dates (invoice dates,
// signatures) are not mistaken for an ETA.
func PromisedDate(subject, body string, ref time.Time) fn.Option[time.Time] {
	text := joinText(subject, body)
	hinted := false
	for _, h := range deliveryHints {
		if strings.Contains(text, h) {
			hinted = true
			break
		}
	}
	if !hinted {
		return fn.None[time.Time]()
	}
	return AnyDate(subject, body, ref)
}

var remainingCues = []string{"remaining", "balance", "rest of", "backorder", "back order", "outstanding"}

// PartialDates splits the dates of a partial-availability message into the
// date for the available quantity and the date for the remainder.
//
// With two or more dates the earliest is taken as accepted and the latest
// as remaining. A lone date goes to remaining when the words just before it
// talk about the remainder, otherwise to accepted. Two unrelated dates in
// one message are misassigned by this rule.
func PartialDates(subject, body string, ref time.Time) (accepted, remaining fn.Option[time.Time]) {
	text := joinText(subject, body)
	matches := allMatches(text, ref)

	switch len(matches) {
	case 0:
		return fn.None[time.Time](), fn.None[time.Time]()

	case 1:
		m := matches[0]
		if cuedRemaining(text, m.at) {
			return fn.None[time.Time](), fn.Some(m.date)
		}
		return fn.Some(m.date), fn.None[time.Time]()
	}

	dates := make([]time.Time, 0, len(matches))
	for _, m := range matches {
		dates = append(dates, m.date)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	return fn.Some(dates[0]), fn.Some(dates[len(dates)-1])
}

// cuedRemaining looks at the clause leading up to offset at.
func cuedRemaining(text string, at int) bool {
	start := max(0, at-40)
	window := text[start:at]
	if i := strings.LastIndexAny(window, ".;\n"); i >= 0 {
		window = window[i+1:]
	}
	for _, cue := range remainingCues {
		if strings.Contains(window, cue) {
			return true
		}
	}
	return false
}
