package scheduler

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"justmemory/internal/errs"
)

var nlParser = buildNLParser()

func buildNLParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var nextWeekdayPattern = regexp.MustCompile(`(?i)^next\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday)$`)

// ParseSchedule resolves a schedule string into a single concrete next-run
// instant. It tries, in order: the literal forms spec pins to an exact
// clock time ("end of day"/"eod", "end of week", "next <weekday>"),
// ISO-8601, and finally the general natural-language parser for everything
// else ("in N minutes", "tomorrow at 5pm", and so on).
func ParseSchedule(text string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "end of day", "eod":
		return atClock(now, 18, 0, 0), nil
	case "end of week":
		return nextWeekdayAt(now, time.Friday, 17, 0), nil
	}

	if m := nextWeekdayPattern.FindStringSubmatch(lower); m != nil {
		wd := weekdayNames[m[1]]
		return nextWeekdayAt(now, wd, 9, 0), nil
	}

	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t, nil
	}

	result, err := nlParser.Parse(trimmed, now)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ValidationError, err, "parse schedule %q", text)
	}
	if result == nil {
		return time.Time{}, errs.New(errs.ValidationError, "could not recognize schedule %q", text)
	}
	return result.Time, nil
}

// atClock returns the next occurrence of hour:min:sec today, or tomorrow if
// that instant has already passed.
func atClock(now time.Time, hour, min, sec int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, min, sec, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// nextWeekdayAt returns the next occurrence of wd at hour:min, strictly
// after now (so "next friday" said on a Friday means seven days out, not
// later today).
func nextWeekdayAt(now time.Time, wd time.Weekday, hour, min int) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	target := now.AddDate(0, 0, days)
	return time.Date(target.Year(), target.Month(), target.Day(), hour, min, 0, 0, now.Location())
}
