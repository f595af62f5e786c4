package scheduler

import (
	"strconv"
	"strings"
	"time"

	"justmemory/internal/errs"
)

// cronField is a parsed POSIX cron field: the set of values it matches, in
// the field's own numeric range.
type cronField struct {
	values map[int]bool
}

func (f cronField) matches(v int) bool { return f.values[v] }

// cronSpec is a parsed 5-field POSIX cron expression (minute hour
// day-of-month month weekday).
type cronSpec struct {
	minute  cronField
	hour    cronField
	day     cronField
	month   cronField
	weekday cronField
}

const maxCronSearchDays = 366

// parseCron parses a 5-field POSIX cron expression supporting `*`, `N`,
// `N-M`, `N,M`, and `*/S`.
func parseCron(expr string) (cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSpec{}, errs.New(errs.ValidationError, "cron expression %q must have 5 fields, got %d", expr, len(fields))
	}
	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return cronSpec{}, err
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return cronSpec{}, err
	}
	day, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return cronSpec{}, err
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return cronSpec{}, err
	}
	weekday, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return cronSpec{}, err
	}
	return cronSpec{minute: minute, hour: hour, day: day, month: month, weekday: weekday}, nil
}

func parseCronField(raw string, lo, hi int) (cronField, error) {
	values := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		if part == "*" {
			for v := lo; v <= hi; v++ {
				values[v] = true
			}
			continue
		}
		if step, ok := strings.CutPrefix(part, "*/"); ok {
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 {
				return cronField{}, errs.New(errs.ValidationError, "invalid cron step %q", part)
			}
			for v := lo; v <= hi; v += n {
				values[v] = true
			}
			continue
		}
		if lo2, hi2, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo2)
			b, err2 := strconv.Atoi(hi2)
			if err1 != nil || err2 != nil || a > b {
				return cronField{}, errs.New(errs.ValidationError, "invalid cron range %q", part)
			}
			for v := a; v <= b; v++ {
				values[v] = true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < lo || n > hi {
			return cronField{}, errs.New(errs.ValidationError, "invalid cron value %q, expected %d-%d", part, lo, hi)
		}
		values[n] = true
	}
	if len(values) == 0 {
		return cronField{}, errs.New(errs.ValidationError, "empty cron field %q", raw)
	}
	return cronField{values: values}, nil
}

// next finds the first minute-aligned instant strictly after from that
// matches spec, searching at most maxCronSearchDays days out. Day-of-month
// and weekday are OR'd together when both are restricted, matching POSIX
// cron semantics.
func (c cronSpec) next(from time.Time) (time.Time, error) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(0, 0, maxCronSearchDays)
	dayRestricted := len(c.day.values) < 31
	weekdayRestricted := len(c.weekday.values) < 7

	for !t.After(limit) {
		if !c.month.matches(int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		dayOK := c.day.matches(t.Day())
		weekdayOK := c.weekday.matches(int(t.Weekday()))
		matchDay := dayOK
		if dayRestricted && weekdayRestricted {
			matchDay = dayOK || weekdayOK
		} else if weekdayRestricted {
			matchDay = weekdayOK
		}
		if !matchDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !c.hour.matches(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !c.minute.matches(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, errs.New(errs.ValidationError, "cron expression has no occurrence within %d days", maxCronSearchDays)
}
