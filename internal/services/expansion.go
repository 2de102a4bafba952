// Package services holds the cashflow engine: event expansion, balance
// projection and the month-progression state machine.
//
// Event expansion uses a strategy registry keyed by recurrence kind, so new
// frequencies can be added without touching the projection walk.
package services

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"bilancio/internal/core"
)

// ErrMalformedRecurrence marks a recurrence rule that can never yield a
// valid occurrence, e.g. day-of-month 0.
var ErrMalformedRecurrence = errors.New("malformed recurrence rule")

// Occurrence is one dated signed cash movement produced by expansion.
type Occurrence struct {
	Date      core.Date
	AccountID string
	Amount    core.Money
	SourceID  string
}

// OccurrenceExpander is the strategy interface for expanding one recurrence
// kind over a closed date range.
type OccurrenceExpander interface {
	// Expand returns every occurrence of the event in [start, end],
	// honoring the event's own start/end bounds.
	Expand(ev core.RecurringCashEvent, start, end core.Date) ([]Occurrence, error)
}

// MonthlyDayExpander expands day-of-month recurrences, one occurrence per
// covered month, the day clamped to short months.
type MonthlyDayExpander struct{}

func (MonthlyDayExpander) Expand(ev core.RecurringCashEvent, start, end core.Date) ([]Occurrence, error) {
	day := ev.Rule.DayOfMonth
	if day < 1 || day > 31 {
		return nil, fmt.Errorf("%w: day of month %d", ErrMalformedRecurrence, day)
	}

	var out []Occurrence
	year, month := start.Year(), time.Month(start.Month())
	for {
		occ := core.ResolveDayOfMonth(year, month, day)
		if occ.After(end) {
			break
		}
		if withinBounds(ev, occ) && !occ.Before(start) {
			out = append(out, Occurrence{
				Date:      occ,
				AccountID: ev.AccountID,
				Amount:    ev.Amount,
				SourceID:  ev.ID,
			})
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return out, nil
}

// WeeklyExpander expands weekday recurrences, one occurrence per matching
// weekday in range.
type WeeklyExpander struct{}

func (WeeklyExpander) Expand(ev core.RecurringCashEvent, start, end core.Date) ([]Occurrence, error) {
	if ev.Rule.Weekday < time.Sunday || ev.Rule.Weekday > time.Saturday {
		return nil, fmt.Errorf("%w: weekday %d", ErrMalformedRecurrence, ev.Rule.Weekday)
	}

	// Jump to the first matching weekday, then step a week at a time.
	d := start
	offset := (int(ev.Rule.Weekday) - int(d.Time.Weekday()) + 7) % 7
	d = d.AddDays(offset)

	var out []Occurrence
	for !d.After(end) {
		if withinBounds(ev, d) {
			out = append(out, Occurrence{
				Date:      d,
				AccountID: ev.AccountID,
				Amount:    ev.Amount,
				SourceID:  ev.ID,
			})
		}
		d = d.AddDays(7)
	}
	return out, nil
}

func withinBounds(ev core.RecurringCashEvent, d core.Date) bool {
	if !ev.Start.IsEmpty() && d.Before(ev.Start) {
		return false
	}
	if !ev.End.IsEmpty() && d.After(ev.End) {
		return false
	}
	return true
}

var expanders = map[core.RecurrenceKind]OccurrenceExpander{
	core.MonthlyDay: MonthlyDayExpander{},
	core.WeeklyDay:  WeeklyExpander{},
}

// GetExpander returns the expander for a recurrence kind.
func GetExpander(kind core.RecurrenceKind) (OccurrenceExpander, error) {
	exp, ok := expanders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedRecurrence, kind)
	}
	return exp, nil
}

// ExpandEvents expands every recurring event and single-shot expense over
// [start, end] into one flat series, sorted non-decreasing by date with
// same-day ties stable-ordered by source entity ID. Single-shot expenses are
// debits, so their positive magnitude is negated here.
//
// Expansion has no side effects; the same inputs always yield the same series.
func ExpandEvents(events []core.RecurringCashEvent, singles []core.SingleShotExpense, start, end core.Date) ([]Occurrence, error) {
	var out []Occurrence

	for _, ev := range events {
		exp, err := GetExpander(ev.Rule.Kind)
		if err != nil {
			return nil, err
		}
		occs, err := exp.Expand(ev, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}

	for _, s := range singles {
		if s.Date.Before(start) || s.Date.After(end) {
			continue
		}
		out = append(out, Occurrence{
			Date:      s.Date,
			AccountID: s.AccountID,
			Amount:    s.Amount.Neg(),
			SourceID:  s.ID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].SourceID < out[j].SourceID
	})

	return out, nil
}
