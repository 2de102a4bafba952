package services

import (
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

// ErrInvalidHorizon marks a horizon outside the supported set.
var ErrInvalidHorizon = errors.New("invalid projection horizon")

// AllowedHorizons is the enumerated set of projection horizons in days.
var AllowedHorizons = map[int]bool{7: true, 14: true, 30: true, 60: true, 90: true}

// Projector simulates day-by-day balance evolution. It is pure: it never
// mutates accounts or statements, so the same inputs (under the same clock)
// always produce the same snapshot.
type Projector struct {
	clock func() time.Time
}

// NewProjector returns a projector using the wall clock for the snapshot's
// generation timestamp.
func NewProjector() *Projector {
	return &Projector{clock: time.Now}
}

// NewProjectorWithClock returns a projector with an injected clock.
func NewProjectorWithClock(clock func() time.Time) *Projector {
	return &Projector{clock: clock}
}

// Project walks [reference, reference+horizonDays] one day at a time,
// applying expanded recurring/one-off events and credit-card due-day debits
// to per-account running balances. The series has horizonDays+1 points so
// day 0 is "today".
//
// A statement's current balance is debited once, on the first day in the
// horizon whose resolved due day matches. Future statement balances are
// never applied here; only month progression promotes them.
func (p *Projector) Project(
	accounts []core.Account,
	events []core.RecurringCashEvent,
	singles []core.SingleShotExpense,
	statements []core.CreditCardStatement,
	horizonDays int,
	reference core.Date,
) (*core.ProjectionSnapshot, error) {
	if !AllowedHorizons[horizonDays] {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidHorizon, horizonDays)
	}

	end := reference.AddDays(horizonDays)
	occurrences, err := ExpandEvents(events, singles, reference, end)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		balances[a.ID] = a.Balance.Cents
	}

	applied := make(map[string]bool, len(statements))

	days := make([]core.DailyBalance, 0, horizonDays+1)
	next := 0
	for i := 0; i <= horizonDays; i++ {
		d := reference.AddDays(i)

		for next < len(occurrences) && occurrences[next].Date.Equal(d) {
			occ := occurrences[next]
			balances[occ.AccountID] += occ.Amount.Cents
			next++
		}

		for _, st := range statements {
			if applied[st.ID] {
				continue
			}
			due := core.ResolveDayOfMonth(d.Year(), time.Month(d.Month()), st.DueDay)
			if due.Equal(d) {
				balances[st.AccountID] -= st.Balance.Cents
				applied[st.ID] = true
			}
		}

		perAccount := make(map[string]int64, len(balances))
		var aggregate int64
		for id, cents := range balances {
			perAccount[id] = cents
			aggregate += cents
		}

		days = append(days, core.DailyBalance{
			Date:       d,
			PerAccount: perAccount,
			Aggregate:  aggregate,
		})
	}

	return &core.ProjectionSnapshot{
		SchemaVersion: core.CurrentSchemaVersion,
		GeneratedAt:   p.clock().UTC(),
		HorizonDays:   horizonDays,
		Days:          days,
		Basis:         computeBasis(accounts, reference),
	}, nil
}

// computeBasis derives the balance freshness descriptor from the distinct
// calendar dates of the accounts' last balance updates.
func computeBasis(accounts []core.Account, reference core.Date) core.BalanceUpdateBase {
	if len(accounts) == 0 {
		return core.BalanceUpdateBase{Kind: core.BasisSingle, Date: reference}
	}

	min := core.DateOf(accounts[0].LastUpdatedAt)
	max := min
	for _, a := range accounts[1:] {
		d := core.DateOf(a.LastUpdatedAt)
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}

	if min.Equal(max) {
		return core.BalanceUpdateBase{Kind: core.BasisSingle, Date: min}
	}
	return core.BalanceUpdateBase{Kind: core.BasisRange, From: min, To: max}
}
