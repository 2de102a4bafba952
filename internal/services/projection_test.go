package services

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"
)

func fixedClock() time.Time {
	return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
}

func testAccounts() []core.Account {
	return []core.Account{
		{
			ID:            "acc-1",
			Type:          core.Checking,
			Balance:       core.Money{Cents: 100000},
			LastUpdatedAt: time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC),
			GroupID:       "grp-1",
		},
	}
}

func TestProjectInvalidHorizon(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)
	for _, h := range []int{0, 1, 15, 45, 91, -7} {
		_, err := p.Project(testAccounts(), nil, nil, nil, h, core.NewDate(2025, 1, 1))
		if !errors.Is(err, ErrInvalidHorizon) {
			t.Errorf("horizon %d: error = %v, want ErrInvalidHorizon", h, err)
		}
	}
}

func TestProjectEmptyEventsConstantBalances(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	for h := range AllowedHorizons {
		snap, err := p.Project(testAccounts(), nil, nil, nil, h, core.NewDate(2025, 1, 1))
		if err != nil {
			t.Fatalf("horizon %d: Project() error = %v", h, err)
		}
		if len(snap.Days) != h+1 {
			t.Fatalf("horizon %d: %d points, want %d", h, len(snap.Days), h+1)
		}
		for i, day := range snap.Days {
			if day.Aggregate != 100000 {
				t.Errorf("horizon %d day %d: aggregate = %d, want 100000 (no drift)", h, i, day.Aggregate)
			}
			if day.PerAccount["acc-1"] != 100000 {
				t.Errorf("horizon %d day %d: acc-1 = %d, want 100000", h, i, day.PerAccount["acc-1"])
			}
		}
	}
}

// The scenario from the product brief: 100000 starting balance, +50000 on the
// 1st, -20000 on the 15th, 30-day horizon from 2025-01-01.
func TestProjectIncomeAndExpenseScenario(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	events := []core.RecurringCashEvent{
		{
			ID:        "income-salary",
			AccountID: "acc-1",
			Amount:    core.Money{Cents: 50000},
			Rule:      core.RecurrenceRule{Kind: core.MonthlyDay, DayOfMonth: 1},
		},
		{
			ID:        "expense-rent",
			AccountID: "acc-1",
			Amount:    core.Money{Cents: -20000},
			Rule:      core.RecurrenceRule{Kind: core.MonthlyDay, DayOfMonth: 15},
		},
	}

	snap, err := p.Project(testAccounts(), events, nil, nil, 30, core.NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	byDate := make(map[string]int64)
	for _, day := range snap.Days {
		byDate[day.Date.Format("2006-01-02")] = day.Aggregate
	}

	cases := []struct {
		date string
		want int64
	}{
		{"2025-01-01", 150000}, // salary applied on day 0
		{"2025-01-14", 150000},
		{"2025-01-15", 130000}, // rent applied
		{"2025-01-31", 130000}, // unchanged until next recurrence
	}
	for _, tc := range cases {
		if got := byDate[tc.date]; got != tc.want {
			t.Errorf("aggregate on %s = %d, want %d", tc.date, got, tc.want)
		}
	}

	// 30-day horizon from Jan 1 spans 31 points ending on Jan 31.
	if last := snap.Days[len(snap.Days)-1]; !last.Date.Equal(core.NewDate(2025, 1, 31)) {
		t.Errorf("last point = %v, want 2025-01-31", last.Date)
	}
}

func TestProjectStatementDueDebit(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	future := core.Money{Cents: 45000}
	statements := []core.CreditCardStatement{
		{
			ID:            "st-1",
			CardID:        "card-1",
			AccountID:     "acc-1",
			Balance:       core.Money{Cents: 30000},
			DueDay:        31,
			FutureBalance: &future,
		},
	}

	snap, err := p.Project(testAccounts(), nil, nil, statements, 60, core.NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	byDate := make(map[string]int64)
	for _, day := range snap.Days {
		byDate[day.Date.Format("2006-01-02")] = day.Aggregate
	}

	if got := byDate["2025-01-30"]; got != 100000 {
		t.Errorf("aggregate before due day = %d, want 100000", got)
	}
	// Current statement debited once on the resolved due day.
	if got := byDate["2025-01-31"]; got != 70000 {
		t.Errorf("aggregate on due day = %d, want 70000", got)
	}
	// The future balance must never enter the projection walk, and the
	// current statement is not debited again in later months.
	if got := byDate["2025-02-28"]; got != 70000 {
		t.Errorf("aggregate on 2025-02-28 = %d, want 70000 (future balance leaked or double debit)", got)
	}
}

func TestProjectStatementDueDayClampedWithinHorizon(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	statements := []core.CreditCardStatement{
		{ID: "st-1", CardID: "card-1", AccountID: "acc-1", Balance: core.Money{Cents: 10000}, DueDay: 30},
	}

	// Walk starts in February: due day 30 resolves to Feb 28.
	snap, err := p.Project(testAccounts(), nil, nil, statements, 30, core.NewDate(2025, 2, 1))
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	byDate := make(map[string]int64)
	for _, day := range snap.Days {
		byDate[day.Date.Format("2006-01-02")] = day.Aggregate
	}
	if got := byDate["2025-02-27"]; got != 100000 {
		t.Errorf("aggregate on 2025-02-27 = %d, want 100000", got)
	}
	if got := byDate["2025-02-28"]; got != 90000 {
		t.Errorf("aggregate on clamped due day = %d, want 90000", got)
	}
}

func TestProjectDeterministicByteIdentical(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	accounts := []core.Account{
		{ID: "acc-1", Type: core.Checking, Balance: core.Money{Cents: 100000}, LastUpdatedAt: fixedClock()},
		{ID: "acc-2", Type: core.Savings, Balance: core.Money{Cents: 500000}, LastUpdatedAt: fixedClock()},
	}
	events := []core.RecurringCashEvent{
		{ID: "ev-1", AccountID: "acc-1", Amount: core.Money{Cents: 50000}, Rule: core.RecurrenceRule{Kind: core.MonthlyDay, DayOfMonth: 1}},
		{ID: "ev-2", AccountID: "acc-2", Amount: core.Money{Cents: -7500}, Rule: core.RecurrenceRule{Kind: core.WeeklyDay, Weekday: time.Friday}},
	}

	run := func() []byte {
		snap, err := p.Project(accounts, events, nil, nil, 90, core.NewDate(2025, 1, 1))
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		data, err := snap.Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		return data
	}

	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Error("identical inputs produced different snapshot bytes")
	}
}

func TestProjectBalanceUpdateBase(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)

	t.Run("single date when all accounts updated same day", func(t *testing.T) {
		accounts := []core.Account{
			{ID: "acc-1", Type: core.Checking, LastUpdatedAt: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)},
			{ID: "acc-2", Type: core.Savings, LastUpdatedAt: time.Date(2025, 1, 5, 22, 0, 0, 0, time.UTC)},
		}
		snap, err := p.Project(accounts, nil, nil, nil, 7, core.NewDate(2025, 1, 10))
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		if snap.Basis.Kind != core.BasisSingle || !snap.Basis.Date.Equal(core.NewDate(2025, 1, 5)) {
			t.Errorf("basis = %+v, want single 2025-01-05", snap.Basis)
		}
	})

	t.Run("range when update dates differ", func(t *testing.T) {
		accounts := []core.Account{
			{ID: "acc-1", Type: core.Checking, LastUpdatedAt: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)},
			{ID: "acc-2", Type: core.Savings, LastUpdatedAt: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)},
		}
		snap, err := p.Project(accounts, nil, nil, nil, 7, core.NewDate(2025, 1, 10))
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		if snap.Basis.Kind != core.BasisRange ||
			!snap.Basis.From.Equal(core.NewDate(2025, 1, 5)) ||
			!snap.Basis.To.Equal(core.NewDate(2025, 1, 10)) {
			t.Errorf("basis = %+v, want range 2025-01-05..2025-01-10", snap.Basis)
		}
	})

	t.Run("no accounts falls back to reference date", func(t *testing.T) {
		snap, err := p.Project(nil, nil, nil, nil, 7, core.NewDate(2025, 1, 10))
		if err != nil {
			t.Fatalf("Project() error = %v", err)
		}
		if snap.Basis.Kind != core.BasisSingle || !snap.Basis.Date.Equal(core.NewDate(2025, 1, 10)) {
			t.Errorf("basis = %+v, want single reference date", snap.Basis)
		}
	})
}

func TestProjectMalformedRecurrenceSurfaced(t *testing.T) {
	p := NewProjectorWithClock(fixedClock)
	events := []core.RecurringCashEvent{
		{ID: "ev-bad", AccountID: "acc-1", Amount: core.Money{Cents: 100}, Rule: core.RecurrenceRule{Kind: core.MonthlyDay, DayOfMonth: 0}},
	}
	_, err := p.Project(testAccounts(), events, nil, nil, 7, core.NewDate(2025, 1, 1))
	if !errors.Is(err, ErrMalformedRecurrence) {
		t.Errorf("Project() error = %v, want ErrMalformedRecurrence", err)
	}
}
