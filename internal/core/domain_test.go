package core

import (
	"errors"
	"testing"
	"time"
)

func TestAccountValidate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr error
	}{
		{
			name:    "valid checking account",
			account: Account{ID: "acc-1", Type: Checking, Balance: Money{Cents: 100000}},
			wantErr: nil,
		},
		{
			name:    "valid investment account",
			account: Account{ID: "acc-2", Type: Investment},
			wantErr: nil,
		},
		{
			name:    "missing id",
			account: Account{Type: Savings},
			wantErr: ErrEmptyID,
		},
		{
			name:    "unknown type",
			account: Account{ID: "acc-3", Type: AccountType("credit")},
			wantErr: ErrInvalidAccountType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecurringCashEventValidate(t *testing.T) {
	valid := RecurringCashEvent{
		ID:        "ev-1",
		AccountID: "acc-1",
		Amount:    Money{Cents: 50000},
		Rule:      RecurrenceRule{Kind: MonthlyDay, DayOfMonth: 1},
	}

	t.Run("valid monthly event", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		ev := valid
		ev.Amount = Money{}
		if err := ev.Validate(); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Validate() = %v, want %v", err, ErrInvalidAmount)
		}
	})

	t.Run("negative amount allowed for expenses", func(t *testing.T) {
		ev := valid
		ev.Amount = Money{Cents: -20000}
		if err := ev.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	t.Run("day of month zero rejected", func(t *testing.T) {
		ev := valid
		ev.Rule = RecurrenceRule{Kind: MonthlyDay, DayOfMonth: 0}
		if err := ev.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("end before start rejected", func(t *testing.T) {
		ev := valid
		ev.Start = NewDate(2025, 3, 1)
		ev.End = NewDate(2025, 1, 1)
		if err := ev.Validate(); err == nil {
			t.Error("Validate() = nil, want error")
		}
	})

	t.Run("weekly rule valid", func(t *testing.T) {
		ev := valid
		ev.Rule = RecurrenceRule{Kind: WeeklyDay, Weekday: time.Friday}
		if err := ev.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})
}

func TestSingleShotExpenseValidate(t *testing.T) {
	tests := []struct {
		name    string
		expense SingleShotExpense
		wantOK  bool
	}{
		{
			name:    "valid",
			expense: SingleShotExpense{ID: "x-1", AccountID: "acc-1", Amount: Money{Cents: 1500}, Date: NewDate(2025, 2, 10)},
			wantOK:  true,
		},
		{
			name:    "negative magnitude rejected",
			expense: SingleShotExpense{ID: "x-2", AccountID: "acc-1", Amount: Money{Cents: -1500}, Date: NewDate(2025, 2, 10)},
			wantOK:  false,
		},
		{
			name:    "zero date rejected",
			expense: SingleShotExpense{ID: "x-3", AccountID: "acc-1", Amount: Money{Cents: 1500}},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expense.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}

func TestCreditCardStatementValidate(t *testing.T) {
	future := Money{Cents: 45000}
	tests := []struct {
		name      string
		statement CreditCardStatement
		wantOK    bool
	}{
		{
			name:      "valid with future balance",
			statement: CreditCardStatement{ID: "st-1", CardID: "card-1", AccountID: "acc-1", Balance: Money{Cents: 30000}, DueDay: 31, FutureBalance: &future},
			wantOK:    true,
		},
		{
			name:      "valid without future balance",
			statement: CreditCardStatement{ID: "st-2", CardID: "card-1", AccountID: "acc-1", Balance: Money{Cents: 30000}, DueDay: 15},
			wantOK:    true,
		},
		{
			name:      "due day zero rejected",
			statement: CreditCardStatement{ID: "st-3", CardID: "card-1", AccountID: "acc-1", DueDay: 0},
			wantOK:    false,
		},
		{
			name:      "due day 32 rejected",
			statement: CreditCardStatement{ID: "st-4", CardID: "card-1", AccountID: "acc-1", DueDay: 32},
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.statement.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := NewDate(2025, 1, 31)
	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(data) != `"2025-01-31"` {
		t.Fatalf("MarshalJSON() = %s, want %q", data, "2025-01-31")
	}

	var back Date
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("round trip = %v, want %v", back, d)
	}
}
