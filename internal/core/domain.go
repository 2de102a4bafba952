package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	Investment AccountType = "investment"
)

const (
	MonthlyDay RecurrenceKind = "monthly_day"
	WeeklyDay  RecurrenceKind = "weekly_day"
)

type (
	AccountType    string
	RecurrenceKind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Account is an externally mutated balance holder; the engine only reads it.
	Account struct {
		ID            string
		Type          AccountType
		Balance       Money
		LastUpdatedAt time.Time
		GroupID       string
	}

	// RecurrenceRule describes when a recurring event fires: either on a
	// day of the month (clamped in short months) or on a fixed weekday.
	RecurrenceRule struct {
		Kind       RecurrenceKind
		DayOfMonth int
		Weekday    time.Weekday
	}

	// RecurringCashEvent is an income source or fixed expense. Amount is
	// signed: income positive, expense negative.
	RecurringCashEvent struct {
		ID        string
		AccountID string
		Amount    Money
		Rule      RecurrenceRule
		Start     Date
		End       Date
		GroupID   string
	}

	// SingleShotExpense is a one-off debit on a specific date. Amount is a
	// positive magnitude.
	SingleShotExpense struct {
		ID        string
		AccountID string
		Amount    Money
		Date      Date
	}

	// CreditCardStatement carries the balance due for the active billing
	// cycle. FutureBalance, when present, accrues charges for the next
	// cycle and only becomes current through month progression.
	CreditCardStatement struct {
		ID            string
		CardID        string
		AccountID     string
		Balance       Money
		DueDay        int
		FutureBalance *Money
		GroupID       string
		CreatedAt     time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidDueDay      = errors.New("invalid due day")
	ErrEmptyID            = errors.New("empty identifier")
	ErrEmptyAccountID     = errors.New("empty account identifier")
)

// NewDate creates a day-granular Date normalized to midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as an int in 1..12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d falls on an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d falls on a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Equal reports whether both dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

// IsEmpty returns true for the zero date (optional start/end bounds).
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// MarshalJSON encodes the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON decodes a "2006-01-02" date.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrEmptyID
	}
	switch a.Type {
	case Checking, Savings, Investment:
	default:
		return ErrInvalidAccountType
	}
	return nil
}

func (r RecurrenceRule) Validate() error {
	switch r.Kind {
	case MonthlyDay:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return errors.New("day of month out of range")
		}
	case WeeklyDay:
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return errors.New("invalid weekday")
		}
	default:
		return errors.New("unknown recurrence kind")
	}
	return nil
}

func (e RecurringCashEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(e.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if e.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if err := e.Rule.Validate(); err != nil {
		return err
	}
	if !e.Start.IsEmpty() && !e.End.IsEmpty() && e.End.Before(e.Start) {
		return errors.New("end date before start date")
	}
	return nil
}

func (s SingleShotExpense) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(s.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if s.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if s.Date.IsZero() {
		return errors.New("expense date cannot be zero")
	}
	return nil
}

func (c CreditCardStatement) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(c.CardID) == "" {
		return errors.New("empty card identifier")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if c.Balance.Cents < 0 {
		return ErrInvalidAmount
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return ErrInvalidDueDay
	}
	if c.FutureBalance != nil && c.FutureBalance.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}
