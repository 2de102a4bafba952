package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/core"
)

// ErrPromotionFailed marks a progression run in which at least one card's
// promotion commit failed. Promoted cards stay promoted; the caller withholds
// the checkpoint so the next run retries, which is a per-card no-op for cards
// already promoted.
var ErrPromotionFailed = errors.New("statement promotion failed")

// StatementStore is the persistence collaborator month progression depends
// on. Calls may suspend on network or database latency and are fallible; the
// progressor never retries internally.
type StatementStore interface {
	// ReadFutureStatements returns every current statement in the group
	// carrying a pending future balance.
	ReadFutureStatements(ctx context.Context, groupID string) ([]core.CreditCardStatement, error)

	// CommitPromotion atomically replaces a card's current statement with
	// the promoted one. A card must never be observable half-promoted.
	CommitPromotion(ctx context.Context, cardID string, promoted core.CreditCardStatement) error

	// ListStaleStatements returns the group's history records retired
	// before the cutoff.
	ListStaleStatements(ctx context.Context, groupID string, olderThan time.Time) ([]string, error)

	// DeleteStaleStatements removes the given history records.
	DeleteStaleStatements(ctx context.Context, ids []string) (int, error)
}

// ProgressionResult reports one CheckAndProgressMonth invocation.
type ProgressionResult struct {
	Success           bool
	ProgressedCards   int
	CleanedStatements int
	Err               error
}

// MonthProgressor promotes future credit-card statements to current when a
// real-world month boundary has been crossed, and prunes stale statement
// history. It is memoryless across calls; the only state is the externally
// persisted progression checkpoint, which the caller advances after success.
//
// The host must guarantee at most one concurrent check per account group
// (see ProgressionGate); two racing checks could both observe a future
// balance and double-promote.
type MonthProgressor struct {
	store     StatementStore
	retention time.Duration
	clock     func() time.Time
}

// NewMonthProgressor creates a progressor. The retention threshold for
// statement-history cleanup comes from host configuration, not from this
// component.
func NewMonthProgressor(store StatementStore, retention time.Duration) *MonthProgressor {
	return &MonthProgressor{
		store:     store,
		retention: retention,
		clock:     time.Now,
	}
}

// NewMonthProgressorWithClock creates a progressor with an injected clock.
func NewMonthProgressorWithClock(store StatementStore, retention time.Duration, clock func() time.Time) *MonthProgressor {
	return &MonthProgressor{store: store, retention: retention, clock: clock}
}

// CheckAndProgressMonth is the single entry point of the state machine.
// Within the same calendar month it is a successful no-op, so it is safe to
// call on every app start. Across a boundary it promotes every card of the
// group that has a future balance (each card atomically) and cleans the
// group's stale history. Checkpoints are per group, so the work must be
// scoped to the group too; touching another group's cards would promote
// them against a checkpoint that never moved.
func (mp *MonthProgressor) CheckAndProgressMonth(ctx context.Context, groupID string, lastChecked time.Time) ProgressionResult {
	now := mp.clock()

	if !core.HasCrossedMonthBoundary(lastChecked, now) {
		slog.DebugContext(ctx, "Month boundary not crossed, nothing to progress",
			"group_id", groupID,
			"last_checked", lastChecked.Format("2006-01-02"))
		return ProgressionResult{Success: true}
	}

	slog.InfoContext(ctx, "Month boundary crossed, progressing statements",
		"group_id", groupID,
		"last_checked", lastChecked.Format("2006-01-02"),
		"now", now.Format("2006-01-02"))

	result := ProgressionResult{Success: true}
	var errs []error

	statements, err := mp.store.ReadFutureStatements(ctx, groupID)
	if err != nil {
		result.Success = false
		result.Err = fmt.Errorf("read future statements: %w", err)
		return result
	}

	for _, st := range statements {
		if st.FutureBalance == nil {
			// Already promoted on a previous, partially failed run.
			continue
		}

		promoted := promote(st, now)
		if err := mp.store.CommitPromotion(ctx, st.CardID, promoted); err != nil {
			slog.ErrorContext(ctx, "Statement promotion failed",
				"card_id", st.CardID,
				"statement_id", st.ID,
				"error", err)
			errs = append(errs, fmt.Errorf("card %s: %w", st.CardID, err))
			continue
		}

		result.ProgressedCards++
		slog.InfoContext(ctx, "Promoted future statement",
			"card_id", st.CardID,
			"new_balance_cents", promoted.Balance.Cents,
			"due_day", promoted.DueDay)
	}

	cleaned, err := mp.cleanStaleHistory(ctx, groupID, now)
	if err != nil {
		errs = append(errs, err)
	}
	result.CleanedStatements = cleaned

	if len(errs) > 0 {
		result.Success = false
		result.Err = fmt.Errorf("%w: %w", ErrPromotionFailed, errors.Join(errs...))
	}

	slog.InfoContext(ctx, "Month progression finished",
		"success", result.Success,
		"progressed_cards", result.ProgressedCards,
		"cleaned_statements", result.CleanedStatements)

	return result
}

// promote builds the new current statement: the future balance moves in, the
// due day is re-resolved for the new cycle's month, the future slot clears.
func promote(st core.CreditCardStatement, now time.Time) core.CreditCardStatement {
	promoted := st
	promoted.Balance = *st.FutureBalance
	promoted.FutureBalance = nil
	promoted.DueDay = core.ResolveDayOfMonth(now.Year(), now.Month(), st.DueDay).Day()
	return promoted
}

func (mp *MonthProgressor) cleanStaleHistory(ctx context.Context, groupID string, now time.Time) (int, error) {
	cutoff := now.Add(-mp.retention)

	ids, err := mp.store.ListStaleStatements(ctx, groupID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale statements: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := mp.store.DeleteStaleStatements(ctx, ids)
	if err != nil {
		return deleted, fmt.Errorf("delete stale statements: %w", err)
	}

	slog.InfoContext(ctx, "Cleaned stale statement history",
		"deleted", deleted,
		"cutoff", cutoff.Format("2006-01-02"))
	return deleted, nil
}
