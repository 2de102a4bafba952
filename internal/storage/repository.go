// Package storage persists planner entities, projection snapshots and
// progression state in SQLite. It implements services.StatementStore.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bilancio/internal/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound marks a missing row (no snapshot, no checkpoint).
var ErrNotFound = errors.New("not found")

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListAccounts returns every account in the group.
func (r *SQLiteRepository) ListAccounts(ctx context.Context, groupID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, balance_cents, last_updated_at, group_id
		FROM accounts WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var a core.Account
		var typ string
		var balance int64
		if err := rows.Scan(&a.ID, &typ, &balance, &a.LastUpdatedAt, &a.GroupID); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Type = core.AccountType(typ)
		a.Balance = core.Money{Cents: balance}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListGroupIDs returns every group that owns at least one account or card
// statement, ordered for stable iteration.
func (r *SQLiteRepository) ListGroupIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM accounts
		UNION
		SELECT group_id FROM card_statements
		ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListRecurringEvents returns every recurring income/expense in the group.
func (r *SQLiteRepository) ListRecurringEvents(ctx context.Context, groupID string) ([]core.RecurringCashEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, amount_cents, rule_kind, day_of_month, weekday, start_date, end_date, group_id
		FROM recurring_events WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list recurring events: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringCashEvent
	for rows.Next() {
		var ev core.RecurringCashEvent
		var amount int64
		var kind string
		var weekday int
		var start, end sql.NullString
		if err := rows.Scan(&ev.ID, &ev.AccountID, &amount, &kind, &ev.Rule.DayOfMonth, &weekday, &start, &end, &ev.GroupID); err != nil {
			return nil, fmt.Errorf("scan recurring event: %w", err)
		}
		ev.Amount = core.Money{Cents: amount}
		ev.Rule.Kind = core.RecurrenceKind(kind)
		ev.Rule.Weekday = time.Weekday(weekday)
		if ev.Start, err = parseOptionalDate(start); err != nil {
			return nil, fmt.Errorf("event %s start date: %w", ev.ID, err)
		}
		if ev.End, err = parseOptionalDate(end); err != nil {
			return nil, fmt.Errorf("event %s end date: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListSingleShotExpenses returns every one-off expense in the group.
func (r *SQLiteRepository) ListSingleShotExpenses(ctx context.Context, groupID string) ([]core.SingleShotExpense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, amount_cents, due_date
		FROM single_expenses WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list single expenses: %w", err)
	}
	defer rows.Close()

	var out []core.SingleShotExpense
	for rows.Next() {
		var s core.SingleShotExpense
		var amount int64
		var due string
		if err := rows.Scan(&s.ID, &s.AccountID, &amount, &due); err != nil {
			return nil, fmt.Errorf("scan single expense: %w", err)
		}
		s.Amount = core.Money{Cents: amount}
		t, err := time.Parse(dateLayout, due)
		if err != nil {
			return nil, fmt.Errorf("expense %s date: %w", s.ID, err)
		}
		s.Date = core.DateOf(t)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStatements returns every current card statement in the group.
func (r *SQLiteRepository) ListStatements(ctx context.Context, groupID string) ([]core.CreditCardStatement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, card_id, account_id, balance_cents, due_day, future_balance_cents, group_id, created_at
		FROM card_statements WHERE group_id = ? ORDER BY card_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()
	return scanStatements(rows)
}

func parseOptionalDate(s sql.NullString) (core.Date, error) {
	if !s.Valid || s.String == "" {
		return core.Date{}, nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return core.Date{}, err
	}
	return core.DateOf(t), nil
}

func scanStatements(rows *sql.Rows) ([]core.CreditCardStatement, error) {
	var out []core.CreditCardStatement
	for rows.Next() {
		var st core.CreditCardStatement
		var balance int64
		var future sql.NullInt64
		if err := rows.Scan(&st.ID, &st.CardID, &st.AccountID, &balance, &st.DueDay, &future, &st.GroupID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		st.Balance = core.Money{Cents: balance}
		if future.Valid {
			st.FutureBalance = &core.Money{Cents: future.Int64}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReadFutureStatements implements services.StatementStore.
func (r *SQLiteRepository) ReadFutureStatements(ctx context.Context, groupID string) ([]core.CreditCardStatement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, card_id, account_id, balance_cents, due_day, future_balance_cents, group_id, created_at
		FROM card_statements WHERE group_id = ? AND future_balance_cents IS NOT NULL ORDER BY card_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("read future statements: %w", err)
	}
	defer rows.Close()
	return scanStatements(rows)
}

// CommitPromotion implements services.StatementStore. The retiring current
// statement moves to history and the promoted one takes its place in a
// single transaction, so a card is never observable half-promoted.
func (r *SQLiteRepository) CommitPromotion(ctx context.Context, cardID string, promoted core.CreditCardStatement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promotion: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO statement_history (id, card_id, balance_cents, due_day, group_id, retired_at)
		SELECT ?, card_id, balance_cents, due_day, group_id, ?
		FROM card_statements WHERE card_id = ?`, uuid.NewString(), time.Now().UTC(), cardID)
	if err != nil {
		return fmt.Errorf("retire current statement: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE card_statements
		SET balance_cents = ?, due_day = ?, future_balance_cents = NULL
		WHERE card_id = ?`, promoted.Balance.Cents, promoted.DueDay, cardID)
	if err != nil {
		return fmt.Errorf("apply promoted statement: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}

	slog.InfoContext(ctx, "Statement promotion committed",
		"card_id", cardID,
		"balance_cents", promoted.Balance.Cents,
		"due_day", promoted.DueDay)
	return nil
}

// ListStaleStatements implements services.StatementStore.
func (r *SQLiteRepository) ListStaleStatements(ctx context.Context, groupID string, olderThan time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM statement_history WHERE group_id = ? AND retired_at < ? ORDER BY id`, groupID, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale statements: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale statement id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteStaleStatements implements services.StatementStore.
func (r *SQLiteRepository) DeleteStaleStatements(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM statement_history WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale statements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted statements: %w", err)
	}
	return int(n), nil
}

// SaveSnapshot persists an encoded projection snapshot for a group.
// Snapshots are immutable once written; newer runs supersede, never edit.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, groupID string, snap *core.ProjectionSnapshot) error {
	payload, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projection_snapshots (group_id, schema_version, generated_at, horizon_days, payload)
		VALUES (?, ?, ?, ?, ?)`,
		groupID, snap.SchemaVersion, snap.GeneratedAt, snap.HorizonDays, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Projection snapshot saved",
		"group_id", groupID,
		"horizon_days", snap.HorizonDays,
		"schema_version", snap.SchemaVersion)
	return nil
}

// LatestSnapshot returns the most recently persisted snapshot for a group,
// validating schema compatibility before any interpretation.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, groupID string) (*core.ProjectionSnapshot, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM projection_snapshots
		WHERE group_id = ? ORDER BY generated_at DESC, id DESC LIMIT 1`, groupID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return core.DecodeSnapshot(payload)
}

// DeleteSnapshots drops every persisted snapshot for a group. Used when an
// invalidation message supersedes them.
func (r *SQLiteRepository) DeleteSnapshots(ctx context.Context, groupID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM projection_snapshots WHERE group_id = ?`, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Checkpoint returns the group's last progression check time, or ErrNotFound
// when the group has never been checked.
func (r *SQLiteRepository) Checkpoint(ctx context.Context, groupID string) (time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_checked FROM progression_checkpoints WHERE group_id = ?`, groupID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("checkpoint for group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return t, nil
}

// AdvanceCheckpoint moves the group's checkpoint forward. A checkpoint never
// moves backward: an older timestamp than the stored one is ignored.
func (r *SQLiteRepository) AdvanceCheckpoint(ctx context.Context, groupID string, checked time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO progression_checkpoints (group_id, last_checked) VALUES (?, ?)
		ON CONFLICT (group_id) DO UPDATE SET last_checked = excluded.last_checked
		WHERE excluded.last_checked > progression_checkpoints.last_checked`,
		groupID, checked)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
