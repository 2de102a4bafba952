package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

type fakeEntityReader struct {
	accounts   []core.Account
	events     []core.RecurringCashEvent
	singles    []core.SingleShotExpense
	statements []core.CreditCardStatement
	err        error
}

func (f *fakeEntityReader) ListAccounts(ctx context.Context, groupID string) ([]core.Account, error) {
	return f.accounts, f.err
}

func (f *fakeEntityReader) ListRecurringEvents(ctx context.Context, groupID string) ([]core.RecurringCashEvent, error) {
	return f.events, f.err
}

func (f *fakeEntityReader) ListSingleShotExpenses(ctx context.Context, groupID string) ([]core.SingleShotExpense, error) {
	return f.singles, f.err
}

func (f *fakeEntityReader) ListStatements(ctx context.Context, groupID string) ([]core.CreditCardStatement, error) {
	return f.statements, f.err
}

type fakeSnapshotStore struct {
	saved   map[string]*core.ProjectionSnapshot
	loadErr error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{saved: make(map[string]*core.ProjectionSnapshot)}
}

func (f *fakeSnapshotStore) SaveSnapshot(ctx context.Context, groupID string, snap *core.ProjectionSnapshot) error {
	f.saved[groupID] = snap
	return nil
}

func (f *fakeSnapshotStore) LatestSnapshot(ctx context.Context, groupID string) (*core.ProjectionSnapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	snap, ok := f.saved[groupID]
	if !ok {
		return nil, fmt.Errorf("snapshot for group %s: %w", groupID, storage.ErrNotFound)
	}
	return snap, nil
}

type fakeCheckpointStore struct {
	checkpoints map[string]time.Time
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{checkpoints: make(map[string]time.Time)}
}

func (f *fakeCheckpointStore) Checkpoint(ctx context.Context, groupID string) (time.Time, error) {
	t, ok := f.checkpoints[groupID]
	if !ok {
		return time.Time{}, fmt.Errorf("checkpoint for group %s: %w", groupID, storage.ErrNotFound)
	}
	return t, nil
}

func (f *fakeCheckpointStore) AdvanceCheckpoint(ctx context.Context, groupID string, checked time.Time) error {
	if checked.After(f.checkpoints[groupID]) {
		f.checkpoints[groupID] = checked
	}
	return nil
}

type fakeProgressionRunner struct {
	result services.ProgressionResult
	calls  int
}

func (f *fakeProgressionRunner) Check(ctx context.Context, groupID string, lastChecked time.Time) services.ProgressionResult {
	f.calls++
	return f.result
}

func newTestServer(entities EntityReader, snapshots SnapshotStore, checkpoints CheckpointStore, runner ProgressionRunner) *Server {
	return NewServer(":0", entities, snapshots, checkpoints, runner, nil, 30)
}

func TestHandleProjectionMissingGroup(t *testing.T) {
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	s.handleProjection(rec, httptest.NewRequest(http.MethodGet, "/api/projection", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleProjectionInvalidDays(t *testing.T) {
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), newFakeCheckpointStore(), &fakeProgressionRunner{})

	tests := []struct {
		name     string
		days     string
		wantCode int
	}{
		{"non-numeric", "abc", http.StatusBadRequest},
		{"outside allowed set", "45", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/projection?group=g1&days="+tt.days, nil)
			s.handleProjection(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleProjectionSuccess(t *testing.T) {
	entities := &fakeEntityReader{
		accounts: []core.Account{
			{ID: "acc-1", Type: core.Checking, Balance: core.Money{Cents: 100000}, GroupID: "g1"},
		},
	}
	snapshots := newFakeSnapshotStore()
	s := newTestServer(entities, snapshots, newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projection?group=g1&days=7&date=2025-03-01", nil)
	s.handleProjection(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var snap core.ProjectionSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.SchemaVersion != core.CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", snap.SchemaVersion, core.CurrentSchemaVersion)
	}
	if len(snap.Days) != 8 {
		t.Errorf("len(Days) = %d, want 8", len(snap.Days))
	}
	if snapshots.saved["g1"] == nil {
		t.Error("snapshot was not persisted")
	}
}

func TestHandleProjectionMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	s.handleProjection(rec, httptest.NewRequest(http.MethodPost, "/api/projection?group=g1", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleLatestSnapshotNotFound(t *testing.T) {
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	s.handleLatestSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/projection/latest?group=missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleLatestSnapshotSchemaIncompatible(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	snapshots.loadErr = fmt.Errorf("decode snapshot: %w", core.ErrSchemaIncompatible)
	s := newTestServer(&fakeEntityReader{}, snapshots, newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	s.handleLatestSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/projection/latest?group=g1", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleProgressionCheckSuccess(t *testing.T) {
	checkpoints := newFakeCheckpointStore()
	runner := &fakeProgressionRunner{
		result: services.ProgressionResult{Success: true, ProgressedCards: 2, CleanedStatements: 1},
	}
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), checkpoints, runner)

	rec := httptest.NewRecorder()
	s.handleProgressionCheck(rec, httptest.NewRequest(http.MethodPost, "/api/progression/check?group=g1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if runner.calls != 1 {
		t.Errorf("runner.calls = %d, want 1", runner.calls)
	}
	if checkpoints.checkpoints["g1"].IsZero() {
		t.Error("checkpoint was not advanced")
	}

	var resp progressionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ProgressedCards != 2 || resp.CleanedStatements != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleProgressionCheckFailureKeepsCheckpoint(t *testing.T) {
	checkpoints := newFakeCheckpointStore()
	runner := &fakeProgressionRunner{
		result: services.ProgressionResult{
			Success:         false,
			ProgressedCards: 1,
			Err:             errors.New("card card-b: store unavailable"),
		},
	}
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), checkpoints, runner)

	rec := httptest.NewRecorder()
	s.handleProgressionCheck(rec, httptest.NewRequest(http.MethodPost, "/api/progression/check?group=g1", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !checkpoints.checkpoints["g1"].IsZero() {
		t.Error("checkpoint advanced despite failed progression")
	}

	var resp progressionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Error == "" {
		t.Error("Error is empty, want failure detail")
	}
}

func TestHandleProgressionCheckMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeEntityReader{}, newFakeSnapshotStore(), newFakeCheckpointStore(), &fakeProgressionRunner{})

	rec := httptest.NewRecorder()
	s.handleProgressionCheck(rec, httptest.NewRequest(http.MethodGet, "/api/progression/check?group=g1", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
