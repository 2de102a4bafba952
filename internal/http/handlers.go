package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

// ProgressionRunner triggers a gated month-progression check for a group.
type ProgressionRunner interface {
	Check(ctx context.Context, groupID string, lastChecked time.Time) services.ProgressionResult
}

// handleProjection computes a fresh projection for the group, persists it as
// the latest snapshot, and returns it.
//
// GET /api/projection?group=<id>&days=<horizon>&date=<YYYY-MM-DD>
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	groupID := strings.TrimSpace(r.URL.Query().Get("group"))
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: group")
		return
	}

	days := s.defaultHorizonDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid days parameter: "+v)
			return
		}
		days = d
	}

	reference := core.DateOf(time.Now())
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		d, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date parameter: "+v)
			return
		}
		reference = d
	}

	ctx := r.Context()
	logger := log.FromContext(ctx)

	accounts, err := s.entities.ListAccounts(ctx, groupID)
	if err != nil {
		logger.ErrorContext(ctx, "List accounts failed", log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to load accounts")
		return
	}
	events, err := s.entities.ListRecurringEvents(ctx, groupID)
	if err != nil {
		logger.ErrorContext(ctx, "List recurring events failed", log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to load recurring events")
		return
	}
	singles, err := s.entities.ListSingleShotExpenses(ctx, groupID)
	if err != nil {
		logger.ErrorContext(ctx, "List single expenses failed", log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to load single expenses")
		return
	}
	statements, err := s.entities.ListStatements(ctx, groupID)
	if err != nil {
		logger.ErrorContext(ctx, "List statements failed", log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to load statements")
		return
	}

	snap, err := s.projector.Project(accounts, events, singles, statements, days, reference)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidHorizon):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, services.ErrMalformedRecurrence):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			logger.ErrorContext(ctx, "Projection failed",
				log.FieldError, err, log.FieldGroupID, groupID, log.FieldHorizonDays, days)
			writeError(w, http.StatusInternalServerError, "projection failed")
		}
		return
	}

	if err := s.snapshots.SaveSnapshot(ctx, groupID, snap); err != nil {
		logger.ErrorContext(ctx, "Save snapshot failed", log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to persist snapshot")
		return
	}
	s.snapCache.Set(groupID, snap)

	s.structured.LogProjectionBuilt(ctx, groupID, days, reference.Time.Format("2006-01-02"))

	writeJSON(w, http.StatusOK, snap)
}

// handleLatestSnapshot returns the most recently persisted snapshot for the
// group without recomputing anything.
//
// GET /api/projection/latest?group=<id>
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	groupID := strings.TrimSpace(r.URL.Query().Get("group"))
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: group")
		return
	}

	if snap, ok := s.snapCache.Get(groupID); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := s.snapshots.LatestSnapshot(r.Context(), groupID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "no snapshot for group "+groupID)
		case errors.Is(err, core.ErrSchemaIncompatible):
			writeError(w, http.StatusConflict, "stored snapshot uses an incompatible schema version; request a fresh projection")
		default:
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Load snapshot failed",
				log.FieldError, err, log.FieldGroupID, groupID)
			writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		}
		return
	}
	s.snapCache.Set(groupID, snap)

	writeJSON(w, http.StatusOK, snap)
}

type progressionResponse struct {
	Success           bool   `json:"success"`
	ProgressedCards   int    `json:"progressed_cards"`
	CleanedStatements int    `json:"cleaned_statements"`
	Error             string `json:"error,omitempty"`
}

// handleProgressionCheck runs a gated month-progression check for the group
// and advances its checkpoint on success.
//
// POST /api/progression/check?group=<id>
func (s *Server) handleProgressionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	groupID := strings.TrimSpace(r.URL.Query().Get("group"))
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: group")
		return
	}

	ctx := r.Context()
	lastChecked, err := s.checkpoints.Checkpoint(ctx, groupID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.FromContext(ctx).ErrorContext(ctx, "Load checkpoint failed",
			log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}

	now := time.Now()
	result := s.progression.Check(ctx, groupID, lastChecked)
	s.structured.LogProgressionRun(ctx, groupID, result.ProgressedCards, result.CleanedStatements, result.Err)

	if !result.Success {
		resp := progressionResponse{
			Success:           false,
			ProgressedCards:   result.ProgressedCards,
			CleanedStatements: result.CleanedStatements,
		}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	if err := s.checkpoints.AdvanceCheckpoint(ctx, groupID, now); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Advance checkpoint failed",
			log.FieldError, err, log.FieldGroupID, groupID)
		writeError(w, http.StatusInternalServerError, "failed to advance checkpoint")
		return
	}

	if result.ProgressedCards > 0 {
		s.snapCache.Invalidate(groupID)
		if s.publisher != nil {
			if err := s.publisher.PublishInvalidation(ctx, groupID, amqp.ReasonMonthProgression); err != nil {
				log.FromContext(ctx).WarnContext(ctx, "Invalidation publish failed",
					log.FieldError, err, log.FieldGroupID, groupID)
			}
		}
	}

	writeJSON(w, http.StatusOK, progressionResponse{
		Success:           true,
		ProgressedCards:   result.ProgressedCards,
		CleanedStatements: result.CleanedStatements,
	})
}
