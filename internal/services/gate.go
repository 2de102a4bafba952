package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ProgressionGate serializes progression checks per account group. Two
// concurrent checks for the same group could both observe a pending future
// balance and double-promote; callers racing on a group instead share the
// result of the single in-flight check.
type ProgressionGate struct {
	group singleflight.Group
}

// NewProgressionGate creates a gate.
func NewProgressionGate() *ProgressionGate {
	return &ProgressionGate{}
}

// Check runs the progression check under the group's single-flight key and
// returns its result. Concurrent callers with the same groupID receive the
// shared result of whichever call ran.
func (g *ProgressionGate) Check(ctx context.Context, groupID string, mp *MonthProgressor, lastChecked time.Time) ProgressionResult {
	v, _, _ := g.group.Do(groupID, func() (any, error) {
		return mp.CheckAndProgressMonth(ctx, groupID, lastChecked), nil
	})
	return v.(ProgressionResult)
}

// ProgressionService binds a progressor to a gate so callers trigger checks
// with just a group ID.
type ProgressionService struct {
	gate *ProgressionGate
	mp   *MonthProgressor
}

// NewProgressionService creates a gated progression service.
func NewProgressionService(mp *MonthProgressor) *ProgressionService {
	return &ProgressionService{gate: NewProgressionGate(), mp: mp}
}

// Check runs a gated progression check for the group.
func (s *ProgressionService) Check(ctx context.Context, groupID string, lastChecked time.Time) ProgressionResult {
	return s.gate.Check(ctx, groupID, s.mp, lastChecked)
}
