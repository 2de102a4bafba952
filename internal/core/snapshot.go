package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the schema version written into every new
// ProjectionSnapshot. No migration path exists yet; IsSchemaVersionCompatible
// keeps future migrations a pure addition instead of a breaking change.
const CurrentSchemaVersion = 1

const (
	BasisSingle BasisKind = "single"
	BasisRange  BasisKind = "range"
)

var ErrSchemaIncompatible = errors.New("snapshot schema version not supported")

type (
	BasisKind string

	// BalanceUpdateBase describes how fresh the starting balances are:
	// a single date when every account was last updated on the same
	// calendar day, else the range spanning the earliest to latest.
	BalanceUpdateBase struct {
		Kind BasisKind `json:"kind"`
		Date Date      `json:"date,omitzero"`
		From Date      `json:"from,omitzero"`
		To   Date      `json:"to,omitzero"`
	}

	// DailyBalance is one point of the projected series.
	DailyBalance struct {
		Date       Date             `json:"date"`
		PerAccount map[string]int64 `json:"per_account"`
		Aggregate  int64            `json:"aggregate_cents"`
	}

	// ProjectionSnapshot is the immutable result of one projection run.
	// Persisted forms carry SchemaVersion and must be checked with
	// DecodeSnapshot before interpretation.
	ProjectionSnapshot struct {
		SchemaVersion int               `json:"schema_version"`
		GeneratedAt   time.Time         `json:"generated_at"`
		HorizonDays   int               `json:"horizon_days"`
		Days          []DailyBalance    `json:"days"`
		Basis         BalanceUpdateBase `json:"basis"`
	}
)

// IsSchemaVersionCompatible reports whether a persisted snapshot version can
// be interpreted by this build.
func IsSchemaVersionCompatible(version int) bool {
	return version >= 1 && version <= CurrentSchemaVersion
}

// Encode serializes the snapshot for persistence. Map keys are emitted in
// sorted order, so identical snapshots encode byte-identically.
func (s *ProjectionSnapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a persisted snapshot, rejecting incompatible schema
// versions before any interpretation of the payload.
func DecodeSnapshot(data []byte) (*ProjectionSnapshot, error) {
	var versioned struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &versioned); err != nil {
		return nil, fmt.Errorf("read snapshot version: %w", err)
	}
	if !IsSchemaVersionCompatible(versioned.SchemaVersion) {
		return nil, fmt.Errorf("%w: version %d, current %d",
			ErrSchemaIncompatible, versioned.SchemaVersion, CurrentSchemaVersion)
	}
	var snap ProjectionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
