package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Record is one beneficiary movement entry. Values are indexed by column
// position, so a Record can only ever hold the fields of the layout.
// The zero value is a record with every field empty.
type Record struct {
	values [FieldCount]string
}

// Get returns the value of a field, or "" for an unknown id.
func (r *Record) Get(id string) string {
	i, ok := fieldIndex[id]
	if !ok {
		return ""
	}
	return r.values[i]
}

// Set stores a value without normalization.
// Returns ErrUnknownField for ids outside the layout.
func (r *Record) Set(id, value string) error {
	i, ok := fieldIndex[id]
	if !ok {
		return &ValidationError{Field: id, Err: ErrUnknownField}
	}
	r.values[i] = value
	return nil
}

// At returns the value at a 1-based column position.
func (r *Record) At(position int) string {
	if position < 1 || position > FieldCount {
		return ""
	}
	return r.values[position-1]
}

// Map returns the record as a field id -> value map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, FieldCount)
	for i, def := range fieldTable {
		m[def.ID] = r.values[i]
	}
	return m
}

// RecordFromMap builds a record from a field id -> value map.
// Unknown keys are rejected rather than dropped.
func RecordFromMap(m map[string]string) (Record, error) {
	var rec Record
	unknown := make([]string, 0)
	for id, v := range m {
		if err := rec.Set(id, v); err != nil {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Record{}, &ValidationError{Field: unknown[0], Err: fmt.Errorf("%w: %v", ErrUnknownField, unknown)}
	}
	return rec, nil
}

// MarshalJSON encodes the record as an object keyed by field id, in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, def := range fieldTable {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(def.ID)
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by field id. Unknown keys fail.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	rec, err := RecordFromMap(m)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Strategy names how an import run executes the row transform.
type Strategy string

const (
	StrategySerial   Strategy = "serial"
	StrategyParallel Strategy = "parallel"
)

// ImportProgress reports how far an import run has come.
// ThroughputPerSecond and ETASeconds are nil until the first throughput
// sample has been taken.
type ImportProgress struct {
	Current             int      `json:"current"`
	Total               int      `json:"total"`
	ThroughputPerSecond *float64 `json:"throughputPerSecond,omitempty"`
	ETASeconds          *float64 `json:"etaSeconds,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return (p.Current * 100) / p.Total
}

// ProgressCallback is called as an import run advances.
type ProgressCallback func(ImportProgress)

// ImportPhase indicates the current stage of an import session.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseReading    ImportPhase = "reading"
	PhaseConverting ImportPhase = "converting"
	PhaseStaging    ImportPhase = "staging"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
	PhaseCancelled  ImportPhase = "cancelled"
)

// SessionProgress is the progress of an import session as seen by
// subscribers of the web layer.
type SessionProgress struct {
	ImportProgress
	WorkspaceID string      `json:"workspaceId"`
	FileName    string      `json:"fileName"`
	Phase       ImportPhase `json:"phase"`
	Strategy    Strategy    `json:"strategy,omitempty"`
	Error       string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// ImportResult contains the final result of an import session.
type ImportResult struct {
	WorkspaceID string        `json:"workspaceId"`
	FileName    string        `json:"fileName"`
	Records     int           `json:"records"`
	Strategy    Strategy      `json:"strategy"`
	Staged      bool          `json:"staged"`
	Warnings    []Warning     `json:"warnings,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"` // Non-empty if the import failed
}

// Warning flags a value that was accepted but changed on the way in.
type Warning struct {
	Row     int    `json:"row"` // 1-based
	Field   string `json:"field"`
	Message string `json:"message"`
}
