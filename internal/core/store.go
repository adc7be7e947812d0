package core

// store.go is the editing surface: an ordered, caller-owned sequence of
// Records with row-level mutation.
//
// Invariant: after every mutation, record i has sequencialRegistro == i+1.
// RecordStore is not safe for concurrent use; the Service serialises access
// per workspace.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// RecordStore holds one editable record sequence.
type RecordStore struct {
	records []Record
	minRows int
	now     func() time.Time
}

// StoreOption configures a RecordStore.
type StoreOption func(*RecordStore)

// WithMinRows sets how many rows RemoveRow must leave behind. The editing
// surface keeps at least one; 0 allows an empty sequence.
func WithMinRows(n int) StoreOption {
	return func(s *RecordStore) {
		if n >= 0 {
			s.minRows = n
		}
	}
}

// WithStoreClock replaces time.Now, for tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *RecordStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRecordStore creates a store holding minRows fresh rows.
func NewRecordStore(opts ...StoreOption) *RecordStore {
	s := &RecordStore{minRows: 1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for len(s.records) < s.minRows {
		s.AddRow()
	}
	return s
}

// Len returns the number of rows.
func (s *RecordStore) Len() int { return len(s.records) }

// Records returns a copy of the sequence.
func (s *RecordStore) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Record returns the row at index.
func (s *RecordStore) Record(index int) (Record, error) {
	if err := s.checkIndex(index); err != nil {
		return Record{}, err
	}
	return s.records[index], nil
}

// AddRow appends a fresh row and returns its index.
func (s *RecordStore) AddRow() int {
	s.records = append(s.records, NewRecord(len(s.records)+1, s.now()))
	return len(s.records) - 1
}

// RemoveRow deletes the row at index and renumbers the rows after it.
// Fails with ErrLastRow when the store would drop below its minimum.
func (s *RecordStore) RemoveRow(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	if len(s.records) <= s.minRows {
		return &ValidationError{Field: "index", Err: ErrLastRow}
	}

	s.records = append(s.records[:index], s.records[index+1:]...)
	s.renumber(index)
	return nil
}

// UpdateCell normalizes value for fieldID, stores it and returns what was
// stored.
//
//   - cpfBeneficiario: digits only, capped at 11.
//   - tipoRegistro: upper-cased; values outside N,C,A,U,D,I,E become "".
//   - sequencialRegistro: read-only, fails with ErrReadOnlyField.
func (s *RecordStore) UpdateCell(index int, fieldID, value string) (string, error) {
	if err := s.checkIndex(index); err != nil {
		return "", err
	}
	if !IsKnownField(fieldID) {
		return "", &ValidationError{Field: fieldID, Err: ErrUnknownField}
	}
	if fieldID == FieldSequencialRegistro {
		return "", &ValidationError{Field: fieldID, Err: ErrReadOnlyField}
	}

	stored := NormalizeValue(fieldID, value)
	s.records[index].values[fieldIndex[fieldID]] = stored
	return stored, nil
}

// NormalizeValue applies the manual-edit rules of UpdateCell to a single
// value. Fields without rules are returned unchanged.
func NormalizeValue(fieldID, value string) string {
	switch fieldID {
	case FieldCPFBeneficiario:
		digits, _ := NormalizeCPF(value)
		return digits
	case FieldTipoRegistro:
		v := strings.ToUpper(value)
		if !IsTipoRegistro(v) {
			return ""
		}
		return v
	default:
		return value
	}
}

// Load replaces the sequence with imported records and renumbers them.
//
// CPF values get the same digits-only rule and 11-digit cap as manual edits;
// every value that had to be shortened yields a Warning instead of an error.
func (s *RecordStore) Load(records []Record) []Warning {
	var warnings []Warning

	s.records = make([]Record, len(records))
	copy(s.records, records)

	cpfIdx := fieldIndex[FieldCPFBeneficiario]
	for i := range s.records {
		raw := s.records[i].values[cpfIdx]
		digits, truncated := NormalizeCPF(raw)
		s.records[i].values[cpfIdx] = digits
		if truncated {
			warnings = append(warnings, Warning{
				Row:     i + 1,
				Field:   FieldCPFBeneficiario,
				Message: fmt.Sprintf("CPF %q has more than %d digits, kept %q", raw, CPFLength, digits),
			})
		}
	}

	s.renumber(0)
	for len(s.records) < s.minRows {
		s.AddRow()
	}
	return warnings
}

// Clear drops every row and starts over with minRows fresh rows.
func (s *RecordStore) Clear() {
	s.records = nil
	for len(s.records) < s.minRows {
		s.AddRow()
	}
}

// InvalidCPFRows returns the 1-based rows whose CPF is complete (11 digits)
// but fails the checksum. Incomplete CPFs are still being typed and are not
// reported.
func (s *RecordStore) InvalidCPFRows() []int {
	cpfIdx := fieldIndex[FieldCPFBeneficiario]
	return lo.FilterMap(s.records, func(r Record, i int) (int, bool) {
		v := r.values[cpfIdx]
		return i + 1, len(v) == CPFLength && !ValidateCPF(v)
	})
}

func (s *RecordStore) renumber(from int) {
	seqIdx := fieldIndex[FieldSequencialRegistro]
	for i := from; i < len(s.records); i++ {
		s.records[i].values[seqIdx] = strconv.Itoa(i + 1)
	}
}

func (s *RecordStore) checkIndex(index int) error {
	if index < 0 || index >= len(s.records) {
		return &ValidationError{Field: "index", Err: fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, index, len(s.records))}
	}
	return nil
}
