package core

// codec.go converts between spreadsheet rows, Records and the movement file.
//
// The two directions are deliberately asymmetric: DecodeRow fills generated
// fields and maps cells by position, while Encode writes the line number in
// column 1 and tallies record types in the trailer. Encoding a decoded row
// does not give back the original cells.

import (
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the DDMMYYYY format used for dataOperacao.
	DateLayout = "02012006"

	// TimestampLayout is the YYYYMMDDHHMMSS format of the header line.
	TimestampLayout = "20060102150405"

	// DefaultTipoMovimentacao is set on every new or imported record.
	DefaultTipoMovimentacao = "1"

	// DefaultTipoRegistro is written when a record has no tipoRegistro.
	DefaultTipoRegistro = "N"

	fieldSeparator = "|"
)

// TipoRegistroValues lists the accepted record types in trailer order.
var TipoRegistroValues = []string{"N", "D", "C", "I", "E", "U", "A"}

// IsTipoRegistro reports whether v is one of the accepted record types.
// The comparison is exact; callers normalize case first.
func IsTipoRegistro(v string) bool {
	for _, t := range TipoRegistroValues {
		if v == t {
			return true
		}
	}
	return false
}

// FormatDate renders t as DDMMYYYY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DecodeRow converts a spreadsheet row into a Record.
//
// Cells map to fields by position: cell k fills the field at column k+1.
// Missing cells leave fields empty and cells past column 60 are ignored.
// sequencialRegistro, tipoMovimentacao and dataOperacao are always generated
// (rowIndex+1, "1", and now as DDMMYYYY) regardless of the cell contents.
// DecodeRow is total: any row decodes.
func DecodeRow(row []string, rowIndex int, now time.Time) Record {
	var rec Record
	for i := 0; i < FieldCount && i < len(row); i++ {
		rec.values[i] = row[i]
	}
	rec.values[fieldIndex[FieldSequencialRegistro]] = strconv.Itoa(rowIndex + 1)
	rec.values[fieldIndex[FieldTipoMovimentacao]] = DefaultTipoMovimentacao
	rec.values[fieldIndex[FieldDataOperacao]] = FormatDate(now)
	return rec
}

// NewRecord returns an empty record with generated defaults for the given
// 1-based sequence number.
func NewRecord(seq int, now time.Time) Record {
	var rec Record
	rec.values[fieldIndex[FieldSequencialRegistro]] = strconv.Itoa(seq)
	rec.values[fieldIndex[FieldTipoMovimentacao]] = DefaultTipoMovimentacao
	rec.values[fieldIndex[FieldDataOperacao]] = FormatDate(now)
	return rec
}

// Encode renders records into the movement file using the current time for
// the header timestamp. See EncodeAt.
func Encode(accountNumber string, records []Record) (string, error) {
	return EncodeAt(accountNumber, records, time.Now())
}

// EncodeAt renders records into the movement file with the header timestamp
// taken from at.
//
// Returns a *ValidationError wrapping ErrEmptyAccount or ErrNoRecords when a
// precondition fails; no partial output is produced.
func EncodeAt(accountNumber string, records []Record, at time.Time) (string, error) {
	if accountNumber == "" {
		return "", &ValidationError{Field: "accountNumber", Err: ErrEmptyAccount}
	}
	if len(records) == 0 {
		return "", &ValidationError{Field: "records", Err: ErrNoRecords}
	}

	totals := make(map[string]int, len(TipoRegistroValues))
	for _, t := range TipoRegistroValues {
		totals[t] = 0
	}

	var b strings.Builder
	// Header, body lines and trailer. Most fields are short, so 8 bytes per
	// column is a reasonable initial guess.
	b.Grow(64 + len(records)*FieldCount*8)

	b.WriteString("1|H|MOVIMENTACAO|")
	b.WriteString(accountNumber)
	b.WriteString(fieldSeparator)
	b.WriteString(at.Format(TimestampLayout))
	b.WriteByte('\n')

	tipoIdx := fieldIndex[FieldTipoRegistro]
	for i := range records {
		rec := &records[i]

		tipo := rec.values[tipoIdx]
		if tipo == "" {
			tipo = DefaultTipoRegistro
		}
		if _, ok := totals[tipo]; ok {
			totals[tipo]++
		}

		// Column 1 carries the line number, not sequencialRegistro.
		b.WriteString(strconv.Itoa(i + 2))
		for col := 1; col < FieldCount; col++ {
			b.WriteString(fieldSeparator)
			if col == tipoIdx {
				b.WriteString(tipo)
				continue
			}
			b.WriteString(rec.values[col])
		}
		b.WriteByte('\n')
	}

	total := strconv.Itoa(len(records) + 2)
	b.WriteString(total)
	b.WriteString("|T")
	for _, t := range TipoRegistroValues {
		b.WriteString(fieldSeparator)
		b.WriteString(strconv.Itoa(totals[t]))
	}
	b.WriteString(fieldSeparator)
	b.WriteString(total)

	return b.String(), nil
}

// FileName returns the download name for a movement file generated at t.
func FileName(t time.Time) string {
	return "movimentacao_cadastral_" + t.Format("20060102_150405") + ".txt"
}
