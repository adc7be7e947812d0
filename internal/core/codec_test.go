package core

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

var fixedClock = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

func recordWithTipo(t *testing.T, seq int, tipo string) Record {
	t.Helper()
	rec := NewRecord(seq, fixedClock)
	if err := rec.Set(FieldTipoRegistro, tipo); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return rec
}

func TestEncodeAt_SingleRecord(t *testing.T) {
	rec := recordWithTipo(t, 1, "N")

	got, err := EncodeAt("12345", []Record{rec}, fixedClock)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	body := make([]string, FieldCount)
	body[0] = "2"
	body[1] = "N"
	body[29] = "1"
	body[31] = "05032024"

	want := "1|H|MOVIMENTACAO|12345|20240305140709\n" +
		strings.Join(body, "|") + "\n" +
		"3|T|1|0|0|0|0|0|0|3"

	if got != want {
		t.Errorf("EncodeAt mismatch\ngot:  %q\nwant: %q", got, want)
	}
}

func TestEncodeAt_LineAndTrailerCounts(t *testing.T) {
	tipos := []string{"N", "D", "C", "I", "E", "U", "A", "", "X", "n", "N"}

	for n := 1; n <= len(tipos); n++ {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			records := make([]Record, n)
			recognised := 0
			for i := 0; i < n; i++ {
				records[i] = recordWithTipo(t, i+1, tipos[i])
				if tipos[i] == "" || IsTipoRegistro(tipos[i]) {
					recognised++
				}
			}

			out, err := EncodeAt("999", records, fixedClock)
			if err != nil {
				t.Fatalf("EncodeAt: %v", err)
			}
			if strings.HasSuffix(out, "\n") {
				t.Error("trailer must not end with a newline")
			}

			lines := strings.Split(out, "\n")
			if len(lines) != n+2 {
				t.Fatalf("got %d lines, want %d", len(lines), n+2)
			}

			for i, line := range lines[1 : n+1] {
				cols := strings.Split(line, "|")
				if len(cols) != FieldCount {
					t.Errorf("body line %d has %d columns, want %d", i, len(cols), FieldCount)
				}
				if cols[0] != strconv.Itoa(i+2) {
					t.Errorf("body line %d numbered %q, want %d", i, cols[0], i+2)
				}
			}

			trailer := strings.Split(lines[n+1], "|")
			if len(trailer) != 10 || trailer[1] != "T" {
				t.Fatalf("malformed trailer %q", lines[n+1])
			}
			total := strconv.Itoa(n + 2)
			if trailer[0] != total || trailer[9] != total {
				t.Errorf("trailer totals = %s/%s, want %s", trailer[0], trailer[9], total)
			}

			sum := 0
			for _, c := range trailer[2:9] {
				v, err := strconv.Atoi(c)
				if err != nil {
					t.Fatalf("trailer counter %q: %v", c, err)
				}
				sum += v
			}
			if sum != recognised {
				t.Errorf("bucket sum = %d, want %d", sum, recognised)
			}
		})
	}
}

func TestEncodeAt_UnrecognisedTipoWrittenVerbatim(t *testing.T) {
	records := []Record{recordWithTipo(t, 1, "X"), recordWithTipo(t, 2, "")}

	out, err := EncodeAt("1", records, fixedClock)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	lines := strings.Split(out, "\n")

	if !strings.HasPrefix(lines[1], "2|X|") {
		t.Errorf("line 2 = %q, want prefix 2|X|", lines[1])
	}
	if !strings.HasPrefix(lines[2], "3|N|") {
		t.Errorf("line 3 = %q, want prefix 3|N|", lines[2])
	}
	if lines[3] != "4|T|1|0|0|0|0|0|0|4" {
		t.Errorf("trailer = %q", lines[3])
	}
}

func TestEncodeAt_Preconditions(t *testing.T) {
	rec := NewRecord(1, fixedClock)

	tests := []struct {
		name    string
		account string
		records []Record
		wantErr error
	}{
		{"empty account", "", []Record{rec}, ErrEmptyAccount},
		{"no records", "12345", nil, ErrNoRecords},
		{"empty slice", "12345", []Record{}, ErrNoRecords},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EncodeAt(tt.account, tt.records, fixedClock)
			if out != "" {
				t.Errorf("expected no output, got %q", out)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeRow(t *testing.T) {
	t.Run("short row", func(t *testing.T) {
		rec := DecodeRow([]string{"ignored", "C", "PLANO-1"}, 4, fixedClock)

		if got := rec.Get(FieldSequencialRegistro); got != "5" {
			t.Errorf("sequencialRegistro = %q, want 5", got)
		}
		if got := rec.Get(FieldTipoRegistro); got != "C" {
			t.Errorf("tipoRegistro = %q, want C", got)
		}
		if got := rec.Get("plano"); got != "PLANO-1" {
			t.Errorf("plano = %q", got)
		}
		if got := rec.Get(FieldTipoMovimentacao); got != "1" {
			t.Errorf("tipoMovimentacao = %q, want 1", got)
		}
		if got := rec.Get(FieldDataOperacao); got != "05032024" {
			t.Errorf("dataOperacao = %q, want 05032024", got)
		}
		for pos := 4; pos <= FieldCount; pos++ {
			if pos == 30 || pos == 32 {
				continue
			}
			if v := rec.At(pos); v != "" {
				t.Errorf("position %d = %q, want empty", pos, v)
			}
		}
	})

	t.Run("long row", func(t *testing.T) {
		row := make([]string, FieldCount+5)
		for i := range row {
			row[i] = "v" + strconv.Itoa(i)
		}
		rec := DecodeRow(row, 0, fixedClock)

		if got := rec.At(FieldCount); got != "v59" {
			t.Errorf("last field = %q, want v59", got)
		}
		if got := rec.At(6); got != "v5" {
			t.Errorf("cpf = %q, want v5", got)
		}
		if got := rec.Get(FieldTipoMovimentacao); got != "1" {
			t.Errorf("tipoMovimentacao = %q, generated value must win", got)
		}
	})

	t.Run("empty row", func(t *testing.T) {
		rec := DecodeRow(nil, 0, fixedClock)
		if got := rec.Get(FieldSequencialRegistro); got != "1" {
			t.Errorf("sequencialRegistro = %q, want 1", got)
		}
	})
}

func TestFileName(t *testing.T) {
	if got := FileName(fixedClock); got != "movimentacao_cadastral_20240305_140709.txt" {
		t.Errorf("FileName = %q", got)
	}
}

func TestRecordJSON(t *testing.T) {
	rec := NewRecord(3, fixedClock)
	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"sequencialRegistro":"3","tipoRegistro":""`) {
		t.Errorf("unexpected JSON prefix: %s", data[:60])
	}

	var back Record
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if back != rec {
		t.Error("record changed after JSON round trip")
	}

	err = back.UnmarshalJSON([]byte(`{"bogus":"1"}`))
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}
