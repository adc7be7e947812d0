package core

import "testing"

func TestFields_Invariants(t *testing.T) {
	fields := Fields()
	if len(fields) != FieldCount {
		t.Fatalf("len(Fields()) = %d, want %d", len(fields), FieldCount)
	}

	seen := make(map[string]bool, FieldCount)
	for i, f := range fields {
		if f.Position != i+1 {
			t.Errorf("field %s at index %d has position %d", f.ID, i, f.Position)
		}
		if f.ID == "" || f.DisplayName == "" {
			t.Errorf("field at position %d has empty id or name", f.Position)
		}
		if seen[f.ID] {
			t.Errorf("duplicate field id %s", f.ID)
		}
		seen[f.ID] = true
	}
}

func TestFields_ReturnsCopy(t *testing.T) {
	fields := Fields()
	fields[0].ID = "mutated"
	if Fields()[0].ID != FieldSequencialRegistro {
		t.Error("mutating the result of Fields changed the registry")
	}
}

func TestFieldLookupsAgree(t *testing.T) {
	for _, f := range Fields() {
		byID, ok := FieldByID(f.ID)
		if !ok {
			t.Fatalf("FieldByID(%q) not found", f.ID)
		}
		at, ok := FieldAt(f.Position)
		if !ok {
			t.Fatalf("FieldAt(%d) not found", f.Position)
		}
		if byID != at {
			t.Errorf("FieldByID(%q) = %+v, FieldAt(%d) = %+v", f.ID, byID, f.Position, at)
		}
	}
}

func TestKnownPositions(t *testing.T) {
	tests := []struct {
		id       string
		position int
	}{
		{FieldSequencialRegistro, 1},
		{FieldTipoRegistro, 2},
		{FieldCPFBeneficiario, 6},
		{FieldTipoMovimentacao, 30},
		{FieldDataOperacao, 32},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			f, ok := FieldByID(tt.id)
			if !ok || f.Position != tt.position {
				t.Errorf("FieldByID(%q) = %+v, %v; want position %d", tt.id, f, ok, tt.position)
			}
		})
	}
}

func TestFieldAt_OutOfRange(t *testing.T) {
	for _, pos := range []int{-1, 0, FieldCount + 1} {
		if _, ok := FieldAt(pos); ok {
			t.Errorf("FieldAt(%d) should not be found", pos)
		}
	}
	if IsKnownField("nope") {
		t.Error("IsKnownField(nope) = true")
	}
}

func TestFieldIDs(t *testing.T) {
	ids := FieldIDs()
	if len(ids) != FieldCount || ids[0] != FieldSequencialRegistro || ids[FieldCount-1] != "informacaoAdicional3" {
		t.Errorf("unexpected FieldIDs: first=%q last=%q len=%d", ids[0], ids[len(ids)-1], len(ids))
	}
}
