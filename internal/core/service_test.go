package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/movimentacao/internal/staging"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: fixedClock} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func csvFile(n int) []byte {
	var b bytes.Buffer
	b.WriteString("Sequencial;Tipo;Plano;Codigo;Nome;CPF\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d;n;PLANO;C%d;Nome %d;529.982.247-25\n", i+100, i, i)
	}
	return b.Bytes()
}

func importAndWait(t *testing.T, svc *Service, id, name string, data []byte) *ImportResult {
	t.Helper()
	if err := svc.StartImport(context.Background(), id, name, bytes.NewReader(data)); err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := svc.ImportResult(ctx, id)
	if err != nil {
		t.Fatalf("ImportResult: %v", err)
	}
	return res
}

func TestService_EditAndGenerate(t *testing.T) {
	clock := newTestClock()
	svc := NewService(ServiceConfig{Clock: clock.Now})
	id := svc.CreateWorkspace()

	view, err := svc.GetWorkspace(id)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if len(view.Records) != 1 {
		t.Fatalf("new workspace has %d rows, want 1", len(view.Records))
	}

	if _, _, err := svc.Generate(id); !errors.Is(err, ErrEmptyAccount) {
		t.Errorf("Generate without account = %v, want ErrEmptyAccount", err)
	}

	if err := svc.SetAccount(id, "123"); err != nil {
		t.Fatalf("SetAccount: %v", err)
	}
	got, err := svc.UpdateCell(id, 0, FieldCPFBeneficiario, "529.982.247-25")
	if err != nil || got != "52998224725" {
		t.Fatalf("UpdateCell = %q, %v", got, err)
	}
	idx, rec, err := svc.AddRow(id)
	if err != nil || idx != 1 || rec.Get(FieldSequencialRegistro) != "2" {
		t.Fatalf("AddRow = %d, %q, %v", idx, rec.Get(FieldSequencialRegistro), err)
	}
	if _, err := svc.UpdateCell(id, 1, FieldTipoRegistro, "c"); err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}

	name, content, err := svc.Generate(id)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if name != "movimentacao_cadastral_20240305_140709.txt" {
		t.Errorf("file name = %q", name)
	}
	lines := strings.Split(content, "\n")
	if lines[0] != "1|H|MOVIMENTACAO|123|20240305140709" {
		t.Errorf("header = %q", lines[0])
	}
	if want := "4|T|1|0|1|0|0|0|0|4"; lines[len(lines)-1] != want {
		t.Errorf("trailer = %q, want %q", lines[len(lines)-1], want)
	}

	hist, err := svc.History(id)
	if err != nil || len(hist) != 1 || hist[0].Records != 2 || hist[0].Account != "123" {
		t.Errorf("History = %+v, %v", hist, err)
	}

	if err := svc.ClearWorkspace(context.Background(), id); err != nil {
		t.Fatalf("ClearWorkspace: %v", err)
	}
	view, _ = svc.GetWorkspace(id)
	if view.Account != "" || len(view.Records) != 1 {
		t.Errorf("after clear: account %q, %d rows", view.Account, len(view.Records))
	}
	if hist, _ := svc.History(id); len(hist) != 0 {
		t.Errorf("history not cleared: %d entries", len(hist))
	}
}

func TestService_RowErrors(t *testing.T) {
	svc := NewService(ServiceConfig{})
	id := svc.CreateWorkspace()

	if err := svc.RemoveRow(id, 0); !errors.Is(err, ErrLastRow) {
		t.Errorf("RemoveRow last = %v, want ErrLastRow", err)
	}
	if _, err := svc.UpdateCell(id, 5, "plano", "x"); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("UpdateCell out of range = %v", err)
	}
	if _, err := svc.UpdateCell(id, 0, FieldSequencialRegistro, "9"); !errors.Is(err, ErrReadOnlyField) {
		t.Errorf("UpdateCell read-only = %v", err)
	}
	if _, err := svc.GetWorkspace("missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("GetWorkspace missing = %v", err)
	}
}

func TestService_DeleteWorkspace(t *testing.T) {
	svc := NewService(ServiceConfig{})
	id := svc.CreateWorkspace()
	if svc.WorkspaceCount() != 1 {
		t.Fatalf("WorkspaceCount = %d", svc.WorkspaceCount())
	}
	if err := svc.DeleteWorkspace(context.Background(), id); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if err := svc.DeleteWorkspace(context.Background(), id); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("second DeleteWorkspace = %v", err)
	}
	if svc.WorkspaceCount() != 0 {
		t.Errorf("WorkspaceCount = %d after delete", svc.WorkspaceCount())
	}
}

func TestService_ImportCSV(t *testing.T) {
	svc := NewService(ServiceConfig{Clock: newTestClock().Now})
	id := svc.CreateWorkspace()

	res := importAndWait(t, svc, id, "planilha.csv", csvFile(3))
	if res.Error != "" {
		t.Fatalf("import failed: %s", res.Error)
	}
	if res.Records != 3 || res.Strategy != StrategySerial || res.Staged {
		t.Errorf("result = %+v", res)
	}

	view, _ := svc.GetWorkspace(id)
	if len(view.Records) != 3 {
		t.Fatalf("%d records, want 3", len(view.Records))
	}
	for i, rec := range view.Records {
		if got := rec.Get(FieldSequencialRegistro); got != fmt.Sprint(i+1) {
			t.Errorf("row %d sequencialRegistro = %q", i, got)
		}
		if got := rec.Get(FieldCPFBeneficiario); got != "52998224725" {
			t.Errorf("row %d cpf = %q", i, got)
		}
		if got := rec.Get(FieldDataOperacao); got != "05032024" {
			t.Errorf("row %d dataOperacao = %q", i, got)
		}
	}

	prog, err := svc.ImportProgress(id)
	if err != nil || prog.Phase != PhaseComplete || prog.Current != 3 {
		t.Errorf("ImportProgress = %+v, %v", prog, err)
	}

	// A finished import still answers subscribers with its last state.
	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	last := <-ch
	if last.Phase != PhaseComplete {
		t.Errorf("subscribed phase = %s", last.Phase)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed after finished import")
	}
}

func TestService_ImportParallel(t *testing.T) {
	svc := NewService(ServiceConfig{ParallelThreshold: 50, ChunkSize: 8, Workers: 3})
	id := svc.CreateWorkspace()

	res := importAndWait(t, svc, id, "grande.csv", csvFile(200))
	if res.Error != "" {
		t.Fatalf("import failed: %s", res.Error)
	}
	if res.Strategy != StrategyParallel || res.Records != 200 {
		t.Errorf("result = %+v", res)
	}
	view, _ := svc.GetWorkspace(id)
	if got := view.Records[199].Get("codigoBeneficiario"); got != "C199" {
		t.Errorf("last row codigoBeneficiario = %q, order not preserved", got)
	}
}

func TestService_ImportFailures(t *testing.T) {
	svc := NewService(ServiceConfig{MaxImportSize: 1024})
	id := svc.CreateWorkspace()

	t.Run("unsupported format", func(t *testing.T) {
		res := importAndWait(t, svc, id, "antigo.xls", []byte("whatever"))
		if res.Error == "" {
			t.Fatal("expected error")
		}
		prog, _ := svc.ImportProgress(id)
		if prog.Phase != PhaseFailed || !strings.Contains(prog.Error, "FILE002") {
			t.Errorf("progress = %+v", prog)
		}
	})

	t.Run("header only", func(t *testing.T) {
		res := importAndWait(t, svc, id, "vazio.csv", []byte("a;b;c\n"))
		if !strings.Contains(res.Error, "empty file") {
			t.Errorf("error = %q", res.Error)
		}
		prog, _ := svc.ImportProgress(id)
		if !strings.Contains(prog.Error, "FILE004") {
			t.Errorf("progress error = %q", prog.Error)
		}
	})

	t.Run("too large", func(t *testing.T) {
		err := svc.StartImport(context.Background(), id, "big.csv", bytes.NewReader(make([]byte, 2048)))
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("StartImport = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("no file", func(t *testing.T) {
		err := svc.StartImport(context.Background(), id, "", nil)
		if !errors.Is(err, ErrNoFile) || MapError(err).Code != "FILE003" {
			t.Errorf("StartImport = %v", err)
		}
	})

	t.Run("unknown workspace", func(t *testing.T) {
		err := svc.StartImport(context.Background(), "nope", "a.csv", bytes.NewReader(csvFile(1)))
		if !errors.Is(err, ErrWorkspaceNotFound) {
			t.Errorf("StartImport = %v", err)
		}
	})

	// Failed imports leave the table as it was.
	view, _ := svc.GetWorkspace(id)
	if len(view.Records) != 1 {
		t.Errorf("%d records after failed imports, want 1", len(view.Records))
	}
}

func TestService_NoImportSession(t *testing.T) {
	svc := NewService(ServiceConfig{})
	id := svc.CreateWorkspace()

	if _, err := svc.ImportProgress(id); !errors.Is(err, ErrNoImportSession) {
		t.Errorf("ImportProgress = %v", err)
	}
	if _, err := svc.SubscribeProgress(id); !errors.Is(err, ErrNoImportSession) {
		t.Errorf("SubscribeProgress = %v", err)
	}
	if err := svc.CancelImport(id); !errors.Is(err, ErrNoImportSession) {
		t.Errorf("CancelImport = %v", err)
	}
}

func TestService_StageAndRestore(t *testing.T) {
	store := staging.NewMemory()
	clock := newTestClock()
	cfg := ServiceConfig{
		Staging:          store,
		StagingThreshold: 5,
		StagingChunkSize: 2,
		Clock:            clock.Now,
	}

	svc := NewService(cfg)
	id := svc.CreateWorkspace()
	res := importAndWait(t, svc, id, "lote.csv", csvFile(7))
	if !res.Staged {
		t.Fatalf("import not staged: %+v", res)
	}

	meta, err := store.LoadMeta(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if meta.TotalRecords != 7 || meta.LoadedRecords != 7 || meta.TotalChunks != 4 {
		t.Errorf("meta = %+v", meta)
	}

	// A fresh process knows nothing about the workspace until restored.
	restarted := NewService(cfg)
	n, err := restarted.RestoreWorkspace(context.Background(), id)
	if err != nil {
		t.Fatalf("RestoreWorkspace: %v", err)
	}
	if n != 7 {
		t.Errorf("restored %d records, want 7", n)
	}
	view, _ := restarted.GetWorkspace(id)
	if len(view.Records) != 7 || view.Records[6].Get(FieldSequencialRegistro) != "7" {
		t.Errorf("restored view has %d records", len(view.Records))
	}

	t.Run("stale", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := restarted.RestoreWorkspace(context.Background(), id)
		var stale *PersistenceStaleError
		if !errors.As(err, &stale) {
			t.Fatalf("RestoreWorkspace = %v, want PersistenceStaleError", err)
		}
		if _, err := restarted.RestoreWorkspace(context.Background(), id); !errors.Is(err, ErrNothingStaged) {
			t.Errorf("second restore = %v, want ErrNothingStaged", err)
		}
	})
}

func TestService_RestoreIncomplete(t *testing.T) {
	store := staging.NewMemory()
	svc := NewService(ServiceConfig{Staging: store})
	id := svc.CreateWorkspace()

	err := store.SaveMeta(context.Background(), id, staging.Meta{
		TotalRecords:  10,
		LoadedRecords: 4,
		TotalChunks:   3,
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RestoreWorkspace(context.Background(), id); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("RestoreWorkspace = %v, want ErrNothingStaged", err)
	}
	if _, err := svc.RestoreWorkspace(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("RestoreWorkspace bad id = %v", err)
	}
}

func TestService_RestoreUnknownKeepsNoWorkspace(t *testing.T) {
	svc := NewService(ServiceConfig{Staging: staging.NewMemory()})

	_, err := svc.RestoreWorkspace(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrNothingStaged) {
		t.Fatalf("RestoreWorkspace = %v, want ErrNothingStaged", err)
	}
	if n := svc.WorkspaceCount(); n != 0 {
		t.Errorf("%d workspaces after a failed restore, want 0", n)
	}
}

// blockingStore holds the first Clear, which is the first call of staging,
// until release is closed.
type blockingStore struct {
	*staging.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		Memory:  staging.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingStore) Clear(ctx context.Context, key string) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Memory.Clear(ctx, key)
}

func startStagedImport(t *testing.T, svc *Service, store *blockingStore, rows int) string {
	t.Helper()
	id := svc.CreateWorkspace()
	if err := svc.StartImport(context.Background(), id, "lote.csv", bytes.NewReader(csvFile(rows))); err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("import never reached staging")
	}
	return id
}

func TestService_EditsRefusedWhileStaging(t *testing.T) {
	store := newBlockingStore()
	svc := NewService(ServiceConfig{Staging: store, StagingThreshold: 2})
	id := startStagedImport(t, svc, store, 3)

	view, _ := svc.GetWorkspace(id)
	if !view.Importing {
		t.Error("Importing = false while staging")
	}

	ctx := context.Background()
	edits := []struct {
		name string
		fn   func() error
	}{
		{"UpdateCell", func() error { _, err := svc.UpdateCell(id, 0, "nomeCompleto", "Editado"); return err }},
		{"AddRow", func() error { _, _, err := svc.AddRow(id); return err }},
		{"RemoveRow", func() error { return svc.RemoveRow(id, 0) }},
		{"Generate", func() error { _, _, err := svc.Generate(id); return err }},
		{"ClearWorkspace", func() error { return svc.ClearWorkspace(ctx, id) }},
	}
	for _, e := range edits {
		if err := e.fn(); !errors.Is(err, ErrImportInFlight) {
			t.Errorf("%s during import = %v, want ErrImportInFlight", e.name, err)
		}
	}

	close(store.release)
	res, err := svc.ImportResult(ctx, id)
	if err != nil || res.Error != "" {
		t.Fatalf("ImportResult = %+v, %v", res, err)
	}

	view, _ = svc.GetWorkspace(id)
	if view.Importing || len(view.Records) != 3 || view.Records[0].Get("nomeCompleto") != "Nome 0" {
		t.Errorf("after import: importing=%v rows=%d", view.Importing, len(view.Records))
	}
	if _, err := svc.UpdateCell(id, 0, "nomeCompleto", "Editado"); err != nil {
		t.Errorf("UpdateCell after import = %v", err)
	}
}

func TestService_CancelWhileStaging(t *testing.T) {
	store := newBlockingStore()
	svc := NewService(ServiceConfig{Staging: store, StagingThreshold: 2})
	id := startStagedImport(t, svc, store, 3)

	if err := svc.CancelImport(id); err != nil {
		t.Fatalf("CancelImport = %v", err)
	}
	close(store.release)

	res, err := svc.ImportResult(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" || res.Staged {
		t.Errorf("result = %+v, want a cancelled, unstaged import", res)
	}
	prog, _ := svc.ImportProgress(id)
	if prog.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", prog.Phase, PhaseCancelled)
	}

	view, _ := svc.GetWorkspace(id)
	if len(view.Records) != 1 {
		t.Errorf("%d records after cancel, want the single fresh row", len(view.Records))
	}
	if _, err := store.LoadMeta(context.Background(), id); !errors.Is(err, staging.ErrNotFound) {
		t.Errorf("staged entry left behind: %v", err)
	}
	if err := svc.CancelImport(id); !errors.Is(err, ErrNoImportSession) {
		t.Errorf("second CancelImport = %v, want ErrNoImportSession", err)
	}
}

func TestService_ImportWaitsForSlot(t *testing.T) {
	svc := NewService(ServiceConfig{MaxConcurrentImports: 1, MaxImportWait: 20 * time.Millisecond})
	id := svc.CreateWorkspace()

	if !svc.limiter.TryAcquire() {
		t.Fatal("slot not free")
	}
	err := svc.StartImport(context.Background(), id, "a.csv", bytes.NewReader(csvFile(1)))
	if !errors.Is(err, ErrTooManyImports) {
		t.Fatalf("StartImport with no slot = %v, want ErrTooManyImports", err)
	}

	svc.limiter.Release()
	if res := importAndWait(t, svc, id, "a.csv", csvFile(1)); res.Error != "" {
		t.Errorf("import after release: %s", res.Error)
	}
}

func TestService_RestoreWithoutStaging(t *testing.T) {
	svc := NewService(ServiceConfig{})
	id := svc.CreateWorkspace()
	if _, err := svc.RestoreWorkspace(context.Background(), id); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("RestoreWorkspace = %v", err)
	}
}

func TestService_Janitor(t *testing.T) {
	store := staging.NewMemory()
	clock := newTestClock()
	svc := NewService(ServiceConfig{
		Staging:       store,
		StagingMaxAge: time.Hour,
		WorkspaceTTL:  3 * time.Hour,
		Clock:         clock.Now,
	})

	old := svc.CreateWorkspace()
	_ = store.SaveMeta(context.Background(), old, staging.Meta{Timestamp: clock.Now()})

	clock.Advance(2 * time.Hour)
	fresh := svc.CreateWorkspace()

	svc.runJanitor(context.Background())
	if _, err := store.LoadMeta(context.Background(), old); !errors.Is(err, staging.ErrNotFound) {
		t.Errorf("stale staging entry not pruned: %v", err)
	}
	if svc.WorkspaceCount() != 2 {
		t.Fatalf("WorkspaceCount = %d, want 2", svc.WorkspaceCount())
	}

	clock.Advance(2 * time.Hour)
	svc.runJanitor(context.Background())
	if _, err := svc.GetWorkspace(old); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("idle workspace not expired: %v", err)
	}
	if _, err := svc.GetWorkspace(fresh); err != nil {
		t.Errorf("fresh workspace expired: %v", err)
	}
}

func TestService_StartJanitorStops(t *testing.T) {
	svc := NewService(ServiceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestService_PreviewImport(t *testing.T) {
	svc := NewService(ServiceConfig{ParallelThreshold: 3})

	data := append(csvFile(4), []byte("1;N;P;C;Nome;12345678901;"+strings.Repeat("x;", FieldCount)+"\n")...)
	prev, err := svc.PreviewImport("preview.csv", bytes.NewReader(data), 2)
	if err != nil {
		t.Fatalf("PreviewImport: %v", err)
	}
	if prev.TotalRows != 5 || len(prev.Sample) != 2 || prev.Strategy != StrategyParallel {
		t.Errorf("preview = %+v", prev)
	}
	if len(prev.InvalidCPFRows) != 1 || prev.InvalidCPFRows[0] != 5 {
		t.Errorf("InvalidCPFRows = %v, want [5]", prev.InvalidCPFRows)
	}
	if prev.Ignored <= 0 {
		t.Errorf("Ignored = %d, want > 0", prev.Ignored)
	}
	if svc.WorkspaceCount() != 0 {
		t.Error("preview created a workspace")
	}
}

func TestService_Shutdown(t *testing.T) {
	svc := NewService(ServiceConfig{})
	svc.CreateWorkspace()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestWriteLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLayout(&buf); err != nil {
		t.Fatalf("WriteLayout: %v", err)
	}

	data := buf.Bytes()

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 2 || got[0] != LayoutDataSheet || got[1] != LayoutFieldsSheet {
		t.Fatalf("sheets = %v", got)
	}
	rows, err := f.GetRows(LayoutDataSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || len(rows[0]) != FieldCount || rows[0][5] != "CPF" {
		t.Errorf("header row = %v", rows)
	}
	fields, _ := f.GetRows(LayoutFieldsSheet)
	if len(fields) != FieldCount+1 || fields[1][1] != FieldSequencialRegistro {
		t.Errorf("fields sheet has %d rows", len(fields))
	}

	// The empty layout imports as nothing.
	if _, err := ReadRows(LayoutFileName, bytes.NewReader(data), DefaultMaxImportSize); err != nil {
		t.Errorf("ReadRows(layout): %v", err)
	}
}
