package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/movimentacao/internal/staging"
)

// importSession tracks one import of one workspace from upload to completion.
type importSession struct {
	workspaceID string
	fileName    string
	cancel      context.CancelFunc
	done        chan struct{}
	committed   bool // records loaded into the store; guarded by the workspace mutex

	mu        sync.Mutex
	progress  SessionProgress
	result    *ImportResult
	listeners []chan SessionProgress
}

func (sess *importSession) finished() bool {
	select {
	case <-sess.done:
		return true
	default:
		return false
	}
}

func (sess *importSession) snapshot() SessionProgress {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.progress
}

// update applies fn to the progress and sends the result to every listener.
func (sess *importSession) update(fn func(p *SessionProgress)) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	fn(&sess.progress)
	for _, ch := range sess.listeners {
		select {
		case ch <- sess.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the result, closes listeners and marks the session done.
func (sess *importSession) finish(result *ImportResult) {
	sess.mu.Lock()
	sess.result = result
	for _, ch := range sess.listeners {
		close(ch)
	}
	sess.listeners = nil
	sess.mu.Unlock()

	sess.cancel()
	close(sess.done)
}

// StartImport begins importing a spreadsheet into the workspace and returns
// once the file has been read from r. Conversion continues in the
// background; follow it with SubscribeProgress or ImportResult.
//
// Returns ErrTooManyImports if no import slot frees up in time,
// ErrImportInFlight if the workspace is already importing and
// ErrFileTooLarge if r exceeds the configured size.
func (s *Service) StartImport(ctx context.Context, id, fileName string, r io.Reader) error {
	ws, err := s.get(id)
	if err != nil {
		return err
	}
	if fileName == "" || r == nil {
		return ErrNoFile
	}

	ws.mu.Lock()
	busy := ws.importing()
	ws.mu.Unlock()
	if busy {
		return ErrImportInFlight
	}

	data, err := io.ReadAll(CapSize(r, s.cfg.MaxImportSize))
	if err != nil {
		return err
	}

	// Acquire import slot (blocks until available or timeout)
	if !s.limiter.TryAcquire() {
		slog.Info("waiting for import slot",
			"workspace_id", id,
			"active", s.limiter.ActiveCount(),
		)
		if err := s.limiter.Acquire(ctx); err != nil {
			return err
		}
	}

	importCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)
	sess := &importSession{
		workspaceID: id,
		fileName:    fileName,
		cancel:      cancel,
		done:        make(chan struct{}),
		progress: SessionProgress{
			WorkspaceID: id,
			FileName:    fileName,
			Phase:       PhaseStarting,
		},
	}

	ws.mu.Lock()
	if ws.importing() {
		ws.mu.Unlock()
		cancel()
		s.limiter.Release()
		return ErrImportInFlight
	}
	ws.session = sess
	ws.touched = s.cfg.Clock()
	ws.mu.Unlock()

	slog.Info("import started",
		"workspace_id", id,
		"file", fileName,
		"bytes", len(data),
		"client_ip", ClientIPFromContext(ctx),
		"request_id", RequestIDFromContext(ctx),
	)

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import",
					"workspace_id", id,
					"file", fileName,
					"panic", r,
				)
				msg := fmt.Sprintf("internal error: %v", r)
				sess.update(func(p *SessionProgress) {
					p.Phase = PhaseFailed
					p.Error = msg
				})
				sess.finish(&ImportResult{WorkspaceID: id, FileName: fileName, Error: msg})
			}
		}()
		s.runImport(importCtx, ws, sess, data)
	}()

	return nil
}

// runImport reads, converts, stages and loads one file.
func (s *Service) runImport(ctx context.Context, ws *workspace, sess *importSession, data []byte) {
	start := s.cfg.Clock()
	result := &ImportResult{WorkspaceID: ws.id, FileName: sess.fileName}

	fail := func(err error) {
		phase := PhaseFailed
		outcome := "failed"
		if errors.Is(err, ErrImportCancelled) || errors.Is(err, context.Canceled) {
			phase = PhaseCancelled
			outcome = "cancelled"
		}
		result.Error = err.Error()
		result.Duration = s.cfg.Clock().Sub(start)
		sess.update(func(p *SessionProgress) {
			p.Phase = phase
			p.Error = FormatUserError(err)
		})
		s.cfg.Recorder.ImportFinished(result.Strategy, outcome, 0, result.Duration)
		slog.Warn("import ended", "workspace_id", ws.id, "file", sess.fileName, "outcome", outcome, "error", err)
		sess.finish(result)
	}

	sess.update(func(p *SessionProgress) { p.Phase = PhaseReading })

	rows, err := ReadRows(sess.fileName, bytes.NewReader(data), s.cfg.MaxImportSize)
	if err != nil {
		fail(err)
		return
	}
	if len(rows) == 0 {
		fail(ErrEmptyFile)
		return
	}

	result.Strategy = ws.pipeline.StrategyFor(len(rows))
	sess.update(func(p *SessionProgress) {
		p.Phase = PhaseConverting
		p.Strategy = result.Strategy
		p.Total = len(rows)
	})

	run, err := ws.pipeline.Start(ctx, rows, func(prog ImportProgress) {
		sess.update(func(p *SessionProgress) { p.ImportProgress = prog })
	})
	if err != nil {
		fail(err)
		return
	}
	records, err := run.Wait()
	if err != nil {
		if errors.Is(err, ErrImportCancelled) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = s.stopped(ctx)
		}
		fail(err)
		return
	}

	if s.shouldStage(len(records)) {
		sess.update(func(p *SessionProgress) { p.Phase = PhaseStaging })
		if err := s.stage(ctx, ws.id, records); err != nil {
			// The records are still loaded; only restore-after-restart is lost.
			slog.Error("staging import failed", "workspace_id", ws.id, "error", err)
		} else {
			result.Staged = true
		}
	}

	// CancelImport takes ws.mu too, so a cancel either lands before the
	// records are loaded or is refused.
	ws.mu.Lock()
	if ctx.Err() != nil {
		ws.mu.Unlock()
		// A partial write leaves a meta behind, so clear whatever was attempted.
		if s.shouldStage(len(records)) {
			if err := s.clearStaged(context.Background(), ws.id); err != nil {
				slog.Warn("clear staged import after cancel", "workspace_id", ws.id, "error", err)
			}
			result.Staged = false
		}
		fail(s.stopped(ctx))
		return
	}
	result.Warnings = ws.store.Load(records)
	ws.touched = s.cfg.Clock()
	sess.committed = true
	ws.mu.Unlock()

	result.Records = len(records)
	result.Duration = s.cfg.Clock().Sub(start)

	sess.update(func(p *SessionProgress) {
		p.Phase = PhaseComplete
		p.Current = len(records)
		p.Total = len(records)
	})
	s.cfg.Recorder.ImportFinished(result.Strategy, "success", len(records), result.Duration)

	slog.Info("import completed",
		"workspace_id", ws.id,
		"file", sess.fileName,
		"records", len(records),
		"strategy", result.Strategy,
		"staged", result.Staged,
		"warnings", len(result.Warnings),
		"duration_ms", result.Duration.Milliseconds(),
	)
	sess.finish(result)
}

// stopped converts the error of a done import context.
func (s *Service) stopped(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", context.DeadlineExceeded, s.cfg.ImportTimeout)
	}
	return fmt.Errorf("%w: %v", ErrImportCancelled, ctx.Err())
}

func (s *Service) shouldStage(n int) bool {
	return s.cfg.Staging != nil && n >= s.cfg.StagingThreshold
}

// stage writes records as JSON chunks. The meta is rewritten after every
// chunk, so LoadedRecords < TotalRecords marks an interrupted write.
func (s *Service) stage(ctx context.Context, key string, records []Record) error {
	st := s.cfg.Staging
	if err := st.Clear(ctx, key); err != nil {
		return err
	}

	size := s.cfg.StagingChunkSize
	meta := staging.Meta{
		TotalRecords: len(records),
		TotalChunks:  (len(records) + size - 1) / size,
		Timestamp:    s.cfg.Clock(),
	}
	if err := st.SaveMeta(ctx, key, meta); err != nil {
		return err
	}

	for i := 0; i < meta.TotalChunks; i++ {
		end := min((i+1)*size, len(records))
		data, err := json.Marshal(records[i*size : end])
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
		if err := st.SaveChunk(ctx, key, i, data); err != nil {
			return err
		}
		meta.LoadedRecords = end
		if err := st.SaveMeta(ctx, key, meta); err != nil {
			return err
		}
	}
	return nil
}

// RestoreWorkspace loads a staged import back into the workspace, creating
// the workspace if it is not in memory.
//
// Returns ErrNothingStaged if nothing complete is staged for id, and a
// *PersistenceStaleError (after discarding the entry) if it is too old.
func (s *Service) RestoreWorkspace(ctx context.Context, id string) (int, error) {
	if s.cfg.Staging == nil {
		return 0, ErrNothingStaged
	}

	st := s.cfg.Staging
	meta, err := st.LoadMeta(ctx, id)
	if errors.Is(err, staging.ErrNotFound) {
		return 0, ErrNothingStaged
	}
	if err != nil {
		return 0, err
	}

	age := s.cfg.Clock().Sub(meta.Timestamp)
	if age > s.cfg.StagingMaxAge {
		if err := st.Clear(ctx, id); err != nil {
			slog.Warn("clear stale staging entry", "workspace_id", id, "error", err)
		}
		return 0, &PersistenceStaleError{SavedAt: meta.Timestamp, Age: age, MaxAge: s.cfg.StagingMaxAge}
	}
	if meta.LoadedRecords < meta.TotalRecords {
		return 0, fmt.Errorf("%w: incomplete (%d of %d records)", ErrNothingStaged, meta.LoadedRecords, meta.TotalRecords)
	}

	records := make([]Record, 0, meta.TotalRecords)
	for i := 0; i < meta.TotalChunks; i++ {
		data, err := st.LoadChunk(ctx, id, i)
		if err != nil {
			if errors.Is(err, staging.ErrNotFound) {
				return 0, fmt.Errorf("%w: chunk %d missing", ErrNothingStaged, i)
			}
			return 0, err
		}
		var chunk []Record
		if err := json.Unmarshal(data, &chunk); err != nil {
			return 0, fmt.Errorf("decode chunk %d: %w", i, err)
		}
		records = append(records, chunk...)
	}

	// Only now that there is something to restore may a workspace be created.
	ws, err := s.getOrCreate(id)
	if err != nil {
		return 0, err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.importing() {
		return 0, ErrImportInFlight
	}
	ws.store.Load(records)
	ws.touched = s.cfg.Clock()

	slog.Info("workspace restored", "workspace_id", id, "records", len(records))
	return len(records), nil
}

func (s *Service) clearStaged(ctx context.Context, id string) error {
	if s.cfg.Staging == nil {
		return nil
	}
	return s.cfg.Staging.Clear(ctx, id)
}

func (s *Service) session(id string) (*importSession, error) {
	ws, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.session == nil {
		return nil, ErrNoImportSession
	}
	return ws.session, nil
}

// SubscribeProgress returns a channel of progress updates for the latest
// import of the workspace. The current progress is sent immediately and the
// channel is closed when the import finishes. Slow readers miss updates.
func (s *Service) SubscribeProgress(id string) (<-chan SessionProgress, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan SessionProgress, 10)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	ch <- sess.progress
	if sess.finished() || sess.result != nil {
		close(ch)
		return ch, nil
	}
	sess.listeners = append(sess.listeners, ch)
	return ch, nil
}

// CancelImport cancels the running import of the workspace. Cancelling a
// finished import fails with ErrNoImportSession.
func (s *Service) CancelImport(id string) error {
	ws, err := s.get(id)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	sess := ws.session
	if sess == nil {
		return ErrNoImportSession
	}
	if sess.committed || sess.finished() {
		return fmt.Errorf("%w: import already finished", ErrNoImportSession)
	}
	sess.cancel()
	return nil
}

// ImportProgress returns the progress of the latest import without blocking.
func (s *Service) ImportProgress(id string) (SessionProgress, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionProgress{}, err
	}
	return sess.snapshot(), nil
}

// ImportResult waits for the latest import of the workspace to finish and
// returns its result.
func (s *Service) ImportResult(ctx context.Context, id string) (*ImportResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.result, nil
}
