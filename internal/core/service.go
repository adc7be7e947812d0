package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/movimentacao/internal/staging"
	"github.com/google/uuid"
)

// Defaults for ServiceConfig zero values.
const (
	DefaultImportTimeout    = 10 * time.Minute
	DefaultStagingThreshold = 5000
	DefaultStagingChunkSize = 1000
	DefaultStagingMaxAge    = time.Hour
	DefaultWorkspaceTTL     = 24 * time.Hour
)

// Recorder receives operational measurements. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ImportFinished(strategy Strategy, outcome string, rows int, d time.Duration)
	FileGenerated(records int)
	WorkspacesActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) ImportFinished(Strategy, string, int, time.Duration) {}
func (nopRecorder) FileGenerated(int)                                   {}
func (nopRecorder) WorkspacesActive(int)                                {}

// ServiceConfig configures a Service. Zero values select the defaults.
type ServiceConfig struct {
	// Staging persists large imports so they survive a restart. Nil
	// disables staging.
	Staging          staging.Store
	StagingThreshold int           // records at which an import is staged
	StagingChunkSize int           // records per staged chunk
	StagingMaxAge    time.Duration // staged imports older than this are discarded

	ImportTimeout        time.Duration
	MaxImportSize        int64
	MaxConcurrentImports int
	MaxImportWait        time.Duration

	// Pipeline tuning, see NewPipeline.
	ChunkSize         int
	ParallelThreshold int
	Workers           int

	WorkspaceTTL time.Duration
	Recorder     Recorder
	Clock        func() time.Time
}

func (c *ServiceConfig) applyDefaults() {
	if c.StagingThreshold <= 0 {
		c.StagingThreshold = DefaultStagingThreshold
	}
	if c.StagingChunkSize <= 0 {
		c.StagingChunkSize = DefaultStagingChunkSize
	}
	if c.StagingMaxAge <= 0 {
		c.StagingMaxAge = DefaultStagingMaxAge
	}
	if c.ImportTimeout <= 0 {
		c.ImportTimeout = DefaultImportTimeout
	}
	if c.MaxImportSize <= 0 {
		c.MaxImportSize = DefaultMaxImportSize
	}
	if c.WorkspaceTTL <= 0 {
		c.WorkspaceTTL = DefaultWorkspaceTTL
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Service owns the workspaces of the editing surface. Each workspace is one
// RecordStore plus its account number; all access to a workspace is
// serialised by its mutex.
type Service struct {
	cfg     ServiceConfig
	limiter *ImportLimiter

	mu         sync.RWMutex
	workspaces map[string]*workspace
}

type workspace struct {
	id       string
	pipeline *Pipeline

	mu      sync.Mutex
	store   *RecordStore
	account string
	touched time.Time
	session *importSession // latest import, nil before the first one
	history []GeneratedFile
}

// importing reports whether an import is between upload and completion.
// The pipeline is idle while the file is read and while records are staged,
// so the session is what guards the store. Callers hold ws.mu.
func (ws *workspace) importing() bool {
	return ws.session != nil && !ws.session.finished()
}

// WorkspaceView is a snapshot of a workspace.
type WorkspaceView struct {
	ID             string   `json:"id"`
	Account        string   `json:"account"`
	Records        []Record `json:"records"`
	InvalidCPFRows []int    `json:"invalidCpfRows"`
	Importing      bool     `json:"importing"`
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:        cfg,
		limiter:    NewImportLimiter(cfg.MaxConcurrentImports, cfg.MaxImportWait),
		workspaces: make(map[string]*workspace),
	}
}

func (s *Service) newWorkspace(id string) *workspace {
	return &workspace{
		id: id,
		pipeline: NewPipeline(
			WithChunkSize(s.cfg.ChunkSize),
			WithParallelThreshold(s.cfg.ParallelThreshold),
			WithWorkers(s.cfg.Workers),
			WithClock(s.cfg.Clock),
		),
		store:   NewRecordStore(WithStoreClock(s.cfg.Clock)),
		touched: s.cfg.Clock(),
	}
}

// CreateWorkspace starts an empty workspace holding one fresh row.
func (s *Service) CreateWorkspace() string {
	ws := s.newWorkspace(uuid.New().String())

	s.mu.Lock()
	s.workspaces[ws.id] = ws
	n := len(s.workspaces)
	s.mu.Unlock()

	s.cfg.Recorder.WorkspacesActive(n)
	slog.Debug("workspace created", "workspace_id", ws.id)
	return ws.id
}

func (s *Service) get(id string) (*workspace, error) {
	s.mu.RLock()
	ws, ok := s.workspaces[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	return ws, nil
}

// getOrCreate returns the workspace for id, creating it if id is a valid
// workspace id that is not in memory (e.g. after a restart).
func (s *Service) getOrCreate(id string) (*workspace, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}

	s.mu.Lock()
	ws, ok := s.workspaces[id]
	if !ok {
		ws = s.newWorkspace(id)
		s.workspaces[id] = ws
	}
	n := len(s.workspaces)
	s.mu.Unlock()

	if !ok {
		s.cfg.Recorder.WorkspacesActive(n)
	}
	return ws, nil
}

// withWorkspace runs fn with the workspace locked.
func (s *Service) withWorkspace(id string, fn func(ws *workspace) error) error {
	ws, err := s.get(id)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.touched = s.cfg.Clock()
	return fn(ws)
}

// GetWorkspace returns a snapshot of the workspace.
func (s *Service) GetWorkspace(id string) (WorkspaceView, error) {
	var view WorkspaceView
	err := s.withWorkspace(id, func(ws *workspace) error {
		view = WorkspaceView{
			ID:             ws.id,
			Account:        ws.account,
			Records:        ws.store.Records(),
			InvalidCPFRows: ws.store.InvalidCPFRows(),
			Importing:      ws.importing(),
		}
		return nil
	})
	return view, err
}

// DeleteWorkspace cancels any running import, discards staged data and
// forgets the workspace.
func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	s.mu.Lock()
	ws, ok := s.workspaces[id]
	delete(s.workspaces, id)
	n := len(s.workspaces)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	s.cfg.Recorder.WorkspacesActive(n)

	ws.mu.Lock()
	if ws.session != nil {
		ws.session.cancel()
	}
	ws.mu.Unlock()

	return s.clearStaged(ctx, id)
}

// SetAccount sets the company account number written in the file header.
func (s *Service) SetAccount(id, account string) error {
	return s.withWorkspace(id, func(ws *workspace) error {
		ws.account = account
		return nil
	})
}

// AddRow appends a fresh row and returns its index and contents.
func (s *Service) AddRow(id string) (int, Record, error) {
	var (
		index int
		rec   Record
	)
	err := s.withWorkspace(id, func(ws *workspace) error {
		if ws.importing() {
			return ErrImportInFlight
		}
		index = ws.store.AddRow()
		rec, _ = ws.store.Record(index)
		return nil
	})
	return index, rec, err
}

// RemoveRow deletes a row; the rows after it are renumbered.
func (s *Service) RemoveRow(id string, index int) error {
	return s.withWorkspace(id, func(ws *workspace) error {
		if ws.importing() {
			return ErrImportInFlight
		}
		return ws.store.RemoveRow(index)
	})
}

// UpdateCell stores a normalized value and returns it.
func (s *Service) UpdateCell(id string, index int, fieldID, value string) (string, error) {
	var stored string
	err := s.withWorkspace(id, func(ws *workspace) error {
		if ws.importing() {
			return ErrImportInFlight
		}
		var err error
		stored, err = ws.store.UpdateCell(index, fieldID, value)
		return err
	})
	return stored, err
}

// WorkspaceCount returns the number of workspaces in memory.
func (s *Service) WorkspaceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workspaces)
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// Shutdown cancels running imports and waits for them to release their
// slots, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, ws := range s.workspaces {
		ws.mu.Lock()
		if ws.session != nil {
			ws.session.cancel()
		}
		ws.mu.Unlock()
	}
	s.mu.RUnlock()

	return s.limiter.WaitForDrain(ctx)
}
