package core

import (
	"context"
	"log/slog"
	"time"
)

// maxHistory is the number of generated files remembered per workspace.
const maxHistory = 20

// GeneratedFile describes one generated movement file.
type GeneratedFile struct {
	FileName    string    `json:"fileName"`
	Records     int       `json:"records"`
	Account     string    `json:"account"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Generate renders the workspace into a movement file and returns its
// download name and content. The account number must be set.
func (s *Service) Generate(id string) (string, string, error) {
	var (
		name    string
		content string
	)
	err := s.withWorkspace(id, func(ws *workspace) error {
		if ws.importing() {
			return ErrImportInFlight
		}

		at := s.cfg.Clock()
		records := ws.store.Records()
		var err error
		content, err = EncodeAt(ws.account, records, at)
		if err != nil {
			return err
		}
		name = FileName(at)

		ws.history = append(ws.history, GeneratedFile{
			FileName:    name,
			Records:     len(records),
			Account:     ws.account,
			GeneratedAt: at,
		})
		if len(ws.history) > maxHistory {
			ws.history = ws.history[len(ws.history)-maxHistory:]
		}

		s.cfg.Recorder.FileGenerated(len(records))
		slog.Info("file generated",
			"workspace_id", id,
			"file", name,
			"records", len(records),
		)
		return nil
	})
	return name, content, err
}

// History returns the files generated for the workspace, oldest first.
func (s *Service) History(id string) ([]GeneratedFile, error) {
	var out []GeneratedFile
	err := s.withWorkspace(id, func(ws *workspace) error {
		out = make([]GeneratedFile, len(ws.history))
		copy(out, ws.history)
		return nil
	})
	return out, err
}

// ClearWorkspace drops every record, the account number, the generation
// history and any staged import, leaving one fresh row.
func (s *Service) ClearWorkspace(ctx context.Context, id string) error {
	err := s.withWorkspace(id, func(ws *workspace) error {
		if ws.importing() {
			return ErrImportInFlight
		}
		ws.store.Clear()
		ws.account = ""
		ws.history = nil
		return nil
	})
	if err != nil {
		return err
	}
	return s.clearStaged(ctx, id)
}
