package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/movimentacao/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// formFile extracts the "file" part of a multipart upload.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	// Allow some room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: exceeds %d MB limit", core.ErrFileTooLarge, s.cfg.Import.MaxFileSize>>20)
		}
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, core.ErrNoFile
	}
	return file, header, nil
}

// handleImport starts an import of the uploaded spreadsheet. The file is
// read before responding; conversion continues in the background.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	file, header, err := s.formFile(w, r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	defer file.Close()

	if err := s.service.StartImport(r.Context(), id, header.Filename, file); err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "started",
		"progress": "/api/workspaces/" + id + "/import/progress",
		"result":   "/api/workspaces/" + id + "/import/result",
	})
}

// handlePreview reads a spreadsheet and reports what importing it would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.formFile(w, r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	defer file.Close()

	sample, _ := strconv.Atoi(r.URL.Query().Get("sample"))
	preview, err := s.service.PreviewImport(header.Filename, file, sample)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleImportStatus returns the current import progress without blocking.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	prog, err := s.service.ImportProgress(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via the Last-Event-ID header or lastEventId query
// parameter for reconnection.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The event ID is the progress percentage, allowing clients to skip
	// already-received events after reconnection
	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := core.SessionProgress{}
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed - import finished, failed or was cancelled
				if final, err := s.service.ImportProgress(id); err == nil {
					last = final
				}
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = progress

			// Skip events that were already sent (for resumption), but
			// always forward phase changes
			percent := progress.Percent()
			if lastEventIDStr != "" && percent <= lastEventID && progress.Phase == core.PhaseConverting {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleImportResult waits for the import to finish and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ImportResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRestore reloads the staged copy of a large import, e.g. after a
// restart.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.service.RestoreWorkspace(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "restored", "records": n})
}
