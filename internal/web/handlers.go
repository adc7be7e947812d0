package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/movimentacao/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// rowIndex parses the {index} URL parameter.
func rowIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, &core.ValidationError{Field: "index", Err: fmt.Errorf("%w: %q", core.ErrRowOutOfRange, chi.URLParam(r, "index"))}
	}
	return i, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"workspaces": s.service.WorkspaceCount(),
	})
}

// handleStatus reports import slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"imports":    s.service.LimiterStatus(),
		"workspaces": s.service.WorkspaceCount(),
	})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Fields())
}

// handleDownloadLayout serves the empty layout workbook.
func (s *Server) handleDownloadLayout(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := core.WriteLayout(&buf); err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", core.LayoutFileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// handleCheckCPF validates one CPF the way the editor highlights it.
func (s *Server) handleCheckCPF(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "cpf")
	digits, truncated := core.NormalizeCPF(raw)
	writeJSON(w, http.StatusOK, map[string]any{
		"cpf":       digits,
		"valid":     core.ValidateCPF(raw),
		"truncated": truncated,
	})
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	id := s.service.CreateWorkspace()
	view, err := s.service.GetWorkspace(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/workspaces/"+id)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetWorkspace(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearWorkspace resets records, account and history.
func (s *Server) handleClearWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.ClearWorkspace(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	view, err := s.service.GetWorkspace(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := s.service.SetAccount(chi.URLParam(r, "id"), req.Account); err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": req.Account})
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	index, rec, err := s.service.AddRow(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"index": index, "record": rec})
}

func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	index, err := rowIndex(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := s.service.RemoveRow(chi.URLParam(r, "id"), index); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateCell stores one cell and returns the normalized value along
// with the CPF state of the row.
func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	index, err := rowIndex(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	stored, err := s.service.UpdateCell(chi.URLParam(r, "id"), index, req.Field, req.Value)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := map[string]any{"field": req.Field, "value": stored}
	if req.Field == core.FieldCPFBeneficiario {
		resp["cpfValid"] = len(stored) == core.CPFLength && core.ValidateCPF(stored)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGenerate returns the movement file as a download.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	name, content, err := s.service.Generate(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write([]byte(content))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.service.History(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
