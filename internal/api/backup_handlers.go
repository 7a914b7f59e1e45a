package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadmap-mailflow/internal/backup"
	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
)

const maxImportBytes = 20 << 20

func (h *Handlers) backupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backup.ErrNotFound):
		httputil.NotFound(w, "backup not found")
	case errors.Is(err, backup.ErrInvalidBackup):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// HandleCreateBackup snapshots the posted messages.
//
//	POST /api/backups  {"name": "...", "messages": [...]}
func (h *Handlers) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string               `json:"name"`
		Messages []domain.MailMessage `json:"messages"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	b, err := h.deps.Backups.CreateBackup(r.Context(), req.Name, req.Messages)
	if err != nil {
		h.backupError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{
		"success":  true,
		"id":       b.ID,
		"name":     b.Name,
		"messages": len(b.Messages),
	})
}

// HandleImportBackup stores a previously exported backup document.
func (h *Handlers) HandleImportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		httputil.BadRequest(w, "read error")
		return
	}
	b, err := h.deps.Backups.ImportFromJSON(r.Context(), data)
	if err != nil {
		h.backupError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"success": true, "id": b.ID, "name": b.Name})
}

func (h *Handlers) HandleGetBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Backups.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backupError(w, err)
		return
	}
	if b == nil {
		httputil.NotFound(w, "backup not found")
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "backup": b})
}

func (h *Handlers) HandleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Backups.DeleteBackup(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.backupError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleExportBackup downloads the backup as a JSON attachment.
func (h *Handlers) HandleExportBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.deps.Backups.ExportToJSON(r.Context(), id)
	if err != nil {
		h.backupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleRestoreBackup returns the backed up messages so the caller can
// re-send or re-import them.
func (h *Handlers) HandleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.deps.Backups.RestoreBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backupError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "messages": msgs, "count": len(msgs)})
}
