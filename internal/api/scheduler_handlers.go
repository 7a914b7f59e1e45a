package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
)

const (
	failedDefaultLimit = 50
	failedMaxLimit     = 500
)

// HandleCronScheduler runs one bounded batch of due messages. It is called
// once a minute by the external cron trigger.
//
//	GET /api/cron/symphony-scheduler
func (h *Handlers) HandleCronScheduler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.CronBudget)
	defer cancel()

	processed, err := h.deps.Scheduler.ProcessDueMessages(ctx, h.deps.BatchSize)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Info("cron: scheduler run complete", "processed", processed, "batch_size", h.deps.BatchSize)

	httputil.OK(w, map[string]interface{}{
		"message": fmt.Sprintf("Processed %d messages", processed),
		"data": map[string]int{
			"processed": processed,
			"batchSize": h.deps.BatchSize,
		},
	})
}

// HandleFailedMessages lists the dead-letter store.
//
//	GET /api/symphony/failed?transport=&limit=&offset=
func (h *Handlers) HandleFailedMessages(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePagination(r, failedDefaultLimit, failedMaxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	transportName := r.URL.Query().Get("transport")

	msgs, total, err := h.deps.Scheduler.FailedMessages(r.Context(), transportName, page.Limit, page.Offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.FailedMessage{}
	}

	httputil.OK(w, map[string]interface{}{
		"success":    true,
		"messages":   msgs,
		"pagination": NewPaginationMeta(page, len(msgs), total),
	})
}

// HandleScheduleMessage stores a new scheduled message.
//
//	POST /api/symphony/messages
func (h *Handlers) HandleScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ScheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = domain.ScheduleOnce
	}
	if req.TransportName == "" {
		req.TransportName = h.deps.DefaultTransport
	}

	msg, err := h.deps.Scheduler.Schedule(r.Context(), req)
	if err != nil {
		if scheduler.IsClientError(err) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"success": true, "message": msg})
}

// HandleGetMessage returns one scheduled message.
//
//	GET /api/symphony/messages/{id}
func (h *Handlers) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.deps.Scheduler.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if msg == nil {
		httputil.NotFound(w, "message not found")
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "message": msg})
}

// HandleCancelMessage cancels a pending message.
//
//	DELETE /api/symphony/messages/{id}
func (h *Handlers) HandleCancelMessage(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Scheduler.Cancel(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		httputil.NotFound(w, "message not found")
	case errors.Is(err, scheduler.ErrNotCancellable):
		httputil.Conflict(w, "not_cancellable", "only pending messages can be cancelled")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, map[string]interface{}{"success": true})
	}
}
