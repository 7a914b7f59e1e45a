package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/events"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
)

type createWebhookRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
	Active     *bool    `json:"active"`
}

// HandleListWebhooks returns every registered webhook.
func (h *Handlers) HandleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs := h.deps.Webhooks.List()
	views := make([]events.SubscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, s.View())
	}
	httputil.OK(w, map[string]interface{}{"success": true, "webhooks": views})
}

// HandleCreateWebhook registers a webhook. Active defaults to true.
//
//	POST /api/webhooks
func (h *Handlers) HandleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	types := make([]domain.EmailEventType, 0, len(req.EventTypes))
	for _, raw := range req.EventTypes {
		t, err := events.ParseEventType(raw)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		types = append(types, t)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	sub, err := h.deps.Webhooks.Add(domain.WebhookConfig{URL: req.URL, Secret: req.Secret}, types, active)
	if errors.Is(err, events.ErrInvalidWebhook) || errors.Is(err, events.ErrUnknownEventType) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"success": true, "webhook": sub.View()})
}

// HandleWebhookEventTypes lists the event types a webhook may subscribe to.
func (h *Handlers) HandleWebhookEventTypes(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{"event_types": h.deps.Webhooks.EventTypes()})
}

// HandleUpdateWebhook toggles a webhook's active flag.
//
//	PATCH /api/webhooks/{id}  {"active": false}
func (h *Handlers) HandleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.BadRequest(w, "active is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.deps.Webhooks.SetActive(id, *req.Active); err != nil {
		if errors.Is(err, events.ErrSubscriptionNotFound) {
			httputil.NotFound(w, "webhook not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	sub, _ := h.deps.Webhooks.Get(id)
	httputil.OK(w, map[string]interface{}{"success": true, "webhook": sub.View()})
}

func (h *Handlers) HandleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Webhooks.Remove(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, events.ErrSubscriptionNotFound) {
			httputil.NotFound(w, "webhook not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleWebhookAttempts returns recent delivery attempts, newest first.
//
//	GET /api/webhooks/{id}/attempts?limit=
func (h *Handlers) HandleWebhookAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.deps.Webhooks.Get(id); !ok {
		httputil.NotFound(w, "webhook not found")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		if n < 500 {
			limit = n
		} else {
			limit = 500
		}
	}

	attempts, err := h.deps.Attempts.Attempts(r.Context(), id, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	httputil.OK(w, map[string]interface{}{"success": true, "attempts": attempts})
}
