package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

// HandleLists returns every mailing list.
//
//	GET /api/lists
func (h *Handlers) HandleLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.deps.Suppression.Lists(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if lists == nil {
		lists = []domain.List{}
	}
	httputil.OK(w, map[string]interface{}{"success": true, "lists": lists})
}

// HandleCreateList creates a mailing list.
//
//	POST /api/lists
func (h *Handlers) HandleCreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	list, err := h.deps.Suppression.CreateList(r.Context(), req.Name, req.Description)
	if errors.Is(err, suppression.ErrInvalidList) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"success": true, "list": list})
}

// HandleGetList returns one list.
//
//	GET /api/lists/{id}
func (h *Handlers) HandleGetList(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Suppression.GetList(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		httputil.NotFound(w, "list not found")
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "list": list})
}

// HandleAddSubscriber adds an address to a list. Unsubscribed addresses are
// refused with 409.
//
//	POST /api/lists/{id}/subscribers
func (h *Handlers) HandleAddSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	listID := chi.URLParam(r, "id")

	sub, err := h.deps.Suppression.AddSubscriber(r.Context(), listID, req.Email)
	switch {
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, "invalid email address")
		return
	case errors.Is(err, suppression.ErrListNotFound):
		httputil.NotFound(w, "list not found")
		return
	case errors.Is(err, suppression.ErrSuppressedEmail):
		httputil.Conflict(w, "suppressed", "email is unsubscribed")
		return
	case errors.Is(err, suppression.ErrDuplicateSubscriber):
		httputil.Conflict(w, "duplicate", "email is already subscribed")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	resp := map[string]interface{}{"success": true, "subscriber": sub}
	if link, err := h.deps.Suppression.GenerateUnsubscribeURL(sub.Email, listID, h.deps.PublicURL); err == nil {
		resp["unsubscribe_url"] = link
	}
	httputil.Created(w, resp)
}

// HandleUnsubscribes lists unsubscribe records.
//
//	GET /api/unsubscribes?email=&list_id=&reason=&limit=&offset=
func (h *Handlers) HandleUnsubscribes(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePagination(r, 50, 500)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	recs, total, err := h.deps.Suppression.Unsubscribes(r.Context(), suppression.UnsubscribeFilter{
		Email:  q.Get("email"),
		ListID: q.Get("list_id"),
		Reason: q.Get("reason"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.UnsubscribeRecord{}
	}
	httputil.OK(w, map[string]interface{}{
		"success":      true,
		"unsubscribes": recs,
		"pagination":   NewPaginationMeta(page, len(recs), total),
	})
}

// HandleSuppressionStats returns list and unsubscribe counters.
//
//	GET /api/suppression/stats
func (h *Handlers) HandleSuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Suppression.GetStats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "stats": stats})
}
