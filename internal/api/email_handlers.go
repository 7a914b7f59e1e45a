package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/inbound"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

const maxInboundBytes = 10 << 20

// HandleUnsubscribe processes the one-click link generated for outgoing
// mail. email and token come from the query string or a form body.
//
//	POST /api/emails/unsubscribe?email=&token=
func (h *Handlers) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	token := r.FormValue("token")
	if email == "" || token == "" {
		httputil.BadRequest(w, "email and token are required")
		return
	}

	rec, err := h.deps.Suppression.UnsubscribeWithToken(r.Context(), email, token, domain.ReasonUserRequest)
	switch {
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, "invalid email address")
		return
	case errors.Is(err, suppression.ErrInvalidToken):
		httputil.Error(w, http.StatusForbidden, "invalid or expired unsubscribe link")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"success": true,
		"email":   rec.Email,
		"list_id": rec.ListID,
		"global":  rec.Global(),
	})
}

// HandleInbound accepts a raw RFC 5322 message from the bounce mailbox
// relay. The optional sender query parameter names the original envelope
// sender.
//
//	POST /api/emails/inbound?sender=
func (h *Handlers) HandleInbound(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBytes))
	if err != nil {
		httputil.BadRequest(w, "read error")
		return
	}
	if len(raw) == 0 {
		httputil.BadRequest(w, "empty message")
		return
	}

	res, err := h.deps.Inbound.Process(r.Context(), raw, r.URL.Query().Get("sender"))
	switch {
	case errors.Is(err, inbound.ErrMalformedMessage):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "result": res})
}
