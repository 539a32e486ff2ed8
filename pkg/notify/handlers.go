package notify

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/httputil"
	"github.com/platinummonkey/larkbridge/pkg/lark"
)

// messageRequest is the body of POST /notify/accounts/{id}/messages. Exactly one of Text
// or Card is expected; Card wins when both are set.
type messageRequest struct {
	Text string        `json:"text"`
	Card *ApprovalCard `json:"card"`
}

type approvalRequest struct {
	TemplateCode string           `json:"template_code"`
	Form         []lark.FormField `json:"form"`
}

type messageResponse struct {
	MessageID string `json:"message_id"`
}

// RegisterRoutes registers the notification routes
func (d *Dispatcher) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notify/accounts/{id:[0-9]+}/messages", d.handleMessage).Methods(http.MethodPost)
	router.HandleFunc("/notify/accounts/{id:[0-9]+}/approvals", d.handleCreateApproval).Methods(http.MethodPost)
	router.HandleFunc("/notify/approvals/{code}", d.handleApprovalStatus).Methods(http.MethodGet)
}

// handleMessage handles POST /notify/accounts/{id}/messages
func (d *Dispatcher) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req messageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var (
		messageID string
		err       error
	)
	switch {
	case req.Card != nil:
		messageID, err = d.SendApprovalNotification(r.Context(), id, *req.Card)
	case req.Text != "":
		messageID, err = d.Notify(r.Context(), id, Text(req.Text))
	default:
		httputil.WriteBadRequest(w, "text or card is required")
		return
	}
	if err != nil {
		d.writeError(w, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusCreated, messageResponse{MessageID: messageID})
}

// handleCreateApproval handles POST /notify/accounts/{id}/approvals
func (d *Dispatcher) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req approvalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TemplateCode == "" {
		httputil.WriteBadRequest(w, "template_code is required")
		return
	}

	created, err := d.CreateApproval(r.Context(), id, req.TemplateCode, req.Form)
	if err != nil {
		d.writeError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, created)
}

// handleApprovalStatus handles GET /notify/approvals/{code}
func (d *Dispatcher) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	status, err := d.ApprovalStatus(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		d.writeError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, status)
}

func (d *Dispatcher) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnboundAccount):
		httputil.WriteConflict(w, "account not linked")
	case errors.Is(err, accounts.ErrNotFound):
		httputil.WriteNotFound(w, "account not found")
	case lark.IsAPIError(err):
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		d.logger.WithError(err).Error("notification request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "notification failed")
	}
}
