package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/service"
)

// WebhookHandler serves an account's order event subscriptions.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

type subscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhookResponse struct {
	WebhookID string `json:"webhook_id"`
	AccountID string `json:"account_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type webhookListResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
}

// Subscribe handles POST /accounts/{account_id}/webhooks. It answers 201 when
// at least one subscription was created and 200 when all of them already
// existed.
func (h *WebhookHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, anyCreated, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		AccountID: chi.URLParam(r, "account_id"),
		URL:       strings.TrimSpace(req.URL),
		Events:    req.Events,
	})
	if err != nil {
		mapWebhookError(w, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}
	WriteJSON(w, status, webhookListResponse{Webhooks: buildWebhookResponses(webhooks)})
}

// List handles GET /accounts/{account_id}/webhooks. The optional event query
// parameter narrows the result to one order event.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	if event != "" && !domain.KnownWebhookEvent(event) {
		WriteError(w, http.StatusBadRequest, "validation_error",
			"event must be one of: "+strings.Join(domain.WebhookEvents, ", "))
		return
	}

	webhooks, err := h.webhookSvc.List(chi.URLParam(r, "account_id"))
	if err != nil {
		mapWebhookError(w, err)
		return
	}

	if event != "" {
		matching := webhooks[:0:0]
		for _, wh := range webhooks {
			if wh.Event == event {
				matching = append(matching, wh)
			}
		}
		webhooks = matching
	}
	WriteJSON(w, http.StatusOK, webhookListResponse{Webhooks: buildWebhookResponses(webhooks)})
}

// Get handles GET /webhooks/{webhook_id}.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.webhookSvc.Get(chi.URLParam(r, "webhook_id"))
	if err != nil {
		mapWebhookError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildWebhookResponses([]*domain.Webhook{wh})[0])
}

// Delete handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.Delete(chi.URLParam(r, "webhook_id")); err != nil {
		mapWebhookError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildWebhookResponses(webhooks []*domain.Webhook) []webhookResponse {
	out := make([]webhookResponse, len(webhooks))
	for i, wh := range webhooks {
		out[i] = webhookResponse{
			WebhookID: wh.WebhookID,
			AccountID: wh.AccountID,
			Event:     wh.Event,
			URL:       wh.URL,
			CreatedAt: timestamp(wh.CreatedAt),
			UpdatedAt: timestamp(wh.UpdatedAt),
		}
	}
	return out
}

func mapWebhookError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, "webhook_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
