// Package handler exposes decision recording over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"optout/internal/consent/models"
	"optout/internal/verification/gate"
	vmodels "optout/internal/verification/models"
	"optout/pkg/platform/httputil"
	"optout/pkg/requestcontext"
)

type Service interface {
	RecordDecision(ctx context.Context, caller vmodels.Caller, req models.RecordDecisionRequest) (*models.Decision, error)
	GetDecision(ctx context.Context, caller vmodels.Caller, identifier string) (*models.Decision, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router, optionalStaff, requireStaff func(http.Handler) http.Handler) {
	r.Route("/v1/decisions", func(r chi.Router) {
		r.With(optionalStaff).Post("/", h.handleRecordDecision)
		r.With(requireStaff).Get("/{identifier}", h.handleGetDecision)
	})
}

func (h *Handler) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[models.RecordDecisionRequest](w, r, h.logger)
	if !ok {
		return
	}

	decision, err := h.service.RecordDecision(ctx, gate.CallerFromContext(ctx, req.CaptchaToken), *req)
	if err != nil {
		h.logger.DebugContext(ctx, "record decision failed", "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, decision.Response())
}

func (h *Handler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decision, err := h.service.GetDecision(ctx, gate.CallerFromContext(ctx, ""), chi.URLParam(r, "identifier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision.Response())
}
