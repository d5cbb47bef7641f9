// Package handler exposes the verification workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"optout/internal/verification/gate"
	"optout/internal/verification/models"
	"optout/pkg/platform/httputil"
	"optout/pkg/requestcontext"
)

// Service is the workflow surface the handler drives.
type Service interface {
	RecordPatientInformation(ctx context.Context, caller models.Caller, req *models.RecordPatientInformationRequest) error
	VerifyCode(ctx context.Context, caller models.Caller, req *models.VerifyCodeRequest) (*models.VerifyResult, error)
	ResetRetries(ctx context.Context, caller models.Caller, identifier string) error
	GetStatus(ctx context.Context, caller models.Caller, identifier string) (*models.Status, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the verification routes. Public routes accept an optional staff token and
// otherwise rely on CAPTCHA; status and reset require staff.
func (h *Handler) Register(r chi.Router, optionalStaff, requireStaff func(http.Handler) http.Handler) {
	r.Route("/v1/verifications", func(r chi.Router) {
		r.With(optionalStaff).Post("/", h.handleRecordPatientInformation)
		r.With(optionalStaff).Post("/verify", h.handleVerifyCode)
		r.With(requireStaff).Get("/{identifier}", h.handleGetStatus)
		r.With(requireStaff).Post("/{identifier}/reset-retries", h.handleResetRetries)
	})
}

func (h *Handler) handleRecordPatientInformation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[models.RecordPatientInformationRequest](w, r, h.logger)
	if !ok {
		return
	}

	caller := gate.CallerFromContext(ctx, req.CaptchaToken)
	if err := h.service.RecordPatientInformation(ctx, caller, req); err != nil {
		h.fail(ctx, w, "record patient information failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[models.VerifyCodeRequest](w, r, h.logger)
	if !ok {
		return
	}

	caller := gate.CallerFromContext(ctx, req.CaptchaToken)
	result, err := h.service.VerifyCode(ctx, caller, req)
	if err != nil {
		h.fail(ctx, w, "verify code failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.service.GetStatus(ctx, gate.CallerFromContext(ctx, ""), chi.URLParam(r, "identifier"))
	if err != nil {
		h.fail(ctx, w, "get status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleResetRetries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.ResetRetries(ctx, gate.CallerFromContext(ctx, ""), chi.URLParam(r, "identifier")); err != nil {
		h.fail(ctx, w, "reset retries failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail writes the error response. The service already logged the fault at translation,
// so this only records the outcome at debug level.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status, _ := httputil.ErrorFor(err)
	h.logger.DebugContext(ctx, msg,
		"status", status,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}
