package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trainflow/internal/renewal/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	"trainflow/pkg/platform/httputil"
	"trainflow/pkg/requestcontext"
)

// Service defines the workflow operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, actor models.Actor, certID id.CertificationID, urgency string) (*models.Request, error)
	Approve(ctx context.Context, actor models.Actor, requestID id.RenewalID, comment string) (*models.Request, error)
	Reject(ctx context.Context, actor models.Actor, requestID id.RenewalID, reason string) (*models.Request, error)
	Get(ctx context.Context, actor models.Actor, requestID id.RenewalID) (*models.Request, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the renewal routes. Expects auth middleware upstream.
func (h *Handler) Register(r chi.Router) {
	r.Post("/renewals", h.HandleSubmit)
	r.Get("/renewals/{id}", h.HandleGet)
	r.Post("/renewals/{id}/approve", h.HandleApprove)
	r.Post("/renewals/{id}/reject", h.HandleReject)
}

// HandleSubmit handles POST /renewals.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	actor, ok := h.actor(ctx, w)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	renewal, err := h.service.Submit(ctx, actor, req.parsedCertificationID, req.Urgency)
	if err != nil {
		h.logFailure(ctx, "renewal submit failed", err, "certification_id", req.CertificationID)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "renewal submitted",
		"request_id", requestID,
		"renewal_id", renewal.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, renewal)
}

// HandleGet handles GET /renewals/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w)
	if !ok {
		return
	}
	renewalID, err := id.ParseRenewalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	renewal, err := h.service.Get(ctx, actor, renewalID)
	if err != nil {
		h.logFailure(ctx, "renewal lookup failed", err, "renewal_id", renewalID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, renewal)
}

// HandleApprove handles POST /renewals/{id}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(ctx, w)
	if !ok {
		return
	}
	renewalID, err := id.ParseRenewalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	renewal, err := h.service.Approve(ctx, actor, renewalID, req.Comment)
	if err != nil {
		h.logFailure(ctx, "renewal approve failed", err, "renewal_id", renewalID)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "renewal approved",
		"request_id", requestID,
		"renewal_id", renewal.ID,
		"status", renewal.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, renewal)
}

// HandleReject handles POST /renewals/{id}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(ctx, w)
	if !ok {
		return
	}
	renewalID, err := id.ParseRenewalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	renewal, err := h.service.Reject(ctx, actor, renewalID, req.Reason)
	if err != nil {
		h.logFailure(ctx, "renewal reject failed", err, "renewal_id", renewalID)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "renewal rejected",
		"request_id", requestID,
		"renewal_id", renewal.ID,
	)
	httputil.WriteJSON(w, http.StatusOK, renewal)
}

// actor reads the authenticated caller recorded by the auth middleware.
func (h *Handler) actor(ctx context.Context, w http.ResponseWriter) (models.Actor, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return models.Actor{}, false
	}
	return models.Actor{
		ID:       userID,
		TenantID: requestcontext.TenantID(ctx),
		Role:     training.Role(requestcontext.Role(ctx)),
	}, true
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
