package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"trainflow/internal/expiry/scan"
	"trainflow/internal/expiry/scheduler"
	training "trainflow/internal/training/models"
	dErrors "trainflow/pkg/domain-errors"
	"trainflow/pkg/platform/httputil"
	authmw "trainflow/pkg/platform/middleware/auth"
	"trainflow/pkg/requestcontext"
)

// Runner runs one serialised scan.
type Runner interface {
	Run(ctx context.Context, trigger string) (scan.ScanResult, error)
}

// Handler exposes the on-demand scan trigger. Concurrent calls share one run.
type Handler struct {
	runner Runner
	logger *slog.Logger
	group  singleflight.Group
}

func New(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register mounts POST /admin/expiry-scans for administrators and training officers.
func (h *Handler) Register(r chi.Router) {
	r.With(authmw.RequireRole(h.logger,
		string(training.RoleAdministrator),
		string(training.RoleTrainingOfficer),
	)).Post("/admin/expiry-scans", h.HandleRunScan)
}

type scanResponse struct {
	scan.ScanResult
	Shared bool `json:"shared"`
}

// HandleRunScan handles POST /admin/expiry-scans.
func (h *Handler) HandleRunScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	// The shared run must not die with whichever caller started it.
	ch := h.group.DoChan("expiry-scan", func() (any, error) {
		return h.runner.Run(context.WithoutCancel(ctx), scheduler.TriggerManual)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		httputil.WriteError(w, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "scan still running"))
		return
	}

	if res.Err != nil {
		if errors.Is(res.Err, scheduler.ErrScanInProgress) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "an expiry scan is already running"))
			return
		}
		h.logger.ErrorContext(ctx, "manual expiry scan failed",
			"request_id", requestID,
			"error", res.Err,
		)
		httputil.WriteError(w, dErrors.Wrap(res.Err, dErrors.CodeInternal, "expiry scan failed"))
		return
	}

	result, _ := res.Val.(scan.ScanResult)
	h.logger.InfoContext(ctx, "manual expiry scan completed",
		"log_type", "audit",
		"request_id", requestID,
		"user_id", requestcontext.UserID(ctx),
		"shared", res.Shared,
		"checked", result.Checked,
		"notifications_created", result.NotificationsCreated,
		"escalations_created", result.EscalationsCreated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, scanResponse{ScanResult: result, Shared: res.Shared})
}
