package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trainflow/internal/expiry/lock"
	"trainflow/internal/expiry/metrics"
	"trainflow/internal/expiry/scan"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrScanInProgress is returned when another instance holds the scan lease.
var ErrScanInProgress = errors.New("expiry scan already running on another instance")

type Scanner interface {
	RunExpirationScan(ctx context.Context) (scan.ScanResult, error)
}

type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// Job runs one scan behind the locker. The scheduler and the manual trigger
// share a Job so their runs never overlap.
type Job struct {
	scanner Scanner
	locker  Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewJob(scanner Scanner, locker Locker, m *metrics.Metrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{scanner: scanner, locker: locker, metrics: m, logger: logger}
}

func (j *Job) Run(ctx context.Context, trigger string) (scan.ScanResult, error) {
	start := time.Now()
	release, err := j.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			j.metrics.ObserveScan(trigger, "skipped", start)
			j.logger.InfoContext(ctx, "expiry scan skipped; lease held elsewhere", "trigger", trigger)
			return scan.ScanResult{}, ErrScanInProgress
		}
		j.metrics.ObserveScan(trigger, "error", start)
		return scan.ScanResult{}, err
	}
	defer release()

	res, err := j.scanner.RunExpirationScan(ctx)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Failures > 0:
		outcome = "partial"
	}
	j.metrics.ObserveScan(trigger, outcome, start)
	j.logger.InfoContext(ctx, "expiry scan finished",
		"trigger", trigger,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, err
}
