package deploy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"aibuilder/internal/observability"
	"aibuilder/internal/storage"
)

// RunningMean folds one new sample into a weighted average over count prior
// samples, rounded to two decimals. The stored average is never recomputed
// from raw history.
func RunningMean(avg float64, count int, sample float64) float64 {
	next := (avg*float64(count) + sample) / float64(count+1)
	return math.Round(next*100) / 100
}

// RecordAdHoc folds an ad-hoc inference request into the analytics row keyed
// by the project id, so builder test runs show up in usage reports before a
// deployment exists.
func (e *Engine) RecordAdHoc(ctx context.Context, projectID string, success bool, elapsed time.Duration) {
	e.recordRequest(ctx, projectID, success, elapsed)
}

// recordRequest updates the per-day analytics row for a deployment. It reads
// the current row and writes it back without a transaction; concurrent
// dispatches can lose increments, which is acceptable for advisory usage
// counters. Failures are logged and swallowed so analytics can never fail a
// dispatch.
func (e *Engine) recordRequest(ctx context.Context, deploymentID string, success bool, elapsed time.Duration) {
	date := storage.Day(time.Now())

	rec, err := e.store.GetAnalytics(ctx, deploymentID, date)
	if errors.Is(err, storage.ErrNotFound) {
		rec = &storage.AnalyticsRecord{DeploymentID: deploymentID, Date: date}
		err = nil
	}
	if err != nil {
		observability.ObserveAnalyticsFailure()
		slog.Warn("failed to read analytics, dropping update",
			"deployment_id", deploymentID, "error", err)
		return
	}

	ms := float64(elapsed.Milliseconds())
	rec.AvgResponseTime = RunningMean(rec.AvgResponseTime, rec.RequestCount, ms)
	rec.RequestCount++
	if success {
		rec.SuccessCount++
	} else {
		rec.ErrorCount++
	}

	if err := e.store.UpsertAnalytics(ctx, rec); err != nil {
		observability.ObserveAnalyticsFailure()
		slog.Warn("failed to write analytics, dropping update",
			"deployment_id", deploymentID, "error", err)
	}
}
