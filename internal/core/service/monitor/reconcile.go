package monitor

import (
	"back-to-origin/internal/core/domain"
	"context"
	"errors"
	"time"
)

// Reconcile runs one pass: finalize uploads, then re-publish or give up on stale tasks.
// A failing step does not stop the next ones.
func (m *monitorService) Reconcile(ctx context.Context, now time.Time) (domain.ReconcileReport, error) {
	var report domain.ReconcileReport
	staleBefore := now.Add(-m.cfg.StaleAfter)
	// pending rows are only waiting in the queue, they go stale once the stream could have dropped them
	queuedBefore := now.Add(-m.cfg.QueuedAfter)

	err := errors.Join(
		m.finalizeUploads(ctx, staleBefore, &report),
		m.reconcileParts(ctx, staleBefore, queuedBefore, &report),
		m.reconcileSingles(ctx, staleBefore, queuedBefore, &report),
	)

	m.metrics.AddMonitorAction("finalized", report.Finalized)
	m.metrics.AddMonitorAction("finalize_failed", report.FinalizeFailures)
	m.metrics.AddMonitorAction("republished_part", report.RepublishedParts)
	m.metrics.AddMonitorAction("republished_single", report.RepublishedSingles)
	m.metrics.AddMonitorAction("aborted_upload", report.AbortedUploads)
	m.metrics.AddMonitorAction("failed_single", report.FailedSingles)
	m.metrics.AddMonitorAction("deleted_orphan_part", report.DeletedOrphanParts)

	if err != nil {
		m.metrics.IncMonitorRun("error")
		m.logger.Error("reconcile finished with errors", "report", report, "error", err)
		return report, err
	}
	m.metrics.IncMonitorRun("ok")
	m.logger.Info("reconcile finished", "report", report)
	return report, nil
}
