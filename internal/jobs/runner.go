package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mediacore/internal/catalog"
	"mediacore/internal/idx"
	"mediacore/internal/logging"
)

// Recorder persists JobRun accounting; internal/store/sqlite's Store
// satisfies this.
type Recorder interface {
	SaveJobRun(ctx context.Context, j catalog.JobRun) error
}

// Runner drives IDX's bulk reindex and records a JobRun per spec §6's
// IndexReport, supplemented with persistent job-run accounting per
// SPEC_FULL's scheduler section.
type Runner struct {
	indexer  *idx.Indexer
	recorder Recorder
}

func New(indexer *idx.Indexer, recorder Recorder) *Runner {
	return &Runner{indexer: indexer, recorder: recorder}
}

// RunBulkReindex executes reindex_bulk and records its outcome as a
// JobRun, regardless of per-item failures (IDX isolates those per spec §7).
func (r *Runner) RunBulkReindex(ctx context.Context, filter catalog.Filter) (idx.Report, error) {
	jobID := uuid.NewString()
	ctx, log := logging.WithJobID(ctx, jobID)

	run := catalog.JobRun{ID: jobID, Kind: "reindex_bulk", Status: "running", StartedAt: time.Now()}
	if err := r.recorder.SaveJobRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to persist job_run start")
	}

	report, err := r.indexer.ReindexBulk(ctx, jobID, filter)
	run.FinishedAt = time.Now()
	run.Total = report.Total
	run.Succeeded = report.Succeeded
	run.Failed = report.Failed
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "succeeded"
	}
	if saveErr := r.recorder.SaveJobRun(ctx, run); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to persist job_run completion")
	}
	log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("bulk reindex complete")
	return report, err
}

// RunReindexIfRecipeChanged executes reindex_if_recipe_changed and records
// it as a JobRun the same way RunBulkReindex does.
func (r *Runner) RunReindexIfRecipeChanged(ctx context.Context, filter catalog.Filter) (idx.Report, error) {
	jobID := uuid.NewString()
	ctx, log := logging.WithJobID(ctx, jobID)

	run := catalog.JobRun{ID: jobID, Kind: "reindex_if_recipe_changed", Status: "running", StartedAt: time.Now()}
	if err := r.recorder.SaveJobRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to persist job_run start")
	}

	report, err := r.indexer.ReindexIfRecipeChanged(ctx, jobID, filter)
	run.FinishedAt = time.Now()
	run.Total = report.Total
	run.Succeeded = report.Succeeded
	run.Failed = report.Failed
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "succeeded"
	}
	if saveErr := r.recorder.SaveJobRun(ctx, run); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to persist job_run completion")
	}
	log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("recipe-changed reindex complete")
	return report, err
}

// RecordJob wraps a single-shot operation (rank or generate, which have no
// IDX-style per-item success/failure breakdown) with the same JobRun
// accounting RunBulkReindex uses, per SPEC_FULL's job-run supplement.
func RecordJob(ctx context.Context, recorder Recorder, kind string, fn func(ctx context.Context) error) error {
	jobID := uuid.NewString()
	ctx, log := logging.WithJobID(ctx, jobID)

	run := catalog.JobRun{ID: jobID, Kind: kind, Status: "running", StartedAt: time.Now(), Total: 1}
	if err := recorder.SaveJobRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to persist job_run start")
	}

	err := fn(ctx)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = "failed"
		run.Failed = 1
		run.Error = err.Error()
	} else {
		run.Status = "succeeded"
		run.Succeeded = 1
	}
	if saveErr := recorder.SaveJobRun(ctx, run); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to persist job_run completion")
	}
	return err
}

// ScheduleLoop runs RunReindexIfRecipeChanged whenever freq says it's due, checking
// at the given poll interval, until ctx is cancelled. It is the frequency-
// driven background reindex of SPEC_FULL's supplemented features.
func (r *Runner) ScheduleLoop(ctx context.Context, freq Frequency, pollInterval time.Duration, filter catalog.Filter) {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	var lastRun time.Time
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !freq.ShouldRunNow(lastRun) {
				continue
			}
			if _, err := r.RunReindexIfRecipeChanged(ctx, filter); err != nil {
				logging.FromContext(ctx).Error().Err(err).Msg("scheduled reindex failed")
			}
			lastRun = time.Now()
		}
	}
}
