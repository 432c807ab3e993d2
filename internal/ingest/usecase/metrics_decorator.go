package usecase

import (
	"context"
	"time"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	"github.com/allisson/mqingest/internal/metrics"
)

// jobUseCaseWithMetrics decorates JobUseCase with metrics instrumentation.
type jobUseCaseWithMetrics struct {
	next    JobUseCase
	metrics metrics.BusinessMetrics
	queue   string
}

// NewJobUseCaseWithMetrics wraps a JobUseCase with metrics recording.
func NewJobUseCaseWithMetrics(useCase JobUseCase, m metrics.BusinessMetrics, queue string) JobUseCase {
	return &jobUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
		queue:   queue,
	}
}

// Run records the run outcome, its duration and the per-outcome message counts.
func (j *jobUseCaseWithMetrics) Run(ctx context.Context) (*ingestDomain.Result, error) {
	start := time.Now()
	result, err := j.next.Run(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	j.metrics.RecordOperation(ctx, "ingest", "job_run", status)
	j.metrics.RecordDuration(ctx, "ingest", "job_run", time.Since(start), status)

	if result != nil {
		j.metrics.RecordMessages(ctx, j.queue, "read", result.ReadCount)
		j.metrics.RecordMessages(ctx, j.queue, "processed", result.ProcessedCount)
		j.metrics.RecordMessages(ctx, j.queue, "failed", result.FailedCount)
		j.metrics.RecordMessages(ctx, j.queue, "diverted", result.DivertedCount)
		j.metrics.RecordMessages(ctx, j.queue, "write_failed", result.WriteFailures)
	}

	return result, err
}
