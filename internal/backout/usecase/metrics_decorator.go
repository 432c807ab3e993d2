package usecase

import (
	"context"
	"time"

	"github.com/allisson/mqingest/internal/backout/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
	"github.com/allisson/mqingest/internal/metrics"
)

// backoutUseCaseWithMetrics decorates BackoutUseCase with metrics instrumentation.
type backoutUseCaseWithMetrics struct {
	next    BackoutUseCase
	metrics metrics.BusinessMetrics
}

// NewBackoutUseCaseWithMetrics wraps a BackoutUseCase with metrics recording.
func NewBackoutUseCaseWithMetrics(useCase BackoutUseCase, m metrics.BusinessMetrics) BackoutUseCase {
	return &backoutUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// BackoutQueueName delegates without recording.
func (b *backoutUseCaseWithMetrics) BackoutQueueName(queue string) string {
	return b.next.BackoutQueueName(queue)
}

// GetStats records metrics for backout statistics reads.
func (b *backoutUseCaseWithMetrics) GetStats(ctx context.Context, queue string) (*domain.Stats, error) {
	start := time.Now()
	stats, err := b.next.GetStats(ctx, queue)
	b.record(ctx, "get_stats", start, err)
	return stats, err
}

// MoveAll records metrics and the number of replayed messages.
func (b *backoutUseCaseWithMetrics) MoveAll(ctx context.Context, backoutQueue, originalQueue string) (int, error) {
	start := time.Now()
	moved, err := b.next.MoveAll(ctx, backoutQueue, originalQueue)
	b.record(ctx, "move_all", start, err)
	b.metrics.RecordMessages(ctx, originalQueue, "replayed", moved)
	return moved, err
}

// MoveBatch records metrics and the number of replayed messages.
func (b *backoutUseCaseWithMetrics) MoveBatch(
	ctx context.Context,
	backoutQueue, originalQueue string,
	batchSize int,
) (int, error) {
	start := time.Now()
	moved, err := b.next.MoveBatch(ctx, backoutQueue, originalQueue, batchSize)
	b.record(ctx, "move_batch", start, err)
	b.metrics.RecordMessages(ctx, originalQueue, "replayed", moved)
	return moved, err
}

// Divert records metrics for divert attempts.
func (b *backoutUseCaseWithMetrics) Divert(ctx context.Context, msg *messageDomain.Message) error {
	start := time.Now()
	err := b.next.Divert(ctx, msg)
	b.record(ctx, "divert", start, err)
	return err
}

func (b *backoutUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordOperation(ctx, "backout", operation, status)
	b.metrics.RecordDuration(ctx, "backout", operation, time.Since(start), status)
}
