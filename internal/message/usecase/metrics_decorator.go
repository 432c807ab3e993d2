package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/mqingest/internal/message/domain"
	"github.com/allisson/mqingest/internal/metrics"
)

// messageUseCaseWithMetrics decorates MessageUseCase with metrics instrumentation.
type messageUseCaseWithMetrics struct {
	next    MessageUseCase
	metrics metrics.BusinessMetrics
}

// NewMessageUseCaseWithMetrics wraps a MessageUseCase with metrics recording.
func NewMessageUseCaseWithMetrics(useCase MessageUseCase, m metrics.BusinessMetrics) MessageUseCase {
	return &messageUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (m *messageUseCaseWithMetrics) Get(ctx context.Context, messageID, queueName string) (*domain.Message, error) {
	start := time.Now()
	msg, err := m.next.Get(ctx, messageID, queueName)
	m.record(ctx, "message_get", start, err)
	return msg, err
}

func (m *messageUseCaseWithMetrics) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, error) {
	start := time.Now()
	msgs, err := m.next.List(ctx, filter)
	m.record(ctx, "message_list", start, err)
	return msgs, err
}

func (m *messageUseCaseWithMetrics) Delete(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := m.next.Delete(ctx, id)
	m.record(ctx, "message_delete", start, err)
	return err
}

func (m *messageUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordOperation(ctx, "message", operation, status)
	m.metrics.RecordDuration(ctx, "message", operation, time.Since(start), status)
}
