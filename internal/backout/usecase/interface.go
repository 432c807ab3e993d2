// Package usecase moves messages between queues and their backout queues.
package usecase

import (
	"context"

	"github.com/allisson/mqingest/internal/backout/domain"
	"github.com/allisson/mqingest/internal/broker"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// ConnectionSource lends broker connections. *broker.Pool implements it.
type ConnectionSource interface {
	GetConnection(ctx context.Context) (broker.Connection, error)
	ReleaseConnection(conn broker.Connection)
}

// BackoutUseCase defines backout queue inspection and replay.
type BackoutUseCase interface {
	// BackoutQueueName returns the backout queue paired with queue.
	BackoutQueueName(queue string) string

	// GetStats inspects queue and its backout queue without consuming anything.
	GetStats(ctx context.Context, queue string) (*domain.Stats, error)

	// MoveAll moves every message present in backoutQueue when the call starts
	// onto originalQueue and returns how many were moved.
	MoveAll(ctx context.Context, backoutQueue, originalQueue string) (int, error)

	// MoveBatch is MoveAll capped at batchSize messages. batchSize must be in
	// [domain.MinBatchSize, domain.MaxBatchSize].
	MoveBatch(ctx context.Context, backoutQueue, originalQueue string, batchSize int) (int, error)

	// Divert publishes a FAILED message below the retry limit to its backout
	// queue and marks it BACKOUT. Other messages are left untouched.
	Divert(ctx context.Context, msg *messageDomain.Message) error
}
