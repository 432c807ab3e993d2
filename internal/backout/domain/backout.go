// Package domain defines backout queue statistics, batch bounds and errors.
package domain

import (
	"github.com/allisson/mqingest/internal/errors"
)

const (
	// DefaultSuffix is appended to a queue name to form its backout queue name.
	DefaultSuffix = ".BACKOUT"

	// MinBatchSize and MaxBatchSize bound a single MoveBatch call.
	MinBatchSize = 1
	MaxBatchSize = 100
)

// Header names set on messages routed to a backout queue.
const (
	FailureReasonHeader = "x-failure-reason"
	OriginalQueueHeader = "x-original-queue"
)

var (
	// ErrInvalidBatchSize is returned by MoveBatch for a size outside [MinBatchSize, MaxBatchSize].
	ErrInvalidBatchSize = errors.Wrap(errors.ErrInvalidInput, "batch size must be between 1 and 100")

	// ErrQueueNotFound indicates the broker has no queue with the given name.
	ErrQueueNotFound = errors.Wrap(errors.ErrNotFound, "queue not found")
)

// Stats describes the backlog of a queue and its backout counterpart.
type Stats struct {
	QueueName            string `json:"queue_name"`
	MessageCount         int    `json:"message_count"`
	ConsumerCount        int    `json:"consumer_count"`
	BackoutQueueName     string `json:"backout_queue_name"`
	BackoutQueueExists   bool   `json:"backout_queue_exists"`
	BackoutMessageCount  int    `json:"backout_message_count"`
	BackoutConsumerCount int    `json:"backout_consumer_count"`
}

// HasBacklog reports whether messages are waiting in the backout queue.
func (s *Stats) HasBacklog() bool {
	return s.BackoutQueueExists && s.BackoutMessageCount > 0
}
