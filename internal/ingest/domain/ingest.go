// Package domain defines the results and errors of an ingest run.
package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxContentLength is the number of characters kept when content is truncated.
	MaxContentLength = 10000

	// TruncationMarker is appended to truncated content.
	TruncationMarker = "... [TRUNCATED]"
)

// Validation failure reasons recorded on FAILED messages.
const (
	ReasonMissingMessageID = "Message ID is required"
	ReasonMissingQueueName = "Queue name is required"
	ReasonEmptyContent     = "Empty message content"
)

// RetryCountHeader carries the number of times a message was replayed from its backout queue.
const RetryCountHeader = "x-retry-count"

var (
	// ErrReaderFailure wraps broker errors raised while consuming. It ends the run.
	ErrReaderFailure = errors.New("message reader failure")

	// ErrBatchWrite is matched by every BatchWriteError.
	ErrBatchWrite = errors.New("batch write failure")
)

// NewReaderFailure wraps cause as an ErrReaderFailure for operation op.
func NewReaderFailure(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrReaderFailure, op, cause)
}

// BatchWriteError reports that some items of a chunk could not be persisted,
// not even as FAILED records. Items that were written stay committed.
type BatchWriteError struct {
	Failed int
	Total  int
}

// Error implements error.
func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("Failed to write %d out of %d messages", e.Failed, e.Total)
}

// Unwrap lets errors.Is match ErrBatchWrite.
func (e *BatchWriteError) Unwrap() error {
	return ErrBatchWrite
}

// Result summarises one ingest run.
type Result struct {
	ReadCount      int           `json:"read_count"`
	ProcessedCount int           `json:"processed_count"`
	FailedCount    int           `json:"failed_count"`
	DivertedCount  int           `json:"diverted_count"`
	WriteFailures  int           `json:"write_failures"`
	Duration       time.Duration `json:"duration"`
}
