// Package domain defines the canonical message record persisted by the ingest pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the pipeline outcome of a message.
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
	StatusBackout   Status = "BACKOUT"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessed, StatusFailed, StatusBackout:
		return true
	}
	return false
}

// PayloadKind tags the shape of the broker payload the content was decoded from.
type PayloadKind string

const (
	PayloadText  PayloadKind = "TEXT"
	PayloadBytes PayloadKind = "BYTES"
	PayloadOther PayloadKind = "OTHER"
)

// Message is a broker message as it moves through read, process and write.
// MessageID and QueueName together identify a message across redeliveries.
type Message struct {
	ID            uuid.UUID
	MessageID     string
	CorrelationID string
	QueueName     string
	Content       string
	ContentType   PayloadKind
	Priority      int
	// Expiry is the expiration time in epoch milliseconds, 0 when the message does not expire.
	Expiry       int64
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
	Status       Status
	ErrorMessage *string
	RetryCount   int
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsNew reports whether the message has not been persisted yet.
func (m *Message) IsNew() bool {
	return m.ID == uuid.Nil
}

// MarkProcessed sets the message PROCESSED and clears any previous error.
func (m *Message) MarkProcessed(at time.Time) {
	m.Status = StatusProcessed
	m.ErrorMessage = nil
	m.ProcessedAt = &at
}

// MarkFailed sets the message FAILED with reason.
func (m *Message) MarkFailed(reason string) {
	m.Status = StatusFailed
	m.ErrorMessage = &reason
}

// MarkBackout records that the message was diverted to its backout queue.
func (m *Message) MarkBackout() {
	m.Status = StatusBackout
}

// Failed reports whether the message ended the pass as FAILED.
func (m *Message) Failed() bool {
	return m.Status == StatusFailed
}

// CopyMutableFrom overwrites the fields a later delivery of the same message
// may change. Identity, version and receipt metadata are kept.
func (m *Message) CopyMutableFrom(src *Message) {
	m.Content = src.Content
	m.Status = src.Status
	m.ErrorMessage = src.ErrorMessage
	m.ProcessedAt = src.ProcessedAt
	m.RetryCount = src.RetryCount
}

// ExpiresAt returns the expiry as a time, or false when the message does not expire.
func (m *Message) ExpiresAt() (time.Time, bool) {
	if m.Expiry <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(m.Expiry), true
}

// ListFilter narrows a message listing. Zero values match everything.
type ListFilter struct {
	Status    Status
	QueueName string
	Offset    int
	Limit     int
}
