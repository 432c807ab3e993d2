// Package usecase implements the read, process and write stages of an ingest
// run and the Job that drives them.
package usecase

import (
	"context"

	"github.com/allisson/mqingest/internal/broker"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// ConnectionSource lends broker connections. *broker.Pool implements it.
type ConnectionSource interface {
	GetConnection(ctx context.Context) (broker.Connection, error)
	ReleaseConnection(conn broker.Connection)
}

// MessageRepository is the persistence the writer depends on.
type MessageRepository interface {
	GetByMessageID(ctx context.Context, messageID, queueName string) (*messageDomain.Message, error)
	Save(ctx context.Context, msg *messageDomain.Message) error
}

// MessageReader produces one message per Read from a source queue.
type MessageReader interface {
	Open(ctx context.Context) error
	// Read returns nil, nil when no message arrived within the receive timeout.
	Read(ctx context.Context) (*messageDomain.Message, error)
	// Commit acknowledges the messages read since the last Commit or Rollback.
	Commit() error
	// Rollback returns the messages read since the last Commit or Rollback to the queue.
	Rollback() error
	Close()
	// CheckpointInfo is always nil; recovery relies on broker redelivery.
	CheckpointInfo() any
}

// MessageProcessor validates and normalises one message in place.
type MessageProcessor interface {
	Process(msg *messageDomain.Message) *messageDomain.Message
}

// MessageWriter persists a chunk of processed messages.
type MessageWriter interface {
	Write(ctx context.Context, chunk []*messageDomain.Message) error
	CheckpointInfo() any
}

// Diverter routes a FAILED message to its backout queue.
type Diverter interface {
	Divert(ctx context.Context, msg *messageDomain.Message) error
}

// JobUseCase runs ingest passes.
type JobUseCase interface {
	// Run drains the source queue once.
	Run(ctx context.Context) (*ingestDomain.Result, error)
}
