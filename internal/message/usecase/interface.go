// Package usecase exposes stored messages to operators.
package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/allisson/mqingest/internal/message/domain"
)

// MessageRepository defines the persistence operations used by MessageUseCase.
type MessageRepository interface {
	GetByMessageID(ctx context.Context, messageID, queueName string) (*domain.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, error)
}

// MessageUseCase reads and removes stored messages.
type MessageUseCase interface {
	// Get returns the message stored for (messageID, queueName).
	Get(ctx context.Context, messageID, queueName string) (*domain.Message, error)

	// List returns messages matching filter ordered by receipt time. A zero
	// Limit means DefaultListLimit.
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, error)

	// Delete removes a message by its store id.
	Delete(ctx context.Context, id uuid.UUID) error
}
