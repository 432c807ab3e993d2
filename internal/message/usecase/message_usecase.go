package usecase

import (
	"context"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/allisson/mqingest/internal/database"
	"github.com/allisson/mqingest/internal/message/domain"
	appValidation "github.com/allisson/mqingest/internal/validation"
)

const (
	// DefaultListLimit is used when a filter has no limit.
	DefaultListLimit = 50

	// MaxListLimit bounds a single listing.
	MaxListLimit = 1000
)

type messageUseCase struct {
	txManager database.TxManager
	repo      MessageRepository
}

// NewMessageUseCase creates a MessageUseCase.
func NewMessageUseCase(txManager database.TxManager, repo MessageRepository) MessageUseCase {
	return &messageUseCase{
		txManager: txManager,
		repo:      repo,
	}
}

func (m *messageUseCase) Get(ctx context.Context, messageID, queueName string) (*domain.Message, error) {
	err := validation.Errors{
		"message_id": validation.Validate(messageID, validation.Required, appValidation.NotBlank),
		"queue_name": validation.Validate(queueName, validation.Required, appValidation.QueueName),
	}.Filter()
	if err != nil {
		return nil, appValidation.WrapValidationError(err)
	}
	return m.repo.GetByMessageID(ctx, messageID, queueName)
}

func (m *messageUseCase) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}

	err := validation.ValidateStruct(&filter,
		validation.Field(&filter.Status, validation.By(func(value interface{}) error {
			s, _ := value.(domain.Status)
			if s != "" && !s.Valid() {
				return validation.NewError("validation_status", "must be a valid message status")
			}
			return nil
		})),
		validation.Field(&filter.QueueName, appValidation.QueueName),
		validation.Field(&filter.Offset, validation.Min(0)),
		validation.Field(&filter.Limit, validation.Min(1), validation.Max(MaxListLimit)),
	)
	if err != nil {
		return nil, appValidation.WrapValidationError(err)
	}

	return m.repo.List(ctx, filter)
}

func (m *messageUseCase) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return appValidation.WrapValidationError(validation.NewError("validation_id", "id is required"))
	}
	return m.txManager.WithTx(ctx, func(ctx context.Context) error {
		return m.repo.Delete(ctx, id)
	})
}
