package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/allisson/mqingest/internal/database"
	apperrors "github.com/allisson/mqingest/internal/errors"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// messageWriter upserts messages by (MessageID, QueueName), one transaction
// per item, so a bad item never rolls back the ones before it. Messages with
// a blank MessageID are always inserted as new rows.
type messageWriter struct {
	txManager database.TxManager
	repo      MessageRepository
	logger    *slog.Logger
}

// NewMessageWriter creates a MessageWriter.
func NewMessageWriter(txManager database.TxManager, repo MessageRepository, logger *slog.Logger) MessageWriter {
	return &messageWriter{
		txManager: txManager,
		repo:      repo,
		logger:    logger,
	}
}

// Write persists every item of chunk in order. An item whose save fails is
// marked FAILED and saved once more; a nil item or a second failure counts
// against the chunk, and any such count makes Write return a
// *ingestDomain.BatchWriteError.
func (w *messageWriter) Write(ctx context.Context, chunk []*messageDomain.Message) error {
	failed := 0

	for i, msg := range chunk {
		if msg == nil {
			w.logger.Warn("skipping item that is not a message", slog.Int("index", i))
			failed++
			continue
		}

		if err := w.writeItem(ctx, msg); err != nil {
			w.logger.Error("failed to persist message",
				slog.String("message_id", msg.MessageID),
				slog.String("queue", msg.QueueName),
				slog.Any("error", err),
			)
			failed++
		}
	}

	if failed > 0 {
		return &ingestDomain.BatchWriteError{Failed: failed, Total: len(chunk)}
	}
	return nil
}

// CheckpointInfo returns nil.
func (w *messageWriter) CheckpointInfo() any {
	return nil
}

func (w *messageWriter) writeItem(ctx context.Context, msg *messageDomain.Message) error {
	msgID, msgVersion := msg.ID, msg.Version
	var storedID uuid.UUID
	var storedVersion int

	target := msg
	err := w.txManager.WithTx(ctx, func(ctx context.Context) error {
		target = msg
		existing, err := w.lookup(ctx, msg)
		if err != nil {
			return err
		}
		if existing != nil {
			storedID, storedVersion = existing.ID, existing.Version
			existing.CopyMutableFrom(msg)
			target = existing
		}
		return w.repo.Save(ctx, target)
	})
	if err == nil {
		w.syncIdentity(msg, target)
		return nil
	}

	// The rollback undid the row but not what Save assigned in memory.
	msg.ID, msg.Version = msgID, msgVersion
	if target != msg {
		target.ID, target.Version = storedID, storedVersion
	}

	msg.MarkFailed(fmt.Sprintf("Failed to save message: %s", err.Error()))
	if target != msg {
		target.CopyMutableFrom(msg)
	}
	w.logger.Warn("message save failed, recording failure",
		slog.String("message_id", msg.MessageID),
		slog.Any("error", err),
	)

	err = w.txManager.WithTx(ctx, func(ctx context.Context) error {
		return w.repo.Save(ctx, target)
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to record message failure")
	}
	w.syncIdentity(msg, target)
	return nil
}

// lookup finds the stored copy of msg. Messages without a MessageID have no
// identity across deliveries and are always inserted.
func (w *messageWriter) lookup(ctx context.Context, msg *messageDomain.Message) (*messageDomain.Message, error) {
	if msg.MessageID == "" {
		return nil, nil
	}
	existing, err := w.repo.GetByMessageID(ctx, msg.MessageID, msg.QueueName)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

// syncIdentity copies the stored id and version back onto the chunk item.
func (w *messageWriter) syncIdentity(msg, target *messageDomain.Message) {
	if target == msg {
		return
	}
	msg.ID = target.ID
	msg.Version = target.Version
}
