package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/allisson/mqingest/internal/database"
	apperrors "github.com/allisson/mqingest/internal/errors"
	"github.com/allisson/mqingest/internal/message/domain"
)

// MySQLMessageRepository implements message persistence for MySQL. Ids are
// stored as BINARY(16).
type MySQLMessageRepository struct {
	db *sql.DB
}

// NewMySQLMessageRepository creates a new MySQLMessageRepository.
func NewMySQLMessageRepository(db *sql.DB) *MySQLMessageRepository {
	return &MySQLMessageRepository{db: db}
}

// GetByMessageID retrieves a message by its business id within a queue.
func (r *MySQLMessageRepository) GetByMessageID(
	ctx context.Context,
	messageID, queueName string,
) (*domain.Message, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + strings.Join(messageColumns, ", ") + `
			  FROM messages
			  WHERE message_id = ? AND queue_name = ?`

	var idBytes []byte
	msg, err := scanMessage(querier.QueryRowContext(ctx, query, messageID, queueName), &idBytes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrMessageNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get message by message id")
	}
	if err := msg.ID.UnmarshalBinary(idBytes); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal message id")
	}

	return msg, nil
}

// Save inserts a new message or updates an existing one with the same
// version rules as PostgreSQLMessageRepository.Save.
func (r *MySQLMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if msg.IsNew() {
		return r.insert(ctx, msg)
	}
	return r.update(ctx, msg)
}

func (r *MySQLMessageRepository) insert(ctx context.Context, msg *domain.Message) error {
	querier := database.GetTx(ctx, r.db)

	id, err := uuid.NewV7()
	if err != nil {
		return apperrors.Wrap(err, "failed to generate message id")
	}
	idBytes, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message id")
	}
	now := time.Now().UTC()

	query := `INSERT INTO messages (id, message_id, correlation_id, queue_name, content, content_type,
			  priority, expiry, received_at, processed_at, status, error_message, retry_count, version,
			  created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		idBytes,
		nullableMessageID(msg.MessageID),
		msg.CorrelationID,
		msg.QueueName,
		msg.Content,
		msg.ContentType,
		msg.Priority,
		msg.Expiry,
		msg.ReceivedAt,
		msg.ProcessedAt,
		msg.Status,
		msg.ErrorMessage,
		msg.RetryCount,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(domain.ErrMessageConflict, err.Error())
		}
		return apperrors.Wrap(err, "failed to insert message")
	}

	msg.ID = id
	msg.Version = 1
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

func (r *MySQLMessageRepository) update(ctx context.Context, msg *domain.Message) error {
	querier := database.GetTx(ctx, r.db)

	idBytes, err := msg.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message id")
	}
	now := time.Now().UTC()

	query := `UPDATE messages
			  SET correlation_id = ?, content = ?, content_type = ?, priority = ?, expiry = ?,
			      processed_at = ?, status = ?, error_message = ?, retry_count = ?,
			      version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		msg.CorrelationID,
		msg.Content,
		msg.ContentType,
		msg.Priority,
		msg.Expiry,
		msg.ProcessedAt,
		msg.Status,
		msg.ErrorMessage,
		msg.RetryCount,
		now,
		idBytes,
		msg.Version,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update message")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return domain.ErrMessageConflict
	}

	msg.Version++
	msg.UpdatedAt = now
	return nil
}

// Delete removes a message by id.
func (r *MySQLMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message id")
	}

	result, err := querier.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, idBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete message")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// List returns messages matching filter ordered by receipt time.
func (r *MySQLMessageRepository) List(
	ctx context.Context,
	filter domain.ListFilter,
) ([]*domain.Message, error) {
	querier := database.GetTx(ctx, r.db)

	query, args, err := listQuery(filter, sq.Question)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build list query")
	}

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list messages")
	}
	defer rows.Close() //nolint:errcheck

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		var idBytes []byte
		msg, err := scanMessage(rows, &idBytes)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan message")
		}
		if err := msg.ID.UnmarshalBinary(idBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal message id")
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate messages")
	}

	return messages, nil
}
