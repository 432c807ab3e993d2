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

// PostgreSQLMessageRepository implements message persistence for PostgreSQL.
type PostgreSQLMessageRepository struct {
	db *sql.DB
}

// NewPostgreSQLMessageRepository creates a new PostgreSQLMessageRepository.
func NewPostgreSQLMessageRepository(db *sql.DB) *PostgreSQLMessageRepository {
	return &PostgreSQLMessageRepository{db: db}
}

// GetByMessageID retrieves a message by its business id within a queue.
func (r *PostgreSQLMessageRepository) GetByMessageID(
	ctx context.Context,
	messageID, queueName string,
) (*domain.Message, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + strings.Join(messageColumns, ", ") + `
			  FROM messages
			  WHERE message_id = $1 AND queue_name = $2`

	var id uuid.UUID
	msg, err := scanMessage(querier.QueryRowContext(ctx, query, messageID, queueName), &id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrMessageNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get message by message id")
	}
	msg.ID = id

	return msg, nil
}

// Save inserts a new message or updates an existing one. Updates only apply
// when the stored version matches msg.Version; otherwise domain.ErrMessageConflict
// is returned. On success msg carries its id and new version.
func (r *PostgreSQLMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if msg.IsNew() {
		return r.insert(ctx, msg)
	}
	return r.update(ctx, msg)
}

func (r *PostgreSQLMessageRepository) insert(ctx context.Context, msg *domain.Message) error {
	querier := database.GetTx(ctx, r.db)

	id, err := uuid.NewV7()
	if err != nil {
		return apperrors.Wrap(err, "failed to generate message id")
	}
	now := time.Now().UTC()

	query := `INSERT INTO messages (id, message_id, correlation_id, queue_name, content, content_type,
			  priority, expiry, received_at, processed_at, status, error_message, retry_count, version,
			  created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
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

func (r *PostgreSQLMessageRepository) update(ctx context.Context, msg *domain.Message) error {
	querier := database.GetTx(ctx, r.db)
	now := time.Now().UTC()

	query := `UPDATE messages
			  SET correlation_id = $1, content = $2, content_type = $3, priority = $4, expiry = $5,
			      processed_at = $6, status = $7, error_message = $8, retry_count = $9,
			      version = version + 1, updated_at = $10
			  WHERE id = $11 AND version = $12`

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
		msg.ID,
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
func (r *PostgreSQLMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
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
func (r *PostgreSQLMessageRepository) List(
	ctx context.Context,
	filter domain.ListFilter,
) ([]*domain.Message, error) {
	querier := database.GetTx(ctx, r.db)

	query, args, err := listQuery(filter, sq.Dollar)
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
		var id uuid.UUID
		msg, err := scanMessage(rows, &id)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan message")
		}
		msg.ID = id
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate messages")
	}

	return messages, nil
}
