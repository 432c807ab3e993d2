// Package repository implements message persistence for PostgreSQL and MySQL.
// Messages are unique per (message_id, queue_name); updates use optimistic
// locking on the version column. A blank message id is stored as NULL so
// every such message keeps its own row.
package repository

import (
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/allisson/mqingest/internal/message/domain"
)

const messagesTable = "messages"

var messageColumns = []string{
	"id",
	"message_id",
	"correlation_id",
	"queue_name",
	"content",
	"content_type",
	"priority",
	"expiry",
	"received_at",
	"processed_at",
	"status",
	"error_message",
	"retry_count",
	"version",
	"created_at",
	"updated_at",
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads a row in messageColumns order, storing the id column into idDest.
func scanMessage(row rowScanner, idDest any) (*domain.Message, error) {
	var msg domain.Message
	var messageID sql.NullString
	err := row.Scan(
		idDest,
		&messageID,
		&msg.CorrelationID,
		&msg.QueueName,
		&msg.Content,
		&msg.ContentType,
		&msg.Priority,
		&msg.Expiry,
		&msg.ReceivedAt,
		&msg.ProcessedAt,
		&msg.Status,
		&msg.ErrorMessage,
		&msg.RetryCount,
		&msg.Version,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.MessageID = messageID.String
	return &msg, nil
}

// nullableMessageID maps a blank message id to NULL.
func nullableMessageID(messageID string) sql.NullString {
	return sql.NullString{String: messageID, Valid: messageID != ""}
}

// listQuery builds the filtered listing shared by both dialects.
func listQuery(filter domain.ListFilter, format sq.PlaceholderFormat) (string, []any, error) {
	builder := sq.Select(messageColumns...).
		From(messagesTable).
		OrderBy("received_at ASC", "id ASC").
		PlaceholderFormat(format)

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.QueueName != "" {
		builder = builder.Where(sq.Eq{"queue_name": filter.QueueName})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	return builder.ToSql()
}

// isUniqueViolation reports whether err is a duplicate key error from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
