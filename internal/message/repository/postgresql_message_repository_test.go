package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/mqingest/internal/database"
	apperrors "github.com/allisson/mqingest/internal/errors"
	"github.com/allisson/mqingest/internal/message/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func messageRow(id any, messageID string, status domain.Status, version int) []driver.Value {
	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, messageID, "corr-1", "ORDERS.IN", "payload", "TEXT", int64(4), int64(0),
		receivedAt, nil, string(status), nil, int64(0), int64(version), receivedAt, receivedAt,
	}
}

func rowsFor(values ...[]driver.Value) *sqlmock.Rows {
	rows := sqlmock.NewRows(messageColumns)
	for _, v := range values {
		rows.AddRow(v...)
	}
	return rows
}

func newIncoming() *domain.Message {
	return &domain.Message{
		MessageID:     "msg-1",
		CorrelationID: "corr-1",
		QueueName:     "ORDERS.IN",
		Content:       "payload",
		ContentType:   domain.PayloadText,
		Priority:      4,
		ReceivedAt:    time.Now().UTC(),
		Status:        domain.StatusProcessed,
	}
}

func TestPostgreSQLMessageRepository_GetByMessageID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		id := uuid.Must(uuid.NewV7())

		mock.ExpectQuery(`SELECT id, message_id, .* FROM messages\s+WHERE message_id = \$1 AND queue_name = \$2`).
			WithArgs("msg-1", "ORDERS.IN").
			WillReturnRows(rowsFor(messageRow(id.String(), "msg-1", domain.StatusProcessed, 2)))

		msg, err := repo.GetByMessageID(ctx, "msg-1", "ORDERS.IN")
		require.NoError(t, err)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, "msg-1", msg.MessageID)
		assert.Equal(t, domain.PayloadText, msg.ContentType)
		assert.Equal(t, domain.StatusProcessed, msg.Status)
		assert.Equal(t, 4, msg.Priority)
		assert.Equal(t, 2, msg.Version)
		assert.Nil(t, msg.ProcessedAt)
		assert.Nil(t, msg.ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)

		mock.ExpectQuery(`FROM messages`).
			WithArgs("missing", "ORDERS.IN").
			WillReturnRows(sqlmock.NewRows(messageColumns))

		msg, err := repo.GetByMessageID(ctx, "missing", "ORDERS.IN")
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)

		mock.ExpectQuery(`FROM messages`).WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByMessageID(ctx, "msg-1", "ORDERS.IN")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get message by message id")
	})
}

func TestPostgreSQLMessageRepository_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("insert assigns id and version", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()

		mock.ExpectExec(`INSERT INTO messages`).
			WithArgs(sqlmock.AnyArg(), "msg-1", "corr-1", "ORDERS.IN", "payload", domain.PayloadText,
				4, int64(0), msg.ReceivedAt, nil, domain.StatusProcessed, nil, 0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Save(ctx, msg))
		assert.False(t, msg.IsNew())
		assert.Equal(t, uuid.Version(7), msg.ID.Version())
		assert.Equal(t, 1, msg.Version)
		assert.False(t, msg.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert stores blank message id as null", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()
		msg.MessageID = ""

		mock.ExpectExec(`INSERT INTO messages`).
			WithArgs(sqlmock.AnyArg(), nil, "corr-1", "ORDERS.IN", "payload", domain.PayloadText,
				4, int64(0), msg.ReceivedAt, nil, domain.StatusProcessed, nil, 0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Save(ctx, msg))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert duplicate maps to conflict", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()

		mock.ExpectExec(`INSERT INTO messages`).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

		err := repo.Save(ctx, msg)
		assert.ErrorIs(t, err, domain.ErrMessageConflict)
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
		assert.True(t, msg.IsNew())
	})

	t.Run("insert failure leaves message new", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()

		mock.ExpectExec(`INSERT INTO messages`).WillReturnError(errors.New("value too long"))

		err := repo.Save(ctx, msg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert message: value too long")
		assert.True(t, msg.IsNew())
		assert.Equal(t, 0, msg.Version)
	})

	t.Run("update bumps version", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()
		msg.ID = uuid.Must(uuid.NewV7())
		msg.Version = 3

		mock.ExpectExec(`UPDATE messages\s+SET .* version = version \+ 1`).
			WithArgs("corr-1", "payload", domain.PayloadText, 4, int64(0), nil, domain.StatusProcessed, nil, 0,
				sqlmock.AnyArg(), msg.ID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Save(ctx, msg))
		assert.Equal(t, 4, msg.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()
		msg.ID = uuid.Must(uuid.NewV7())
		msg.Version = 3

		mock.ExpectExec(`UPDATE messages`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Save(ctx, msg)
		assert.ErrorIs(t, err, domain.ErrMessageConflict)
		assert.Equal(t, 3, msg.Version)
	})

	t.Run("uses transaction from context", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		msg := newIncoming()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO messages`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := database.NewTxManager(db).WithTx(ctx, func(ctx context.Context) error {
			return repo.Save(ctx, msg)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLMessageRepository_Delete(t *testing.T) {
	ctx := context.Background()
	id := uuid.Must(uuid.NewV7())

	t.Run("deleted", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`DELETE FROM messages WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, NewPostgreSQLMessageRepository(db).Delete(ctx, id))
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`DELETE FROM messages`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, NewPostgreSQLMessageRepository(db).Delete(ctx, id), domain.ErrMessageNotFound)
	})
}

func TestPostgreSQLMessageRepository_List(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by status and queue", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		first := uuid.Must(uuid.NewV7())
		second := uuid.Must(uuid.NewV7())

		mock.ExpectQuery(`SELECT .* FROM messages WHERE status = \$1 AND queue_name = \$2 ORDER BY received_at ASC, id ASC LIMIT 10 OFFSET 20`).
			WithArgs(domain.StatusFailed, "ORDERS.IN").
			WillReturnRows(rowsFor(
				messageRow(first.String(), "msg-1", domain.StatusFailed, 1),
				messageRow(second.String(), "msg-2", domain.StatusFailed, 1),
			))

		messages, err := repo.List(ctx, domain.ListFilter{
			Status:    domain.StatusFailed,
			QueueName: "ORDERS.IN",
			Limit:     10,
			Offset:    20,
		})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, first, messages[0].ID)
		assert.Equal(t, second, messages[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null message id reads as blank", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)
		id := uuid.Must(uuid.NewV7())
		row := messageRow(id.String(), "", domain.StatusFailed, 1)
		row[1] = nil

		mock.ExpectQuery(`SELECT .* FROM messages`).WillReturnRows(rowsFor(row))

		messages, err := repo.List(ctx, domain.ListFilter{})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "", messages[0].MessageID)
		assert.Equal(t, id, messages[0].ID)
	})

	t.Run("empty filter returns empty slice", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgreSQLMessageRepository(db)

		mock.ExpectQuery(`SELECT .* FROM messages ORDER BY received_at ASC, id ASC$`).
			WillReturnRows(sqlmock.NewRows(messageColumns))

		messages, err := repo.List(ctx, domain.ListFilter{})
		require.NoError(t, err)
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})
}
