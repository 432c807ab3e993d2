package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	messageDomain "github.com/allisson/mqingest/internal/message/domain"
	messageUseCase "github.com/allisson/mqingest/internal/message/usecase"
)

// messageView is the CLI rendering of a stored message.
type messageView struct {
	ID            string     `json:"id"`
	MessageID     string     `json:"message_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	QueueName     string     `json:"queue_name"`
	Content       string     `json:"content"`
	ContentType   string     `json:"content_type"`
	Priority      int        `json:"priority"`
	Expiry        int64      `json:"expiry,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	Version       int        `json:"version"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func newMessageView(m *messageDomain.Message) messageView {
	return messageView{
		ID:            m.ID.String(),
		MessageID:     m.MessageID,
		CorrelationID: m.CorrelationID,
		QueueName:     m.QueueName,
		Content:       m.Content,
		ContentType:   string(m.ContentType),
		Priority:      m.Priority,
		Expiry:        m.Expiry,
		Status:        string(m.Status),
		ErrorMessage:  m.ErrorMessage,
		RetryCount:    m.RetryCount,
		Version:       m.Version,
		ReceivedAt:    m.ReceivedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

// RunListMessages prints the stored messages matching filter.
func RunListMessages(
	ctx context.Context,
	useCase messageUseCase.MessageUseCase,
	out io.Writer,
	filter messageDomain.ListFilter,
	format string,
) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	messages, err := useCase.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if format == FormatJSON {
		views := make([]messageView, 0, len(messages))
		for _, m := range messages {
			views = append(views, newMessageView(m))
		}
		return writeJSON(out, views)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGE ID\tQUEUE\tSTATUS\tRETRIES\tRECEIVED AT")
	for _, m := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.MessageID, m.QueueName, m.Status, m.RetryCount, m.ReceivedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// RunGetMessage prints the message stored for (messageID, queue).
func RunGetMessage(
	ctx context.Context,
	useCase messageUseCase.MessageUseCase,
	out io.Writer,
	messageID string,
	queue string,
	format string,
) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	m, err := useCase.Get(ctx, messageID, queue)
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	if format == FormatJSON {
		return writeJSON(out, newMessageView(m))
	}

	_, err = fmt.Fprintf(out, "ID: %s\nMessage ID: %s\nQueue: %s\nStatus: %s\nRetries: %d\nContent: %s\n",
		m.ID, m.MessageID, m.QueueName, m.Status, m.RetryCount, m.Content)
	if err != nil {
		return err
	}
	if m.ErrorMessage != nil {
		_, err = fmt.Fprintf(out, "Error: %s\n", *m.ErrorMessage)
	}
	return err
}

// RunDeleteMessage removes a stored message by its store id.
func RunDeleteMessage(
	ctx context.Context,
	useCase messageUseCase.MessageUseCase,
	logger *slog.Logger,
	out io.Writer,
	id string,
) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", id, err)
	}

	if err := useCase.Delete(ctx, parsed); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	logger.Info("message deleted", slog.String("id", parsed.String()))
	_, err = fmt.Fprintf(out, "Deleted message %s\n", parsed)
	return err
}
