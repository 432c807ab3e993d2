package usecase

import (
	"context"
	"log/slog"
	"time"

	validation "github.com/jellydator/validation"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/allisson/mqingest/internal/backout/domain"
	"github.com/allisson/mqingest/internal/broker"
	apperrors "github.com/allisson/mqingest/internal/errors"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	ingestUseCase "github.com/allisson/mqingest/internal/ingest/usecase"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
	appValidation "github.com/allisson/mqingest/internal/validation"
)

// Config holds backout queue configuration.
type Config struct {
	// Suffix is appended to a queue name to form its backout queue name.
	Suffix string
	// MaxRetries is the retry count at which a FAILED message is no longer diverted.
	MaxRetries int
	// RatePerSec limits how many messages per second are moved. Zero means unlimited.
	RatePerSec float64
	// Burst is the limiter burst size.
	Burst int
}

// backoutUseCase implements BackoutUseCase over pooled broker connections.
// Each moved message is taken, republished and acknowledged inside one AMQP
// transaction, so a failure leaves it in the backout queue.
type backoutUseCase struct {
	cfg     Config
	source  ConnectionSource
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewBackoutUseCase creates a BackoutUseCase.
func NewBackoutUseCase(cfg Config, source ConnectionSource, logger *slog.Logger) BackoutUseCase {
	if cfg.Suffix == "" {
		cfg.Suffix = domain.DefaultSuffix
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &backoutUseCase{
		cfg:     cfg,
		source:  source,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// moveInput is the validated pair of queues for a replay.
type moveInput struct {
	BackoutQueue  string
	OriginalQueue string
}

// Validate implements validation.Validatable.
func (in moveInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.BackoutQueue,
			validation.Required.Error("backout queue is required"),
			appValidation.NotBlank,
			appValidation.QueueName,
		),
		validation.Field(&in.OriginalQueue,
			validation.Required.Error("original queue is required"),
			appValidation.NotBlank,
			appValidation.QueueName,
			validation.NotIn(in.BackoutQueue).Error("must differ from the backout queue"),
		),
	)
}

// BackoutQueueName returns queue with the configured suffix appended.
func (b *backoutUseCase) BackoutQueueName(queue string) string {
	return queue + b.cfg.Suffix
}

// GetStats inspects queue and its backout queue. A missing backout queue is
// reported through Stats.BackoutQueueExists; a missing queue is an error.
func (b *backoutUseCase) GetStats(ctx context.Context, queue string) (*domain.Stats, error) {
	err := validation.Validate(queue,
		validation.Required.Error("queue is required"),
		appValidation.NotBlank,
		appValidation.QueueName,
	)
	if err != nil {
		return nil, appValidation.WrapValidationError(err)
	}

	conn, err := b.source.GetConnection(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to acquire broker connection")
	}
	defer b.source.ReleaseConnection(conn)

	q, err := inspect(conn, queue)
	if err != nil {
		return nil, err
	}

	stats := &domain.Stats{
		QueueName:        q.Name,
		MessageCount:     q.Messages,
		ConsumerCount:    q.Consumers,
		BackoutQueueName: b.BackoutQueueName(queue),
	}

	bq, err := inspect(conn, stats.BackoutQueueName)
	if err != nil {
		if apperrors.Is(err, domain.ErrQueueNotFound) {
			return stats, nil
		}
		return nil, err
	}
	stats.BackoutQueueExists = true
	stats.BackoutMessageCount = bq.Messages
	stats.BackoutConsumerCount = bq.Consumers
	return stats, nil
}

// MoveAll moves every message found in backoutQueue at the start of the call.
func (b *backoutUseCase) MoveAll(ctx context.Context, backoutQueue, originalQueue string) (int, error) {
	return b.move(ctx, backoutQueue, originalQueue, 0)
}

// MoveBatch moves at most batchSize messages. The size is checked before any broker call.
func (b *backoutUseCase) MoveBatch(
	ctx context.Context,
	backoutQueue, originalQueue string,
	batchSize int,
) (int, error) {
	err := validation.Validate(batchSize,
		validation.Required,
		validation.Min(domain.MinBatchSize),
		validation.Max(domain.MaxBatchSize),
	)
	if err != nil {
		return 0, apperrors.Wrap(domain.ErrInvalidBatchSize, err.Error())
	}
	return b.move(ctx, backoutQueue, originalQueue, batchSize)
}

func (b *backoutUseCase) move(
	ctx context.Context,
	backoutQueue, originalQueue string,
	limit int,
) (moved int, err error) {
	in := moveInput{BackoutQueue: backoutQueue, OriginalQueue: originalQueue}
	if err := in.Validate(); err != nil {
		return 0, appValidation.WrapValidationError(err)
	}

	ctx, span := otel.Tracer("backout").Start(ctx, "Backout.Move")
	span.SetAttributes(
		attribute.String("backout.queue", backoutQueue),
		attribute.String("backout.original_queue", originalQueue),
		attribute.Int("backout.limit", limit),
	)
	defer func() {
		span.SetAttributes(attribute.Int("backout.moved", moved))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	conn, err := b.source.GetConnection(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to acquire broker connection")
	}
	defer b.source.ReleaseConnection(conn)

	// Publishing to a missing queue through the default exchange drops the message.
	if _, err := inspect(conn, originalQueue); err != nil {
		return 0, err
	}
	q, err := inspect(conn, backoutQueue)
	if err != nil {
		return 0, err
	}

	pending := q.Messages
	if limit > 0 && limit < pending {
		pending = limit
	}
	if pending == 0 {
		return 0, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to open channel")
	}
	defer func() {
		if err := ch.Close(); err != nil {
			b.logger.Warn("failed to close replay channel", slog.Any("error", err))
		}
	}()

	if err := ch.Tx(); err != nil {
		return 0, apperrors.Wrap(err, "failed to start broker transaction")
	}

	for moved < pending {
		if err := b.limiter.Wait(ctx); err != nil {
			return moved, err
		}

		ok, err := b.moveOne(ch, backoutQueue, originalQueue)
		if err != nil {
			return moved, err
		}
		if !ok {
			break
		}
		moved++
	}

	b.logger.Info("moved messages from backout queue",
		slog.String("backout_queue", backoutQueue),
		slog.String("original_queue", originalQueue),
		slog.Int("moved", moved),
	)
	return moved, nil
}

// moveOne transfers the head of backoutQueue. It reports false when the
// queue was empty.
func (b *backoutUseCase) moveOne(ch broker.Channel, backoutQueue, originalQueue string) (bool, error) {
	d, ok, err := ch.Get(backoutQueue, false)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get message from backout queue")
	}
	if !ok {
		return false, nil
	}

	if err := ch.Publish("", originalQueue, false, false, republish(d)); err != nil {
		b.rollback(ch)
		return false, apperrors.Wrap(err, "failed to publish message to original queue")
	}
	if err := d.Ack(false); err != nil {
		b.rollback(ch)
		return false, apperrors.Wrap(err, "failed to acknowledge backout message")
	}
	if err := ch.TxCommit(); err != nil {
		b.rollback(ch)
		return false, apperrors.Wrap(err, "failed to commit message move")
	}
	return true, nil
}

func (b *backoutUseCase) rollback(ch broker.Channel) {
	if err := ch.TxRollback(); err != nil {
		b.logger.Warn("failed to roll back broker transaction", slog.Any("error", err))
	}
}

// Divert publishes msg to the backout queue of its source queue.
func (b *backoutUseCase) Divert(ctx context.Context, msg *messageDomain.Message) error {
	if msg == nil || msg.Status != messageDomain.StatusFailed {
		return nil
	}
	if msg.RetryCount >= b.cfg.MaxRetries {
		b.logger.Warn("retry limit reached, message stays failed",
			slog.String("message_id", msg.MessageID),
			slog.Int("retry_count", msg.RetryCount),
		)
		return nil
	}

	backoutQueue := b.BackoutQueueName(msg.QueueName)

	conn, err := b.source.GetConnection(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to acquire broker connection")
	}
	defer b.source.ReleaseConnection(conn)

	if _, err := inspect(conn, backoutQueue); err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return apperrors.Wrap(err, "failed to open channel")
	}
	defer func() {
		if err := ch.Close(); err != nil {
			b.logger.Warn("failed to close divert channel", slog.Any("error", err))
		}
	}()

	if err := ch.Tx(); err != nil {
		return apperrors.Wrap(err, "failed to start broker transaction")
	}
	if err := ch.Publish("", backoutQueue, false, false, b.backoutPublishing(msg)); err != nil {
		b.rollback(ch)
		return apperrors.Wrap(err, "failed to publish message to backout queue")
	}
	if err := ch.TxCommit(); err != nil {
		b.rollback(ch)
		return apperrors.Wrap(err, "failed to commit message divert")
	}

	msg.MarkBackout()
	b.logger.Info("message diverted to backout queue",
		slog.String("message_id", msg.MessageID),
		slog.String("backout_queue", backoutQueue),
	)
	return nil
}

func (b *backoutUseCase) backoutPublishing(msg *messageDomain.Message) amqp.Publishing {
	headers := amqp.Table{
		ingestDomain.RetryCountHeader: int32(msg.RetryCount),
		domain.OriginalQueueHeader:    msg.QueueName,
	}
	if msg.ErrorMessage != nil {
		headers[domain.FailureReasonHeader] = *msg.ErrorMessage
	}

	contentType := "text/plain"
	if msg.ContentType == messageDomain.PayloadBytes {
		contentType = "application/octet-stream"
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   contentType,
		DeliveryMode:  amqp.Persistent,
		Priority:      priority(msg.Priority),
		CorrelationId: msg.CorrelationID,
		MessageId:     msg.MessageID,
		Timestamp:     b.now().UTC(),
		Body:          []byte(msg.Content),
	}
}

// inspect runs a passive declare on its own channel; a 404 closes the channel
// on the broker side, so it is never reused.
func inspect(conn broker.Connection, queue string) (amqp.Queue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return amqp.Queue{}, apperrors.Wrap(err, "failed to open channel")
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueInspect(queue)
	if err != nil {
		if broker.IsNotFound(err) {
			return amqp.Queue{}, apperrors.Wrapf(domain.ErrQueueNotFound, "queue %s", queue)
		}
		return amqp.Queue{}, apperrors.Wrapf(err, "failed to inspect queue %s", queue)
	}
	return q, nil
}

// republish copies a backout delivery into a publishing for the original
// queue with its retry counter incremented. UserId is checked by the broker
// against the publishing user, so it is not carried over.
func republish(d amqp.Delivery) amqp.Publishing {
	headers := make(amqp.Table, len(d.Headers)+1)
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[ingestDomain.RetryCountHeader] = int32(ingestUseCase.RetryCount(d.Headers) + 1)

	return amqp.Publishing{
		Headers:         headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		AppId:           d.AppId,
		Body:            d.Body,
	}
}

func priority(p int) uint8 {
	switch {
	case p < 0:
		return 0
	case p > 255:
		return 255
	default:
		return uint8(p)
	}
}
