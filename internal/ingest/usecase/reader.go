package usecase

import (
	"context"
	"encoding/base64"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/allisson/mqingest/internal/broker"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// DefaultReceiveTimeout bounds a single Read.
const DefaultReceiveTimeout = 5 * time.Second

// ReaderConfig configures a MessageReader.
type ReaderConfig struct {
	QueueName      string
	ReceiveTimeout time.Duration
	Prefetch       int
	ConsumerTag    string
}

// messageReader consumes one queue over a pooled connection. A reader is
// used by one goroutine at a time. Deliveries stay unacknowledged until
// Commit, so anything not committed is redelivered by the broker.
type messageReader struct {
	cfg    ReaderConfig
	source ConnectionSource
	logger *slog.Logger
	now    func() time.Time

	conn       broker.Connection
	channel    broker.Channel
	deliveries <-chan amqp.Delivery
	tag        string

	// last is the most recent uncommitted delivery; pending counts them.
	last    amqp.Delivery
	pending int
}

// NewMessageReader creates a reader for cfg.QueueName.
func NewMessageReader(cfg ReaderConfig, source ConnectionSource, logger *slog.Logger) MessageReader {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	return &messageReader{
		cfg:    cfg,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Open borrows a connection, opens a channel and starts consuming. On
// failure everything acquired so far is released.
func (r *messageReader) Open(ctx context.Context) error {
	conn, err := r.source.GetConnection(ctx)
	if err != nil {
		return ingestDomain.NewReaderFailure("acquire connection", err)
	}
	r.conn = conn

	ch, err := conn.Channel()
	if err != nil {
		r.Close()
		return ingestDomain.NewReaderFailure("open channel", err)
	}
	r.channel = ch

	if r.cfg.Prefetch > 0 {
		if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
			r.Close()
			return ingestDomain.NewReaderFailure("set prefetch", err)
		}
	}

	tag := r.cfg.ConsumerTag
	if tag == "" {
		tag = "mqingest-" + uuid.NewString()
	}
	deliveries, err := ch.Consume(r.cfg.QueueName, tag, false, false, false, false, nil)
	if err != nil {
		r.Close()
		return ingestDomain.NewReaderFailure("start consumer", err)
	}
	r.tag = tag
	r.deliveries = deliveries

	r.logger.Info("message reader opened",
		slog.String("queue", r.cfg.QueueName),
		slog.String("consumer_tag", tag),
	)
	return nil
}

// Read waits up to ReceiveTimeout for the next delivery and decodes it.
func (r *messageReader) Read(ctx context.Context) (*messageDomain.Message, error) {
	if r.deliveries == nil {
		return nil, ingestDomain.NewReaderFailure("read", broker.ErrConnectionClosed)
	}

	timer := time.NewTimer(r.cfg.ReceiveTimeout)
	defer timer.Stop()

	select {
	case d, ok := <-r.deliveries:
		if !ok {
			r.deliveries = nil
			return nil, ingestDomain.NewReaderFailure("receive", amqp.ErrClosed)
		}
		r.last = d
		r.pending++
		return decodeDelivery(d, r.cfg.QueueName, r.now().UTC()), nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit acknowledges every delivery returned by Read since the last Commit
// or Rollback.
func (r *messageReader) Commit() error {
	if r.pending == 0 {
		return nil
	}
	if err := r.last.Ack(true); err != nil {
		return ingestDomain.NewReaderFailure("acknowledge", err)
	}
	r.pending = 0
	return nil
}

// Rollback returns every delivery read since the last Commit or Rollback to
// the queue.
func (r *messageReader) Rollback() error {
	if r.pending == 0 {
		return nil
	}
	if err := r.last.Nack(true, true); err != nil {
		return ingestDomain.NewReaderFailure("requeue", err)
	}
	r.pending = 0
	return nil
}

// Close cancels the consumer, closes the channel and releases the
// connection. Failures are logged and teardown continues. Uncommitted
// deliveries go back to the queue with the channel.
func (r *messageReader) Close() {
	if r.channel != nil {
		if r.tag != "" {
			if err := r.channel.Cancel(r.tag, false); err != nil {
				r.logger.Warn("failed to cancel consumer", slog.String("consumer_tag", r.tag), slog.Any("error", err))
			}
		}
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("failed to close channel", slog.Any("error", err))
		}
	}
	if r.conn != nil {
		r.source.ReleaseConnection(r.conn)
	}

	r.conn = nil
	r.channel = nil
	r.deliveries = nil
	r.tag = ""
	r.last = amqp.Delivery{}
	r.pending = 0
}

// CheckpointInfo returns nil.
func (r *messageReader) CheckpointInfo() any {
	return nil
}

// decodeDelivery turns a delivery into a RECEIVED message. The payload kind
// is decided here once from the content type.
func decodeDelivery(d amqp.Delivery, queueName string, now time.Time) *messageDomain.Message {
	kind, content := decodePayload(d.ContentType, d.Body)

	return &messageDomain.Message{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		QueueName:     queueName,
		Content:       content,
		ContentType:   kind,
		Priority:      int(d.Priority),
		Expiry:        expiryFrom(d.Expiration, now),
		ReceivedAt:    now,
		Status:        messageDomain.StatusReceived,
		RetryCount:    RetryCount(d.Headers),
	}
}

func decodePayload(contentType string, body []byte) (messageDomain.PayloadKind, string) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "",
		strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml":
		return messageDomain.PayloadText, string(body)
	case mediaType == "application/octet-stream":
		buf := make([]byte, len(body))
		copy(buf, body)
		return messageDomain.PayloadBytes, strings.ToValidUTF8(string(buf), "\uFFFD")
	default:
		if utf8.Valid(body) {
			return messageDomain.PayloadOther, string(body)
		}
		return messageDomain.PayloadOther, base64.StdEncoding.EncodeToString(body)
	}
}

// expiryFrom converts a per-message TTL in milliseconds into an absolute
// epoch-millisecond expiry. An absent or malformed TTL means no expiry.
func expiryFrom(expiration string, now time.Time) int64 {
	if expiration == "" {
		return 0
	}
	ttl, err := strconv.ParseInt(expiration, 10, 64)
	if err != nil || ttl <= 0 {
		return 0
	}
	return now.UnixMilli() + ttl
}

// RetryCount reads the replay counter header. Missing or non-numeric values count as zero.
func RetryCount(headers amqp.Table) int {
	switch v := headers[ingestDomain.RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
