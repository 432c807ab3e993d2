package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/mqingest/internal/backout/domain"
	"github.com/allisson/mqingest/internal/broker"
	"github.com/allisson/mqingest/internal/broker/brokertest"
	apperrors "github.com/allisson/mqingest/internal/errors"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

const (
	originalQueue = "ORDERS.IN"
	backoutQueue  = "ORDERS.IN.BACKOUT"
)

// countingSource lends connections from an in-memory broker and counts loans.
type countingSource struct {
	broker *brokertest.Broker
	err    error

	mu       sync.Mutex
	gets     int
	released int
}

func (s *countingSource) GetConnection(ctx context.Context) (broker.Connection, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.broker.NewConnection(ctx)
}

func (s *countingSource) ReleaseConnection(conn broker.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *countingSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.released
}

func newTestUseCase(b *brokertest.Broker) (*backoutUseCase, *countingSource) {
	source := &countingSource{broker: b}
	uc := NewBackoutUseCase(Config{MaxRetries: 3}, source, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return uc.(*backoutUseCase), source
}

func publishing(id string, retries int32) amqp.Publishing {
	return amqp.Publishing{
		MessageId:     id,
		CorrelationId: "corr-" + id,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      5,
		Headers:       amqp.Table{ingestDomain.RetryCountHeader: retries, "tenant": "acme"},
		Body:          []byte(`{"id":"` + id + `"}`),
	}
}

// lastReplayChannel returns the channel a move ran its transaction on.
func lastReplayChannel(t *testing.T, b *brokertest.Broker) *brokertest.Channel {
	t.Helper()
	conns := b.Connections()
	require.NotEmpty(t, conns)
	ch := conns[len(conns)-1].LastChannel()
	require.NotNil(t, ch)
	return ch
}

func TestBackoutUseCase_BackoutQueueName(t *testing.T) {
	uc, _ := newTestUseCase(brokertest.NewBroker())
	assert.Equal(t, backoutQueue, uc.BackoutQueueName(originalQueue))

	custom := NewBackoutUseCase(Config{Suffix: ".DLQ"}, &countingSource{}, slog.Default())
	assert.Equal(t, "ORDERS.IN.DLQ", custom.BackoutQueueName(originalQueue))
}

func TestBackoutUseCase_GetStats(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.Enqueue(originalQueue, publishing("a", 0))
		b.Enqueue(backoutQueue, publishing("b", 1), publishing("c", 2))
		uc, source := newTestUseCase(b)

		stats, err := uc.GetStats(ctx, originalQueue)

		require.NoError(t, err)
		assert.Equal(t, originalQueue, stats.QueueName)
		assert.Equal(t, 1, stats.MessageCount)
		assert.Equal(t, backoutQueue, stats.BackoutQueueName)
		assert.True(t, stats.BackoutQueueExists)
		assert.Equal(t, 2, stats.BackoutMessageCount)
		assert.True(t, stats.HasBacklog())

		// Read-only.
		assert.Equal(t, 2, b.Depth(backoutQueue))
		gets, released := source.counts()
		assert.Equal(t, gets, released)
	})

	t.Run("Success_NoBackoutQueue", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		uc, _ := newTestUseCase(b)

		stats, err := uc.GetStats(ctx, originalQueue)

		require.NoError(t, err)
		assert.False(t, stats.BackoutQueueExists)
		assert.Equal(t, 0, stats.BackoutMessageCount)
	})

	t.Run("Error_QueueNotFound", func(t *testing.T) {
		uc, _ := newTestUseCase(brokertest.NewBroker())

		stats, err := uc.GetStats(ctx, originalQueue)

		assert.Nil(t, stats)
		assert.ErrorIs(t, err, domain.ErrQueueNotFound)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("Error_InvalidQueueName", func(t *testing.T) {
		uc, source := newTestUseCase(brokertest.NewBroker())

		_, err := uc.GetStats(ctx, "  ")

		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		gets, _ := source.counts()
		assert.Equal(t, 0, gets)
	})

	t.Run("Error_NoConnection", func(t *testing.T) {
		uc, source := newTestUseCase(brokertest.NewBroker())
		source.err = broker.ErrPoolShutdown

		_, err := uc.GetStats(ctx, originalQueue)

		assert.ErrorIs(t, err, broker.ErrPoolShutdown)
	})
}

func TestBackoutUseCase_MoveAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_PreservesPropertiesAndIncrementsRetry", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		b.Enqueue(backoutQueue, publishing("a", 0), publishing("b", 2), publishing("c", 0))
		uc, source := newTestUseCase(b)

		moved, err := uc.MoveAll(ctx, backoutQueue, originalQueue)

		require.NoError(t, err)
		assert.Equal(t, 3, moved)
		assert.Equal(t, 0, b.Depth(backoutQueue))

		msgs := b.Messages(originalQueue)
		require.Len(t, msgs, 3)
		assert.Equal(t, "a", msgs[0].MessageId)
		assert.Equal(t, "b", msgs[1].MessageId)
		assert.Equal(t, "c", msgs[2].MessageId)

		assert.Equal(t, "corr-b", msgs[1].CorrelationId)
		assert.Equal(t, "application/json", msgs[1].ContentType)
		assert.Equal(t, uint8(5), msgs[1].Priority)
		assert.Equal(t, amqp.Persistent, msgs[1].DeliveryMode)
		assert.Equal(t, `{"id":"b"}`, string(msgs[1].Body))
		assert.Equal(t, "acme", msgs[1].Headers["tenant"])
		assert.Equal(t, int32(3), msgs[1].Headers[ingestDomain.RetryCountHeader])
		assert.Equal(t, int32(1), msgs[0].Headers[ingestDomain.RetryCountHeader])

		ch := lastReplayChannel(t, b)
		assert.Equal(t, 3, ch.Commits)
		assert.Equal(t, 0, ch.Unacked())

		gets, released := source.counts()
		assert.Equal(t, 1, gets)
		assert.Equal(t, 1, released)
	})

	t.Run("Success_EmptyBackoutQueue", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		b.DeclareQueue(backoutQueue)
		uc, _ := newTestUseCase(b)

		moved, err := uc.MoveAll(ctx, backoutQueue, originalQueue)

		require.NoError(t, err)
		assert.Equal(t, 0, moved)
	})

	t.Run("Error_OriginalQueueMissing", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.Enqueue(backoutQueue, publishing("a", 0))
		uc, _ := newTestUseCase(b)

		moved, err := uc.MoveAll(ctx, backoutQueue, originalQueue)

		assert.ErrorIs(t, err, domain.ErrQueueNotFound)
		assert.Equal(t, 0, moved)
		assert.Equal(t, 1, b.Depth(backoutQueue))
	})

	t.Run("Error_SameQueue", func(t *testing.T) {
		uc, source := newTestUseCase(brokertest.NewBroker())

		_, err := uc.MoveAll(ctx, originalQueue, originalQueue)

		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		gets, _ := source.counts()
		assert.Equal(t, 0, gets)
	})

	t.Run("Error_ContextCancelled", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		b.Enqueue(backoutQueue, publishing("a", 0))
		uc, _ := newTestUseCase(b)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		moved, err := uc.MoveAll(cancelled, backoutQueue, originalQueue)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, moved)
		assert.Equal(t, 1, b.Depth(backoutQueue))
	})
}

// failingSource hands out a connection whose next channel fails the given step.
type failingSource struct {
	countingSource
	configure func(ch *brokertest.Channel)
}

func (s *failingSource) GetConnection(ctx context.Context) (broker.Connection, error) {
	conn, err := s.countingSource.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	return &hookedConnection{Connection: conn.(*brokertest.Connection), configure: s.configure}, nil
}

// hookedConnection lets a test inject failures into every channel it opens.
type hookedConnection struct {
	*brokertest.Connection
	configure func(ch *brokertest.Channel)
}

func (c *hookedConnection) Channel() (broker.Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	c.configure(ch.(*brokertest.Channel))
	return ch, nil
}

func TestBackoutUseCase_MoveFailuresKeepMessages(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		configure func(ch *brokertest.Channel)
	}{
		{"publish fails", func(ch *brokertest.Channel) { ch.PublishErr = errors.New("publish refused") }},
		{"ack fails", func(ch *brokertest.Channel) { ch.AckErr = errors.New("ack refused") }},
		{"commit fails", func(ch *brokertest.Channel) { ch.CommitErr = errors.New("commit refused") }},
		{"get fails", func(ch *brokertest.Channel) { ch.GetErr = errors.New("get refused") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := brokertest.NewBroker()
			b.DeclareQueue(originalQueue)
			b.Enqueue(backoutQueue, publishing("a", 0), publishing("b", 0))

			source := &failingSource{countingSource: countingSource{broker: b}, configure: tt.configure}
			uc := NewBackoutUseCase(Config{}, source, slog.New(slog.NewTextHandler(io.Discard, nil)))

			moved, err := uc.MoveAll(ctx, backoutQueue, originalQueue)

			require.Error(t, err)
			assert.Equal(t, 0, moved)
			assert.Equal(t, 2, b.Depth(backoutQueue))
			assert.Equal(t, 0, b.Depth(originalQueue))
			assert.Equal(t, "a", b.Messages(backoutQueue)[0].MessageId)
		})
	}
}

func TestBackoutUseCase_MoveBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_CapsAtBatchSize", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			b.Enqueue(backoutQueue, publishing(id, 0))
		}
		uc, _ := newTestUseCase(b)

		moved, err := uc.MoveBatch(ctx, backoutQueue, originalQueue, 2)

		require.NoError(t, err)
		assert.Equal(t, 2, moved)
		assert.Equal(t, 3, b.Depth(backoutQueue))
		assert.Equal(t, 2, b.Depth(originalQueue))
	})

	t.Run("Success_BatchLargerThanQueue", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(originalQueue)
		b.Enqueue(backoutQueue, publishing("a", 0))
		uc, _ := newTestUseCase(b)

		moved, err := uc.MoveBatch(ctx, backoutQueue, originalQueue, domain.MaxBatchSize)

		require.NoError(t, err)
		assert.Equal(t, 1, moved)
	})

	for _, size := range []int{-1, 0, 101} {
		t.Run("Error_InvalidBatchSize", func(t *testing.T) {
			b := brokertest.NewBroker()
			uc, source := newTestUseCase(b)

			moved, err := uc.MoveBatch(ctx, backoutQueue, originalQueue, size)

			assert.ErrorIs(t, err, domain.ErrInvalidBatchSize)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, 0, moved)
			gets, _ := source.counts()
			assert.Equal(t, 0, gets)
			assert.Equal(t, 0, b.Dials())
		})
	}
}

func TestBackoutUseCase_RatePacing(t *testing.T) {
	b := brokertest.NewBroker()
	b.DeclareQueue(originalQueue)
	b.Enqueue(backoutQueue, publishing("a", 0), publishing("b", 0), publishing("c", 0))

	source := &countingSource{broker: b}
	uc := NewBackoutUseCase(
		Config{RatePerSec: 50, Burst: 1},
		source,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	start := time.Now()
	moved, err := uc.MoveAll(context.Background(), backoutQueue, originalQueue)

	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	// Two waits of 20ms each after the initial token.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func failedMessage(retries int) *messageDomain.Message {
	msg := &messageDomain.Message{
		MessageID:     "ID:0001",
		CorrelationID: "corr-1",
		QueueName:     originalQueue,
		Content:       "   ",
		ContentType:   messageDomain.PayloadText,
		Priority:      7,
		Status:        messageDomain.StatusReceived,
		RetryCount:    retries,
	}
	msg.MarkFailed(ingestDomain.ReasonEmptyContent)
	return msg
}

func TestBackoutUseCase_Divert(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(backoutQueue)
		uc, source := newTestUseCase(b)
		msg := failedMessage(1)

		err := uc.Divert(ctx, msg)

		require.NoError(t, err)
		assert.Equal(t, messageDomain.StatusBackout, msg.Status)

		msgs := b.Messages(backoutQueue)
		require.Len(t, msgs, 1)
		assert.Equal(t, "ID:0001", msgs[0].MessageId)
		assert.Equal(t, "corr-1", msgs[0].CorrelationId)
		assert.Equal(t, uint8(7), msgs[0].Priority)
		assert.Equal(t, "text/plain", msgs[0].ContentType)
		assert.Equal(t, "   ", string(msgs[0].Body))
		assert.Equal(t, int32(1), msgs[0].Headers[ingestDomain.RetryCountHeader])
		assert.Equal(t, originalQueue, msgs[0].Headers[domain.OriginalQueueHeader])
		assert.Equal(t, ingestDomain.ReasonEmptyContent, msgs[0].Headers[domain.FailureReasonHeader])

		gets, released := source.counts()
		assert.Equal(t, 1, gets)
		assert.Equal(t, 1, released)
	})

	t.Run("Success_RetryLimitReached", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(backoutQueue)
		uc, source := newTestUseCase(b)
		msg := failedMessage(3)

		err := uc.Divert(ctx, msg)

		require.NoError(t, err)
		assert.Equal(t, messageDomain.StatusFailed, msg.Status)
		assert.Equal(t, 0, b.Depth(backoutQueue))
		gets, _ := source.counts()
		assert.Equal(t, 0, gets)
	})

	t.Run("Success_IgnoresNonFailed", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(backoutQueue)
		uc, _ := newTestUseCase(b)

		msg := &messageDomain.Message{MessageID: "x", QueueName: originalQueue, Status: messageDomain.StatusProcessed}
		require.NoError(t, uc.Divert(ctx, msg))
		require.NoError(t, uc.Divert(ctx, nil))

		assert.Equal(t, messageDomain.StatusProcessed, msg.Status)
		assert.Equal(t, 0, b.Depth(backoutQueue))
	})

	t.Run("Error_BackoutQueueMissing", func(t *testing.T) {
		uc, _ := newTestUseCase(brokertest.NewBroker())
		msg := failedMessage(0)

		err := uc.Divert(ctx, msg)

		assert.ErrorIs(t, err, domain.ErrQueueNotFound)
		assert.Equal(t, messageDomain.StatusFailed, msg.Status)
	})

	t.Run("Error_PublishFails", func(t *testing.T) {
		b := brokertest.NewBroker()
		b.DeclareQueue(backoutQueue)
		source := &failingSource{
			countingSource: countingSource{broker: b},
			configure:      func(ch *brokertest.Channel) { ch.PublishErr = errors.New("publish refused") },
		}
		uc := NewBackoutUseCase(Config{MaxRetries: 3}, source, slog.New(slog.NewTextHandler(io.Discard, nil)))
		msg := failedMessage(0)

		err := uc.Divert(ctx, msg)

		assert.Error(t, err)
		assert.Equal(t, messageDomain.StatusFailed, msg.Status)
		assert.Equal(t, 0, b.Depth(backoutQueue))
	})
}

func TestPriority(t *testing.T) {
	assert.Equal(t, uint8(0), priority(-3))
	assert.Equal(t, uint8(9), priority(9))
	assert.Equal(t, uint8(255), priority(1000))
}
