package commands

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	backoutDomain "github.com/allisson/mqingest/internal/backout/domain"
	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockJobUseCase struct {
	mock.Mock
}

func (m *mockJobUseCase) Run(ctx context.Context) (*ingestDomain.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestDomain.Result), args.Error(1)
}

type mockBackoutUseCase struct {
	mock.Mock
}

func (m *mockBackoutUseCase) BackoutQueueName(queue string) string {
	args := m.Called(queue)
	return args.String(0)
}

func (m *mockBackoutUseCase) GetStats(ctx context.Context, queue string) (*backoutDomain.Stats, error) {
	args := m.Called(ctx, queue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backoutDomain.Stats), args.Error(1)
}

func (m *mockBackoutUseCase) MoveAll(ctx context.Context, backoutQueue, originalQueue string) (int, error) {
	args := m.Called(ctx, backoutQueue, originalQueue)
	return args.Int(0), args.Error(1)
}

func (m *mockBackoutUseCase) MoveBatch(
	ctx context.Context,
	backoutQueue, originalQueue string,
	batchSize int,
) (int, error) {
	args := m.Called(ctx, backoutQueue, originalQueue, batchSize)
	return args.Int(0), args.Error(1)
}

func (m *mockBackoutUseCase) Divert(ctx context.Context, msg *messageDomain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockMessageUseCase struct {
	mock.Mock
}

func (m *mockMessageUseCase) Get(ctx context.Context, messageID, queueName string) (*messageDomain.Message, error) {
	args := m.Called(ctx, messageID, queueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messageDomain.Message), args.Error(1)
}

func (m *mockMessageUseCase) List(
	ctx context.Context,
	filter messageDomain.ListFilter,
) ([]*messageDomain.Message, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*messageDomain.Message), args.Error(1)
}

func (m *mockMessageUseCase) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type countingEvictor struct {
	calls atomic.Int64
}

func (c *countingEvictor) EvictIdle() int {
	c.calls.Add(1)
	return 1
}

// blockingServer serves until Shutdown is called, or fails at once when startErr is set.
type blockingServer struct {
	startErr error
	stopped  chan struct{}
	shutdown atomic.Bool
}

func newBlockingServer(startErr error) *blockingServer {
	return &blockingServer{startErr: startErr, stopped: make(chan struct{})}
}

func (s *blockingServer) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.stopped
	return nil
}

func (s *blockingServer) Shutdown(ctx context.Context) error {
	if s.shutdown.CompareAndSwap(false, true) {
		close(s.stopped)
	}
	return nil
}
