package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockTxManager is a mock implementation of database.TxManager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Get(0) != nil {
		return args.Error(0)
	}
	// Execute the function to test the logic inside
	return fn(ctx)
}

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) GetByMessageID(
	ctx context.Context,
	messageID, queueName string,
) (*messageDomain.Message, error) {
	args := m.Called(ctx, messageID, queueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messageDomain.Message), args.Error(1)
}

func (m *MockMessageRepository) Save(ctx context.Context, msg *messageDomain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockMessageReader is a mock implementation of MessageReader
type MockMessageReader struct {
	mock.Mock
}

func (m *MockMessageReader) Open(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMessageReader) Read(ctx context.Context) (*messageDomain.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messageDomain.Message), args.Error(1)
}

func (m *MockMessageReader) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessageReader) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessageReader) Close() {
	m.Called()
}

func (m *MockMessageReader) CheckpointInfo() any {
	return nil
}

// MockMessageWriter is a mock implementation of MessageWriter
type MockMessageWriter struct {
	mock.Mock
}

func (m *MockMessageWriter) Write(ctx context.Context, chunk []*messageDomain.Message) error {
	// Copy so later chunk reuse does not change recorded calls
	cp := make([]*messageDomain.Message, len(chunk))
	copy(cp, chunk)
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func (m *MockMessageWriter) CheckpointInfo() any {
	return nil
}

// MockDiverter is a mock implementation of Diverter
type MockDiverter struct {
	mock.Mock
}

func (m *MockDiverter) Divert(ctx context.Context, msg *messageDomain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockJobUseCase is a mock implementation of JobUseCase
type MockJobUseCase struct {
	mock.Mock
}

func (m *MockJobUseCase) Run(ctx context.Context) (*ingestDomain.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestDomain.Result), args.Error(1)
}

// mockBusinessMetrics is a mock implementation of metrics.BusinessMetrics
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

func (m *mockBusinessMetrics) RecordMessages(ctx context.Context, queue, outcome string, count int) {
	m.Called(ctx, queue, outcome, count)
}
