// Package broker provides the AMQP connection plumbing used by the ingest
// pipeline and the backout service: a Connection/Channel abstraction over
// github.com/streadway/amqp, a circuit-breaking connection factory and a
// bounded connection Pool.
package broker

import (
	"context"
	"errors"

	"github.com/streadway/amqp"
)

var (
	// ErrPoolShutdown is returned when a connection is requested from a pool that has been shut down.
	ErrPoolShutdown = errors.New("connection pool is shut down")

	// ErrPoolExhausted is returned when no connection became available within the configured wait.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrNotInitialized is returned when the pool is used before Initialize.
	ErrNotInitialized = errors.New("connection pool is not initialized")

	// ErrConnectionClosed is returned by validation when the underlying connection is closed.
	ErrConnectionClosed = errors.New("broker connection is closed")
)

// IsNotFound reports whether err is the broker's 404 reply, as returned by a
// passive declare of a missing queue.
func IsNotFound(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}

// Channel is the subset of *amqp.Channel used by the ingest and backout code.
type Channel interface {
	Close() error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	QueueInspect(name string) (amqp.Queue, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Tx() error
	TxCommit() error
	TxRollback() error
}

// Connection is a raw broker connection handle. Pool keys its active set by
// this value, so implementations must be comparable (pointer receivers).
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// ConnectionFactory creates new broker connections.
type ConnectionFactory interface {
	NewConnection(ctx context.Context) (Connection, error)
}

// ConnectionFactoryFunc adapts a function to ConnectionFactory.
type ConnectionFactoryFunc func(ctx context.Context) (Connection, error)

// NewConnection calls f(ctx).
func (f ConnectionFactoryFunc) NewConnection(ctx context.Context) (Connection, error) {
	return f(ctx)
}

// amqpConnection adapts *amqp.Connection to Connection.
type amqpConnection struct {
	conn *amqp.Connection
}

// Channel opens a new AMQP channel.
func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Close closes the AMQP connection and every channel opened on it.
func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// IsClosed reports whether the connection was closed by either peer.
func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

// Validate performs one broker round-trip by opening and closing a channel.
// Any error means the connection must be discarded.
func Validate(conn Connection) error {
	if conn == nil || conn.IsClosed() {
		return ErrConnectionClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	return ch.Close()
}
