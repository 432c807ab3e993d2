package broker

import (
	"sync"
	"time"
)

// PooledConnection wraps a broker Connection with the usage metadata the Pool
// needs to recycle it.
type PooledConnection struct {
	mu sync.Mutex

	conn       Connection
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      bool
}

// NewPooledConnection wraps conn. The connection starts available.
func NewPooledConnection(conn Connection) *PooledConnection {
	now := time.Now()
	return &PooledConnection{
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// Connection returns the wrapped handle.
func (c *PooledConnection) Connection() Connection {
	return c.conn
}

// MarkAsActive flags the connection as lent out.
func (c *PooledConnection) MarkAsActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = true
	c.touch()
}

// MarkAsAvailable flags the connection as returned to the pool.
func (c *PooledConnection) MarkAsAvailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = false
	c.touch()
}

// InUse reports whether the connection is currently lent out.
func (c *PooledConnection) InUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// CreatedAt returns when the connection was wrapped.
func (c *PooledConnection) CreatedAt() time.Time {
	return c.createdAt
}

// LastUsedAt returns the time of the last lend or return.
func (c *PooledConnection) LastUsedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

// Age returns how long ago the connection was created.
func (c *PooledConnection) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleTime returns how long ago the connection was last lent or returned.
func (c *PooledConnection) IdleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// Close closes the wrapped connection. A nil handle is a no-op.
func (c *PooledConnection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// touch keeps lastUsedAt monotonic even if the wall clock steps back.
func (c *PooledConnection) touch() {
	now := time.Now()
	if now.After(c.lastUsedAt) {
		c.lastUsedAt = now
	}
}
