package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/mqingest/internal/errors"
	appValidation "github.com/allisson/mqingest/internal/validation"
)

// PoolConfig bounds the Pool.
type PoolConfig struct {
	MinPoolSize int
	MaxPoolSize int
	// MaxWait is how long GetConnection blocks when the pool is at capacity.
	MaxWait time.Duration
	// IdleTimeout is how long an available connection may stay unused. Zero disables idle eviction.
	IdleTimeout time.Duration
}

// Validate checks the pool bounds.
func (c PoolConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MinPoolSize, validation.Min(0)),
		validation.Field(&c.MaxPoolSize, validation.Required, validation.Min(1), validation.Min(c.MinPoolSize)),
		validation.Field(&c.MaxWait, validation.Min(time.Duration(0))),
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
	)
	return appValidation.WrapValidationError(err)
}

// PoolStatus is a point-in-time snapshot of the pool. Counters are read
// independently and may not add up while connections are moving.
type PoolStatus struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Available   int `json:"available"`
	MaxPoolSize int `json:"max_pool_size"`
	MinPoolSize int `json:"min_pool_size"`
}

// Pool lends validated broker connections to concurrent callers and takes
// them back. It never starts goroutines of its own.
//
// Every owned connection is either in available or in active, and total
// counts both. total is reserved before a connection is dialed, so it may
// briefly exceed len(available)+len(active) but never MaxPoolSize.
type Pool struct {
	cfg     PoolConfig
	factory ConnectionFactory
	logger  *slog.Logger

	available chan *PooledConnection

	mu     sync.Mutex
	active map[Connection]*PooledConnection

	total       atomic.Int64
	initialized atomic.Bool
	shutdown    atomic.Bool

	// freed receives a token whenever total drops, waking a blocked GetConnection.
	freed chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewPool creates an empty pool. Call Initialize before use.
func NewPool(cfg PoolConfig, factory ConnectionFactory, logger *slog.Logger) *Pool {
	size := cfg.MaxPoolSize
	if size < 1 {
		size = 1
	}
	return &Pool{
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		available: make(chan *PooledConnection, size),
		active:    make(map[Connection]*PooledConnection, size),
		freed:     make(chan struct{}, size),
		done:      make(chan struct{}),
	}
}

// Initialize validates the configuration and dials MinPoolSize seed
// connections. Any failure is returned and the pool must not be used; call
// Shutdown to release whatever was created.
func (p *Pool) Initialize(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if p.factory == nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "connection factory is required")
	}
	if p.shutdown.Load() {
		return ErrPoolShutdown
	}

	for i := 0; i < p.cfg.MinPoolSize; i++ {
		if !p.reserve() {
			break
		}
		pc, err := p.create(ctx)
		if err != nil {
			return apperrors.Wrapf(err, "failed to create seed connection %d of %d", i+1, p.cfg.MinPoolSize)
		}
		p.available <- pc
	}

	p.initialized.Store(true)
	p.logger.Info("connection pool initialized",
		slog.Int("min_pool_size", p.cfg.MinPoolSize),
		slog.Int("max_pool_size", p.cfg.MaxPoolSize),
	)
	return nil
}

// GetConnection lends a validated connection. It prefers an available one,
// dials a new one while below MaxPoolSize, and otherwise waits up to MaxWait
// for a connection to be released. Invalid or idle-expired candidates are
// discarded and the search continues.
func (p *Pool) GetConnection(ctx context.Context) (Connection, error) {
	if p.shutdown.Load() {
		return nil, ErrPoolShutdown
	}
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}

	wait := time.NewTimer(p.cfg.MaxWait)
	defer wait.Stop()

	for {
		if p.shutdown.Load() {
			return nil, ErrPoolShutdown
		}

		select {
		case pc := <-p.available:
			if p.usable(pc) {
				return p.activate(pc)
			}
			continue
		default:
		}

		if p.reserve() {
			pc, err := p.create(ctx)
			if err != nil {
				return nil, err
			}
			return p.activate(pc)
		}

		select {
		case pc := <-p.available:
			if p.usable(pc) {
				return p.activate(pc)
			}
		case <-p.freed:
		case <-p.done:
			return nil, ErrPoolShutdown
		case <-wait.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReleaseConnection returns a lent connection. Nil, unknown and repeated
// releases are no-ops, as is any release after Shutdown. A connection that
// fails validation is closed instead of being returned.
func (p *Pool) ReleaseConnection(conn Connection) {
	if conn == nil || p.shutdown.Load() {
		return
	}

	p.mu.Lock()
	pc, ok := p.active[conn]
	if ok {
		delete(p.active, conn)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if err := Validate(conn); err != nil {
		p.logger.Warn("discarding invalid connection on release", slog.Any("error", err))
		p.discard(pc)
		return
	}

	pc.MarkAsAvailable()
	select {
	case p.available <- pc:
	default:
		p.discard(pc)
	}

	if p.shutdown.Load() {
		p.drainAvailable()
	}
}

// Status returns a snapshot of the pool counters.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	active := len(p.active)
	p.mu.Unlock()

	return PoolStatus{
		Total:       int(p.total.Load()),
		Active:      active,
		Available:   len(p.available),
		MaxPoolSize: p.cfg.MaxPoolSize,
		MinPoolSize: p.cfg.MinPoolSize,
	}
}

// EvictIdle closes available connections that have been idle longer than
// IdleTimeout, never dropping the pool below MinPoolSize. It returns the
// number of connections closed.
func (p *Pool) EvictIdle() int {
	if p.cfg.IdleTimeout <= 0 || p.shutdown.Load() {
		return 0
	}

	evicted := 0
	for n := len(p.available); n > 0; n-- {
		var pc *PooledConnection
		select {
		case pc = <-p.available:
		default:
			return evicted
		}

		if pc.IdleTime() > p.cfg.IdleTimeout && p.total.Load() > int64(p.cfg.MinPoolSize) {
			p.discard(pc)
			evicted++
			continue
		}

		select {
		case p.available <- pc:
		default:
			p.discard(pc)
		}
	}

	if evicted > 0 {
		p.logger.Debug("evicted idle connections", slog.Int("count", evicted))
	}
	return evicted
}

// Shutdown closes every owned connection, available and lent alike, and
// rejects further requests. It is safe after a failed Initialize and safe to
// call more than once.
func (p *Pool) Shutdown() {
	p.shutdown.Store(true)
	p.once.Do(func() { close(p.done) })

	p.drainAvailable()

	p.mu.Lock()
	lent := make([]*PooledConnection, 0, len(p.active))
	for conn, pc := range p.active {
		lent = append(lent, pc)
		delete(p.active, conn)
	}
	p.mu.Unlock()

	for _, pc := range lent {
		p.discard(pc)
	}

	p.logger.Info("connection pool shut down", slog.Int("closed_active", len(lent)))
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	return p.shutdown.Load()
}

// usable reports whether an available connection may be lent. Idle-expired
// and invalid candidates are discarded.
func (p *Pool) usable(pc *PooledConnection) bool {
	if p.cfg.IdleTimeout > 0 && pc.IdleTime() > p.cfg.IdleTimeout {
		p.logger.Debug("discarding idle connection", slog.Duration("idle", pc.IdleTime()))
		p.discard(pc)
		return false
	}
	if err := Validate(pc.Connection()); err != nil {
		p.logger.Warn("discarding invalid connection", slog.Any("error", err))
		p.discard(pc)
		return false
	}
	return true
}

func (p *Pool) activate(pc *PooledConnection) (Connection, error) {
	pc.MarkAsActive()

	p.mu.Lock()
	p.active[pc.Connection()] = pc
	p.mu.Unlock()

	if p.shutdown.Load() {
		p.mu.Lock()
		_, owned := p.active[pc.Connection()]
		delete(p.active, pc.Connection())
		p.mu.Unlock()
		if owned {
			p.discard(pc)
		}
		return nil, ErrPoolShutdown
	}
	return pc.Connection(), nil
}

// reserve claims a slot below MaxPoolSize.
func (p *Pool) reserve() bool {
	for {
		n := p.total.Load()
		if n >= int64(p.cfg.MaxPoolSize) {
			return false
		}
		if p.total.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// create dials a connection into a slot claimed by reserve, giving the slot
// back on failure.
func (p *Pool) create(ctx context.Context) (*PooledConnection, error) {
	conn, err := p.factory.NewConnection(ctx)
	if err != nil {
		p.release()
		return nil, apperrors.Wrap(err, "failed to create broker connection")
	}
	return NewPooledConnection(conn), nil
}

// discard closes pc and frees its slot.
func (p *Pool) discard(pc *PooledConnection) {
	if err := pc.Close(); err != nil {
		p.logger.Warn("failed to close broker connection", slog.Any("error", err))
	}
	p.release()
}

func (p *Pool) release() {
	p.total.Add(-1)
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *Pool) drainAvailable() {
	for {
		select {
		case pc := <-p.available:
			p.discard(pc)
		default:
			return
		}
	}
}
