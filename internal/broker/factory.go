package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"github.com/streadway/amqp"

	apperrors "github.com/allisson/mqingest/internal/errors"
)

// FactoryConfig holds the settings used to dial the broker.
type FactoryConfig struct {
	Host           string
	Port           int
	Vhost          string
	User           string
	Password       string
	ConnectionName string
	DialTimeout    time.Duration
	Heartbeat      time.Duration

	// BreakerFailures is the number of consecutive dial failures that open the circuit.
	BreakerFailures int
	// BreakerTimeout is how long the circuit stays open before a trial dial.
	BreakerTimeout time.Duration
}

// URL returns the AMQP URI for the configured endpoint.
func (c FactoryConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Vhost,
	}
	if c.Vhost == "/" || c.Vhost == "" {
		u.Path = "/"
	}
	return u.String()
}

type dialFunc func(url string, cfg amqp.Config) (*amqp.Connection, error)

// AMQPFactory dials RabbitMQ connections behind a circuit breaker. While the
// circuit is open NewConnection fails with apperrors.ErrUnavailable without dialing.
type AMQPFactory struct {
	cfg     FactoryConfig
	breaker *gobreaker.CircuitBreaker
	dial    dialFunc
	logger  *slog.Logger
}

// NewAMQPFactory creates a connection factory for the configured broker.
func NewAMQPFactory(cfg FactoryConfig, logger *slog.Logger) *AMQPFactory {
	f := &AMQPFactory{
		cfg:    cfg,
		dial:   amqp.DialConfig,
		logger: logger,
	}

	failures := uint32(cfg.BreakerFailures)
	if failures == 0 {
		failures = 5
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-dial",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("broker circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return f
}

// NewConnection dials a new broker connection.
func (f *AMQPFactory) NewConnection(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.dial(f.cfg.URL(), f.amqpConfig(ctx))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "broker dial rejected: %v", err)
		}
		return nil, apperrors.Wrap(err, fmt.Sprintf("failed to connect to broker at %s:%d", f.cfg.Host, f.cfg.Port))
	}

	return &amqpConnection{conn: result.(*amqp.Connection)}, nil
}

// State returns the current circuit breaker state.
func (f *AMQPFactory) State() gobreaker.State {
	return f.breaker.State()
}

func (f *AMQPFactory) amqpConfig(ctx context.Context) amqp.Config {
	timeout := f.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cfg := amqp.Config{
		Vhost:     f.cfg.Vhost,
		Heartbeat: f.cfg.Heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the AMQP handshake completes.
			if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}
	if f.cfg.ConnectionName != "" {
		cfg.Properties = amqp.Table{"connection_name": f.cfg.ConnectionName}
	}
	return cfg
}
