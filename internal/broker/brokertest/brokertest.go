// Package brokertest provides an in-memory broker for tests of code built on
// broker.Connection and broker.Channel. It starts no goroutines.
package brokertest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/streadway/amqp"

	"github.com/allisson/mqingest/internal/broker"
)

// Broker holds named queues of messages.
type Broker struct {
	mu     sync.Mutex
	queues map[string][]amqp.Publishing

	dials   atomic.Int64
	dialErr error
	conns   []*Connection
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{queues: make(map[string][]amqp.Publishing)}
}

// DeclareQueue creates an empty queue if it does not exist.
func (b *Broker) DeclareQueue(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = nil
	}
}

// Enqueue appends messages to a queue, declaring it if needed.
func (b *Broker) Enqueue(queue string, msgs ...amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], msgs...)
}

// Depth returns the number of ready messages in a queue.
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Messages returns a copy of the ready messages in a queue.
func (b *Broker) Messages(queue string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]amqp.Publishing, len(b.queues[queue]))
	copy(out, b.queues[queue])
	return out
}

// FailDials makes subsequent NewConnection calls return err. Pass nil to recover.
func (b *Broker) FailDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// Dials returns how many connections were requested.
func (b *Broker) Dials() int {
	return int(b.dials.Load())
}

// Connections returns every connection created so far.
func (b *Broker) Connections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Connection, len(b.conns))
	copy(out, b.conns)
	return out
}

// NewConnection implements broker.ConnectionFactory.
func (b *Broker) NewConnection(ctx context.Context) (broker.Connection, error) {
	b.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &Connection{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *Broker) pop(queue string) (amqp.Publishing, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return amqp.Publishing{}, 0, false
	}
	msg := msgs[0]
	b.queues[queue] = msgs[1:]
	return msg, len(msgs) - 1, true
}

func (b *Broker) push(queue string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], msg)
}

func (b *Broker) requeue(queue string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append([]amqp.Publishing{msg}, b.queues[queue]...)
}

func (b *Broker) inspect(queue string) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs, ok := b.queues[queue]
	if !ok {
		return amqp.Queue{}, &amqp.Error{
			Code:   amqp.NotFound,
			Reason: fmt.Sprintf("NOT_FOUND - no queue '%s' in vhost '/'", queue),
			Server: true,
		}
	}
	return amqp.Queue{Name: queue, Messages: len(msgs)}, nil
}

// Connection is an in-memory broker.Connection.
type Connection struct {
	broker *Broker

	mu       sync.Mutex
	closed   bool
	broken   error
	closeErr error
	channels []*Channel
}

// Break makes Channel fail with err, which fails pool validation.
func (c *Connection) Break(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = err
}

// FailClose makes Close return err.
func (c *Connection) FailClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// ChannelsOpened returns how many channels were opened on this connection.
func (c *Connection) ChannelsOpened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// LastChannel returns the most recently opened channel, or nil.
func (c *Connection) LastChannel() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

// Channel implements broker.Connection.
func (c *Connection) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.broken != nil {
		return nil, c.broken
	}
	ch := &Channel{
		broker:    c.broker,
		unacked:   make(map[uint64]unacked),
		consumers: make(map[string]chan amqp.Delivery),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Close implements broker.Connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	channels := c.channels
	c.closed = true
	closeErr := c.closeErr
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	return closeErr
}

// IsClosed implements broker.Connection.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type unacked struct {
	queue string
	msg   amqp.Publishing
}

type published struct {
	queue string
	msg   amqp.Publishing
}

// Channel is an in-memory broker.Channel that also acknowledges deliveries.
type Channel struct {
	broker *Broker

	mu        sync.Mutex
	closed    bool
	tx        bool
	nextTag   uint64
	unacked   map[uint64]unacked
	consumers map[string]chan amqp.Delivery

	pendingPub []published
	pendingAck []uint64

	// Prefetch records the last Qos prefetch count.
	Prefetch int
	// Commits counts successful TxCommit calls.
	Commits int
	// Rollbacks counts TxRollback calls.
	Rollbacks int

	// Injected failures.
	QosErr     error
	ConsumeErr error
	CancelErr  error
	CloseErr   error
	GetErr     error
	PublishErr error
	AckErr     error
	NackErr    error
	CommitErr  error
}

// Close implements broker.Channel. Unacknowledged messages go back to the head of their queue in delivery order.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return amqp.ErrClosed
	}
	ch.closed = true
	pending := ch.unacked
	ch.unacked = make(map[uint64]unacked)
	for tag, deliveries := range ch.consumers {
		close(deliveries)
		delete(ch.consumers, tag)
	}
	closeErr := ch.CloseErr
	ch.mu.Unlock()

	tags := slices.Sorted(maps.Keys(pending))
	for i := len(tags) - 1; i >= 0; i-- {
		u := pending[tags[i]]
		ch.broker.requeue(u.queue, u.msg)
	}
	return closeErr
}

// IsClosed reports whether Close was called.
func (ch *Channel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Unacked returns the number of delivered but unacknowledged messages.
func (ch *Channel) Unacked() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.unacked)
}

// Qos implements broker.Channel.
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.QosErr != nil {
		return ch.QosErr
	}
	ch.Prefetch = prefetchCount
	return nil
}

// Consume implements broker.Channel. Messages ready at call time are
// delivered into a buffered channel; later Enqueues are not delivered.
func (ch *Channel) Consume(
	queue, consumer string,
	autoAck, exclusive, noLocal, noWait bool,
	args amqp.Table,
) (<-chan amqp.Delivery, error) {
	if ch.ConsumeErr != nil {
		return nil, ch.ConsumeErr
	}
	if _, err := ch.broker.inspect(queue); err != nil {
		return nil, err
	}

	var ready []amqp.Publishing
	for {
		msg, _, ok := ch.broker.pop(queue)
		if !ok {
			break
		}
		ready = append(ready, msg)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	deliveries := make(chan amqp.Delivery, len(ready))
	for _, msg := range ready {
		deliveries <- ch.delivery(queue, msg, autoAck, 0)
	}
	ch.consumers[consumer] = deliveries
	return deliveries, nil
}

// Cancel implements broker.Channel and closes the consumer's delivery channel.
func (ch *Channel) Cancel(consumer string, noWait bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.CancelErr != nil {
		return ch.CancelErr
	}
	if deliveries, ok := ch.consumers[consumer]; ok {
		close(deliveries)
		delete(ch.consumers, consumer)
	}
	return nil
}

// QueueInspect implements broker.Channel.
func (ch *Channel) QueueInspect(name string) (amqp.Queue, error) {
	return ch.broker.inspect(name)
}

// Get implements broker.Channel.
func (ch *Channel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	if ch.GetErr != nil {
		return amqp.Delivery{}, false, ch.GetErr
	}
	msg, remaining, ok := ch.broker.pop(queue)
	if !ok {
		return amqp.Delivery{}, false, nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.delivery(queue, msg, autoAck, uint32(remaining)), true, nil
}

// Publish implements broker.Channel. The default exchange routes by queue name.
func (ch *Channel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch.PublishErr != nil {
		return ch.PublishErr
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.tx {
		ch.pendingPub = append(ch.pendingPub, published{queue: key, msg: msg})
		return nil
	}
	ch.broker.push(key, msg)
	return nil
}

// Tx implements broker.Channel.
func (ch *Channel) Tx() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.tx = true
	return nil
}

// TxCommit implements broker.Channel.
func (ch *Channel) TxCommit() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.CommitErr != nil {
		return ch.CommitErr
	}
	for _, p := range ch.pendingPub {
		ch.broker.push(p.queue, p.msg)
	}
	for _, tag := range ch.pendingAck {
		delete(ch.unacked, tag)
	}
	ch.pendingPub = nil
	ch.pendingAck = nil
	ch.Commits++
	return nil
}

// TxRollback implements broker.Channel. Rolled back acks leave the delivery unacknowledged.
func (ch *Channel) TxRollback() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pendingPub = nil
	ch.pendingAck = nil
	ch.Rollbacks++
	return nil
}

// Ack implements amqp.Acknowledger. With multiple set every outstanding tag up to tag is acknowledged.
func (ch *Channel) Ack(tag uint64, multiple bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.AckErr != nil {
		return ch.AckErr
	}
	tags := ch.tagsUpTo(tag, multiple)
	if ch.tx {
		ch.pendingAck = append(ch.pendingAck, tags...)
		return nil
	}
	for _, t := range tags {
		delete(ch.unacked, t)
	}
	return nil
}

// Nack implements amqp.Acknowledger. Requeued messages keep their relative order at the head of the queue.
func (ch *Channel) Nack(tag uint64, multiple bool, requeue bool) error {
	ch.mu.Lock()
	if ch.NackErr != nil {
		ch.mu.Unlock()
		return ch.NackErr
	}
	tags := ch.tagsUpTo(tag, multiple)
	returned := make([]unacked, 0, len(tags))
	for _, t := range tags {
		if u, ok := ch.unacked[t]; ok {
			returned = append(returned, u)
			delete(ch.unacked, t)
		}
	}
	ch.mu.Unlock()

	if requeue {
		for i := len(returned) - 1; i >= 0; i-- {
			ch.broker.requeue(returned[i].queue, returned[i].msg)
		}
	}
	return nil
}

// Reject implements amqp.Acknowledger.
func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

// tagsUpTo must be called with ch.mu held. It returns tag alone, or every
// outstanding tag not above it in ascending order.
func (ch *Channel) tagsUpTo(tag uint64, multiple bool) []uint64 {
	if !multiple {
		return []uint64{tag}
	}
	tags := make([]uint64, 0, len(ch.unacked))
	for t := range ch.unacked {
		if t <= tag {
			tags = append(tags, t)
		}
	}
	slices.Sort(tags)
	return tags
}

// delivery must be called with ch.mu held.
func (ch *Channel) delivery(queue string, msg amqp.Publishing, autoAck bool, remaining uint32) amqp.Delivery {
	ch.nextTag++
	tag := ch.nextTag
	if !autoAck {
		ch.unacked[tag] = unacked{queue: queue, msg: msg}
	}
	return amqp.Delivery{
		Acknowledger:    ch,
		Headers:         msg.Headers,
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		DeliveryMode:    msg.DeliveryMode,
		Priority:        msg.Priority,
		CorrelationId:   msg.CorrelationId,
		ReplyTo:         msg.ReplyTo,
		Expiration:      msg.Expiration,
		MessageId:       msg.MessageId,
		Timestamp:       msg.Timestamp,
		Type:            msg.Type,
		UserId:          msg.UserId,
		AppId:           msg.AppId,
		MessageCount:    remaining,
		DeliveryTag:     tag,
		RoutingKey:      queue,
		Body:            msg.Body,
	}
}

var (
	_ broker.ConnectionFactory = (*Broker)(nil)
	_ broker.Connection        = (*Connection)(nil)
	_ broker.Channel           = (*Channel)(nil)
	_ amqp.Acknowledger        = (*Channel)(nil)
)
