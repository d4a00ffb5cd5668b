package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
)

const (
    publishBuffer  = 256
    publishTimeout = 5 * time.Second
    drainTimeout   = 5 * time.Second
)

var (
    ErrPublisherClosed = errors.New("publisher closed")
    ErrPublishBacklog  = errors.New("ledger event backlog full")
)

// Publisher hands ledger events to a background worker that owns the broker
// connection.  Publish only enqueues, so a broker outage costs a request
// nothing; the worker dials lazily and re-dials after any failure.
type Publisher struct {
    queue string
    log   zerolog.Logger
    send  func(ctx context.Context, ev LedgerEvent, body []byte) error

    events chan LedgerEvent
    stop   chan struct{}
    done   chan struct{}
    once   sync.Once

    // owned by the worker goroutine
    url  string
    conn *amqp.Connection
    ch   *amqp.Channel
}

func NewPublisher(url, queue string, log zerolog.Logger) *Publisher {
    p := newPublisher(queue, log, publishBuffer)
    p.url = url
    p.send = p.publish
    go p.run()
    return p
}

func newPublisher(queue string, log zerolog.Logger, buffer int) *Publisher {
    if queue == "" {
        queue = LedgerQueue
    }
    return &Publisher{
        queue:  queue,
        log:    log,
        events: make(chan LedgerEvent, buffer),
        stop:   make(chan struct{}),
        done:   make(chan struct{}),
    }
}

// Publish queues ev for delivery.  It never blocks: a full backlog drops the
// event and returns ErrPublishBacklog.
func (p *Publisher) Publish(_ context.Context, ev LedgerEvent) error {
    if ev.At.IsZero() {
        ev.At = time.Now().UTC()
    }
    select {
    case <-p.stop:
        return ErrPublisherClosed
    default:
    }
    select {
    case p.events <- ev:
        return nil
    default:
        p.log.Warn().Str("event", string(ev.Type)).Uint64("transaction_id", ev.TransactionID).Msg("ledger event dropped, backlog full")
        return ErrPublishBacklog
    }
}

func (p *Publisher) run() {
    defer close(p.done)
    defer p.reset()
    for {
        select {
        case ev := <-p.events:
            p.deliver(ev)
        case <-p.stop:
            p.drain()
            return
        }
    }
}

// drain delivers what is already queued, bounded by drainTimeout.
func (p *Publisher) drain() {
    deadline := time.Now().Add(drainTimeout)
    for time.Now().Before(deadline) {
        select {
        case ev := <-p.events:
            p.deliver(ev)
        default:
            return
        }
    }
    if n := len(p.events); n > 0 {
        p.log.Warn().Int("pending", n).Msg("ledger events dropped on shutdown")
    }
}

func (p *Publisher) deliver(ev LedgerEvent) {
    body, err := json.Marshal(ev)
    if err != nil {
        p.log.Error().Err(err).Str("event", string(ev.Type)).Msg("ledger event not encodable")
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
    defer cancel()
    if err := p.send(ctx, ev, body); err != nil {
        p.log.Warn().Err(err).Str("event", string(ev.Type)).Uint64("transaction_id", ev.TransactionID).Msg("ledger event publish failed")
    }
}

func (p *Publisher) publish(ctx context.Context, ev LedgerEvent, body []byte) error {
    ch, err := p.channel()
    if err != nil {
        return err
    }
    err = ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            Timestamp:    ev.At,
            Type:         string(ev.Type),
            Body:         body,
        })
    if err != nil {
        p.reset()
    }
    return err
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(3 * time.Second)})
    if err != nil {
        return nil, fmt.Errorf("dial broker: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

// Close stops accepting events, flushes the backlog and closes the broker
// connection.  It is safe to call more than once.
func (p *Publisher) Close() error {
    p.once.Do(func() { close(p.stop) })
    <-p.done
    return nil
}
