package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// ErrPublisherClosed is returned by Handle after Close.
var ErrPublisherClosed = errors.New("rabbitmq publisher is closed")

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the exchange declared and returns a closer for the connection.
type dialFunc func() (amqpChannel, func() error, error)

// RabbitPublisher forwards bus events to a durable topic exchange. Events are buffered
// and published from Run so callers never wait on the broker. The connection is
// re-established lazily after a failure.
type RabbitPublisher struct {
	dial     dialFunc
	exchange string
	logger   *zerolog.Logger

	buffer chan *Event
	once   sync.Once
	mu     sync.RWMutex
	closed bool

	ch        amqpChannel
	closeConn func() error
}

func NewRabbitPublisher(url, exchange string, logger *zerolog.Logger) *RabbitPublisher {
	return newRabbitPublisher(amqpDialer(url, exchange), exchange, logger)
}

func newRabbitPublisher(dial dialFunc, exchange string, logger *zerolog.Logger) *RabbitPublisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RabbitPublisher{
		dial:     dial,
		exchange: exchange,
		logger:   logger,
		buffer:   make(chan *Event, defaultBufferSize),
	}
}

func amqpDialer(url, exchange string) dialFunc {
	return func() (amqpChannel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
		}
		return ch, conn.Close, nil
	}
}

// Handle is an EventHandler. It never blocks; events are dropped when the buffer is full.
func (p *RabbitPublisher) Handle(event *Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		return fmt.Errorf("rabbitmq buffer full, dropping %s", event.Type)
	}
}

// Run publishes buffered events until ctx is done or Close is called.
func (p *RabbitPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.buffer:
			if !ok {
				return
			}
			if err := p.publish(ctx, event); err != nil {
				p.logger.Warn().Err(err).Str("event_type", event.Type).Msg("rabbitmq publish failed")
			}
		}
	}
}

func (p *RabbitPublisher) publish(ctx context.Context, event *Event) error {
	if p.ch == nil {
		ch, closeConn, err := p.dial()
		if err != nil {
			return err
		}
		p.ch = ch
		p.closeConn = closeConn
	}

	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.CreatedAt.UTC(),
		Type:         event.Type,
		Body:         event.Payload,
	}
	if err := p.ch.PublishWithContext(pubCtx, p.exchange, event.Type, false, false, msg); err != nil {
		p.resetConn()
		return err
	}
	return nil
}

func (p *RabbitPublisher) resetConn() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch = nil
	p.closeConn = nil
}

// Close stops accepting events. Call after Run has returned to release the connection.
func (p *RabbitPublisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.buffer)
		p.mu.Unlock()
	})
}

// Shutdown closes the broker connection.
func (p *RabbitPublisher) Shutdown() {
	p.Close()
	p.resetConn()
}
