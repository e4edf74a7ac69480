package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"pss-server/pkg/config"
	"pss-server/pkg/metrics"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpConnection is the subset of *amqp.Connection the publisher uses
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type streadwayConnection struct {
	*amqp.Connection
}

func (c streadwayConnection) Channel() (amqpChannel, error) {
	return c.Connection.Channel()
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, err
	}
	return streadwayConnection{conn}, nil
}

// AMQPPublisher publishes events as persistent JSON messages to a topic
// exchange, routed by event type. A dropped connection is re-established in
// the background.
type AMQPPublisher struct {
	logger *logrus.Logger
	config config.MessagingConfig
	dial   func(url string) (amqpConnection, error)

	mu        sync.RWMutex
	conn      amqpConnection
	channel   amqpChannel
	connected bool

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewAMQPPublisher creates a publisher. Call Connect before publishing.
func NewAMQPPublisher(logger *logrus.Logger, cfg config.MessagingConfig) *AMQPPublisher {
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeTopic
	}
	return &AMQPPublisher{
		logger:   logger,
		config:   cfg,
		dial:     dialAMQP,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker, declares the exchange and starts watching the
// connection.
func (p *AMQPPublisher) Connect() error {
	if err := p.connect(); err != nil {
		return err
	}
	go p.monitorConnection()
	return nil
}

func (p *AMQPPublisher) connect() error {
	if p.config.URL == "" || p.config.Exchange == "" {
		return fmt.Errorf("AMQP URL or exchange not configured")
	}

	conn, err := p.dial(p.config.URL)
	if err != nil {
		metrics.SetAMQPConnectionStatus(false)
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(p.config.Exchange, p.config.ExchangeType, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %q: %w", p.config.Exchange, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.connected = true
	p.mu.Unlock()

	metrics.SetAMQPConnectionStatus(true)
	p.logger.WithFields(logrus.Fields{
		"exchange":      p.config.Exchange,
		"exchange_type": p.config.ExchangeType,
	}).Info("Connected to AMQP server")

	return nil
}

// IsConnected reports whether the publisher currently holds a channel
func (p *AMQPPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Publish implements Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.RLock()
	channel, connected := p.channel, p.connected
	p.mu.RUnlock()

	if !connected || channel == nil {
		metrics.RecordAMQPPublish(event.Type, "not_connected")
		return fmt.Errorf("AMQP publisher not connected")
	}

	err = channel.Publish(p.config.Exchange, event.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.OccurredAt,
		Type:          event.Type,
		Body:          body,
	})
	if err != nil {
		metrics.RecordAMQPPublish(event.Type, "error")
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	metrics.RecordAMQPPublish(event.Type, "success")
	p.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"org_id":     event.OrgID,
	}).Debug("Event published")
	return nil
}

// Close stops reconnecting and closes the connection
func (p *AMQPPublisher) Close() error {
	p.stopOnce.Do(func() { close(p.stopChan) })

	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = false
	metrics.SetAMQPConnectionStatus(false)
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *AMQPPublisher) monitorConnection() {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return
		}

		closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-p.stopChan:
			return
		case closeErr := <-closeChan:
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			metrics.SetAMQPConnectionStatus(false)

			p.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
			if !p.reconnect() {
				return
			}
		}
	}
}

// reconnect retries with exponential backoff capped at 30s. It returns false
// when the publisher was closed meanwhile.
func (p *AMQPPublisher) reconnect() bool {
	for attempt := 1; ; attempt++ {
		err := p.connect()
		if err == nil {
			p.logger.WithField("attempt", attempt).Info("Reconnected to AMQP server")
			return true
		}
		p.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

		backoff := time.Duration(1<<uint(min(attempt-1, 5))) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}

		select {
		case <-p.stopChan:
			return false
		case <-time.After(backoff):
		}
	}
}
