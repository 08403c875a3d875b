package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultMailQueue = "mail.outbound"

// AMQPChannel is the subset of *amqp.Channel used to publish mail
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPMailer publishes messages to a durable queue consumed by the
// delivery worker. Publishing is attempted once.
type AMQPMailer struct {
	channel AMQPChannel
	queue   string
	declare sync.Once
	declErr error
	logger  Logger
	timeout time.Duration
}

// NewAMQPMailer publishes each message as JSON to queue on channel
func NewAMQPMailer(channel AMQPChannel, queue string, logger Logger) *AMQPMailer {
	if queue == "" {
		queue = DefaultMailQueue
	}
	return &AMQPMailer{
		channel: channel,
		queue:   queue,
		logger:  normalizeLogger(logger),
		timeout: 5 * time.Second,
	}
}

// DialAMQPMailer connects to url and returns a mailer plus a close func
func DialAMQPMailer(url, queue string, logger Logger) (*AMQPMailer, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	closer := func() error {
		return errors.Join(ch.Close(), conn.Close())
	}
	return NewAMQPMailer(ch, queue, logger), closer, nil
}

func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	m.declare.Do(func() {
		_, m.declErr = m.channel.QueueDeclare(m.queue, true, false, false, false, nil)
	})
	if m.declErr != nil {
		m.logger.Error("rabbitmq: queue declare failed: %s", m.declErr)
		return m.declErr
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         "mail.send",
		Body:         body,
	}

	if err := m.channel.PublishWithContext(ctx, "", m.queue, false, false, pub); err != nil {
		m.logger.Error("rabbitmq: publish failed: %s", err)
		return err
	}
	return nil
}
