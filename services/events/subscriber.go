package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

type SubscriberConfig struct {
	MaxRetries          int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	// Prefetch bounds unacknowledged deliveries per queue
	Prefetch int
}

func DefaultSubscriberConfig() *SubscriberConfig {
	return &SubscriberConfig{
		MaxRetries:          5,
		ReconnectBackoff:    time.Second,
		MaxReconnectBackoff: 30 * time.Second,
		Prefetch:            4,
	}
}

type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	config          SubscriberConfig
	listeners       map[string]interfaces.EventListener
	listenerMutex   sync.RWMutex
	closed          chan struct{}
	closeOnce       sync.Once
}

var _ interfaces.EventSubscriber = (*RabbitMQSubscriber)(nil)

func NewRabbitMQSubscriber(rabbitmqURL string, logger logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	if config == nil {
		config = DefaultSubscriberConfig()
	}

	subscriber := newSubscriber(rabbitmqURL, logger, *config)
	if err := subscriber.connect(); err != nil {
		return nil, err
	}
	return subscriber, nil
}

func newSubscriber(rabbitmqURL string, logger logger.Logger, config SubscriberConfig) *RabbitMQSubscriber {
	return &RabbitMQSubscriber{
		url:       rabbitmqURL,
		logger:    logger,
		config:    config,
		listeners: make(map[string]interfaces.EventListener),
		closed:    make(chan struct{}),
	}
}

func (r *RabbitMQSubscriber) RegisterListener(listener interfaces.EventListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()

	eventType := listener.GetEventType()
	r.listeners[eventType] = listener
	r.logger.Infof("Registered listener for event type: %s on queue: %s", eventType, listener.GetQueueName())
}

// ListenQueue consumes queueName in the background until Close, reopening the channel
// whenever the broker drops it.
func (r *RabbitMQSubscriber) ListenQueue(queueName string) error {
	go func() {
		backoff := r.config.ReconnectBackoff
		for {
			if r.isClosed() {
				return
			}

			err := r.consume(queueName)
			if r.isClosed() {
				return
			}
			if err != nil {
				r.logger.Errorf("Consumer on queue %s stopped: %v. Retrying in %v", queueName, err, backoff)
			} else {
				r.logger.Warnf("Delivery channel for queue %s closed. Reconnecting in %v", queueName, backoff)
			}

			select {
			case <-r.closed:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.config.MaxReconnectBackoff {
				backoff = r.config.MaxReconnectBackoff
			}
		}
	}()

	return nil
}

func (r *RabbitMQSubscriber) consume(queueName string) error {
	connection, err := r.currentConnection()
	if err != nil {
		return err
	}

	channel, err := connection.Channel()
	if err != nil {
		return errors.Wrapf(err, "failed to open channel for queue %s", queueName)
	}
	defer channel.Close()

	if r.config.Prefetch > 0 {
		if err := channel.Qos(r.config.Prefetch, 0, false); err != nil {
			return errors.Wrap(err, "failed to set prefetch")
		}
	}

	msgs, err := channel.Consume(
		queueName, // queue
		"",        // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return errors.Wrapf(err, "failed to register consumer on queue %s", queueName)
	}

	r.logger.Infof("Listening for messages on queue %s", queueName)
	for {
		select {
		case <-r.closed:
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handleMessage(d, queueName)
		}
	}
}

func (r *RabbitMQSubscriber) handleMessage(d amqp091.Delivery, queueName string) {
	defer tracing.RecoverAndLogToJaeger(r.logger)

	err := r.processMessage(d, queueName)
	if err != nil {
		r.logger.Errorf("Failed to process message on queue %s: %v", queueName, err)
		r.retryAckNack(d, false)
	} else {
		r.retryAckNack(d, true)
	}
}

func (r *RabbitMQSubscriber) processMessage(d amqp091.Delivery, queueName string) error {
	var event dto.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal message")
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{
		AppSource:   event.Metadata.AppSource,
		AccountUUID: event.Event.AccountUUID,
		RequestID:   event.Metadata.RequestId,
	})

	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.ProcessMessage", event.Metadata.UberTraceId)
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	span.LogKV("event_type", event.Event.EventType, "queue_name", queueName)

	r.listenerMutex.RLock()
	listener, exists := r.listeners[event.Event.EventType]
	r.listenerMutex.RUnlock()

	if !exists {
		r.logger.Infof("No listener found for event type: %s on queue: %s", event.Event.EventType, queueName)
		return nil
	}
	if listener.GetQueueName() != queueName {
		r.logger.Warnf("Event type %s received on wrong queue. Expected %s, got %s",
			event.Event.EventType, listener.GetQueueName(), queueName)
		return nil
	}

	err := listener.Handle(ctx, event)
	tracing.TraceErr(span, err)
	return err
}

func (r *RabbitMQSubscriber) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = connection
	return nil
}

func (r *RabbitMQSubscriber) currentConnection() (*amqp091.Connection, error) {
	r.connectionMutex.Lock()
	connection := r.connection
	r.connectionMutex.Unlock()

	if connection != nil && !connection.IsClosed() {
		return connection, nil
	}
	r.logger.Warn("RabbitMQ connection closed, attempting to reconnect")
	if err := r.connect(); err != nil {
		return nil, err
	}
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()
	return r.connection, nil
}

func (r *RabbitMQSubscriber) retryAckNack(d amqp091.Delivery, ack bool) {
	retryDelay := 100 * time.Millisecond

	for i := 0; i < r.config.MaxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, false)
		}
		if err == nil {
			return
		}
		time.Sleep(retryDelay)
	}

	action := "acknowledge"
	if !ack {
		action = "negative acknowledge"
	}
	r.logger.Errorf("Failed to %s message after %d attempts", action, r.config.MaxRetries)
}

func (r *RabbitMQSubscriber) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *RabbitMQSubscriber) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
