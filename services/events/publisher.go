package events

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

const (
	// Exchange names
	ExchangeMailbackend       = "mailbackend"
	ExchangeMailbackendDirect = "mailbackend-direct"
	ExchangeDeadLetter        = "mailbackend-dead-letter"

	// queues
	QueueEvents = "mailbackend-events"
	QueuePush   = "mailbackend-push"
	DLQEvents   = QueueEvents + "-dlq"
	DLQPush     = QueuePush + "-dlq"

	// routing keys
	RoutingKeyDeadLetter = "dead-letter"
	RoutingKeyPush       = "mailbackend-push"

	APP_SOURCE = "mailbackend"

	// Default configurations
	DefaultMessageTTL          = 24 * time.Hour // after TTL message moves to DLQ
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		MessageTTL:          DefaultMessageTTL,
		MaxRetries:          DefaultMaxRetries,
		PublishTimeout:      DefaultPublishTimeout,
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
	}
}

type exchangeSpec struct {
	name string
	kind string
}

type queueSpec struct {
	name       string
	dlq        string
	exchange   string
	routingKey string
}

var exchanges = []exchangeSpec{
	{ExchangeDeadLetter, amqp091.ExchangeDirect},
	{ExchangeMailbackend, amqp091.ExchangeFanout},
	{ExchangeMailbackendDirect, amqp091.ExchangeDirect},
}

var queues = []queueSpec{
	{QueueEvents, DLQEvents, ExchangeMailbackend, ""},
	{QueuePush, DLQPush, ExchangeMailbackendDirect, RoutingKeyPush},
}

// RabbitMQPublisher publishes with publisher confirms and reconnects in the background
// when the broker drops the connection.
type RabbitMQPublisher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	url             string
	logger          logger.Logger
	confirms        chan amqp091.Confirmation
	config          PublisherConfig
	closed          chan struct{}
	closeOnce       sync.Once
}

var _ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(rabbitmqURL string, logger logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	if config == nil {
		config = DefaultPublisherConfig()
	}

	publisher := &RabbitMQPublisher{
		url:    rabbitmqURL,
		logger: logger,
		config: *config,
		closed: make(chan struct{}),
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}
	go publisher.handleReconnection()

	return publisher, nil
}

// PublishFanoutEvent broadcasts to every consumer bound to the mailbackend exchange
func (r *RabbitMQPublisher) PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	return r.publishEventOnExchange(ctx, entityId, entityType, message, ExchangeMailbackend, "")
}

// PublishDirectEvent queues work for exactly one consumer of the push queue
func (r *RabbitMQPublisher) PublishDirectEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	return r.publishEventOnExchange(ctx, entityId, entityType, message, ExchangeMailbackendDirect, RoutingKeyPush)
}

func (r *RabbitMQPublisher) publishEventOnExchange(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}, exchange, routingKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishEventOnExchange")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, entityId)
	span.LogKV("exchange", exchange, "routingKey", routingKey)

	event := newEvent(ctx, span, entityId, entityType, message)

	err := r.publishMessageOnExchange(ctx, event, exchange, routingKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func newEvent(ctx context.Context, span opentracing.Span, entityId string, entityType enum.EntityType, message interface{}) dto.Event {
	tracingData := tracing.ExtractTextMapCarrier(span.Context())

	appSource := utils.GetAppSourceFromContext(ctx)
	if appSource == "" {
		appSource = APP_SOURCE
	}

	return dto.Event{
		Event: dto.EventDetails{
			Id:          utils.GenerateNanoIDWithPrefix("event", 21),
			AccountUUID: utils.GetAccountFromContext(ctx),
			EntityId:    entityId,
			EntityType:  entityType,
			EventType:   eventTypeOf(message),
			Data:        message,
		},
		Metadata: dto.EventMetadata{
			UberTraceId: tracingData["uber-trace-id"],
			AppSource:   appSource,
			RequestId:   utils.GetRequestIDFromContext(ctx),
			Timestamp:   utils.Now().Format(time.RFC3339),
		},
	}
}

func eventTypeOf(message interface{}) string {
	if message == nil {
		return ""
	}
	messageType := reflect.TypeOf(message)
	if messageType.Kind() == reflect.Ptr {
		messageType = messageType.Elem()
	}
	return messageType.Name()
}

func (r *RabbitMQPublisher) publishMessageOnExchange(ctx context.Context, message interface{}, exchange, routingKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishMessageOnExchange")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "message", message)

	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "Failed to marshal message")
	}

	var lastErr error
	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		lastErr = r.publishWithConfirm(ctx, body, exchange, routingKey)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warnf("Publish attempt %d to %s failed: %v", attempt+1, exchange, lastErr)
		if attempt < r.config.MaxRetries-1 {
			time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
		}
	}

	return errors.Wrap(lastErr, "Failed to publish message after all retries")
}

func (r *RabbitMQPublisher) publishWithConfirm(ctx context.Context, body []byte, exchange, routingKey string) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.ensureConnectionAndChannel(); err != nil {
		return err
	}

	err := r.publishChannel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    utils.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "Failed to publish message")
	}

	select {
	case confirm, ok := <-r.confirms:
		if !ok {
			return errors.New("Publish channel closed before confirmation")
		}
		if !confirm.Ack {
			return errors.New("Message was not confirmed by server")
		}
	case <-time.After(r.config.PublishTimeout):
		return errors.New("Publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *RabbitMQPublisher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = connection

	if err := r.setupTopology(); err != nil {
		return errors.Wrap(err, "Failed to setup exchanges and queues")
	}
	if err := r.setupPublishChannel(); err != nil {
		return errors.Wrap(err, "Failed to setup publish channel")
	}
	return nil
}

func (r *RabbitMQPublisher) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return errors.Wrap(err, "Failed to establish connection")
		}
	}

	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		r.connectionMutex.Lock()
		defer r.connectionMutex.Unlock()
		if err := r.setupPublishChannel(); err != nil {
			return errors.Wrap(err, "Failed to establish channel")
		}
	}

	return nil
}

func (r *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open publish channel")
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "Failed to enable publisher confirms")
	}

	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQPublisher) setupTopology() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open channel for exchange/queue setup")
	}
	defer channel.Close()

	for _, e := range exchanges {
		if err := channel.ExchangeDeclare(e.name, e.kind, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "Failed to declare exchange %s", e.name)
		}
	}

	for _, q := range queues {
		if err := r.declareQueueWithDLQ(channel, q.name, q.dlq); err != nil {
			return err
		}
		if err := channel.QueueBind(q.name, q.routingKey, q.exchange, false, nil); err != nil {
			return errors.Wrapf(err, "Failed to bind queue %s to exchange %s", q.name, q.exchange)
		}
	}

	return nil
}

func (r *RabbitMQPublisher) declareQueueWithDLQ(channel *amqp091.Channel, queueName string, dlqName string) error {
	if _, err := channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "Failed to declare DLQ %s", dlqName)
	}
	if err := channel.QueueBind(dlqName, RoutingKeyDeadLetter, ExchangeDeadLetter, false, nil); err != nil {
		return errors.Wrapf(err, "Failed to bind DLQ %s to exchange", dlqName)
	}

	args := amqp091.Table{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": RoutingKeyDeadLetter,
		"x-message-ttl":             r.config.MessageTTL.Milliseconds(),
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return errors.Wrapf(err, "Failed to declare queue %s", queueName)
	}
	return nil
}

// handleReconnection runs for the lifetime of the publisher
func (r *RabbitMQPublisher) handleReconnection() {
	for {
		r.connectionMutex.Lock()
		connection := r.connection
		r.connectionMutex.Unlock()

		notifyClose := connection.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case <-r.closed:
			return
		case err := <-notifyClose:
			r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", err)
		}

		backoff := r.config.ReconnectBackoff
		for {
			select {
			case <-r.closed:
				return
			default:
			}

			r.publishMutex.Lock()
			err := r.connect()
			r.publishMutex.Unlock()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}

			r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
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
	}
}

// Close gracefully shuts down the publisher
func (r *RabbitMQPublisher) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	if r.publishChannel != nil && !r.publishChannel.IsClosed() {
		if err = r.publishChannel.Close(); err != nil {
			r.logger.Errorf("Error closing publish channel: %v", err)
		}
	}

	if r.connection != nil && !r.connection.IsClosed() {
		if closeErr := r.connection.Close(); closeErr != nil {
			r.logger.Errorf("Error closing connection: %v", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}

	return err
}
