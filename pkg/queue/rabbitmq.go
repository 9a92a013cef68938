package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/models"
)

// RabbitMQQueue dispatches jobs through a durable broker queue. A single
// consumer feeds all workers; QoS prefetch bounds how many jobs are in flight
// at once, and manual Ack/Nack confirms delivery. Job state itself never
// leaves the in-memory registry; only dispatch messages cross the broker.
type RabbitMQQueue struct {
	url       string
	queueName string
	prefetch  int
	log       zerolog.Logger

	closed chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	publishConn    *amqp.Connection
	publishChannel *amqp.Channel
	publishMu      sync.Mutex

	consumeConn    *amqp.Connection
	consumeChannel *amqp.Channel
	deliveries     <-chan amqp.Delivery

	// amqp channels are not safe for concurrent Ack/Nack.
	ackMu sync.Mutex
}

// NewRabbitMQQueue connects to the broker and declares the queue. prefetch
// should match the worker count so each worker can hold one job.
func NewRabbitMQQueue(url, queueName string, prefetch int, log zerolog.Logger) (*RabbitMQQueue, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RabbitMQQueue{
		url:       url,
		queueName: queueName,
		prefetch:  prefetch,
		log:       log.With().Str("component", "rabbitmq").Logger(),
		closed:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := rq.setupPublisher(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup publisher: %w", err)
	}
	if err := rq.setupConsumer(); err != nil {
		cancel()
		rq.closePublisher()
		return nil, fmt.Errorf("setup consumer: %w", err)
	}

	rq.log.Info().Str("queue", queueName).Int("prefetch", prefetch).Msg("rabbitmq queue ready")
	return rq, nil
}

func (rq *RabbitMQQueue) setupPublisher() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(rq.queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	rq.publishConn = conn
	rq.publishChannel = ch
	return nil
}

func (rq *RabbitMQQueue) setupConsumer() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(rq.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(rq.queueName, "transcribe-worker", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume: %w", err)
	}

	rq.consumeConn = conn
	rq.consumeChannel = ch
	rq.deliveries = deliveries
	return nil
}

func (rq *RabbitMQQueue) Enqueue(job *models.TranscriptionJob) error {
	rq.publishMu.Lock()
	defer rq.publishMu.Unlock()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(rq.ctx, 5*time.Second)
	defer cancel()

	err = rq.publishChannel.PublishWithContext(ctx, "", rq.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Dequeue blocks until a delivery arrives. All workers share the deliveries
// channel; each message is handed to exactly one of them.
func (rq *RabbitMQQueue) Dequeue() (*models.TranscriptionJob, error) {
	select {
	case <-rq.closed:
		return nil, fmt.Errorf("queue is closed")
	case <-rq.ctx.Done():
		return nil, fmt.Errorf("queue is closed")
	case delivery, ok := <-rq.deliveries:
		if !ok {
			return nil, fmt.Errorf("delivery channel closed")
		}

		var job models.TranscriptionJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			// Undecodable message: reject without requeue.
			rq.nack(delivery.DeliveryTag, false)
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}

		job.DeliveryTag = delivery.DeliveryTag
		job.RabbitMQDelivery = &delivery
		return &job, nil
	}
}

func (rq *RabbitMQQueue) Ack(job *models.TranscriptionJob) error {
	delivery, ok := job.RabbitMQDelivery.(*amqp.Delivery)
	if !ok {
		return nil
	}
	return rq.ack(delivery.DeliveryTag)
}

func (rq *RabbitMQQueue) Nack(job *models.TranscriptionJob, requeue bool) error {
	delivery, ok := job.RabbitMQDelivery.(*amqp.Delivery)
	if !ok {
		return nil
	}
	return rq.nack(delivery.DeliveryTag, requeue)
}

func (rq *RabbitMQQueue) ack(deliveryTag uint64) error {
	rq.ackMu.Lock()
	defer rq.ackMu.Unlock()
	return rq.consumeChannel.Ack(deliveryTag, false)
}

func (rq *RabbitMQQueue) nack(deliveryTag uint64, requeue bool) error {
	rq.ackMu.Lock()
	defer rq.ackMu.Unlock()
	return rq.consumeChannel.Nack(deliveryTag, false, requeue)
}

func (rq *RabbitMQQueue) Close() error {
	select {
	case <-rq.closed:
		return nil
	default:
		close(rq.closed)
		rq.cancel()

		if rq.consumeChannel != nil {
			rq.consumeChannel.Close()
		}
		if rq.consumeConn != nil {
			rq.consumeConn.Close()
		}
		rq.closePublisher()

		rq.log.Info().Msg("rabbitmq queue closed")
		return nil
	}
}

func (rq *RabbitMQQueue) closePublisher() {
	if rq.publishChannel != nil {
		rq.publishChannel.Close()
	}
	if rq.publishConn != nil {
		rq.publishConn.Close()
	}
}
