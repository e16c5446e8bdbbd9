package queue

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"github.com/ecellhub/email-engine/internal/service"
)

// DispatchQueueName is the durable queue carrying bulk dispatch jobs
// from the API to the worker.
const DispatchQueueName = "email_dispatch"

const maxJobRetries = 3

// DispatchJob is one queued bulk send: the full request plus an id the
// API returns to the caller immediately.
type DispatchJob struct {
	JobID   string              `json:"job_id"`
	Request service.SendRequest `json:"request"`
}

// Publisher is the producer side used by the send-bulk handler.
type Publisher interface {
	PublishDispatchJob(job DispatchJob) error
}

// AMQPQueue carries dispatch jobs over RabbitMQ.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open queue channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		DispatchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) PublishDispatchJob(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		DispatchQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume processes dispatch jobs until the channel closes. Handler
// errors requeue the job up to maxJobRetries times; after that the job
// is dropped with a log line.
func (q *AMQPQueue) Consume(handler func(job DispatchJob) error) error {
	msgs, err := q.ch.Consume(
		DispatchQueueName,
		"",
		false, // manual ack for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for d := range msgs {
		processDelivery(d, handler, q.requeue)
	}
	return nil
}

// processDelivery runs one job and acks the delivery only once it has
// been handled or is safely back on the queue. If the republish fails,
// the original delivery is nacked back to the broker instead of being
// dropped.
func processDelivery(d amqp.Delivery, handler func(job DispatchJob) error, republish func(body []byte, retries int) error) {
	var job DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Println("⚠️ Invalid dispatch job, dropping:", err)
		d.Ack(false)
		return
	}

	if err := handler(job); err != nil {
		retries := retryCount(d.Headers)
		if retries < maxJobRetries {
			log.Printf("⚠️ Dispatch job %s failed (attempt %d/%d): %v", job.JobID, retries+1, maxJobRetries, err)
			if err := republish(d.Body, retries+1); err != nil {
				log.Println("⚠️ Failed to requeue dispatch job:", err)
				d.Nack(false, true)
				return
			}
		} else {
			log.Printf("⚠️ Dispatch job %s permanently failed: %v", job.JobID, err)
		}
	}
	d.Ack(false)
}

// requeue republishes a failed job with its retry counter bumped, so
// the attempt limit survives the round trip through the broker.
func (q *AMQPQueue) requeue(body []byte, retries int) error {
	return q.ch.Publish(
		"",
		DispatchQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"x-retry-count": int32(retries)},
			Body:         body,
		},
	)
}

func (q *AMQPQueue) Close() {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	if v, ok := headers["x-retry-count"]; ok {
		if n, ok := v.(int32); ok {
			return int(n)
		}
	}
	return 0
}

var _ Publisher = (*AMQPQueue)(nil)
