package produce

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RollupExchange = "rollup.exchange"

	// JobSignalQueue carries work signals referencing a ledger job. Delivery is
	// at-least-once: a signal is a hint to attempt a lease, not proof of
	// exclusivity.
	JobSignalQueue      = "rollup.jobs"
	JobSignalRoutingKey = "rollup.jobs"

	// NewBatchQueue carries upstream trigger notifications for freshly sealed
	// rollup batches.
	NewBatchQueue      = "rollup.batches"
	NewBatchRoutingKey = "rollup.batches"
)

// JobSignalMessage tells a worker that the referenced job is queued.
type JobSignalMessage struct {
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
}

// NewBatchMessage announces a sealed rollup batch ready for settlement.
type NewBatchMessage struct {
	InternalID string            `json:"internal_id"`
	Payload    map[string]string `json:"payload"`
	Timestamp  int64             `json:"timestamp"`
}

// JobService publishes orchestration messages.
type JobService struct {
	channel *amqp.Channel
}

func InitJobService(channel *amqp.Channel) *JobService {
	service := &JobService{
		channel: channel,
	}

	err := channel.ExchangeDeclare(
		RollupExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare rollup exchange: " + err.Error())
	}

	_, err = channel.QueueDeclare(
		JobSignalQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare job signal queue: " + err.Error())
	}

	err = channel.QueueBind(
		JobSignalQueue,
		JobSignalRoutingKey,
		RollupExchange,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to bind job signal queue: " + err.Error())
	}

	_, err = channel.QueueDeclare(
		NewBatchQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare new batch queue: " + err.Error())
	}

	err = channel.QueueBind(
		NewBatchQueue,
		NewBatchRoutingKey,
		RollupExchange,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to bind new batch queue: " + err.Error())
	}

	return service
}

// PublishJobSignal enqueues a work signal for the given job.
func (s *JobService) PublishJobSignal(ctx context.Context, jobID uuid.UUID) error {
	body, err := json.Marshal(JobSignalMessage{
		JobID:     jobID.String(),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		RollupExchange,
		JobSignalRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// PublishNewBatch announces an upstream batch to the orchestrator.
func (s *JobService) PublishNewBatch(ctx context.Context, msg NewBatchMessage) error {
	msg.Timestamp = time.Now().Unix()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		RollupExchange,
		NewBatchRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
