package worker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/infra/produce"
	"github.com/tnqbao/gau-rollup-orchestrator/orchestrator"
)

// BatchConsumer feeds upstream new-batch notifications into the orchestrator.
type BatchConsumer struct {
	channel      *amqp.Channel
	infra        *infra.Infra
	orchestrator *orchestrator.Orchestrator
}

func NewBatchConsumer(channel *amqp.Channel, inf *infra.Infra, orch *orchestrator.Orchestrator) *BatchConsumer {
	return &BatchConsumer{
		channel:      channel,
		infra:        inf,
		orchestrator: orch,
	}
}

func (c *BatchConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		produce.NewBatchQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register batch consumer: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Batch Consumer] Started listening for new batches on queue: %s", produce.NewBatchQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.infra.Logger.InfoWithContextf(ctx, "[Batch Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.infra.Logger.WarningWithContextf(ctx, "[Batch Consumer] Channel closed")
					return
				}
				c.handleNewBatch(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *BatchConsumer) handleNewBatch(ctx context.Context, msg amqp.Delivery) {
	var payload produce.NewBatchMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Batch Consumer] Failed to unmarshal batch message")
		_ = msg.Nack(false, false)
		return
	}

	if payload.InternalID == "" {
		c.infra.Logger.ErrorWithContextf(ctx, nil, "[Batch Consumer] Batch message has no internal id")
		_ = msg.Nack(false, false)
		return
	}

	if err := c.orchestrator.OnNewBatch(ctx, payload.InternalID, payload.Payload); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Batch Consumer] Failed to admit batch %s, requeueing", payload.InternalID)
		_ = msg.Nack(false, true)
		return
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Batch Consumer] Admitted batch %s", payload.InternalID)
	_ = msg.Ack(false)
}
