package bus

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gebz97/dyno/internal/config"
	"github.com/gebz97/dyno/internal/scheduler"
)

// Publisher implements scheduler.Publisher over a dedicated AMQP channel
// in publisher-confirms mode: every PublishTask/PublishWorkflowStatus call
// blocks until the broker acknowledges the message, per spec.md §4.4's
// "publisher awaits broker confirmation per message".
type Publisher struct {
	mu                  sync.Mutex
	channel             *amqp.Channel
	confirms            chan amqp.Confirmation
	workQueue           string
	workflowStatusQueue string
}

// NewPublisher declares the two outbound queues durable and puts the
// channel into confirm mode.
func NewPublisher(conn *amqp.Connection, cfg config.BusConfig) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening publisher channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}

	for _, q := range []string{cfg.WorkQueue, cfg.WorkflowStatusQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declaring queue %s: %w", q, err)
		}
	}

	return &Publisher{
		channel:             ch,
		confirms:            ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		workQueue:           cfg.WorkQueue,
		workflowStatusQueue: cfg.WorkflowStatusQueue,
	}, nil
}

// Close closes the underlying AMQP channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// PublishTask implements scheduler.Publisher.
func (p *Publisher) PublishTask(ctx context.Context, msg scheduler.TaskMessage) error {
	body, err := encodeTaskMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding task message: %w", err)
	}
	return p.publish(ctx, p.workQueue, body)
}

// PublishWorkflowStatus implements scheduler.Publisher.
func (p *Publisher) PublishWorkflowStatus(ctx context.Context, msg scheduler.WorkflowStatusMessage) error {
	body, err := encodeWorkflowStatus(msg)
	if err != nil {
		return fmt.Errorf("encoding workflow status message: %w", err)
	}
	return p.publish(ctx, p.workflowStatusQueue, body)
}

// publish serializes access to the channel: amqp091-go channels are not
// concurrency-safe, and the submit and status consumers publish from
// separate goroutines onto this same confirm-mode channel. Without the
// lock, a confirmation meant for one publisher could be read by the other.
func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publishing to %s: %w", queue, err)
	}

	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return fmt.Errorf("broker nacked publish to %s", queue)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
