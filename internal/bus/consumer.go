package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gebz97/dyno/internal/config"
	"github.com/gebz97/dyno/internal/infrastructure/logger"
	"github.com/gebz97/dyno/internal/scheduler"
)

// SubmitConsumer consumes the workflow.submit queue as the coordinator's
// sole active consumer (spec.md §6: "at-most-one active coordinator
// consumer"), decoding each delivery into a domain.Workflow and handing
// it to the scheduler.
type SubmitConsumer struct {
	channel   *amqp.Channel
	queue     string
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewSubmitConsumer declares the submit queue durable and prepares (but
// does not start) the consumer.
func NewSubmitConsumer(conn *amqp.Connection, cfg config.BusConfig, sched *scheduler.Scheduler, log *logger.Logger) (*SubmitConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening submit consumer channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.WorkflowSubmitQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring queue %s: %w", cfg.WorkflowSubmitQueue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("setting submit consumer prefetch: %w", err)
	}
	return &SubmitConsumer{channel: ch, queue: cfg.WorkflowSubmitQueue, scheduler: sched, logger: log}, nil
}

// Run processes deliveries sequentially until ctx is cancelled or the
// channel closes. Each delivery: decode, submit, ack — always ack after
// the scheduler call returns, whether it succeeded or logged a non-fatal
// error (spec.md §4.4 step 3).
func (c *SubmitConsumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "dyno-coordinator-submit", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting submit consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("submit consumer channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *SubmitConsumer) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack submit delivery", "error", err)
		}
	}()

	wf, err := decodeWorkflow(d.Body)
	if err != nil {
		c.logger.Warn("malformed workflow submission, dropping", "error", err, "bytes", len(d.Body))
		return
	}

	if err := c.scheduler.Submit(ctx, wf); err != nil {
		c.logger.Warn("workflow submission rejected", "workflow", wf.ID(), "error", err)
	}
}

// Close closes the consumer's channel.
func (c *SubmitConsumer) Close() error {
	return c.channel.Close()
}

// StatusConsumer consumes the task.status queue, also as the coordinator's
// sole active consumer, and drives completion handling via the scheduler.
type StatusConsumer struct {
	channel   *amqp.Channel
	queue     string
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewStatusConsumer declares the status queue durable.
func NewStatusConsumer(conn *amqp.Connection, cfg config.BusConfig, sched *scheduler.Scheduler, log *logger.Logger) (*StatusConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening status consumer channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.TaskStatusQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring queue %s: %w", cfg.TaskStatusQueue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("setting status consumer prefetch: %w", err)
	}
	return &StatusConsumer{channel: ch, queue: cfg.TaskStatusQueue, scheduler: sched, logger: log}, nil
}

// Run processes status deliveries until ctx is cancelled or the channel
// closes. Unlike SubmitConsumer, callers keep this running during a
// best-effort shutdown drain to let in-flight workflows finish
// (spec.md §5; SPEC_FULL.md §6's leadership-loss drain).
func (c *StatusConsumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "dyno-coordinator-status", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting status consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("status consumer channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *StatusConsumer) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack status delivery", "error", err)
		}
	}()

	report, err := decodeStatusReport(d.Body)
	if err != nil {
		c.logger.Warn("malformed task status report, dropping", "error", err, "bytes", len(d.Body))
		return
	}

	c.scheduler.OnStatus(ctx, report)
}

// Close closes the consumer's channel.
func (c *StatusConsumer) Close() error {
	return c.channel.Close()
}
