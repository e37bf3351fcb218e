// Package bus implements the coordinator's two consumers and one
// publisher (spec.md §4.4) over AMQP (RabbitMQ), via
// github.com/rabbitmq/amqp091-go. Decode/encode live here; all scheduling
// semantics are delegated to internal/scheduler.
package bus

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gebz97/dyno/internal/domain"
	"github.com/gebz97/dyno/internal/scheduler"
)

// wireTaskStatus is the JSON shape of a task.status delivery
// (spec.md §6: TaskStatus{workflow_id, task_id, status}).
type wireTaskStatus struct {
	WorkflowID string `json:"workflow_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
}

func decodeWorkflow(body []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, errors.Wrap(err, "decoding workflow submission")
	}
	return &wf, nil
}

func decodeStatusReport(body []byte) (scheduler.StatusReport, error) {
	var wire wireTaskStatus
	if err := json.Unmarshal(body, &wire); err != nil {
		return scheduler.StatusReport{}, errors.Wrap(err, "decoding task status report")
	}
	return scheduler.StatusReport{
		WorkflowID: wire.WorkflowID,
		TaskName:   wire.TaskID,
		Status:     wire.Status,
	}, nil
}

func encodeTaskMessage(msg scheduler.TaskMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func encodeWorkflowStatus(msg scheduler.WorkflowStatusMessage) ([]byte, error) {
	return json.Marshal(msg)
}
