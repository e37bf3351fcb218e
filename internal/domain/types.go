// Package domain defines the workflow and task model shared by the
// validator, registry, and scheduler.
package domain

import "encoding/json"

// TransportMode identifies how a worker should reach a Target.
type TransportMode string

const (
	TransportSSH        TransportMode = "SSH"
	TransportWinRM      TransportMode = "WINRM"
	TransportHTTP2      TransportMode = "HTTP2"
	TransportGRPC       TransportMode = "GRPC"
	TransportDocker     TransportMode = "DOCKER"
	TransportKubernetes TransportMode = "KUBERNETES"
	TransportAWS        TransportMode = "AWS"
)

// Target names a host or resource a task's steps act against. Opaque to
// the scheduler; carried through to the worker untouched.
type Target struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace,omitempty"`
	Identifier string            `json:"identifier"`
	Transport  TransportMode     `json:"transport"`
	Labels     map[string]string `json:"labels,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}

// Step is a single unit of work within a task. Args is left as raw JSON
// since its shape (scalar, map, or list) is opaque to the coordinator.
type Step struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Task is a vertex in a workflow's DAG. Name must be unique within the
// owning workflow. Children holds the names of tasks that depend on this
// one completing.
type Task struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace,omitempty"`
	Children  []string          `json:"children,omitempty"`
	Targets   []Target          `json:"targets,omitempty"`
	Steps     []Step            `json:"steps,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
}

// Workflow is a submitted collection of tasks before admission. UID is
// expected to be globally unique together with Namespace and Name; the
// scheduler treats workflow identity as whatever ID() returns.
type Workflow struct {
	Name               string            `json:"name"`
	Namespace          string            `json:"namespace,omitempty"`
	UID                string            `json:"uid,omitempty"`
	Tasks              []Task            `json:"tasks"`
	CreationTimestamp  int64             `json:"creation_timestamp,omitempty"`
	DeletionTimestamp  int64             `json:"deletion_timestamp,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
}

// ID returns the workflow's registry key. Submissions that omit a UID are
// keyed on namespace/name alone, matching the bus payload's minimal shape
// (spec.md §6 lists name, namespace, uid, tasks — uid may be absent on the
// submit queue and is populated by an upstream API service).
func (w *Workflow) ID() string {
	if w.UID != "" {
		return w.Namespace + "/" + w.Name + "/" + w.UID
	}
	return w.Namespace + "/" + w.Name
}

// Status is the lifecycle state of an admitted workflow.
type Status string

const (
	StatusScheduling Status = "scheduling"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// StatusSummary is the read-only projection returned by registry.Snapshot.
type StatusSummary struct {
	WorkflowID string `json:"workflow_id"`
	Status     Status `json:"status"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
}
