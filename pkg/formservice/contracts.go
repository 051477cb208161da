package formservice

import (
	"context"

	"github.com/goliatone/go-taskforms/pkg/model"
)

// TaskSnapshot is a task instance as reported by the process engine.
type TaskSnapshot struct {
	ID                int64
	Name              string
	Description       string
	FormName          string
	ProcessID         string
	ProcessInstanceID int64
	WorkItemID        int64
	Status            model.TaskStatus
	InputData         map[string]any
	OutputData        map[string]any
}

// ProcessSnapshot is a process definition as reported by the process engine.
type ProcessSnapshot struct {
	ID          string
	Name        string
	PackageName string
	ContainerID string
	// Variables maps process variable names to their declared types.
	Variables map[string]string
}

// DataClient reads tasks and processes from the process engine. Transport
// errors carrying a 401/403 status must implement errors.HTTPError.
type DataClient interface {
	GetTask(ctx context.Context, domainID string, taskID int64) (*TaskSnapshot, error)
	GetTaskInputDefinitions(ctx context.Context, domainID, processID, taskName string) (map[string]string, error)
	GetTaskOutputDefinitions(ctx context.Context, domainID, processID, taskName string) (map[string]string, error)
	GetProcessDefinition(ctx context.Context, domainID, processID string) (*ProcessSnapshot, error)
	GetProcessInstanceVariables(ctx context.Context, domainID string, instanceID int64) (map[string]any, error)
	GetActiveNodeMetadata(ctx context.Context, domainID string, instanceID, workItemID int64) (map[string]any, error)
}

// DocumentResolver turns a document identifier into a download link.
type DocumentResolver interface {
	ResolveLink(ctx context.Context, documentID string) (string, error)
}

// RawFormSource returns the serialized form batch of a task or process. An
// empty string means no custom form exists.
type RawFormSource interface {
	GetTaskRawForm(ctx context.Context, domainID string, taskID int64) (string, error)
	GetProcessRawForm(ctx context.Context, domainID, processID string) (string, error)
}

// TaskActions performs the state-changing calls a submit ends with.
type TaskActions interface {
	StartTask(ctx context.Context, domainID string, taskID int64) error
	ClaimTask(ctx context.Context, domainID string, taskID int64) error
	ReleaseTask(ctx context.Context, domainID string, taskID int64) error
	SaveTaskState(ctx context.Context, domainID string, taskID int64, values map[string]any) error
	CompleteTask(ctx context.Context, domainID string, taskID int64, values map[string]any) error
	StartProcess(ctx context.Context, domainID, processID string, values map[string]any) (int64, error)
}

// RuntimeValues merges submitted values into a rendering context and returns
// the output values expected by the process engine.
type RuntimeValues interface {
	RuntimeValues(token uint64, values map[string]any) (map[string]any, error)
}
