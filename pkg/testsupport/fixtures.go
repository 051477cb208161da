// Package testsupport provides an in-memory process engine backed by YAML
// fixtures. It implements every collaborator the form service needs so tests
// and the CLI can render and submit forms without a live server.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"slices"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/formservice"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// Fixture is the YAML layout of one deployment.
type Fixture struct {
	Tasks     map[int64]TaskFixture     `yaml:"tasks"`
	Processes map[string]ProcessFixture `yaml:"processes"`
	// Links maps document identifiers to download links.
	Links map[string]string `yaml:"links"`
	// Existing lists the known values per key mapping ("<table>#<attribute>").
	Existing map[string][]string `yaml:"existing"`
	// NextInstanceID seeds the ids handed out by StartProcess.
	NextInstanceID int64 `yaml:"nextInstanceId"`
}

// TaskFixture describes a task instance and its form.
type TaskFixture struct {
	Name              string                    `yaml:"name"`
	Description       string                    `yaml:"description"`
	FormName          string                    `yaml:"formName"`
	ProcessID         string                    `yaml:"processId"`
	ProcessInstanceID int64                     `yaml:"processInstanceId"`
	WorkItemID        int64                     `yaml:"workItemId"`
	Status            model.TaskStatus          `yaml:"status"`
	Inputs            map[string]any            `yaml:"inputs"`
	Outputs           map[string]any            `yaml:"outputs"`
	Documents         map[string]model.Document `yaml:"documents"`
	InputDefinitions  map[string]string         `yaml:"inputDefinitions"`
	OutputDefinitions map[string]string         `yaml:"outputDefinitions"`
	NodeMetadata      map[string]any            `yaml:"nodeMetadata"`
	Variables         map[string]any            `yaml:"variables"`
	Form              string                    `yaml:"form"`
	// Forbidden makes every read of the task fail with a 403.
	Forbidden bool `yaml:"forbidden"`
}

// ProcessFixture describes a process definition and its start form.
type ProcessFixture struct {
	Name        string            `yaml:"name"`
	PackageName string            `yaml:"packageName"`
	ContainerID string            `yaml:"containerId"`
	Variables   map[string]string `yaml:"variables"`
	Form        string            `yaml:"form"`
}

// Call records a state-changing action.
type Call struct {
	Action    string
	DomainID  string
	TaskID    int64
	ProcessID string
	Values    map[string]any
}

// Backend serves a Fixture through the formservice collaborator contracts and
// asyncvalidation.ExistenceChecker.
type Backend struct {
	mu      sync.Mutex
	fixture Fixture
	calls   []Call
}

var (
	_ formservice.DataClient       = (*Backend)(nil)
	_ formservice.RawFormSource    = (*Backend)(nil)
	_ formservice.DocumentResolver = (*Backend)(nil)
	_ formservice.TaskActions      = (*Backend)(nil)
)

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("testsupport: decode fixture: %w", err)
	}
	return fixture, nil
}

// LoadFixture reads a YAML fixture from path.
func LoadFixture(path string) (Fixture, error) {
	if path == "" {
		return Fixture{}, errors.New("testsupport: fixture path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("testsupport: read fixture: %w", err)
	}
	return ParseFixture(data)
}

// MustLoadBackend loads a fixture file into a Backend, failing the test on
// error.
func MustLoadBackend(t *testing.T, path string) *Backend {
	t.Helper()

	fixture, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return NewBackend(fixture)
}

// NewBackend wraps fixture.
func NewBackend(fixture Fixture) *Backend {
	if fixture.NextInstanceID <= 0 {
		fixture.NextInstanceID = 1
	}
	return &Backend{fixture: fixture}
}

// Calls returns the recorded actions in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// Tasks lists the task ids of the fixture in ascending order.
func (b *Backend) Tasks() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := slices.Collect(maps.Keys(b.fixture.Tasks))
	slices.Sort(ids)
	return ids
}

func (b *Backend) task(taskID int64) (TaskFixture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.fixture.Tasks[taskID]
	if !ok {
		return TaskFixture{}, formerrors.NotFound(fmt.Sprintf("testsupport: no task %d", taskID), nil)
	}
	if task.Forbidden {
		return TaskFixture{}, formerrors.StatusError{Code: http.StatusForbidden, Err: fmt.Errorf("task %d", taskID)}
	}
	return task, nil
}

func (b *Backend) taskByProcess(processID, taskName string) (TaskFixture, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, task := range b.fixture.Tasks {
		if task.ProcessID == processID && task.Name == taskName {
			return task, true
		}
	}
	return TaskFixture{}, false
}

func (b *Backend) taskByInstance(instanceID int64) (TaskFixture, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, task := range b.fixture.Tasks {
		if task.ProcessInstanceID == instanceID {
			return task, true
		}
	}
	return TaskFixture{}, false
}

func (b *Backend) GetTask(_ context.Context, _ string, taskID int64) (*formservice.TaskSnapshot, error) {
	task, err := b.task(taskID)
	if err != nil {
		return nil, err
	}
	inputs := maps.Clone(task.Inputs)
	if inputs == nil && len(task.Documents) > 0 {
		inputs = make(map[string]any, len(task.Documents))
	}
	for name, doc := range task.Documents {
		inputs[name] = doc
	}
	return &formservice.TaskSnapshot{
		ID:                taskID,
		Name:              task.Name,
		Description:       task.Description,
		FormName:          task.FormName,
		ProcessID:         task.ProcessID,
		ProcessInstanceID: task.ProcessInstanceID,
		WorkItemID:        task.WorkItemID,
		Status:            task.Status,
		InputData:         inputs,
		OutputData:        maps.Clone(task.Outputs),
	}, nil
}

func (b *Backend) GetTaskInputDefinitions(_ context.Context, _, processID, taskName string) (map[string]string, error) {
	task, ok := b.taskByProcess(processID, taskName)
	if !ok {
		return nil, nil
	}
	return maps.Clone(task.InputDefinitions), nil
}

func (b *Backend) GetTaskOutputDefinitions(_ context.Context, _, processID, taskName string) (map[string]string, error) {
	task, ok := b.taskByProcess(processID, taskName)
	if !ok {
		return nil, nil
	}
	return maps.Clone(task.OutputDefinitions), nil
}

func (b *Backend) GetProcessDefinition(_ context.Context, _, processID string) (*formservice.ProcessSnapshot, error) {
	b.mu.Lock()
	process, ok := b.fixture.Processes[processID]
	b.mu.Unlock()
	if !ok {
		return nil, formerrors.NotFound(fmt.Sprintf("testsupport: no process %q", processID), nil)
	}
	name := process.Name
	if name == "" {
		name = processID
	}
	return &formservice.ProcessSnapshot{
		ID:          processID,
		Name:        name,
		PackageName: process.PackageName,
		ContainerID: process.ContainerID,
		Variables:   maps.Clone(process.Variables),
	}, nil
}

func (b *Backend) GetProcessInstanceVariables(_ context.Context, _ string, instanceID int64) (map[string]any, error) {
	task, ok := b.taskByInstance(instanceID)
	if !ok {
		return nil, nil
	}
	return maps.Clone(task.Variables), nil
}

func (b *Backend) GetActiveNodeMetadata(_ context.Context, _ string, instanceID, workItemID int64) (map[string]any, error) {
	task, ok := b.taskByInstance(instanceID)
	if !ok || task.WorkItemID != workItemID {
		return nil, nil
	}
	return maps.Clone(task.NodeMetadata), nil
}

func (b *Backend) GetTaskRawForm(_ context.Context, _ string, taskID int64) (string, error) {
	task, err := b.task(taskID)
	if err != nil {
		return "", err
	}
	return task.Form, nil
}

func (b *Backend) GetProcessRawForm(_ context.Context, _, processID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fixture.Processes[processID].Form, nil
}

func (b *Backend) ResolveLink(_ context.Context, documentID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok := b.fixture.Links[documentID]
	if !ok {
		return "", formerrors.NotFound(fmt.Sprintf("testsupport: no link for document %q", documentID), nil)
	}
	return link, nil
}

func (b *Backend) StartTask(_ context.Context, domainID string, taskID int64) error {
	return b.record(Call{Action: "start", DomainID: domainID, TaskID: taskID})
}

func (b *Backend) ClaimTask(_ context.Context, domainID string, taskID int64) error {
	return b.record(Call{Action: "claim", DomainID: domainID, TaskID: taskID})
}

func (b *Backend) ReleaseTask(_ context.Context, domainID string, taskID int64) error {
	return b.record(Call{Action: "release", DomainID: domainID, TaskID: taskID})
}

func (b *Backend) SaveTaskState(_ context.Context, domainID string, taskID int64, values map[string]any) error {
	if err := b.record(Call{Action: "save", DomainID: domainID, TaskID: taskID, Values: maps.Clone(values)}); err != nil {
		return err
	}
	b.mu.Lock()
	task := b.fixture.Tasks[taskID]
	task.Outputs = maps.Clone(values)
	b.fixture.Tasks[taskID] = task
	b.mu.Unlock()
	return nil
}

func (b *Backend) CompleteTask(_ context.Context, domainID string, taskID int64, values map[string]any) error {
	if err := b.record(Call{Action: "complete", DomainID: domainID, TaskID: taskID, Values: maps.Clone(values)}); err != nil {
		return err
	}
	b.mu.Lock()
	task := b.fixture.Tasks[taskID]
	task.Status = model.TaskStatusCompleted
	task.Outputs = maps.Clone(values)
	b.fixture.Tasks[taskID] = task
	b.mu.Unlock()
	return nil
}

func (b *Backend) StartProcess(_ context.Context, domainID, processID string, values map[string]any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fixture.Processes[processID]; !ok {
		return 0, formerrors.NotFound(fmt.Sprintf("testsupport: no process %q", processID), nil)
	}
	id := b.fixture.NextInstanceID
	b.fixture.NextInstanceID++
	b.calls = append(b.calls, Call{Action: "startProcess", DomainID: domainID, ProcessID: processID, Values: maps.Clone(values)})
	return id, nil
}

// record appends c, refusing actions on unknown, forbidden or completed tasks.
func (b *Backend) record(c Call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.fixture.Tasks[c.TaskID]
	switch {
	case !ok:
		return formerrors.NotFound(fmt.Sprintf("testsupport: no task %d", c.TaskID), nil)
	case task.Forbidden:
		return formerrors.StatusError{Code: http.StatusForbidden, Err: fmt.Errorf("task %d", c.TaskID)}
	case task.Status == model.TaskStatusCompleted:
		return formerrors.Configuration(fmt.Sprintf("testsupport: task %d is completed", c.TaskID), nil)
	}
	b.calls = append(b.calls, c)
	return nil
}

// Exists implements asyncvalidation.ExistenceChecker against the fixture's
// Existing table.
func (b *Backend) Exists(ctx context.Context, _, keyMapping string, value any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, formerrors.TransientLookup("testsupport: existence check", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	known, ok := b.fixture.Existing[keyMapping]
	if !ok {
		return false, formerrors.TransientLookup(fmt.Sprintf("testsupport: unknown key mapping %q", keyMapping), nil)
	}
	return slices.Contains(known, fmt.Sprint(value)), nil
}
