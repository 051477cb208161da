package model

import "maps"

// TaskStatus mirrors the task lifecycle states reported by the process engine.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "Created"
	TaskStatusReady      TaskStatus = "Ready"
	TaskStatusReserved   TaskStatus = "Reserved"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusCompleted  TaskStatus = "Completed"
)

// Document is a document-typed task value. Link is filled in by the form
// service so the value can be displayed as a download link.
type Document struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Name       string `json:"name" yaml:"name"`
	Size       int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Link       string `json:"link,omitempty" yaml:"link,omitempty"`
}

// TaskDefinition is the local copy of the task being rendered.
type TaskDefinition struct {
	ID                    int64             `json:"id"`
	Name                  string            `json:"name"`
	Description           string            `json:"description,omitempty"`
	FormName              string            `json:"formName,omitempty"`
	DeploymentID          string            `json:"deploymentId,omitempty"`
	ProcessID             string            `json:"processId,omitempty"`
	ProcessInstanceID     int64             `json:"processInstanceId,omitempty"`
	Status                TaskStatus        `json:"status,omitempty"`
	TaskInputDefinitions  map[string]string `json:"taskInputDefinitions,omitempty"`
	TaskOutputDefinitions map[string]string `json:"taskOutputDefinitions,omitempty"`
	OutputIncluded        bool              `json:"outputIncluded,omitempty"`
}

// ProcessDefinition is the local copy of the process being started.
type ProcessDefinition struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PackageName  string `json:"packageName,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// RenderingSettings carries everything a provider needs to render one form.
// Settings are built once per render request; providers may extend the
// rendering metadata.
type RenderingSettings interface {
	ServerTemplateID() string
	FormContent() string
	SetFormContent(content string)
	MarshallerContext() MarshallerContext
	ProcessInstanceVariables() map[string]any
	InputData() map[string]any
	RenderingMetadata() map[string]any
}

type baseSettings struct {
	serverTemplateID         string
	formContent              string
	marshaller               MarshallerContext
	processInstanceVariables map[string]any
	renderingMetadata        map[string]any
}

func newBaseSettings(serverTemplateID, formContent string, marshaller MarshallerContext) baseSettings {
	if marshaller == nil {
		marshaller = DefaultMarshaller{}
	}
	return baseSettings{
		serverTemplateID:  serverTemplateID,
		formContent:       formContent,
		marshaller:        marshaller,
		renderingMetadata: make(map[string]any),
	}
}

func (s *baseSettings) ServerTemplateID() string { return s.serverTemplateID }

func (s *baseSettings) FormContent() string { return s.formContent }

func (s *baseSettings) SetFormContent(content string) { s.formContent = content }

func (s *baseSettings) MarshallerContext() MarshallerContext { return s.marshaller }

func (s *baseSettings) ProcessInstanceVariables() map[string]any { return s.processInstanceVariables }

// SetProcessInstanceVariables attaches a shallow copy of vars.
func (s *baseSettings) SetProcessInstanceVariables(vars map[string]any) {
	if vars == nil {
		s.processInstanceVariables = nil
		return
	}
	s.processInstanceVariables = maps.Clone(vars)
}

func (s *baseSettings) RenderingMetadata() map[string]any { return s.renderingMetadata }

// TaskRenderingSettings renders a human task form.
type TaskRenderingSettings struct {
	baseSettings
	Task    TaskDefinition
	Inputs  map[string]any
	Outputs map[string]any
}

// NewTaskRenderingSettings builds settings for a task render request.
func NewTaskRenderingSettings(task TaskDefinition, inputs, outputs map[string]any, serverTemplateID, formContent string, marshaller MarshallerContext) *TaskRenderingSettings {
	return &TaskRenderingSettings{
		baseSettings: newBaseSettings(serverTemplateID, formContent, marshaller),
		Task:         task,
		Inputs:       inputs,
		Outputs:      outputs,
	}
}

// InputData returns the task inputs.
func (s *TaskRenderingSettings) InputData() map[string]any { return s.Inputs }

// ProcessRenderingSettings renders a process start form.
type ProcessRenderingSettings struct {
	baseSettings
	Process ProcessDefinition
	// ProcessData maps process variable names to their declared types.
	ProcessData map[string]string
}

// NewProcessRenderingSettings builds settings for a process start render request.
func NewProcessRenderingSettings(process ProcessDefinition, processData map[string]string, serverTemplateID, formContent string, marshaller MarshallerContext) *ProcessRenderingSettings {
	if processData == nil {
		processData = make(map[string]string)
	}
	return &ProcessRenderingSettings{
		baseSettings: newBaseSettings(serverTemplateID, formContent, marshaller),
		Process:      process,
		ProcessData:  processData,
	}
}

// InputData is always empty for process start forms.
func (s *ProcessRenderingSettings) InputData() map[string]any { return map[string]any{} }

var (
	_ RenderingSettings = (*TaskRenderingSettings)(nil)
	_ RenderingSettings = (*ProcessRenderingSettings)(nil)
)
