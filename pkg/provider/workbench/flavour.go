package workbench

import (
	"context"
	"fmt"
	"maps"

	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider/defaultforms"
)

// Flavour carries the settings-specific steps of the rendering pipeline.
type Flavour interface {
	Name() string
	Supports(settings model.RenderingSettings) bool
	FormName(settings model.RenderingSettings) string
	GenerateDefaultForms(ctx context.Context, settings model.RenderingSettings) ([]*model.FormDefinition, error)
	RawFormData(settings model.RenderingSettings, root *model.FormDefinition) map[string]any
	OutputValues(values map[string]any, root *model.FormDefinition, settings model.RenderingSettings) (map[string]any, error)
}

// TaskFlavour renders human task forms.
type TaskFlavour struct{}

func (TaskFlavour) Name() string { return "task" }

func (TaskFlavour) Supports(settings model.RenderingSettings) bool {
	_, ok := settings.(*model.TaskRenderingSettings)
	return ok
}

func (TaskFlavour) FormName(settings model.RenderingSettings) string {
	task, ok := settings.(*model.TaskRenderingSettings)
	if !ok {
		return ""
	}
	return defaultforms.TaskFormName(task.Task)
}

func (TaskFlavour) GenerateDefaultForms(_ context.Context, settings model.RenderingSettings) ([]*model.FormDefinition, error) {
	task, ok := settings.(*model.TaskRenderingSettings)
	if !ok {
		return nil, fmt.Errorf("workbench: unsupported settings %T", settings)
	}
	return defaultforms.TaskForms(task.Task)
}

// RawFormData merges task inputs with outputs; outputs win.
func (TaskFlavour) RawFormData(settings model.RenderingSettings, _ *model.FormDefinition) map[string]any {
	task, ok := settings.(*model.TaskRenderingSettings)
	if !ok {
		return map[string]any{}
	}
	data := make(map[string]any, len(task.Inputs)+len(task.Outputs))
	maps.Copy(data, task.Inputs)
	maps.Copy(data, task.Outputs)
	return data
}

// OutputValues keeps the values bound to declared task outputs, rehydrated to
// their declared types.
func (TaskFlavour) OutputValues(values map[string]any, root *model.FormDefinition, settings model.RenderingSettings) (map[string]any, error) {
	task, ok := settings.(*model.TaskRenderingSettings)
	if !ok {
		return nil, fmt.Errorf("workbench: unsupported settings %T", settings)
	}
	return outputValues(values, root, task.MarshallerContext(), task.Task.TaskOutputDefinitions, false)
}

// ProcessFlavour renders process start forms.
type ProcessFlavour struct{}

func (ProcessFlavour) Name() string { return "process" }

func (ProcessFlavour) Supports(settings model.RenderingSettings) bool {
	_, ok := settings.(*model.ProcessRenderingSettings)
	return ok
}

func (ProcessFlavour) FormName(settings model.RenderingSettings) string {
	process, ok := settings.(*model.ProcessRenderingSettings)
	if !ok {
		return ""
	}
	return defaultforms.ProcessFormName(process.Process)
}

func (ProcessFlavour) GenerateDefaultForms(_ context.Context, settings model.RenderingSettings) ([]*model.FormDefinition, error) {
	process, ok := settings.(*model.ProcessRenderingSettings)
	if !ok {
		return nil, fmt.Errorf("workbench: unsupported settings %T", settings)
	}
	return defaultforms.ProcessForms(process.Process, process.ProcessData)
}

// RawFormData is empty for start forms.
func (ProcessFlavour) RawFormData(model.RenderingSettings, *model.FormDefinition) map[string]any {
	return map[string]any{}
}

// OutputValues returns the form values as process variables, rehydrated when
// the variable schema declares a type.
func (ProcessFlavour) OutputValues(values map[string]any, root *model.FormDefinition, settings model.RenderingSettings) (map[string]any, error) {
	process, ok := settings.(*model.ProcessRenderingSettings)
	if !ok {
		return nil, fmt.Errorf("workbench: unsupported settings %T", settings)
	}
	return outputValues(values, root, process.MarshallerContext(), process.ProcessData, true)
}

func outputValues(values map[string]any, root *model.FormDefinition, marshaller model.MarshallerContext, types map[string]string, keepUndeclared bool) (map[string]any, error) {
	if marshaller == nil {
		marshaller = model.DefaultMarshaller{}
	}
	out := make(map[string]any)
	for _, field := range root.Fields {
		key := field.Key()
		value, present := values[key]
		if !present {
			continue
		}
		typeName, declared := types[key]
		if !declared {
			if keepUndeclared {
				out[key] = value
			}
			continue
		}
		converted, err := marshaller.Rehydrate(typeName, value)
		if err != nil {
			return nil, fmt.Errorf("workbench: field %q: %w", key, err)
		}
		out[key] = converted
	}
	return out, nil
}
