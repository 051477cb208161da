// Package defaultforms generates form definitions for tasks and processes that
// ship without a custom form, from their declared variables.
package defaultforms

import (
	"sort"
	"strings"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// FieldTypeFor maps a declared variable type to a field type. Unknown types
// render as text boxes.
func FieldTypeFor(typeName string) model.FieldType {
	switch model.SimpleTypeName(typeName) {
	case "integer", "int", "long", "short":
		return model.FieldTypeInteger
	case "double", "float", "bigdecimal":
		return model.FieldTypeDecimal
	case "boolean", "bool":
		return model.FieldTypeCheckBox
	case "date", "localdate", "localdatetime":
		return model.FieldTypeDate
	case "document", "documentimpl":
		return model.FieldTypeDocument
	default:
		return model.FieldTypeText
	}
}

// TaskFormName is the entity name the root form of a task is derived from.
func TaskFormName(task model.TaskDefinition) string {
	if name := strings.TrimSpace(task.FormName); name != "" {
		return name
	}
	return strings.TrimSpace(task.Name)
}

// ProcessFormName is the entity name the root form of a process is derived
// from.
func ProcessFormName(process model.ProcessDefinition) string {
	if id := strings.TrimSpace(process.ID); id != "" {
		return id
	}
	return strings.TrimSpace(process.Name)
}

// TaskForms builds the default form batch for a task: output variables are
// editable, input-only variables are shown read-only.
func TaskForms(task model.TaskDefinition) ([]*model.FormDefinition, error) {
	name := TaskFormName(task)
	if name == "" {
		return nil, formerrors.Configuration("defaultforms: task has no name", nil)
	}

	fields := fieldsFor(task.TaskOutputDefinitions, false)
	for _, field := range fieldsFor(task.TaskInputDefinitions, true) {
		if _, isOutput := task.TaskOutputDefinitions[field.Name]; isOutput {
			continue
		}
		fields = append(fields, field)
	}

	return []*model.FormDefinition{{
		ID:     name,
		Name:   model.RootFormName(name),
		Fields: fields,
	}}, nil
}

// ProcessForms builds the default start form for a process from its variable
// schema.
func ProcessForms(process model.ProcessDefinition, variables map[string]string) ([]*model.FormDefinition, error) {
	name := ProcessFormName(process)
	if name == "" {
		return nil, formerrors.Configuration("defaultforms: process has no id", nil)
	}
	return []*model.FormDefinition{{
		ID:     name,
		Name:   model.RootFormName(name),
		Fields: fieldsFor(variables, false),
	}}, nil
}

func fieldsFor(definitions map[string]string, readOnly bool) []model.FieldDefinition {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]model.FieldDefinition, 0, len(names))
	for _, name := range names {
		fields = append(fields, model.FieldDefinition{
			ID:       "field_" + name,
			Name:     name,
			Label:    name,
			Binding:  name,
			Type:     FieldTypeFor(definitions[name]),
			ReadOnly: readOnly,
		})
	}
	return fields
}
