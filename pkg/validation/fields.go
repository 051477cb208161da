// Package validation checks submitted form values against the locally known
// field rules (required fields and value types) before any remote check runs.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-taskforms/pkg/model"
)

// SchemaIssue is a validation error attached to a field.
type SchemaIssue struct {
	Path    string `json:"path,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result captures the validation outcome of a submit attempt.
type Result struct {
	Valid  bool          `json:"valid"`
	Issues []SchemaIssue `json:"issues,omitempty"`
}

// FieldIssues groups issues by field key.
func (r Result) FieldIssues() map[string][]string {
	out := make(map[string][]string)
	for _, issue := range r.Issues {
		out[issue.Field] = append(out[issue.Field], issue.Message)
	}
	return out
}

// SchemaFor builds the object schema describing the editable fields of form.
// Read-only, document and sub-form fields are not validated locally.
func SchemaFor(form *model.FormDefinition) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	if form == nil {
		return schema
	}
	for _, field := range form.Fields {
		if !validatable(field) {
			continue
		}
		schema = schema.WithProperty(field.Key(), fieldSchema(field.Type))
		if field.Required {
			schema.Required = append(schema.Required, field.Key())
		}
	}
	return schema
}

// ValidateForm checks values against the rules of form. Empty strings count as
// missing values.
func ValidateForm(form *model.FormDefinition, values map[string]any) Result {
	result := Result{Valid: true}
	if form == nil {
		return result
	}

	normalized := make(map[string]any, len(values))
	for _, field := range form.Fields {
		if !validatable(field) {
			continue
		}
		if value, ok := normalize(field.Type, values[field.Key()]); ok {
			normalized[field.Key()] = value
		}
	}

	err := SchemaFor(form).VisitJSON(normalized, openapi3.MultiErrors())
	if err == nil {
		return result
	}

	result.Valid = false
	result.Issues = flatten(err)
	sort.SliceStable(result.Issues, func(i, j int) bool {
		return result.Issues[i].Field < result.Issues[j].Field
	})
	return result
}

func validatable(field model.FieldDefinition) bool {
	if field.ReadOnly || field.Key() == "" {
		return false
	}
	switch field.Type {
	case model.FieldTypeDocument, model.FieldTypeSubForm:
		return false
	default:
		return true
	}
}

func fieldSchema(fieldType model.FieldType) *openapi3.Schema {
	switch fieldType {
	case model.FieldTypeInteger:
		return openapi3.NewIntegerSchema()
	case model.FieldTypeDecimal:
		return openapi3.NewFloat64Schema()
	case model.FieldTypeCheckBox:
		return openapi3.NewBoolSchema()
	case model.FieldTypeMultipleSelector:
		return openapi3.NewArraySchema()
	default:
		return openapi3.NewStringSchema()
	}
}

// normalize converts a submitted value into the JSON shapes the schema
// visitor understands. Numeric and boolean strings are parsed for typed
// fields; unparsable strings are kept so the type check reports them.
func normalize(fieldType model.FieldType, value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, false
		}
		switch fieldType {
		case model.FieldTypeInteger, model.FieldTypeDecimal:
			if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return parsed, true
			}
		case model.FieldTypeCheckBox:
			if parsed, err := strconv.ParseBool(trimmed); err == nil {
				return parsed, true
			}
		}
		return v, true
	case bool, float64, int, int32, int64, []any, map[string]any:
		return v, true
	case float32:
		return float64(v), true
	case time.Time:
		return v.Format(time.RFC3339), true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, true
	case reflect.Int8, reflect.Int16, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64FromReflect(rv), true
	default:
		return fmt.Sprint(value), true
	}
}

func float64FromReflect(rv reflect.Value) float64 {
	if rv.CanInt() {
		return float64(rv.Int())
	}
	return float64(rv.Uint())
}

func flatten(err error) []SchemaIssue {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []SchemaIssue
		for _, item := range multi {
			out = append(out, flatten(item)...)
		}
		return out
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		pointer := schemaErr.JSONPointer()
		issue := SchemaIssue{Message: strings.TrimSpace(schemaErr.Reason)}
		if len(pointer) > 0 {
			issue.Field = pointer[0]
			issue.Path = "/" + strings.Join(pointer, "/")
		}
		return []SchemaIssue{issue}
	}
	return []SchemaIssue{{Message: strings.TrimSpace(err.Error())}}
}
