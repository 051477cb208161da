package model

import "strings"

// TaskFormSuffix is appended to the task or process name to form the root form
// name of a render batch.
const TaskFormSuffix = "-taskform"

// FieldType is the field-type tag carried by serialized field definitions.
type FieldType string

const (
	FieldTypeText             FieldType = "TextBox"
	FieldTypeTextArea         FieldType = "TextArea"
	FieldTypeInteger          FieldType = "IntegerBox"
	FieldTypeDecimal          FieldType = "DecimalBox"
	FieldTypeCheckBox         FieldType = "CheckBox"
	FieldTypeDate             FieldType = "DatePicker"
	FieldTypeListBox          FieldType = "ListBox"
	FieldTypeRadioGroup       FieldType = "RadioGroup"
	FieldTypeComboBox         FieldType = "ComboBox"
	FieldTypeMultipleSelector FieldType = "MultipleSelector"
	FieldTypeDocument         FieldType = "Document"
	FieldTypeSubForm          FieldType = "SubForm"
)

// IsSingleSelector reports whether the type renders a single-choice option
// list (list box, radio group or combo box).
func (t FieldType) IsSingleSelector() bool {
	switch t {
	case FieldTypeListBox, FieldTypeRadioGroup, FieldTypeComboBox:
		return true
	default:
		return false
	}
}

// SelectorOption is a (key, display text) pair offered by selector fields.
type SelectorOption struct {
	Value any    `json:"value"`
	Text  string `json:"text"`
}

// FieldDefinition describes a single input of a form definition. Fields with a
// MethodClassMapping have their initial data computed by a lookup script;
// fields with CheckValueExist are verified against the remote data store before
// a task is completed.
type FieldDefinition struct {
	ID                 string           `json:"id,omitempty"`
	Name               string           `json:"name"`
	Label              string           `json:"label,omitempty"`
	Binding            string           `json:"binding,omitempty"`
	Type               FieldType        `json:"code"`
	Required           bool             `json:"required,omitempty"`
	ReadOnly           bool             `json:"readOnly,omitempty"`
	MethodClassMapping string           `json:"methodClassMapping,omitempty"`
	KeyMapping         string           `json:"keyMapping,omitempty"`
	ValueMapping       string           `json:"valueMapping,omitempty"`
	LoadInitialData    *bool            `json:"loadInitialData,omitempty"`
	CheckValueExist    bool             `json:"checkValueExist,omitempty"`
	InitialValue       *string          `json:"initialValue,omitempty"`
	ListOfValues       []any            `json:"listOfValues,omitempty"`
	Options            []SelectorOption `json:"options,omitempty"`
	AsyncErrorKey      string           `json:"asyncErrorKey,omitempty"`
	NestedForm         string           `json:"nestedForm,omitempty"`
}

// Key returns the data key used for the field's value: the binding when
// present, the field name otherwise.
func (f FieldDefinition) Key() string {
	if binding := strings.TrimSpace(f.Binding); binding != "" {
		return binding
	}
	return strings.TrimSpace(f.Name)
}

// HasLookup reports whether the field declares a scripted data lookup.
func (f FieldDefinition) HasLookup() bool {
	return strings.TrimSpace(f.MethodClassMapping) != ""
}

// ShouldLoadInitialData reports whether lookup results should populate the
// field. Absent flags default to true.
func (f FieldDefinition) ShouldLoadInitialData() bool {
	if f.LoadInitialData == nil {
		return true
	}
	return *f.LoadInitialData
}

// Resolved reports whether the field already carries initial data.
func (f FieldDefinition) Resolved() bool {
	return f.InitialValue != nil || len(f.Options) > 0 || len(f.ListOfValues) > 0 || f.AsyncErrorKey != ""
}

// SetInitialValue stores the resolved scalar initial value.
func (f *FieldDefinition) SetInitialValue(value string) {
	f.InitialValue = &value
}

// ResetInitialData clears any previously resolved value, options and async
// error marker.
func (f *FieldDefinition) ResetInitialData() {
	f.InitialValue = nil
	f.ListOfValues = nil
	f.Options = nil
	f.AsyncErrorKey = ""
}

// FormDefinition is a named tree of field definitions.
type FormDefinition struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Fields   []FieldDefinition `json:"fields"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Field returns a pointer to the field bound to key, or nil.
func (f *FormDefinition) Field(key string) *FieldDefinition {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].Key() == key {
			return &f.Fields[i]
		}
	}
	return nil
}

// RootFormName returns the root form name for an entity (task or process).
func RootFormName(entity string) string {
	return entity + TaskFormSuffix
}
