package model

import (
	"testing"
	"time"
)

func TestDefaultMarshaller_Rehydrate(t *testing.T) {
	m := DefaultMarshaller{}
	tests := []struct {
		name     string
		typeName string
		value    any
		want     any
		wantErr  bool
	}{
		{name: "integer", typeName: "java.lang.Integer", value: " 42 ", want: int64(42)},
		{name: "blank integer", typeName: "Long", value: "", want: nil},
		{name: "bad integer", typeName: "Integer", value: "4x", wantErr: true},
		{name: "decimal", typeName: "java.math.BigDecimal", value: "12.5", want: 12.5},
		{name: "boolean", typeName: "Boolean", value: "true", want: true},
		{name: "already typed", typeName: "Integer", value: int64(3), want: int64(3)},
		{name: "string from number", typeName: "String", value: 7, want: "7"},
		{name: "unknown type passes through", typeName: "org.acme.Invoice", value: "x", want: "x"},
		{name: "nil", typeName: "Integer", value: nil, want: nil},
		{name: "bad date", typeName: "java.util.Date", value: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Rehydrate(tt.typeName, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("rehydrate: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestDefaultMarshaller_RehydrateDate(t *testing.T) {
	got, err := DefaultMarshaller{}.Rehydrate("LocalDate", "2024-03-01")
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if parsed, ok := got.(time.Time); !ok || !parsed.Equal(want) {
		t.Fatalf("expected %v, got %#v", want, got)
	}
}

func TestFieldDefinition_Helpers(t *testing.T) {
	off := false
	field := FieldDefinition{Name: "amount", Binding: " total ", MethodClassMapping: "Invoice#amount", LoadInitialData: &off}
	if field.Key() != "total" {
		t.Fatalf("expected binding key, got %q", field.Key())
	}
	if !field.HasLookup() || field.ShouldLoadInitialData() {
		t.Fatalf("unexpected lookup flags")
	}
	if field.Resolved() {
		t.Fatalf("fresh field should not be resolved")
	}

	field.SetInitialValue("10")
	if !field.Resolved() {
		t.Fatalf("expected resolved after initial value")
	}
	field.ResetInitialData()
	if field.Resolved() {
		t.Fatalf("expected reset to clear initial data")
	}

	if (FieldDefinition{Name: "x"}).ShouldLoadInitialData() != true {
		t.Fatalf("absent flag should default to true")
	}
}

func TestFormDefinition_Field(t *testing.T) {
	form := &FormDefinition{Name: RootFormName("Review"), Fields: []FieldDefinition{{Name: "a"}, {Name: "b", Binding: "beta"}}}
	if form.Name != "Review-taskform" {
		t.Fatalf("unexpected root form name %q", form.Name)
	}
	if got := form.Field("beta"); got == nil || got.Name != "b" {
		t.Fatalf("expected field bound to beta, got %#v", got)
	}
	if form.Field("b") != nil {
		t.Fatalf("lookup must use the binding")
	}
	var missing *FormDefinition
	if missing.Field("a") != nil {
		t.Fatalf("nil form should yield nil")
	}
}

func TestSettings(t *testing.T) {
	vars := map[string]any{"region": "EU"}
	task := NewTaskRenderingSettings(TaskDefinition{}, map[string]any{"a": 1}, nil, "srv", "[]", nil)
	task.SetProcessInstanceVariables(vars)
	vars["region"] = "US"
	if task.ProcessInstanceVariables()["region"] != "EU" {
		t.Fatalf("expected a copy of the process variables")
	}
	if _, ok := task.MarshallerContext().(DefaultMarshaller); !ok {
		t.Fatalf("expected default marshaller")
	}
	if task.InputData()["a"] != 1 || task.RenderingMetadata() == nil {
		t.Fatalf("unexpected task settings %#v", task)
	}

	process := NewProcessRenderingSettings(ProcessDefinition{}, nil, "srv", "", nil)
	if process.ProcessData == nil || len(process.InputData()) != 0 {
		t.Fatalf("unexpected process settings %#v", process)
	}

	m := RenderingModel{Metadata: map[string]any{"header": "Hi", "count": 2}}
	if m.MetadataString("header") != "Hi" || m.MetadataString("count") != "" {
		t.Fatalf("unexpected metadata lookup")
	}
}
