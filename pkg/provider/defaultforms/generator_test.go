package defaultforms

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

func TestTaskForms(t *testing.T) {
	task := model.TaskDefinition{
		Name:                  "Review",
		TaskInputDefinitions:  map[string]string{"requester": "String", "amount": "java.lang.Integer"},
		TaskOutputDefinitions: map[string]string{"approved": "Boolean", "amount": "Integer"},
	}

	forms, err := TaskForms(task)
	if err != nil {
		t.Fatalf("task forms: %v", err)
	}
	if len(forms) != 1 || forms[0].Name != "Review-taskform" {
		t.Fatalf("expected single Review-taskform, got %#v", forms)
	}

	want := []model.FieldDefinition{
		{ID: "field_amount", Name: "amount", Label: "amount", Binding: "amount", Type: model.FieldTypeInteger},
		{ID: "field_approved", Name: "approved", Label: "approved", Binding: "approved", Type: model.FieldTypeCheckBox},
		{ID: "field_requester", Name: "requester", Label: "requester", Binding: "requester", Type: model.FieldTypeText, ReadOnly: true},
	}
	if diff := cmp.Diff(want, forms[0].Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskForms_UsesFormName(t *testing.T) {
	forms, err := TaskForms(model.TaskDefinition{Name: "Review Invoice", FormName: "ReviewInvoice"})
	if err != nil {
		t.Fatalf("task forms: %v", err)
	}
	if forms[0].Name != "ReviewInvoice-taskform" {
		t.Fatalf("expected form name based root, got %q", forms[0].Name)
	}
}

func TestProcessForms(t *testing.T) {
	forms, err := ProcessForms(model.ProcessDefinition{ID: "invoices.approval"}, map[string]string{
		"dueDate": "java.util.Date",
		"total":   "Double",
	})
	if err != nil {
		t.Fatalf("process forms: %v", err)
	}
	if forms[0].Name != "invoices.approval-taskform" {
		t.Fatalf("unexpected root name %q", forms[0].Name)
	}
	got := []model.FieldType{forms[0].Fields[0].Type, forms[0].Fields[1].Type}
	if diff := cmp.Diff([]model.FieldType{model.FieldTypeDate, model.FieldTypeDecimal}, got); diff != "" {
		t.Fatalf("field types mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerators_RequireIdentity(t *testing.T) {
	if _, err := TaskForms(model.TaskDefinition{}); !formerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error for task, got %v", err)
	}
	if _, err := ProcessForms(model.ProcessDefinition{}, nil); !formerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error for process, got %v", err)
	}
}
