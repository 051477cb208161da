package workbench

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/lookup"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider"
)

const reviewForms = `[
  {"name": "Review-taskform", "fields": [
    {"name": "amount", "binding": "amount", "code": "IntegerBox"},
    {"name": "customer", "binding": "customer", "code": "TextBox", "methodClassMapping": "Customer#current"}
  ]},
  {"name": "Address", "fields": [{"name": "street", "code": "TextBox"}]}
]`

func taskSettings(content string) *model.TaskRenderingSettings {
	task := model.TaskDefinition{
		ID:                    7,
		Name:                  "Review",
		TaskInputDefinitions:  map[string]string{"amount": "Integer"},
		TaskOutputDefinitions: map[string]string{"amount": "Integer", "approved": "Boolean"},
	}
	settings := model.NewTaskRenderingSettings(task,
		map[string]any{"amount": "10"},
		map[string]any{"approved": false},
		"sample-server", content, nil)
	settings.SetProcessInstanceVariables(map[string]any{"region": "EU"})
	settings.RenderingMetadata()["header"] = "Review invoice"
	return settings
}

func currentCustomerBridge() lookup.ScriptBridge {
	return lookup.ScriptBridgeFunc(func(ctx context.Context, mapping string, _ any) (any, error) {
		vars := lookup.VariablesFromContext(ctx)
		region, _ := vars.Get("region")
		vars.Set("resolvedBy", mapping)
		return "customer-" + region.(string), nil
	})
}

func TestProvider_RendersCustomForm(t *testing.T) {
	store := contextstore.New()
	p := New(store, WithResolver(lookup.NewResolver(currentCustomerBridge())))
	settings := taskSettings(reviewForms)

	result := p.Render(context.Background(), settings)
	rendered, ok := result.(*model.WorkbenchFormRenderingSettings)
	if !ok {
		t.Fatalf("expected workbench settings, got %#v", result)
	}
	if rendered.DefaultForms {
		t.Fatalf("expected custom form rendering")
	}
	if rendered.Model.RootForm.Name != "Review-taskform" || len(rendered.Model.NestedForms) != 1 {
		t.Fatalf("unexpected model forms: %#v", rendered.Model)
	}
	if diff := cmp.Diff(map[string]any{"amount": "10", "approved": false}, rendered.Model.Data); diff != "" {
		t.Fatalf("raw data mismatch (-want +got):\n%s", diff)
	}
	if got := rendered.Model.MetadataString("header"); got != "Review invoice" {
		t.Fatalf("expected rendering metadata attached, got %q", got)
	}

	customer := rendered.Model.RootForm.Field("customer")
	if customer.InitialValue == nil || *customer.InitialValue != "customer-EU" {
		t.Fatalf("expected resolved customer, got %v", customer.InitialValue)
	}

	ctx, err := store.Get(rendered.Token)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if ctx.RootForm() != rendered.Model.RootForm {
		t.Fatalf("expected registered root form to match rendered model")
	}
	if got := ctx.Param(contextstore.ParamServerTemplateID); got != "sample-server" {
		t.Fatalf("expected server template param, got %q", got)
	}
	if ctx.Settings() != model.RenderingSettings(settings) {
		t.Fatalf("expected rendering settings attribute")
	}
	if got := ctx.ProcessVariables()["resolvedBy"]; got != "Customer#current" {
		t.Fatalf("expected script variable update kept, got %v", got)
	}
}

func TestProvider_EmptyContentIsNotApplicable(t *testing.T) {
	store := contextstore.New()
	if got := New(store).Render(context.Background(), taskSettings("")); got != nil {
		t.Fatalf("expected nil result, got %#v", got)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no context registered")
	}
}

func TestProvider_InvalidRootReturnsNil(t *testing.T) {
	cases := map[string]string{
		"missing root":      `[{"name": "Other", "fields": []}]`,
		"duplicate binding": `[{"name": "Review-taskform", "fields": [{"name": "a"}, {"name": "b", "binding": "a"}]}]`,
		"not an array":      `{"name": "Review-taskform"}`,
	}
	for name, content := range cases {
		content := content
		t.Run(name, func(t *testing.T) {
			store := contextstore.New()
			if got := New(store).Render(context.Background(), taskSettings(content)); got != nil {
				t.Fatalf("expected nil result, got %#v", got)
			}
			if store.Len() != 0 {
				t.Fatalf("expected no context registered")
			}
		})
	}
}

func TestDefaultProvider_GeneratesForms(t *testing.T) {
	store := contextstore.New()
	p := New(store, WithDefaultForms())

	result := p.Render(context.Background(), taskSettings(reviewForms))
	rendered, ok := result.(*model.WorkbenchFormRenderingSettings)
	if !ok {
		t.Fatalf("expected workbench settings, got %#v", result)
	}
	if !rendered.DefaultForms {
		t.Fatalf("expected default forms flag")
	}
	var names []string
	for _, field := range rendered.Model.RootForm.Fields {
		names = append(names, field.Name)
	}
	if diff := cmp.Diff([]string{"amount", "approved"}, names); diff != "" {
		t.Fatalf("generated fields mismatch (-want +got):\n%s", diff)
	}
	if p.Name() != DefaultProviderName {
		t.Fatalf("unexpected provider name %q", p.Name())
	}
}

func TestDefaultProvider_ProcessSettings(t *testing.T) {
	store := contextstore.New()
	settings := model.NewProcessRenderingSettings(
		model.ProcessDefinition{ID: "invoices.approval", Name: "Approval"},
		map[string]string{"total": "Double"},
		"sample-server", "", nil)

	result := New(store, WithDefaultForms()).Render(context.Background(), settings)
	rendered, ok := result.(*model.WorkbenchFormRenderingSettings)
	if !ok {
		t.Fatalf("expected workbench settings, got %#v", result)
	}
	if rendered.Model.RootForm.Name != "invoices.approval-taskform" {
		t.Fatalf("unexpected root %q", rendered.Model.RootForm.Name)
	}
}

func TestProvider_InChainFallsBackToDefault(t *testing.T) {
	store := contextstore.New()
	chain := provider.NewChain(New(store, WithDefaultForms()), []provider.Provider{New(store)})

	result := chain.Render(context.Background(), taskSettings(""))
	rendered, ok := result.(*model.WorkbenchFormRenderingSettings)
	if !ok || !rendered.DefaultForms {
		t.Fatalf("expected default form rendering, got %#v", result)
	}
}

func TestRuntimeValues(t *testing.T) {
	store := contextstore.New()
	p := New(store)
	rendered := p.Render(context.Background(), taskSettings(`[{"name": "Review-taskform", "fields": [
    {"name": "amount", "code": "IntegerBox"},
    {"name": "approved", "code": "CheckBox"},
    {"name": "comment", "code": "TextArea"}
  ]}]`)).(*model.WorkbenchFormRenderingSettings)

	out, err := p.RuntimeValues(rendered.Token, map[string]any{"amount": "25", "approved": "true", "comment": "ok"})
	if err != nil {
		t.Fatalf("runtime values: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"amount": int64(25), "approved": true}, out); diff != "" {
		t.Fatalf("output values mismatch (-want +got):\n%s", diff)
	}

	ctx, _ := store.Get(rendered.Token)
	if got := ctx.Data()["comment"]; got != "ok" {
		t.Fatalf("expected submitted values merged into context, got %v", got)
	}

	if _, err := p.RuntimeValues(rendered.Token+99, nil); !formerrors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown token, got %v", err)
	}
}
