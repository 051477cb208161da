package testsupport

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/formservice"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider"
	"github.com/goliatone/go-taskforms/pkg/provider/workbench"
)

const fixturePath = "testdata/invoices.yaml"

func newService(t *testing.T, backend *Backend) *formservice.Service {
	t.Helper()
	store := contextstore.New()
	custom := workbench.New(store, workbench.WithPriority(0))
	fallback := workbench.New(store, workbench.WithDefaultForms())
	service, err := formservice.New(store, provider.NewChain(fallback, []provider.Provider{custom}),
		formservice.WithDataClient(backend),
		formservice.WithRawFormSource(backend),
		formservice.WithDocumentResolver(backend),
		formservice.WithTaskActions(backend),
		formservice.WithRuntimeValues(custom),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestLoadFixture(t *testing.T) {
	backend := MustLoadBackend(t, fixturePath)
	if diff := cmp.Diff([]int64{7, 8}, backend.Tasks()); diff != "" {
		t.Fatalf("tasks mismatch (-want +got):\n%s", diff)
	}

	task, err := backend.GetTask(context.Background(), "evaluation", 7)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	want := map[string]any{
		"amount":  "10",
		"invoice": model.Document{Identifier: "doc-1", Name: "invoice.pdf"},
	}
	if diff := cmp.Diff(want, task.InputData); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadFixture(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := ParseFixture([]byte("tasks: [")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBackend_Failures(t *testing.T) {
	backend := MustLoadBackend(t, fixturePath)
	ctx := context.Background()

	if _, err := backend.GetTask(ctx, "evaluation", 8); !formerrors.IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := backend.GetTask(ctx, "evaluation", 99); !formerrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := backend.ResolveLink(ctx, "doc-9"); !formerrors.IsNotFound(err) {
		t.Fatalf("expected not found link, got %v", err)
	}
	if _, err := backend.Exists(ctx, "", "Vendor#code", "V1"); !formerrors.IsTransientLookup(err) {
		t.Fatalf("expected transient lookup, got %v", err)
	}
	if err := backend.ClaimTask(ctx, "evaluation", 8); !formerrors.IsAuthFailure(err) {
		t.Fatalf("expected auth failure on claim, got %v", err)
	}
}

func TestBackend_Exists(t *testing.T) {
	backend := MustLoadBackend(t, fixturePath)
	ctx := context.Background()

	cases := map[string]bool{"C1": true, "C2": true, "C3": false}
	for value, want := range cases {
		got, err := backend.Exists(ctx, "", "Customer#code", value)
		if err != nil {
			t.Fatalf("exists %s: %v", value, err)
		}
		if got != want {
			t.Fatalf("exists %s: expected %v, got %v", value, want, got)
		}
	}
}

func TestService_RenderAndCompleteTask(t *testing.T) {
	backend := MustLoadBackend(t, fixturePath)
	service := newService(t, backend)
	ctx := context.Background()

	result, err := service.GetFormDisplayTask(ctx, "sample-server", "evaluation", 7)
	if err != nil {
		t.Fatalf("render task: %v", err)
	}
	rendered, ok := result.(*model.WorkbenchFormRenderingSettings)
	if !ok {
		t.Fatalf("expected workbench settings, got %#v", result)
	}
	if rendered.DefaultForms {
		t.Fatalf("expected the fixture form, got a generated one")
	}
	if got := rendered.Model.Data["amount"]; got != int64(10) {
		t.Fatalf("expected amount rehydrated to int64, got %#v", got)
	}
	doc, _ := rendered.Model.Data["invoice"].(model.Document)
	if doc.Link != "https://docs.example.com/doc-1" {
		t.Fatalf("expected linked document, got %#v", rendered.Model.Data["invoice"])
	}

	engine := asyncvalidation.NewEngine(backend)
	values := map[string]any{"amount": "25", "approved": true, "customer": "C9"}
	outcome, err := service.Submit(ctx, engine, model.RunTypeComplete, rendered.Token, values)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Valid() || outcome.FieldErrors["customer"] != `The value "C9" does not exist in Customer` {
		t.Fatalf("expected customer blocked, got %#v", outcome)
	}
	if len(backend.Calls()) != 0 {
		t.Fatalf("expected no calls before validation passes, got %v", backend.Calls())
	}

	values["customer"] = "C1"
	engine.FieldChanged("customer")
	outcome, err = service.Submit(ctx, engine, model.RunTypeComplete, rendered.Token, values)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Valid() {
		t.Fatalf("expected valid outcome, got %#v", outcome)
	}
	calls := backend.Calls()
	if len(calls) != 1 || calls[0].Action != "complete" || calls[0].TaskID != 7 || calls[0].DomainID != "evaluation" {
		t.Fatalf("unexpected calls %#v", calls)
	}
	if calls[0].Values["customer"] != "C1" {
		t.Fatalf("expected customer output, got %#v", calls[0].Values)
	}
	if _, err := service.Context(rendered.Token); !formerrors.IsNotFound(err) {
		t.Fatalf("expected context cleared, got %v", err)
	}
}

func TestService_ForbiddenAndMissingTasks(t *testing.T) {
	service := newService(t, MustLoadBackend(t, fixturePath))
	ctx := context.Background()

	if _, err := service.GetFormDisplayTask(ctx, "sample-server", "evaluation", 8); !formerrors.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := service.GetFormDisplayTask(ctx, "sample-server", "evaluation", 99); !formerrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_StartProcess(t *testing.T) {
	backend := MustLoadBackend(t, fixturePath)
	service := newService(t, backend)
	ctx := context.Background()

	result, err := service.GetFormDisplayProcess(ctx, "sample-server", "evaluation", "invoices.approval", false)
	if err != nil {
		t.Fatalf("render process: %v", err)
	}
	rendered := result.(*model.WorkbenchFormRenderingSettings)

	outcome, err := service.Submit(ctx, nil, model.RunTypeComplete, rendered.Token, map[string]any{"total": "12.5"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Valid() {
		t.Fatalf("expected valid outcome, got %#v", outcome)
	}
	calls := backend.Calls()
	if len(calls) != 1 || calls[0].Action != "startProcess" || calls[0].ProcessID != "invoices.approval" || calls[0].DomainID != "invoices_1.0" {
		t.Fatalf("unexpected calls %#v", calls)
	}
}
