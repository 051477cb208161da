package asyncvalidation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

type countingChecker struct {
	mu     sync.Mutex
	calls  []string
	exists map[any]bool
	err    error
}

func (c *countingChecker) Exists(_ context.Context, tableMapping, keyMapping string, value any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tableMapping+"|"+keyMapping)
	if c.err != nil {
		return false, c.err
	}
	return c.exists[value], nil
}

func (c *countingChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type scriptStub struct {
	message string
	err     error
	values  map[string]any
}

func (s *scriptStub) RunValidationScript(_ context.Context, _ string, values map[string]any) (string, error) {
	s.values = values
	return s.message, s.err
}

func customerForm() *model.FormDefinition {
	return &model.FormDefinition{
		Name: "Review-taskform",
		Fields: []model.FieldDefinition{
			{Name: "comment", Type: model.FieldTypeText},
			{
				Name:               "customer",
				Label:              "Customer",
				Type:               model.FieldTypeText,
				CheckValueExist:    true,
				MethodClassMapping: "Customer#exists",
				KeyMapping:         "Customer#code",
			},
		},
	}
}

func recorder() (func(context.Context) error, *int32) {
	var calls int32
	return func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, &calls
}

func TestValidateAndRun_NoQualifyingFields(t *testing.T) {
	checker := &countingChecker{}
	engine := NewEngine(checker)
	onValid, calls := recorder()

	form := customerForm()
	form.Fields[1].CheckValueExist = false
	outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form:   form,
		Values: map[string]any{"customer": "C1"},
	}, onValid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.State != StateValidated || !outcome.Valid() {
		t.Fatalf("expected validated, got %s", outcome.State)
	}
	if checker.callCount() != 0 || outcome.RemoteChecks != 0 {
		t.Fatalf("expected zero remote calls, got %d", checker.callCount())
	}
	if *calls != 1 {
		t.Fatalf("expected completion callback once, got %d", *calls)
	}
}

func TestValidateAndRun_EmptyValueSkipsCheck(t *testing.T) {
	checker := &countingChecker{}
	onValid, calls := recorder()

	outcome, err := NewEngine(checker).ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form:   customerForm(),
		Values: map[string]any{"customer": "  "},
	}, onValid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.State != StateValidated || checker.callCount() != 0 || *calls != 1 {
		t.Fatalf("expected validated without checks, got %s with %d calls", outcome.State, checker.callCount())
	}
}

func TestValidateAndRun_CheckReturnsFalse(t *testing.T) {
	checker := &countingChecker{exists: map[any]bool{}}
	engine := NewEngine(checker)
	onValid, calls := recorder()

	outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form:   customerForm(),
		Values: map[string]any{"customer": "C404"},
	}, onValid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.State != StateError || engine.State() != StateError {
		t.Fatalf("expected error state, got %s", outcome.State)
	}
	if diff := cmp.Diff(map[string]string{"customer": NotExistKey}, engine.ErrorKeys()); diff != "" {
		t.Fatalf("error keys mismatch (-want +got):\n%s", diff)
	}
	if got := outcome.FieldErrors["customer"]; got != `The value "C404" does not exist in Customer` {
		t.Fatalf("unexpected field error %q", got)
	}
	if *calls != 0 {
		t.Fatalf("expected no completion callback")
	}
	if diff := cmp.Diff([]string{"Customer#exists|Customer#code"}, checker.calls); diff != "" {
		t.Fatalf("check arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateAndRun_CheckReturnsTrueClearsKey(t *testing.T) {
	checker := &countingChecker{exists: map[any]bool{"C1": true}}
	engine := NewEngine(checker)
	onValid, calls := recorder()
	form := customerForm()

	first, _ := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form: form, Values: map[string]any{"customer": "C404"},
	}, onValid)
	if first.State != StateError {
		t.Fatalf("expected first attempt to fail, got %s", first.State)
	}

	second, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form: form, Values: map[string]any{"customer": "C1"},
	}, onValid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if second.State != StateValidated {
		t.Fatalf("expected validated, got %s", second.State)
	}
	if len(engine.ErrorKeys()) != 0 {
		t.Fatalf("expected error keys cleared, got %v", engine.ErrorKeys())
	}
	if *calls != 1 {
		t.Fatalf("expected one completion callback, got %d", *calls)
	}
}

func TestValidateAndRun_TransportFailureIsWarning(t *testing.T) {
	checker := &countingChecker{err: errors.New("connection reset")}
	engine := NewEngine(checker)
	onValid, calls := recorder()

	outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form: customerForm(), Values: map[string]any{"customer": "C1"},
	}, onValid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.State != StateValidated {
		t.Fatalf("expected validated despite warning, got %s", outcome.State)
	}
	if got := outcome.FieldWarnings["customer"]; got != "Unexpected error: checking that the value exists" {
		t.Fatalf("unexpected warning %q", got)
	}
	if len(engine.ErrorKeys()) != 0 || *calls != 1 {
		t.Fatalf("expected no error key and one callback")
	}
}

func TestValidateAndRun_MalformedKeyMapping(t *testing.T) {
	cases := map[string]string{
		"missing":      "",
		"no separator": "Customer.code",
	}
	for name, keyMapping := range cases {
		keyMapping := keyMapping
		t.Run(name, func(t *testing.T) {
			checker := &countingChecker{}
			form := customerForm()
			form.Fields[1].KeyMapping = keyMapping

			outcome, err := NewEngine(checker).ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
				Form: form, Values: map[string]any{"customer": "C1"},
			}, nil)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if outcome.State != StateError || outcome.FieldErrors["customer"] == "" {
				t.Fatalf("expected local field error, got %#v", outcome)
			}
			if checker.callCount() != 0 {
				t.Fatalf("expected no remote call")
			}
		})
	}
}

func TestValidateAndRun_ChecksRunInParallel(t *testing.T) {
	var inFlight, peak int32
	checker := ExistenceCheckerFunc(func(ctx context.Context, _, _ string, _ any) (bool, error) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return true, nil
	})

	form := &model.FormDefinition{Name: "Review-taskform"}
	values := map[string]any{}
	for _, name := range []string{"a", "b", "c"} {
		form.Fields = append(form.Fields, model.FieldDefinition{Name: name, CheckValueExist: true, KeyMapping: "T#" + name})
		values[name] = name
	}

	outcome, err := NewEngine(checker).ValidateAndRun(context.Background(), model.RunTypeComplete, Request{Form: form, Values: values}, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.RemoteChecks != 3 || outcome.State != StateValidated {
		t.Fatalf("expected 3 checks and validated, got %d/%s", outcome.RemoteChecks, outcome.State)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Fatalf("expected checks to overlap, peak concurrency %d", peak)
	}
}

func TestValidateAndRun_StaleAttemptIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	checker := ExistenceCheckerFunc(func(_ context.Context, _, _ string, value any) (bool, error) {
		if value == "slow" {
			close(started)
			<-release
			return false, nil
		}
		return true, nil
	})
	engine := NewEngine(checker)
	form := customerForm()
	onValid, calls := recorder()

	type result struct {
		outcome Outcome
		err     error
	}
	slow := make(chan result, 1)
	go func() {
		outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
			Form: form, Values: map[string]any{"customer": "slow"},
		}, onValid)
		slow <- result{outcome, err}
	}()
	<-started

	fresh, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form: form, Values: map[string]any{"customer": "fast"},
	}, onValid)
	if err != nil || fresh.State != StateValidated {
		t.Fatalf("expected fresh attempt validated, got %s (%v)", fresh.State, err)
	}

	close(release)
	stale := <-slow
	if stale.err != nil {
		t.Fatalf("stale attempt: %v", stale.err)
	}
	if !stale.outcome.Stale || stale.outcome.Valid() {
		t.Fatalf("expected stale outcome, got %#v", stale.outcome)
	}
	if len(engine.ErrorKeys()) != 0 || engine.State() != StateValidated {
		t.Fatalf("stale result leaked: keys=%v state=%s", engine.ErrorKeys(), engine.State())
	}
	if *calls != 1 {
		t.Fatalf("expected only the fresh attempt to complete, got %d", *calls)
	}
}

func TestValidateAndRun_CheckTimeout(t *testing.T) {
	checker := ExistenceCheckerFunc(func(ctx context.Context, _, _ string, _ any) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	outcome, err := NewEngine(checker, WithCheckTimeout(10*time.Millisecond)).ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
		Form: customerForm(), Values: map[string]any{"customer": "C1"},
	}, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.State != StateValidated || outcome.FieldWarnings["customer"] == "" {
		t.Fatalf("expected timeout warning, got %#v", outcome)
	}
}

func TestValidateAndRun_ValidationScript(t *testing.T) {
	metadata := map[string]any{MetadataValidationScript: "Invoice#validate"}

	cases := []struct {
		name      string
		script    *scriptStub
		wantState State
		wantError string
	}{
		{name: "accepted", script: &scriptStub{}, wantState: StateValidated},
		{name: "rejected", script: &scriptStub{message: "amount too large"}, wantState: StateError, wantError: "amount too large"},
		{name: "call failure", script: &scriptStub{err: errors.New("down")}, wantState: StateError, wantError: "Unable to call the form validation script"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			checker := &countingChecker{}
			onValid, calls := recorder()
			engine := NewEngine(checker, WithScriptValidator(tc.script))

			outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, Request{
				Form: customerForm(), Values: map[string]any{"customer": "C1"}, Metadata: metadata,
			}, onValid)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if outcome.State != tc.wantState || outcome.FormError != tc.wantError {
				t.Fatalf("unexpected outcome %#v", outcome)
			}
			if checker.callCount() != 0 {
				t.Fatalf("expected the script to replace remote checks")
			}
			if tc.wantState == StateValidated && *calls != 1 {
				t.Fatalf("expected completion callback")
			}
			if tc.script.values["customer"] != "C1" {
				t.Fatalf("expected script to receive values, got %v", tc.script.values)
			}
		})
	}
}

func TestValidateAndRun_RunTypes(t *testing.T) {
	form := customerForm()
	form.Fields[0].Required = true

	for _, runType := range []model.RunType{model.RunTypeStart, model.RunTypeClaim, model.RunTypeRelease} {
		onValid, calls := recorder()
		outcome, err := NewEngine(nil).ValidateAndRun(context.Background(), runType, Request{Form: form}, onValid)
		if err != nil || outcome.State != StateValidated || *calls != 1 {
			t.Fatalf("%s: expected unconditional run, got %s (%v)", runType, outcome.State, err)
		}
	}

	onValid, calls := recorder()
	outcome, err := NewEngine(nil).ValidateAndRun(context.Background(), model.RunTypeSave, Request{Form: form}, onValid)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome.State != StateError || outcome.FieldErrors["comment"] == "" || *calls != 0 {
		t.Fatalf("expected save blocked by local rules, got %#v", outcome)
	}

	if _, err := NewEngine(nil).ValidateAndRun(context.Background(), "archive", Request{Form: form}, nil); !formerrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error for unknown run type, got %v", err)
	}
}

func TestAsyncErrorKeyBlocksUntilFieldChanged(t *testing.T) {
	form := customerForm()
	form.Fields[0].AsyncErrorKey = "ERROR: lookup unavailable"
	engine := NewEngine(&countingChecker{exists: map[any]bool{"C1": true}})
	onValid, calls := recorder()
	req := Request{Form: form, Values: map[string]any{"customer": "C1"}}

	outcome, _ := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, req, onValid)
	if outcome.State != StateError || outcome.FieldErrors["comment"] != "ERROR: lookup unavailable" {
		t.Fatalf("expected seeded error key to block, got %#v", outcome)
	}

	engine.FieldChanged("comment")
	outcome, _ = engine.ValidateAndRun(context.Background(), model.RunTypeComplete, req, onValid)
	if outcome.State != StateValidated || *calls != 1 {
		t.Fatalf("expected validated after edit, got %#v", outcome)
	}
}

func TestValidateAndRun_ChangedFieldsClearErrorKeys(t *testing.T) {
	form := customerForm()
	form.Fields[0].AsyncErrorKey = "ERROR lookup failed"
	onValid, calls := recorder()

	for _, value := range []string{"user typed a new value", "another edit"} {
		engine := NewEngine(nil)
		req := Request{Form: form, Values: map[string]any{"comment": value}, Changed: []string{"comment"}}
		outcome, err := engine.ValidateAndRun(context.Background(), model.RunTypeComplete, req, onValid)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if !outcome.Valid() {
			t.Fatalf("expected edited field to clear its error key, got %#v", outcome)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected two callbacks, got %d", *calls)
	}

	engine := NewEngine(nil)
	req := Request{Form: form, Values: map[string]any{"comment": "x"}}
	if outcome, _ := engine.ValidateAndRun(context.Background(), model.RunTypeSave, req, onValid); outcome.Valid() {
		t.Fatalf("expected unchanged field to stay blocked, got %#v", outcome)
	}
}

func TestValidateAndRun_CallbackErrorPropagates(t *testing.T) {
	boom := errors.New("engine unavailable")
	_, err := NewEngine(nil).ValidateAndRun(context.Background(), model.RunTypeClaim, Request{Form: customerForm()}, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
