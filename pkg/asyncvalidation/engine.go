// Package asyncvalidation gates form submission: it runs the local field
// rules, batches remote existence checks for flagged fields, and only invokes
// the submit callback once every field is clear.
package asyncvalidation

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/lookup"
	"github.com/goliatone/go-taskforms/pkg/messages"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/validation"
)

const (
	// NotExistKey marks a field whose value failed the remote existence check.
	NotExistKey = "NOT_EXIST"

	// MetadataValidationScript names the rendering metadata entry holding a
	// form-level validation script.
	MetadataValidationScript = "onValidationAction"
)

// State is the validation state of the current submit attempt.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateValidated
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateValidated:
		return "validated"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExistenceChecker verifies that a value exists in the remote data store.
// tableMapping is the field's method/class mapping and keyMapping its
// "<table>#<attribute>" key.
type ExistenceChecker interface {
	Exists(ctx context.Context, tableMapping, keyMapping string, value any) (bool, error)
}

// ExistenceCheckerFunc adapts a function to ExistenceChecker.
type ExistenceCheckerFunc func(ctx context.Context, tableMapping, keyMapping string, value any) (bool, error)

// Exists implements ExistenceChecker.
func (f ExistenceCheckerFunc) Exists(ctx context.Context, tableMapping, keyMapping string, value any) (bool, error) {
	return f(ctx, tableMapping, keyMapping, value)
}

// FormScriptValidator runs a form-level validation script. An empty response
// means the values are valid; anything else is the failure message.
type FormScriptValidator interface {
	RunValidationScript(ctx context.Context, script string, values map[string]any) (string, error)
}

// Request is one submit attempt against a rendered form.
type Request struct {
	Form     *model.FormDefinition
	Values   map[string]any
	Metadata map[string]any
	// Changed lists the fields edited since the context was rendered; their
	// async error keys are cleared before validation.
	Changed []string
}

// Outcome reports how a submit attempt ended.
type Outcome struct {
	Attempt       uint64
	RunType       model.RunType
	State         State
	FieldErrors   map[string]string
	FieldWarnings map[string]string
	FormError     string
	RemoteChecks  int
	// Stale is set when a newer attempt started before this one settled; its
	// results were discarded and the callback was not invoked.
	Stale bool
}

// Valid reports whether the attempt reached the validated state.
func (o Outcome) Valid() bool {
	return o.State == StateValidated && !o.Stale
}

// Option customises an Engine.
type Option func(*Engine)

// WithScriptValidator enables the onValidationAction hook.
func WithScriptValidator(validator FormScriptValidator) Option {
	return func(e *Engine) {
		e.scriptValidator = validator
	}
}

// WithLocalizer sets the message catalog.
func WithLocalizer(localizer messages.Localizer) Option {
	return func(e *Engine) {
		if localizer != nil {
			e.localizer = localizer
		}
	}
}

// WithLocale sets the locale of user-facing messages.
func WithLocale(locale string) Option {
	return func(e *Engine) {
		e.locale = locale
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCheckTimeout bounds each remote check. A timed-out check is reported as
// a warning, like any other transport failure.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.checkTimeout = timeout
	}
}

// Engine validates submit attempts for one rendered form. It is safe for
// concurrent use; a newer attempt supersedes any attempt still in flight.
type Engine struct {
	checker         ExistenceChecker
	scriptValidator FormScriptValidator
	localizer       messages.Localizer
	locale          string
	logger          *zap.Logger
	checkTimeout    time.Duration

	mu        sync.Mutex
	attempt   uint64
	state     State
	form      *model.FormDefinition
	errorKeys map[string]string
}

// NewEngine builds an engine around the remote existence checker.
func NewEngine(checker ExistenceChecker, options ...Option) *Engine {
	e := &Engine{
		checker:   checker,
		localizer: messages.Default(),
		logger:    zap.NewNop(),
		errorKeys: make(map[string]string),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ErrorKeys returns the outstanding async error keys by field.
func (e *Engine) ErrorKeys() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.errorKeys)
}

// FieldChanged clears the async error key of a field whose value was edited.
func (e *Engine) FieldChanged(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearKey(key)
}

// clearKey drops the error key of key. Caller holds e.mu.
func (e *Engine) clearKey(key string) {
	delete(e.errorKeys, key)
	if e.state == StateError && len(e.errorKeys) == 0 {
		e.state = StateIdle
	}
}

type check struct {
	key          string
	tableMapping string
	keyMapping   string
	table        string
	value        any
	exists       bool
	err          error
}

// ValidateAndRun validates the attempt for runType and invokes onValid when it
// passes. Start, Claim and Release run without validation; Save needs the
// local rules; Complete adds the form validation script or the remote
// existence checks.
func (e *Engine) ValidateAndRun(ctx context.Context, runType model.RunType, req Request, onValid func(context.Context) error) (Outcome, error) {
	e.mu.Lock()
	e.bind(req.Form)
	for _, key := range req.Changed {
		e.clearKey(key)
	}
	e.attempt++
	attempt := e.attempt
	e.mu.Unlock()

	outcome := Outcome{
		Attempt:       attempt,
		RunType:       runType,
		FieldErrors:   make(map[string]string),
		FieldWarnings: make(map[string]string),
	}

	switch runType {
	case model.RunTypeStart, model.RunTypeClaim, model.RunTypeRelease:
		return e.settle(ctx, &outcome, onValid)
	case model.RunTypeSave, model.RunTypeComplete:
	default:
		return outcome, formerrors.Configuration(fmt.Sprintf("asyncvalidation: unknown run type %q", runType), nil)
	}

	if local := validation.ValidateForm(req.Form, req.Values); !local.Valid {
		for _, issue := range local.Issues {
			if _, seen := outcome.FieldErrors[issue.Field]; !seen {
				outcome.FieldErrors[issue.Field] = issue.Message
			}
		}
		return e.settle(ctx, &outcome, onValid)
	}

	if runType == model.RunTypeSave {
		return e.settle(ctx, &outcome, onValid)
	}

	if script := scriptFor(req.Metadata); script != "" && e.scriptValidator != nil {
		message, err := e.scriptValidator.RunValidationScript(ctx, script, maps.Clone(req.Values))
		switch {
		case err != nil:
			e.logger.Warn("asyncvalidation: validation script failed", zap.String("script", script), zap.Error(err))
			outcome.FormError = e.localizer.Message(e.locale, messages.KeyUnableToCallValidationScript, nil)
		case strings.TrimSpace(message) != "":
			outcome.FormError = message
		}
		return e.settle(ctx, &outcome, onValid)
	}

	checks := e.collectChecks(req, &outcome)
	outcome.RemoteChecks = len(checks)
	if len(checks) > 0 {
		e.mu.Lock()
		if attempt == e.attempt {
			e.state = StateChecking
		}
		e.mu.Unlock()
		e.runChecks(ctx, checks)
	}

	e.mu.Lock()
	if attempt != e.attempt {
		outcome.Stale = true
		outcome.State = e.state
		e.mu.Unlock()
		e.logger.Debug("asyncvalidation: discarding stale attempt", zap.Uint64("attempt", attempt))
		return outcome, nil
	}
	for _, c := range checks {
		switch {
		case c.err != nil:
			outcome.FieldWarnings[c.key] = messages.UnexpectedError(e.localizer, e.locale,
				e.localizer.Message(e.locale, messages.KeyActionCheckValueExist, nil))
		case !c.exists:
			e.errorKeys[c.key] = NotExistKey
			outcome.FieldErrors[c.key] = messages.ValueNotExistInTable(e.localizer, e.locale, c.value, c.table)
		default:
			delete(e.errorKeys, c.key)
		}
	}
	e.mu.Unlock()

	return e.settle(ctx, &outcome, onValid)
}

// bind seeds the error keys from the async error markers of a newly seen
// form. Caller holds e.mu.
func (e *Engine) bind(form *model.FormDefinition) {
	if form == nil || form == e.form {
		return
	}
	e.form = form
	e.state = StateIdle
	e.errorKeys = make(map[string]string)
	for _, field := range form.Fields {
		if field.AsyncErrorKey != "" {
			e.errorKeys[field.Key()] = field.AsyncErrorKey
		}
	}
}

func (e *Engine) collectChecks(req Request, outcome *Outcome) []*check {
	var checks []*check
	for _, field := range req.Form.Fields {
		if !field.CheckValueExist {
			continue
		}
		key := field.Key()
		value := req.Values[key]
		if isEmpty(value) {
			e.mu.Lock()
			delete(e.errorKeys, key)
			e.mu.Unlock()
			continue
		}
		if strings.TrimSpace(field.KeyMapping) == "" {
			outcome.FieldErrors[key] = e.localizer.Message(e.locale, messages.KeyFieldKeyMappingRequired, nil)
			continue
		}
		mapping, err := lookup.ParseMapping(field.KeyMapping)
		if err != nil {
			outcome.FieldErrors[key] = e.localizer.Message(e.locale, messages.KeyFieldKeyValueMappingFormat, nil)
			continue
		}
		table := mapping.Table
		if table == "" {
			table = field.Label
		}
		if table == "" {
			table = key
		}
		checks = append(checks, &check{
			key:          key,
			tableMapping: field.MethodClassMapping,
			keyMapping:   field.KeyMapping,
			table:        table,
			value:        value,
		})
	}
	return checks
}

func (e *Engine) runChecks(ctx context.Context, checks []*check) {
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c *check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.err = fmt.Errorf("asyncvalidation: check panicked: %v", r)
				}
			}()
			if e.checker == nil {
				c.err = formerrors.Configuration("asyncvalidation: no existence checker configured", nil)
				return
			}
			checkCtx := ctx
			if e.checkTimeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(ctx, e.checkTimeout)
				defer cancel()
			}
			c.exists, c.err = e.checker.Exists(checkCtx, c.tableMapping, c.keyMapping, c.value)
			if c.err != nil {
				e.logger.Warn("asyncvalidation: existence check failed",
					zap.String("field", c.key),
					zap.String("keyMapping", c.keyMapping),
					zap.Error(c.err))
			}
		}(c)
	}
	wg.Wait()
}

// settle records the final state of a current attempt and invokes onValid
// when nothing blocks it.
func (e *Engine) settle(ctx context.Context, outcome *Outcome, onValid func(context.Context) error) (Outcome, error) {
	e.mu.Lock()
	if outcome.Attempt != e.attempt {
		outcome.Stale = true
		outcome.State = e.state
		e.mu.Unlock()
		return *outcome, nil
	}

	blocked := len(outcome.FieldErrors) > 0 || outcome.FormError != ""
	if outcome.RunType == model.RunTypeSave || outcome.RunType == model.RunTypeComplete {
		for key, errorKey := range e.errorKeys {
			if errorKey == "" {
				continue
			}
			blocked = true
			if _, reported := outcome.FieldErrors[key]; !reported {
				outcome.FieldErrors[key] = errorKey
			}
		}
	}
	if blocked {
		e.state = StateError
	} else {
		e.state = StateValidated
	}
	outcome.State = e.state
	e.mu.Unlock()

	if blocked || onValid == nil {
		return *outcome, nil
	}
	if err := onValid(ctx); err != nil {
		return *outcome, err
	}
	return *outcome, nil
}

func scriptFor(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	script, _ := metadata[MetadataValidationScript].(string)
	return strings.TrimSpace(script)
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	default:
		return false
	}
}
