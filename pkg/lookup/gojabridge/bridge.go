// Package gojabridge runs data-lookup and form validation scripts on the goja
// JavaScript engine. Scripts are grouped by component; a mapping
// "<component>#<function>" calls the named function of the component script.
package gojabridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/lookup"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 5 * time.Second

// Option customises a Bridge.
type Option func(*Bridge)

// WithTimeout overrides the per-call timeout. Non-positive values disable it.
func WithTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = timeout
	}
}

// WithLogger sets the logger exposed to scripts through log().
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bridge executes compiled component scripts. Each call runs on a fresh
// runtime, so a Bridge is safe for concurrent use.
type Bridge struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
	timeout  time.Duration
	logger   *zap.Logger
}

// New compiles the component scripts (component name → JavaScript source).
func New(scripts map[string]string, options ...Option) (*Bridge, error) {
	b := &Bridge{
		programs: make(map[string]*goja.Program, len(scripts)),
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(b)
	}
	for component, source := range scripts {
		if err := b.Register(component, source); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// NewFromFiles reads component scripts from disk (component name → path).
func NewFromFiles(files map[string]string, options ...Option) (*Bridge, error) {
	scripts := make(map[string]string, len(files))
	for component, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gojabridge: read script %q: %w", path, err)
		}
		scripts[component] = string(data)
	}
	return New(scripts, options...)
}

// Register compiles and stores a component script, replacing any previous
// script with the same name.
func (b *Bridge) Register(component, source string) error {
	if component == "" {
		return formerrors.Configuration("gojabridge: component name is required", nil)
	}
	program, err := goja.Compile(component, source, false)
	if err != nil {
		return formerrors.Configuration(fmt.Sprintf("gojabridge: compile component %q", component), err)
	}
	b.mu.Lock()
	b.programs[component] = program
	b.mu.Unlock()
	return nil
}

// Components lists the registered component names.
func (b *Bridge) Components() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.programs))
	for name := range b.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements lookup.ScriptBridge. A nil argument calls the function
// without arguments. Process variables attached to ctx with
// lookup.WithVariables are visible through getProcessVariable and
// updateProcessVariable.
func (b *Bridge) Execute(ctx context.Context, mapping string, argument any) (result any, err error) {
	parsed, err := lookup.ParseMapping(mapping)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	program, ok := b.programs[parsed.Table]
	b.mu.RUnlock()
	if !ok {
		return nil, formerrors.Configuration(fmt.Sprintf("gojabridge: unknown component %q", parsed.Table), nil)
	}

	defer func() {
		if r := recover(); r != nil {
			err = formerrors.TransientLookup(fmt.Sprintf("gojabridge: panic in %s", mapping), fmt.Errorf("%v", r))
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	vm := goja.New()
	if err := b.bindHost(vm, lookup.VariablesFromContext(ctx)); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunProgram(program); err != nil {
		return nil, b.wrapError(mapping, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(parsed.Attribute))
	if !ok {
		return nil, formerrors.Configuration(fmt.Sprintf("gojabridge: %s is not a function", mapping), nil)
	}

	var args []goja.Value
	if argument != nil {
		args = append(args, vm.ToValue(argument))
	}
	value, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, b.wrapError(mapping, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// RunValidationScript calls a form-level validation function with the current
// form values. The function returns an error message, or nothing when the
// values are valid.
func (b *Bridge) RunValidationScript(ctx context.Context, script string, values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	result, err := b.Execute(ctx, script, values)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

func (b *Bridge) bindHost(vm *goja.Runtime, vars *lookup.Variables) error {
	bindings := map[string]any{
		"getProcessVariable": func(name string) any {
			value, _ := vars.Get(name)
			return value
		},
		"updateProcessVariable": func(name string, value any) {
			vars.Set(name, value)
		},
		"log": func(message string) {
			b.logger.Debug("gojabridge: script log", zap.String("message", message))
		},
	}
	for name, fn := range bindings {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("gojabridge: bind %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bridge) wrapError(mapping string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return formerrors.TransientLookup(fmt.Sprintf("gojabridge: %s interrupted", mapping), err)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return formerrors.TransientLookup(fmt.Sprintf("gojabridge: %s failed", mapping), errors.New(exception.Error()))
	}
	return formerrors.TransientLookup(fmt.Sprintf("gojabridge: %s failed", mapping), err)
}

var _ lookup.ScriptBridge = (*Bridge)(nil)
