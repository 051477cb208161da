// Package formservice is the entry point for rendering and submitting task and
// process forms. Rendering either delegates to an external renderer (a URL is
// returned) or runs the embedded pipeline: fetch data from the process engine,
// run the provider chain and register a rendering context addressed by token.
// Submits resolve the context behind a token, compute the output values and
// call the process engine.
package formservice

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider"
)

const tracerName = "taskforms/formservice"

// Option customises the Service.
type Option func(*Service)

// WithDataClient sets the process engine data client used by embedded
// rendering.
func WithDataClient(client DataClient) Option {
	return func(s *Service) {
		s.data = client
	}
}

// WithDocumentResolver sets the client used to link document values.
func WithDocumentResolver(resolver DocumentResolver) Option {
	return func(s *Service) {
		s.documents = resolver
	}
}

// WithRawFormSource sets the source of serialized form batches.
func WithRawFormSource(source RawFormSource) Option {
	return func(s *Service) {
		s.forms = source
	}
}

// WithTaskActions sets the client that performs submit actions.
func WithTaskActions(actions TaskActions) Option {
	return func(s *Service) {
		s.actions = actions
	}
}

// WithRuntimeValues sets the component computing output values on submit,
// usually the workbench provider.
func WithRuntimeValues(values RuntimeValues) Option {
	return func(s *Service) {
		s.values = values
	}
}

// WithExternalRenderer delegates rendering to an external service. The url
// template is a pongo2 template receiving template, domain and one of taskId,
// processId or caseDefId. Empty uses DefaultExternalURLTemplate.
func WithExternalRenderer(urlTemplate string) Option {
	return func(s *Service) {
		s.external = true
		s.externalURL = urlTemplate
	}
}

// WithMarshaller overrides the marshaller attached to rendering settings.
func WithMarshaller(marshaller model.MarshallerContext) Option {
	return func(s *Service) {
		if marshaller != nil {
			s.marshaller = marshaller
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer overrides the tracer obtained from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// Service renders and submits forms.
type Service struct {
	store       *contextstore.Store
	chain       *provider.Chain
	data        DataClient
	documents   DocumentResolver
	forms       RawFormSource
	actions     TaskActions
	values      RuntimeValues
	marshaller  model.MarshallerContext
	external    bool
	externalURL string
	logger      *zap.Logger
	tracer      trace.Tracer

	strategy strategy
}

// New builds the service and selects its rendering strategy.
func New(store *contextstore.Store, chain *provider.Chain, options ...Option) (*Service, error) {
	s := &Service{
		store:      store,
		chain:      chain,
		marshaller: model.DefaultMarshaller{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}

	if s.external {
		ext, err := newExternalStrategy(s.externalURL, s.logger)
		if err != nil {
			return nil, err
		}
		s.strategy = ext
		return s, nil
	}

	switch {
	case s.store == nil:
		return nil, formerrors.Configuration("formservice: context store is required", nil)
	case s.chain == nil:
		return nil, formerrors.Configuration("formservice: provider chain is required", nil)
	case s.data == nil:
		return nil, formerrors.Configuration("formservice: data client is required", nil)
	case s.forms == nil:
		return nil, formerrors.Configuration("formservice: raw form source is required", nil)
	}
	s.strategy = &embeddedStrategy{
		data:       s.data,
		documents:  s.documents,
		forms:      s.forms,
		chain:      s.chain,
		marshaller: s.marshaller,
		logger:     s.logger,
	}
	return s, nil
}

// External reports whether rendering is delegated to an external renderer.
func (s *Service) External() bool { return s.external }

// GetFormDisplay renders the form for a task or a process. An identifier that
// parses as a task id renders the task form unless dynamic is set; anything
// else names a process (or a case definition when dynamic).
func (s *Service) GetFormDisplay(ctx context.Context, serverTemplateID, domainID, taskOrProcessID string, dynamic bool) (model.FormRenderingSettings, error) {
	if !dynamic {
		if taskID, err := strconv.ParseInt(strings.TrimSpace(taskOrProcessID), 10, 64); err == nil && taskID > 0 {
			return s.GetFormDisplayTask(ctx, serverTemplateID, domainID, taskID)
		}
	}
	return s.GetFormDisplayProcess(ctx, serverTemplateID, domainID, taskOrProcessID, dynamic)
}

// GetFormDisplayTask renders the form of a task. It returns nil when the task
// could not be rendered, a PermissionDenied error on 401/403 and a NotFound
// error when the task does not exist.
func (s *Service) GetFormDisplayTask(ctx context.Context, serverTemplateID, domainID string, taskID int64) (result model.FormRenderingSettings, err error) {
	ctx, span := s.tracer.Start(ctx, "formservice.GetFormDisplayTask", trace.WithAttributes(
		attribute.String("server_template.id", serverTemplateID),
		attribute.String("domain.id", domainID),
		attribute.Int64("task.id", taskID),
		attribute.Bool("renderer.external", s.external),
	))
	defer func() { s.endSpan(span, result, err) }()

	return s.strategy.displayTask(ctx, serverTemplateID, domainID, taskID)
}

// GetFormDisplayProcess renders the start form of a process.
func (s *Service) GetFormDisplayProcess(ctx context.Context, serverTemplateID, domainID, processID string, dynamic bool) (result model.FormRenderingSettings, err error) {
	ctx, span := s.tracer.Start(ctx, "formservice.GetFormDisplayProcess", trace.WithAttributes(
		attribute.String("server_template.id", serverTemplateID),
		attribute.String("domain.id", domainID),
		attribute.String("process.id", processID),
		attribute.Bool("process.dynamic", dynamic),
		attribute.Bool("renderer.external", s.external),
	))
	defer func() { s.endSpan(span, result, err) }()

	return s.strategy.displayProcess(ctx, serverTemplateID, domainID, processID, dynamic)
}

func (s *Service) endSpan(span trace.Span, result model.FormRenderingSettings, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if result == nil {
		span.SetStatus(codes.Unset, "no form rendered")
		return
	}
	span.SetAttributes(attribute.String("rendering.kind", string(result.Kind())))
	if wb, ok := result.(*model.WorkbenchFormRenderingSettings); ok {
		span.SetAttributes(
			attribute.Int64("context.token", int64(wb.Token)),
			attribute.Bool("rendering.default_forms", wb.DefaultForms),
		)
	}
	span.SetStatus(codes.Ok, "")
}

// Context returns the rendering context behind token.
func (s *Service) Context(token uint64) (*contextstore.RenderingContext, error) {
	if s.store == nil {
		return nil, formerrors.NotFound(fmt.Sprintf("formservice: unknown context token %d", token), nil)
	}
	return s.store.Get(token)
}

// ClearContext drops the rendering context behind token. Unknown tokens are
// ignored.
func (s *Service) ClearContext(token uint64) {
	if s.store == nil {
		return
	}
	s.store.Clear(token)
}

// Start starts the task rendered under token.
func (s *Service) Start(ctx context.Context, token uint64) error {
	return s.taskAction(ctx, model.RunTypeStart, token, func(ctx context.Context, t target) error {
		return s.actions.StartTask(ctx, t.domainID, t.taskID)
	})
}

// Claim claims the task rendered under token.
func (s *Service) Claim(ctx context.Context, token uint64) error {
	return s.taskAction(ctx, model.RunTypeClaim, token, func(ctx context.Context, t target) error {
		return s.actions.ClaimTask(ctx, t.domainID, t.taskID)
	})
}

// Release releases the task rendered under token.
func (s *Service) Release(ctx context.Context, token uint64) error {
	return s.taskAction(ctx, model.RunTypeRelease, token, func(ctx context.Context, t target) error {
		return s.actions.ReleaseTask(ctx, t.domainID, t.taskID)
	})
}

// Save merges values into the context and saves the task state. The context
// stays registered.
func (s *Service) Save(ctx context.Context, token uint64, values map[string]any) error {
	ctx, span := s.startSubmit(ctx, model.RunTypeSave, token)
	defer span.End()

	t, outputs, err := s.outputs(token, values)
	if err == nil {
		err = s.requireTask(t)
	}
	if err == nil {
		err = s.actions.SaveTaskState(ctx, t.domainID, t.taskID, outputs)
	}
	return s.finishSubmit(span, model.RunTypeSave, err)
}

// Complete merges values into the context, completes the task and clears the
// context.
func (s *Service) Complete(ctx context.Context, token uint64, values map[string]any) error {
	ctx, span := s.startSubmit(ctx, model.RunTypeComplete, token)
	defer span.End()

	t, outputs, err := s.outputs(token, values)
	if err == nil {
		err = s.requireTask(t)
	}
	if err == nil {
		err = s.actions.CompleteTask(ctx, t.domainID, t.taskID, outputs)
	}
	if err == nil {
		s.ClearContext(token)
	}
	return s.finishSubmit(span, model.RunTypeComplete, err)
}

// StartProcess merges values into a process context, starts a process
// instance and clears the context. It returns the new instance id.
func (s *Service) StartProcess(ctx context.Context, token uint64, values map[string]any) (int64, error) {
	ctx, span := s.startSubmit(ctx, model.RunTypeComplete, token)
	defer span.End()

	t, outputs, err := s.outputs(token, values)
	if err == nil && (t.processID == "" || t.taskID != 0) {
		err = formerrors.Configuration(fmt.Sprintf("formservice: context %d was not rendered for a process", token), nil)
	}
	if err == nil && s.actions == nil {
		err = formerrors.Configuration("formservice: task actions are not configured", nil)
	}
	var instanceID int64
	if err == nil {
		instanceID, err = s.actions.StartProcess(ctx, t.domainID, t.processID, outputs)
	}
	if err == nil {
		span.SetAttributes(attribute.Int64("process.instance.id", instanceID))
		s.ClearContext(token)
	}
	return instanceID, s.finishSubmit(span, model.RunTypeComplete, err)
}

// Submit validates values with engine and, when they pass, performs the
// submit action for runType. Complete on a process context starts the
// process.
func (s *Service) Submit(ctx context.Context, engine *asyncvalidation.Engine, runType model.RunType, token uint64, values map[string]any) (asyncvalidation.Outcome, error) {
	current, err := s.Context(token)
	if err != nil {
		return asyncvalidation.Outcome{RunType: runType}, err
	}
	if engine == nil {
		engine = asyncvalidation.NewEngine(nil, asyncvalidation.WithLogger(s.logger))
	}
	req := asyncvalidation.Request{
		Form:     current.RootForm(),
		Values:   values,
		Metadata: current.Metadata(),
		Changed:  changedKeys(current.Data(), values),
	}
	return engine.ValidateAndRun(ctx, runType, req, func(ctx context.Context) error {
		switch runType {
		case model.RunTypeStart:
			return s.Start(ctx, token)
		case model.RunTypeClaim:
			return s.Claim(ctx, token)
		case model.RunTypeRelease:
			return s.Release(ctx, token)
		case model.RunTypeSave:
			return s.Save(ctx, token, values)
		default:
			if _, isProcess := current.Settings().(*model.ProcessRenderingSettings); isProcess {
				_, err := s.StartProcess(ctx, token, values)
				return err
			}
			return s.Complete(ctx, token, values)
		}
	})
}

// changedKeys lists the keys of values that differ from the context data,
// sorted. Raw submitted strings compare equal to their rehydrated form.
func changedKeys(data, values map[string]any) []string {
	var keys []string
	for key, value := range values {
		if !sameValue(data[key], value) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func sameValue(a, b any) bool {
	if a == "" {
		a = nil
	}
	if b == "" {
		b = nil
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

// taskAction clears the context then performs a value-less task action.
func (s *Service) taskAction(ctx context.Context, runType model.RunType, token uint64, call func(context.Context, target) error) error {
	ctx, span := s.startSubmit(ctx, runType, token)
	defer span.End()

	t, err := s.target(token)
	if err == nil {
		err = s.requireTask(t)
	}
	if err == nil {
		s.ClearContext(token)
		err = call(ctx, t)
	}
	return s.finishSubmit(span, runType, err)
}

func (s *Service) startSubmit(ctx context.Context, runType model.RunType, token uint64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "formservice."+string(runType), trace.WithAttributes(
		attribute.Int64("context.token", int64(token)),
		attribute.String("submit.run_type", string(runType)),
	))
}

func (s *Service) finishSubmit(span trace.Span, runType model.RunType, err error) error {
	if err != nil {
		if hard := hardFailure(err); hard != nil {
			err = hard
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("formservice: submit failed", zap.String("runType", string(runType)), zap.Error(err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) outputs(token uint64, values map[string]any) (target, map[string]any, error) {
	t, err := s.target(token)
	if err != nil {
		return t, nil, err
	}
	if s.values == nil {
		return t, nil, formerrors.Configuration("formservice: runtime values are not configured", nil)
	}
	outputs, err := s.values.RuntimeValues(token, values)
	if err != nil {
		return t, nil, err
	}
	return t, outputs, nil
}

func (s *Service) requireTask(t target) error {
	if t.taskID == 0 {
		return formerrors.Configuration("formservice: context was not rendered for a task", nil)
	}
	if s.actions == nil {
		return formerrors.Configuration("formservice: task actions are not configured", nil)
	}
	return nil
}

// target identifies what a rendering context was rendered for.
type target struct {
	domainID  string
	taskID    int64
	processID string
}

func (s *Service) target(token uint64) (target, error) {
	current, err := s.Context(token)
	if err != nil {
		return target{}, err
	}
	switch settings := current.Settings().(type) {
	case *model.TaskRenderingSettings:
		_, domainID := ParseRegistrationKey(settings.Task.DeploymentID)
		return target{domainID: domainID, taskID: settings.Task.ID, processID: settings.Task.ProcessID}, nil
	case *model.ProcessRenderingSettings:
		_, domainID := ParseRegistrationKey(settings.Process.DeploymentID)
		return target{domainID: domainID, processID: settings.Process.ID}, nil
	default:
		return target{}, formerrors.Configuration(fmt.Sprintf("formservice: context %d has no rendering settings", token), nil)
	}
}

// ParseRegistrationKey splits a key built by RegistrationKey into its server
// template and domain.
func ParseRegistrationKey(key string) (serverTemplateID, domainID string) {
	parts := strings.Split(key, "@")
	switch len(parts) {
	case 0, 1:
		return key, ""
	case 2:
		return parts[0], parts[1]
	default:
		return parts[0], strings.Join(parts[1:len(parts)-1], "@")
	}
}
