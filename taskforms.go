// Package taskforms wires the form service from configuration: the context
// store, the provider chain, the scripting bridge and the validation engines.
package taskforms

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/internal/config"
	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	"github.com/goliatone/go-taskforms/pkg/existence/natscheck"
	"github.com/goliatone/go-taskforms/pkg/formservice"
	"github.com/goliatone/go-taskforms/pkg/lookup"
	"github.com/goliatone/go-taskforms/pkg/lookup/gojabridge"
	"github.com/goliatone/go-taskforms/pkg/messages"
	"github.com/goliatone/go-taskforms/pkg/provider"
	"github.com/goliatone/go-taskforms/pkg/provider/workbench"
)

// Config aliases the loaded configuration so callers outside the module can
// build one.
type Config = config.Config

// NATSConfig aliases the existence checker transport settings.
type NATSConfig = config.NATS

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file (optional) and applies the
// TASKFORMS_* environment overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Collaborators are the process engine clients the service talks to. Checker
// is used when the configuration names no NATS server.
type Collaborators struct {
	Data      formservice.DataClient
	Forms     formservice.RawFormSource
	Documents formservice.DocumentResolver
	Actions   formservice.TaskActions
	Checker   asyncvalidation.ExistenceChecker
}

// Option customises NewService.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	catalog   *messages.Catalog
	providers []provider.Provider
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used by the form service.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithCatalog replaces the built-in message catalog.
func WithCatalog(catalog *messages.Catalog) Option {
	return func(o *options) {
		if catalog != nil {
			o.catalog = catalog
		}
	}
}

// WithProviders registers extra form providers next to the built-in
// workbench provider.
func WithProviders(providers ...provider.Provider) Option {
	return func(o *options) {
		o.providers = append(o.providers, providers...)
	}
}

// Runtime is a wired form service plus the parts callers need to drive it.
type Runtime struct {
	Service *formservice.Service
	Store   *contextstore.Store
	Chain   *provider.Chain
	Bridge  *gojabridge.Bridge
	Catalog *messages.Catalog

	cfg     Config
	checker asyncvalidation.ExistenceChecker
	conn    *nats.Conn
	logger  *zap.Logger
}

// NewService builds the form service described by cfg. In external mode only
// the URL template is used; embedded mode needs Data and Forms.
func NewService(cfg Config, c Collaborators, opts ...Option) (*Runtime, error) {
	o := options{logger: zap.NewNop(), catalog: messages.Default()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, Catalog: o.catalog, checker: c.Checker, logger: o.logger}

	serviceOpts := []formservice.Option{
		formservice.WithLogger(o.logger),
		formservice.WithTracer(o.tracer),
	}
	if cfg.ExternalRenderer {
		service, err := formservice.New(nil, nil, append(serviceOpts, formservice.WithExternalRenderer(cfg.ExternalRendererURL))...)
		if err != nil {
			return nil, err
		}
		rt.Service = service
		return rt, nil
	}

	bridge, err := gojabridge.NewFromFiles(cfg.Scripts, gojabridge.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("taskforms: load scripts: %w", err)
	}
	rt.Bridge = bridge

	rt.Store = contextstore.New(contextstore.WithLogger(o.logger))
	resolver := lookup.NewResolver(bridge, lookup.WithLogger(o.logger))
	custom := workbench.New(rt.Store,
		workbench.WithResolver(resolver),
		workbench.WithLogger(o.logger),
	)
	fallback := workbench.New(rt.Store,
		workbench.WithResolver(resolver),
		workbench.WithDefaultForms(),
		workbench.WithLogger(o.logger),
	)
	rt.Chain = provider.NewChain(fallback, append([]provider.Provider{custom}, o.providers...), provider.WithLogger(o.logger))

	service, err := formservice.New(rt.Store, rt.Chain, append(serviceOpts,
		formservice.WithDataClient(c.Data),
		formservice.WithRawFormSource(c.Forms),
		formservice.WithDocumentResolver(c.Documents),
		formservice.WithTaskActions(c.Actions),
		formservice.WithRuntimeValues(custom),
	)...)
	if err != nil {
		return nil, err
	}
	rt.Service = service

	if cfg.NATS.URL != "" {
		checker, conn, err := natscheck.Connect(cfg.NATS.URL,
			natscheck.WithSubject(cfg.NATS.Subject),
			natscheck.WithTimeout(cfg.CheckTimeout),
			natscheck.WithLogger(o.logger),
		)
		if err != nil {
			return nil, err
		}
		rt.checker = checker
		rt.conn = conn
	}
	return rt, nil
}

// NewEngine returns a validation engine for one form session. An empty
// locale uses the configured one.
func (rt *Runtime) NewEngine(locale string) *asyncvalidation.Engine {
	if locale == "" {
		locale = rt.cfg.Locale
	}
	engineOpts := []asyncvalidation.Option{
		asyncvalidation.WithLocalizer(rt.Catalog),
		asyncvalidation.WithLocale(rt.Catalog.Match(locale)),
		asyncvalidation.WithCheckTimeout(rt.cfg.CheckTimeout),
		asyncvalidation.WithLogger(rt.logger),
	}
	if rt.Bridge != nil {
		engineOpts = append(engineOpts, asyncvalidation.WithScriptValidator(rt.Bridge))
	}
	return asyncvalidation.NewEngine(rt.checker, engineOpts...)
}

// Close drains the NATS connection, if any.
func (rt *Runtime) Close() error {
	if rt == nil || rt.conn == nil {
		return nil
	}
	if err := rt.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("taskforms: drain nats: %w", err)
	}
	return nil
}
