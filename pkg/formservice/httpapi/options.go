package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/messages"
)

type GuardFunc func(r *http.Request) error

// EngineFactory builds the validation engine of a new context session. The
// locale is the one negotiated for the request that opened the session.
type EngineFactory func(locale string) *asyncvalidation.Engine

type Options struct {
	RoutePath             string
	ServerTemplateParam   string
	DomainParam           string
	DynamicParam          string
	DefaultServerTemplate string
	DefaultDomain         string
	MaxBodyBytes          int64
	Guard                 GuardFunc
	Engines               EngineFactory
	Localizer             *messages.Catalog
	Logger                *zap.Logger
}

type OptionFn func(*Options)

func DefaultOptions() Options {
	return Options{
		RoutePath:           "/api/forms",
		ServerTemplateParam: "serverTemplateId",
		DomainParam:         "domainId",
		DynamicParam:        "dynamic",
		MaxBodyBytes:        1 << 20,
	}
}

func NewOptions(fns ...OptionFn) Options {
	opts := DefaultOptions()
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn(&opts)
	}
	if opts.RoutePath == "" {
		opts.RoutePath = "/api/forms"
	}
	if opts.ServerTemplateParam == "" {
		opts.ServerTemplateParam = "serverTemplateId"
	}
	if opts.DomainParam == "" {
		opts.DomainParam = "domainId"
	}
	if opts.DynamicParam == "" {
		opts.DynamicParam = "dynamic"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Localizer == nil {
		opts.Localizer = messages.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engines == nil {
		catalog := opts.Localizer
		logger := opts.Logger
		opts.Engines = func(locale string) *asyncvalidation.Engine {
			return asyncvalidation.NewEngine(nil,
				asyncvalidation.WithLocalizer(catalog),
				asyncvalidation.WithLocale(locale),
				asyncvalidation.WithLogger(logger))
		}
	}
	return opts
}

func WithRoutePath(path string) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.RoutePath = path
	}
}

// WithDefaults sets the server template and domain used when a request omits
// them.
func WithDefaults(serverTemplateID, domainID string) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.DefaultServerTemplate = serverTemplateID
		o.DefaultDomain = domainID
	}
}

func WithMaxBodyBytes(limit int64) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.MaxBodyBytes = limit
	}
}

func WithGuard(guard GuardFunc) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.Guard = guard
	}
}

// WithEngines sets the factory of per-context validation engines, typically
// wired to the remote existence checker.
func WithEngines(factory EngineFactory) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.Engines = factory
	}
}

func WithLocalizer(catalog *messages.Catalog) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.Localizer = catalog
	}
}

func WithLogger(logger *zap.Logger) OptionFn {
	return func(o *Options) {
		if o == nil {
			return
		}
		o.Logger = logger
	}
}
