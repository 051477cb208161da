package workbench

import (
	"context"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/lookup"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider"
)

const (
	// ProviderName identifies the custom-form provider.
	ProviderName = "workbench"

	// DefaultProviderName identifies the generated-form provider.
	DefaultProviderName = "workbench-default"

	// DefaultPriority is the priority of the custom-form provider.
	DefaultPriority = 100
)

// Option customises a Provider.
type Option func(*Provider)

// WithResolver sets the scripted field resolver.
func WithResolver(resolver *lookup.Resolver) Option {
	return func(p *Provider) {
		p.resolver = resolver
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPriority overrides the provider priority.
func WithPriority(priority int) Option {
	return func(p *Provider) {
		p.priority = priority
	}
}

// WithDefaultForms makes the provider ignore custom content and render
// generated default forms.
func WithDefaultForms() Option {
	return func(p *Provider) {
		p.generateDefault = true
		p.name = DefaultProviderName
	}
}

// WithFlavours replaces the supported settings flavours.
func WithFlavours(flavours ...Flavour) Option {
	return func(p *Provider) {
		p.flavours = flavours
	}
}

// Provider renders task and process settings through the values processor of
// the matching flavour.
type Provider struct {
	name            string
	priority        int
	generateDefault bool
	store           *contextstore.Store
	resolver        *lookup.Resolver
	logger          *zap.Logger
	flavours        []Flavour
	processors      []*ValuesProcessor
}

// New builds a provider registering contexts in store.
func New(store *contextstore.Store, options ...Option) *Provider {
	p := &Provider{
		name:     ProviderName,
		priority: DefaultPriority,
		store:    store,
		logger:   zap.NewNop(),
		flavours: []Flavour{TaskFlavour{}, ProcessFlavour{}},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(p)
	}
	for _, flavour := range p.flavours {
		p.processors = append(p.processors, NewValuesProcessor(flavour, store, p.resolver, p.logger))
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Priority() int { return p.priority }

// Render implements provider.Provider.
func (p *Provider) Render(ctx context.Context, settings model.RenderingSettings) model.FormRenderingSettings {
	processor := p.processorFor(settings)
	if processor == nil {
		return nil
	}
	if result := processor.GenerateRenderingContext(ctx, settings, p.generateDefault); result != nil {
		return result
	}
	return nil
}

// RuntimeValues merges values into the context and computes the output values
// using the flavour of the settings the context was rendered from.
func (p *Provider) RuntimeValues(token uint64, values map[string]any) (map[string]any, error) {
	current, err := p.store.Get(token)
	if err != nil {
		return nil, err
	}
	processor := p.processorFor(current.Settings())
	if processor == nil {
		return nil, formerrors.Configuration("workbench: no processor for context settings", nil)
	}
	return processor.RuntimeValues(token, values)
}

func (p *Provider) processorFor(settings model.RenderingSettings) *ValuesProcessor {
	if settings == nil {
		return nil
	}
	for _, processor := range p.processors {
		if processor.Flavour().Supports(settings) {
			return processor
		}
	}
	return nil
}

var _ provider.Provider = (*Provider)(nil)
