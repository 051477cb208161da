// Package workbench implements the embedded form provider: it parses or
// generates the form batch, resolves scripted fields, registers the rendering
// context and wraps it for the caller.
package workbench

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/internal/parser"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/lookup"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// ValuesProcessor runs the rendering pipeline for one settings flavour.
type ValuesProcessor struct {
	flavour  Flavour
	store    *contextstore.Store
	parser   *parser.Parser
	resolver *lookup.Resolver
	logger   *zap.Logger
}

// NewValuesProcessor wires a pipeline. A nil resolver skips scripted field
// resolution.
func NewValuesProcessor(flavour Flavour, store *contextstore.Store, resolver *lookup.Resolver, logger *zap.Logger) *ValuesProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValuesProcessor{
		flavour:  flavour,
		store:    store,
		parser:   parser.New(parser.WithLogger(logger)),
		resolver: resolver,
		logger:   logger,
	}
}

// Flavour returns the processor flavour.
func (p *ValuesProcessor) Flavour() Flavour { return p.flavour }

// GenerateRenderingContext renders settings into a registered context. It
// returns nil when there is nothing to render: no custom content and no
// default generation requested, an unusable root form, or a pipeline failure.
func (p *ValuesProcessor) GenerateRenderingContext(ctx context.Context, settings model.RenderingSettings, generateDefault bool) *model.WorkbenchFormRenderingSettings {
	if settings == nil || !p.flavour.Supports(settings) {
		return nil
	}
	if !generateDefault && strings.TrimSpace(settings.FormContent()) == "" {
		return nil
	}

	result, err := p.render(ctx, settings, generateDefault)
	if err != nil {
		p.logger.Debug("workbench: unable to render form",
			zap.String("flavour", p.flavour.Name()),
			zap.Bool("defaultForms", generateDefault),
			zap.Error(err))
		return nil
	}
	return result
}

func (p *ValuesProcessor) render(ctx context.Context, settings model.RenderingSettings, generateDefault bool) (*model.WorkbenchFormRenderingSettings, error) {
	formName := p.flavour.FormName(settings)
	forms, err := p.parser.ParseOrGenerate(ctx, settings.FormContent(), formName, generateDefault,
		func(ctx context.Context) ([]*model.FormDefinition, error) {
			return p.flavour.GenerateDefaultForms(ctx, settings)
		})
	if err != nil {
		return nil, err
	}
	if err := ValidateRootForm(forms.Root); err != nil {
		return nil, err
	}

	rawData := p.flavour.RawFormData(settings, forms.Root)

	vars := lookup.NewVariables(settings.ProcessInstanceVariables())
	if p.resolver != nil {
		resolveCtx := lookup.WithVariables(ctx, vars)
		if err := p.resolver.ResolvePending(resolveCtx, forms.Root); err != nil {
			p.logger.Debug("workbench: some fields were not resolved", zap.Error(err))
		}
	}

	token, err := p.store.Register(contextstore.Registration{
		RootForm:         forms.Root,
		NestedForms:      forms.Nested,
		Data:             rawData,
		ProcessVariables: vars.Snapshot(),
		Marshaller:       settings.MarshallerContext(),
		Params:           map[string]string{contextstore.ParamServerTemplateID: settings.ServerTemplateID()},
		Attributes:       map[string]any{contextstore.AttributeRenderingSettings: settings},
	})
	if err != nil {
		return nil, err
	}

	registered, err := p.store.MergeMetadata(token, settings.RenderingMetadata())
	if err != nil {
		return nil, err
	}

	return &model.WorkbenchFormRenderingSettings{
		Token:        token,
		Model:        registered.Model(),
		DefaultForms: generateDefault,
	}, nil
}

// RuntimeValues merges submitted values into the context addressed by token
// and returns the output values for the process engine.
func (p *ValuesProcessor) RuntimeValues(token uint64, values map[string]any) (map[string]any, error) {
	current, err := p.store.Get(token)
	if err != nil {
		return nil, err
	}
	if err := ValidateRootForm(current.RootForm()); err != nil {
		return nil, err
	}
	updated, err := p.store.Update(token, values)
	if err != nil {
		return nil, err
	}
	settings := updated.Settings()
	if settings == nil {
		return nil, formerrors.Configuration(fmt.Sprintf("workbench: context %d has no rendering settings", token), nil)
	}
	return p.flavour.OutputValues(updated.Data(), updated.RootForm(), settings)
}

// ValidateRootForm checks that a root form is structurally usable: it exists,
// is named, and its fields carry distinct non-empty keys.
func ValidateRootForm(root *model.FormDefinition) error {
	if root == nil {
		return formerrors.Configuration("workbench: root form is missing", nil)
	}
	if strings.TrimSpace(root.Name) == "" {
		return formerrors.Configuration("workbench: root form has no name", nil)
	}
	seen := make(map[string]struct{}, len(root.Fields))
	for idx, field := range root.Fields {
		key := field.Key()
		if key == "" {
			return formerrors.Configuration(fmt.Sprintf("workbench: field %d of %q has no binding", idx, root.Name), nil)
		}
		if _, dup := seen[key]; dup {
			return formerrors.Configuration(fmt.Sprintf("workbench: duplicate field binding %q in %q", key, root.Name), nil)
		}
		seen[key] = struct{}{}
	}
	return nil
}
