// Package parser turns serialized form batches into a root form plus nested
// forms, delegating to a default-form generator when no custom content is
// available.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// ContextForms is the classified result of a parse: at most one root form and
// any number of nested forms.
type ContextForms struct {
	Root   *model.FormDefinition
	Nested []*model.FormDefinition
}

// All returns the root (when present) followed by the nested forms.
func (c ContextForms) All() []*model.FormDefinition {
	out := make([]*model.FormDefinition, 0, len(c.Nested)+1)
	if c.Root != nil {
		out = append(out, c.Root)
	}
	return append(out, c.Nested...)
}

// GenerateFunc produces default forms for the current settings.
type GenerateFunc func(ctx context.Context) ([]*model.FormDefinition, error)

// Option customises a Parser.
type Option func(*Parser)

// WithLogger sets the logger used to report skipped elements.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Parser decodes form batches.
type Parser struct {
	logger *zap.Logger
}

// New constructs a Parser.
func New(options ...Option) *Parser {
	p := &Parser{logger: zap.NewNop()}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

// ParseOrGenerate parses content, or calls generate when content is blank or
// generateDefault is set. entityName is the task or process name the root form
// is derived from.
func (p *Parser) ParseOrGenerate(ctx context.Context, content, entityName string, generateDefault bool, generate GenerateFunc) (ContextForms, error) {
	if err := ctx.Err(); err != nil {
		return ContextForms{}, err
	}
	if generateDefault || strings.TrimSpace(content) == "" {
		return p.Generate(ctx, entityName, generate)
	}
	return p.Parse(content, entityName)
}

// Parse decodes a JSON array of form definitions. Elements that fail to decode
// are skipped; a payload that is not an array is a configuration error. The
// root form is the one whose name starts with entityName + TaskFormSuffix.
func (p *Parser) Parse(content, entityName string) (ContextForms, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(content), &elements); err != nil {
		return ContextForms{}, formerrors.Configuration("form content is not a JSON array", err)
	}

	forms := make([]*model.FormDefinition, 0, len(elements))
	for idx, element := range elements {
		form, err := decodeForm(element)
		if err != nil {
			p.logger.Debug("parser: skipping form definition",
				zap.Int("index", idx),
				zap.Error(err))
			continue
		}
		forms = append(forms, form)
	}

	return Classify(forms, entityName, false), nil
}

// Generate runs the default-form generator and classifies its output using an
// exact root name match.
func (p *Parser) Generate(ctx context.Context, entityName string, generate GenerateFunc) (ContextForms, error) {
	if generate == nil {
		return ContextForms{}, formerrors.Configuration("unable to create forms for context", nil)
	}
	forms, err := generate(ctx)
	if err != nil {
		return ContextForms{}, formerrors.Configuration("unable to create forms for context", err)
	}
	if len(forms) == 0 {
		return ContextForms{}, formerrors.Configuration("unable to create forms for context", nil)
	}
	return Classify(forms, entityName, true), nil
}

// Classify splits forms into root and nested. With exact set the root name must
// equal entityName + TaskFormSuffix; otherwise a prefix match is enough. When
// several forms qualify the first one wins and the rest are nested.
func Classify(forms []*model.FormDefinition, entityName string, exact bool) ContextForms {
	rootName := model.RootFormName(entityName)
	var result ContextForms
	for _, form := range forms {
		if form == nil {
			continue
		}
		isRoot := strings.HasPrefix(form.Name, rootName)
		if exact {
			isRoot = form.Name == rootName
		}
		if isRoot && result.Root == nil {
			result.Root = form
			continue
		}
		result.Nested = append(result.Nested, form)
	}
	return result
}

func decodeForm(raw json.RawMessage) (*model.FormDefinition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("parser: empty form definition")
	}
	var form model.FormDefinition
	if err := json.Unmarshal(trimmed, &form); err != nil {
		return nil, fmt.Errorf("parser: decode form definition: %w", err)
	}
	if strings.TrimSpace(form.Name) == "" {
		return nil, fmt.Errorf("parser: form definition has no name")
	}
	return &form, nil
}
