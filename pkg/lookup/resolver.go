// Package lookup resolves the initial data of scripted-lookup fields. A field
// carrying a method/class mapping has its value, value list or selector options
// computed by an external script before the form reaches the user.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// ErrorMarker prefixes script results that report a lookup failure as a value.
const ErrorMarker = "ERROR"

// ScriptBridge executes a data-lookup script identified by its mapping.
type ScriptBridge interface {
	Execute(ctx context.Context, mapping string, argument any) (any, error)
}

// ScriptBridgeFunc adapts a function to ScriptBridge.
type ScriptBridgeFunc func(ctx context.Context, mapping string, argument any) (any, error)

// Execute implements ScriptBridge.
func (f ScriptBridgeFunc) Execute(ctx context.Context, mapping string, argument any) (any, error) {
	return f(ctx, mapping, argument)
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithAttributeReader overrides the reader used on lookup result objects.
func WithAttributeReader(reader AttributeReader) Option {
	return func(r *Resolver) {
		if reader != nil {
			r.reader = reader
		}
	}
}

// WithLogger sets the logger used to report field failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSanitizer overrides the display text sanitizer. Passing nil keeps text
// untouched.
func WithSanitizer(sanitize func(string) string) Option {
	return func(r *Resolver) {
		r.sanitize = sanitize
	}
}

// Resolver fills field initial data from scripted lookups.
type Resolver struct {
	bridge   ScriptBridge
	reader   AttributeReader
	logger   *zap.Logger
	sanitize func(string) string
}

// NewResolver constructs a Resolver around the scripting bridge.
func NewResolver(bridge ScriptBridge, options ...Option) *Resolver {
	r := &Resolver{
		bridge:   bridge,
		reader:   ReflectReader{},
		logger:   zap.NewNop(),
		sanitize: SanitizeText,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// ResolveForm resolves every scripted-lookup field of form. Field failures are
// logged and returned joined; they never stop sibling fields from resolving.
func (r *Resolver) ResolveForm(ctx context.Context, form *model.FormDefinition) error {
	return r.resolve(ctx, form, false)
}

// ResolvePending resolves only the scripted-lookup fields that carry no
// initial data yet.
func (r *Resolver) ResolvePending(ctx context.Context, form *model.FormDefinition) error {
	return r.resolve(ctx, form, true)
}

func (r *Resolver) resolve(ctx context.Context, form *model.FormDefinition, pendingOnly bool) error {
	if form == nil {
		return nil
	}
	var errs []error
	for i := range form.Fields {
		field := &form.Fields[i]
		if !HasMapping(field.MethodClassMapping) {
			continue
		}
		if pendingOnly && field.Resolved() {
			continue
		}
		if err := r.ResolveField(ctx, field); err != nil {
			r.logger.Warn("lookup: resolve field",
				zap.String("form", form.Name),
				zap.String("field", field.Key()),
				zap.String("mapping", field.MethodClassMapping),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("field %q: %w", field.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// ResolveField resolves one field in place. On failure the field is left
// without initial data.
func (r *Resolver) ResolveField(ctx context.Context, field *model.FieldDefinition) (err error) {
	if field == nil {
		return nil
	}
	field.ResetInitialData()
	if !HasMapping(field.MethodClassMapping) {
		return nil
	}
	if r.bridge == nil {
		return formerrors.Configuration("lookup: no scripting bridge configured", nil)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			field.ResetInitialData()
			err = formerrors.TransientLookup("lookup: panic while resolving field", fmt.Errorf("%v", recovered))
		}
	}()

	result, err := r.bridge.Execute(ctx, field.MethodClassMapping, nil)
	if err != nil {
		field.ResetInitialData()
		if formerrors.IsTransientLookup(err) {
			return err
		}
		return formerrors.TransientLookup("lookup: script execution failed", err)
	}
	if result == nil {
		return nil
	}

	if field.ShouldLoadInitialData() {
		if err := r.apply(field, result); err != nil {
			field.ResetInitialData()
			return err
		}
	}

	if text := stringify(result); strings.HasPrefix(text, ErrorMarker) {
		field.AsyncErrorKey = text
		field.SetInitialValue(text)
	}
	return nil
}

func (r *Resolver) apply(field *model.FieldDefinition, result any) error {
	if strings.TrimSpace(field.KeyMapping) == "" || isPrimitive(result) {
		field.SetInitialValue(stringify(result))
		return nil
	}
	if !HasMapping(field.KeyMapping) {
		// Without a table/attribute key there is nothing to read objects with.
		field.SetInitialValue(stringify(result))
		return nil
	}

	key, err := ParseMapping(field.KeyMapping)
	if err != nil {
		return err
	}

	items, isCollection := collection(result)
	if !isCollection {
		value, ok := r.reader.Attribute(result, key.Attribute)
		if !ok {
			return formerrors.TransientLookup(fmt.Sprintf("lookup: result has no attribute %q", key.Attribute), nil)
		}
		field.SetInitialValue(stringify(value))
		return nil
	}

	switch {
	case field.Type == model.FieldTypeMultipleSelector:
		values := make([]any, 0, len(items))
		for _, item := range items {
			value, _ := r.reader.Attribute(item, key.Attribute)
			values = append(values, value)
		}
		field.ListOfValues = values
	case field.Type.IsSingleSelector():
		valueAttribute := ""
		if HasMapping(field.ValueMapping) {
			if mapping, err := ParseMapping(field.ValueMapping); err == nil && mapping.Attribute != key.Attribute {
				valueAttribute = mapping.Attribute
			}
		}
		options := make([]model.SelectorOption, 0, len(items))
		for _, item := range items {
			keyValue, _ := r.reader.Attribute(item, key.Attribute)
			text := stringify(keyValue)
			if valueAttribute != "" {
				if value, ok := r.reader.Attribute(item, valueAttribute); ok && value != nil {
					text += " : " + stringify(value)
				}
			}
			if r.sanitize != nil {
				text = r.sanitize(text)
			}
			options = append(options, model.SelectorOption{Value: keyValue, Text: text})
		}
		field.Options = options
	default:
		r.logger.Debug("lookup: collection result ignored for field type",
			zap.String("field", field.Key()),
			zap.String("type", string(field.Type)))
	}
	return nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func isPrimitive(value any) bool {
	switch value.(type) {
	case string, bool, time.Time:
		return true
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
		return true
	default:
		return false
	}
}

func collection(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
