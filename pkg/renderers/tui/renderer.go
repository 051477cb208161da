package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/messages"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// Submitter validates and submits the values of a rendering context.
// formservice.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, engine *asyncvalidation.Engine, runType model.RunType, token uint64, values map[string]any) (asyncvalidation.Outcome, error)
}

// Renderer drives a terminal session over an embedded form: it prompts every
// field of the root form, submits the answers and re-prompts the fields the
// validation engine blocked.
type Renderer struct {
	driver            PromptDriver
	out               io.Writer
	outputFormat      OutputFormat
	submitTransformer SubmitTransformer
	theme             Theme
	maxAttempts       int
	catalog           *messages.Catalog
	locale            string
	logger            *zap.Logger
}

// New constructs a TUI renderer with defaults (survey driver, JSON output).
func New(options ...Option) (*Renderer, error) {
	r := &Renderer{
		outputFormat: OutputFormatJSON,
		maxAttempts:  DefaultMaxAttempts,
		catalog:      messages.Default(),
		locale:       messages.DefaultLocale,
		logger:       zap.NewNop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.driver == nil {
		r.driver = newSurveyDriver(r.out)
	}
	return r, nil
}

// Name reports the renderer identifier.
func (r *Renderer) Name() string {
	return "tui"
}

// ContentType reports the serialization format used by Render.
func (r *Renderer) ContentType() string {
	switch r.outputFormat {
	case OutputFormatFormURLEncoded:
		return "application/x-www-form-urlencoded"
	case OutputFormatPrettyText:
		return "text/plain"
	default:
		return "application/json"
	}
}

// Render prompts every field of m and serializes the answers.
func (r *Renderer) Render(ctx context.Context, m model.RenderingModel) ([]byte, error) {
	values, err := r.Collect(ctx, m)
	if err != nil {
		return nil, err
	}
	return r.Encode(values)
}

// Collect prompts every field of m's root form, seeded from the context data
// and the resolved initial values.
func (r *Renderer) Collect(ctx context.Context, m model.RenderingModel) (map[string]any, error) {
	if err := r.ready(ctx, m); err != nil {
		return nil, err
	}
	state := NewState(m.Data)
	if header := m.MetadataString("header"); header != "" {
		if err := r.info(ctx, r.theme.InfoPrefix, header); err != nil {
			return nil, err
		}
	}
	for _, field := range m.RootForm.Fields {
		if _, err := r.promptField(ctx, field, state); err != nil {
			return nil, err
		}
	}
	return r.transform(state.Values())
}

// Run prompts settings' form, submits it as runType and, while the engine
// reports field errors, re-prompts only the blocked fields. Edited fields are
// reported to the engine so their async error markers clear.
func (r *Renderer) Run(ctx context.Context, submitter Submitter, engine *asyncvalidation.Engine, runType model.RunType, settings *model.WorkbenchFormRenderingSettings) (map[string]any, asyncvalidation.Outcome, error) {
	if settings == nil {
		return nil, asyncvalidation.Outcome{}, ErrNoForm
	}
	if engine == nil {
		engine = asyncvalidation.NewEngine(nil, asyncvalidation.WithLocale(r.locale), asyncvalidation.WithLogger(r.logger))
	}
	m := settings.Model
	if err := r.ready(ctx, m); err != nil {
		return nil, asyncvalidation.Outcome{}, err
	}

	state := NewState(m.Data)
	for _, field := range m.RootForm.Fields {
		if _, err := r.promptField(ctx, field, state); err != nil {
			return nil, asyncvalidation.Outcome{}, err
		}
	}

	var outcome asyncvalidation.Outcome
	for attempt := 1; ; attempt++ {
		values, err := r.transform(state.Values())
		if err != nil {
			return nil, outcome, err
		}
		outcome, err = submitter.Submit(ctx, engine, runType, settings.Token, values)
		if err != nil {
			return values, outcome, err
		}
		state.Apply(outcome)
		if err := r.report(ctx, state, outcome); err != nil {
			return values, outcome, err
		}
		if outcome.Valid() {
			return values, outcome, nil
		}
		if attempt >= r.maxAttempts {
			return values, outcome, ErrAttemptsExhausted
		}
		if outcome.Stale {
			r.logger.Debug("tui: stale submit attempt", zap.Uint64("attempt", outcome.Attempt))
			continue
		}

		blocked := state.Blocked()
		if len(blocked) == 0 {
			// form level rejection: nothing to correct field by field.
			return values, outcome, ErrAttemptsExhausted
		}
		for _, key := range blocked {
			field := m.RootForm.Field(key)
			if field == nil {
				continue
			}
			changed, err := r.promptField(ctx, *field, state)
			if err != nil {
				return values, outcome, err
			}
			if changed {
				engine.FieldChanged(key)
			}
		}
	}
}

func (r *Renderer) ready(ctx context.Context, m model.RenderingModel) error {
	if ctx == nil {
		return errors.New("tui: context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.RootForm == nil {
		return ErrNoForm
	}
	return nil
}

func (r *Renderer) transform(values map[string]any) (map[string]any, error) {
	if r.submitTransformer == nil {
		return values, nil
	}
	out, err := r.submitTransformer(values)
	if err != nil {
		return nil, fmt.Errorf("tui: submit transformer: %w", err)
	}
	return out, nil
}

func (r *Renderer) report(ctx context.Context, state *State, outcome asyncvalidation.Outcome) error {
	if outcome.Valid() || outcome.Stale {
		for _, key := range state.Warnings() {
			if err := r.info(ctx, r.theme.WarnPrefix, key+": "+outcome.FieldWarnings[key]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := r.info(ctx, r.theme.ErrorPrefix, r.catalog.Message(r.locale, messages.KeyTaskFormErrorHeader, nil)); err != nil {
		return err
	}
	if outcome.FormError != "" {
		if err := r.info(ctx, r.theme.ErrorPrefix, outcome.FormError); err != nil {
			return err
		}
	}
	for _, key := range state.Blocked() {
		if err := r.info(ctx, r.theme.ErrorPrefix, key+": "+state.ErrorFor(key)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) info(ctx context.Context, prefix, msg string) error {
	return r.driver.Info(ctx, prefix+msg)
}

// promptField asks for one field and stores the answer; it reports whether
// the stored value changed.
func (r *Renderer) promptField(ctx context.Context, field model.FieldDefinition, state *State) (bool, error) {
	key := field.Key()
	if key == "" {
		return false, nil
	}
	current, hasCurrent := state.Value(key)

	switch field.Type {
	case model.FieldTypeSubForm:
		return false, nil
	case model.FieldTypeDocument:
		return false, r.info(ctx, r.theme.InfoPrefix, displayLabel(field)+": "+documentText(current))
	}
	if field.ReadOnly {
		if !hasCurrent && field.InitialValue != nil {
			state.SetValue(key, *field.InitialValue)
			current = *field.InitialValue
		}
		return false, r.info(ctx, r.theme.InfoPrefix, displayLabel(field)+": "+stringify(current))
	}

	var (
		value any
		err   error
	)
	switch {
	case field.Type == model.FieldTypeCheckBox:
		value, err = r.driver.Confirm(ctx, ConfirmConfig{
			Message: displayLabel(field),
			Default: defaultBool(current, field.InitialValue),
			Help:    state.ErrorFor(key),
		})
	case field.Type.IsSingleSelector() && len(field.Options) > 0:
		value, err = r.promptSelector(ctx, field, current, state.ErrorFor(key))
	case field.Type == model.FieldTypeMultipleSelector:
		value, err = r.promptMulti(ctx, field, current, state.ErrorFor(key))
	case field.Type == model.FieldTypeTextArea:
		value, err = r.driver.TextArea(ctx, TextAreaConfig{
			Message: displayLabel(field),
			Default: defaultString(current, field.InitialValue),
			Help:    state.ErrorFor(key),
		})
	default:
		value, err = r.driver.Input(ctx, InputConfig{
			Message:   displayLabel(field),
			Default:   defaultString(current, field.InitialValue),
			Help:      state.ErrorFor(key),
			Validator: inputValidator(field),
		})
	}
	if err != nil {
		return false, err
	}
	return state.SetValue(key, value), nil
}

func (r *Renderer) promptSelector(ctx context.Context, field model.FieldDefinition, current any, help string) (any, error) {
	labels := make([]string, len(field.Options))
	selected := -1
	for i, option := range field.Options {
		labels[i] = optionText(option)
		if selected < 0 && current != nil && stringify(option.Value) == stringify(current) {
			selected = i
		}
	}
	if selected < 0 && field.InitialValue != nil {
		for i, option := range field.Options {
			if stringify(option.Value) == *field.InitialValue {
				selected = i
				break
			}
		}
	}
	idx, err := r.driver.Select(ctx, SelectConfig{
		Message:      displayLabel(field),
		Options:      labels,
		DefaultIndex: selected,
		Help:         help,
	})
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(field.Options) {
		return nil, fmt.Errorf("tui: %s: selection out of range", field.Key())
	}
	return field.Options[idx].Value, nil
}

func (r *Renderer) promptMulti(ctx context.Context, field model.FieldDefinition, current any, help string) (any, error) {
	labels := stringifySlice(field.ListOfValues)
	chosen := make(map[string]struct{})
	for _, v := range coerceAnySlice(current) {
		chosen[stringify(v)] = struct{}{}
	}
	var defaults []int
	for i, label := range labels {
		if _, ok := chosen[label]; ok {
			defaults = append(defaults, i)
		}
	}
	indices, err := r.driver.MultiSelect(ctx, SelectConfig{
		Message:      displayLabel(field),
		Options:      labels,
		DefaultIndex: -1,
		Defaults:     defaults,
		Help:         help,
	})
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(field.ListOfValues) {
			out = append(out, field.ListOfValues[idx])
		}
	}
	return out, nil
}

func inputValidator(field model.FieldDefinition) func(string) error {
	return func(raw string) error {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			if field.Required {
				return fmt.Errorf("%s is required", displayLabel(field))
			}
			return nil
		}
		switch field.Type {
		case model.FieldTypeInteger:
			if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
				return fmt.Errorf("%s must be a whole number", displayLabel(field))
			}
		case model.FieldTypeDecimal:
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				return fmt.Errorf("%s must be a number", displayLabel(field))
			}
		}
		return nil
	}
}

// Encode serializes values in the configured output format.
func (r *Renderer) Encode(values map[string]any) ([]byte, error) {
	switch r.outputFormat {
	case OutputFormatFormURLEncoded:
		return []byte(flattenForm(values)), nil
	case OutputFormatPrettyText:
		return []byte(prettyPrint(values)), nil
	default:
		return json.Marshal(values)
	}
}

func displayLabel(field model.FieldDefinition) string {
	label := field.Label
	if label == "" {
		label = field.Key()
	}
	if field.Required {
		label += " *"
	}
	return label
}

func optionText(option model.SelectorOption) string {
	if option.Text != "" {
		return option.Text
	}
	return stringify(option.Value)
}

func documentText(value any) string {
	var doc model.Document
	switch v := value.(type) {
	case model.Document:
		doc = v
	case *model.Document:
		if v == nil {
			return "-"
		}
		doc = *v
	default:
		return stringify(value)
	}
	if doc.Link == "" {
		return doc.Name
	}
	return doc.Name + " <" + doc.Link + ">"
}

func defaultString(current any, initial *string) string {
	if current != nil {
		return stringify(current)
	}
	if initial != nil {
		return *initial
	}
	return ""
}

func defaultBool(current any, initial *string) bool {
	switch v := current.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	if initial != nil {
		b, _ := strconv.ParseBool(*initial)
		return b
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func stringifySlice(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = stringify(v)
	}
	return out
}

func coerceAnySlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func flattenForm(values map[string]any) string {
	flattened := url.Values{}
	for key, value := range values {
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				flattened.Add(key+"[]", stringify(item))
			}
		default:
			flattened.Set(key, stringify(v))
		}
	}
	return flattened.Encode()
}

func prettyPrint(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		switch v := values[key].(type) {
		case []any:
			for idx, item := range v {
				fmt.Fprintf(&b, "%s[%d]=%v\n", key, idx, item)
			}
		default:
			fmt.Fprintf(&b, "%s=%v\n", key, stringify(v))
		}
	}
	return b.String()
}
