// Package messages renders the user-facing form messages (validation
// failures, lookup warnings, missing forms) for a requested locale.
package messages

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// DefaultLocale is the fallback locale of catalogs built without
// WithFallback.
const DefaultLocale = "en"

// Message keys.
const (
	KeyValueNotExistInTable          = "ValueNotExistInTable"
	KeyFieldKeyMappingRequired       = "FieldKeyMappingIsRequiredToCheckExist"
	KeyFieldKeyValueMappingFormat    = "FieldKeyValueMappingFormatError"
	KeyUnexpectedError               = "UnexpectedError"
	KeyActionCheckValueExist         = "ActionCheckValueExist"
	KeyPermissionDenied              = "PermissionDenied"
	KeyUnableToFindFormForTask       = "UnableToFindFormForTask"
	KeyUnableToFindFormForProcess    = "UnableToFindFormForProcess"
	KeyUnableToCallValidationScript  = "UnableToCallValidationScript"
	KeyTaskFormErrorHeader           = "TaskFormErrorHeader"
	KeyGeneratedFormHeader           = "GeneratedFormHeader"
	KeyTaskCompleted                 = "TaskCompleted"
	KeyTaskSaved                     = "TaskSaved"
	KeyProcessStarted                = "ProcessStarted"
	KeyRequiredField                 = "RequiredField"
	KeyLocalValidationFailed         = "LocalValidationFailed"
	KeyValidationScriptRejectedInput = "ValidationScriptRejectedInput"
)

// Localizer renders a message for a locale.
type Localizer interface {
	Message(locale, key string, args map[string]any) string
}

var builtin = map[string]map[string]string{
	"en": {
		KeyValueNotExistInTable:          `The value "{{ value }}" does not exist in {{ table }}`,
		KeyFieldKeyMappingRequired:       "A key mapping is required to check that the value exists",
		KeyFieldKeyValueMappingFormat:    `The key mapping must have the form "table#attribute"`,
		KeyUnexpectedError:               "Unexpected error: {{ message }}",
		KeyActionCheckValueExist:         "checking that the value exists",
		KeyPermissionDenied:              "You do not have permission to access this form",
		KeyUnableToFindFormForTask:       "Unable to find a form for task {{ id }}",
		KeyUnableToFindFormForProcess:    "Unable to find a form for process {{ name }}",
		KeyUnableToCallValidationScript:  "Unable to call the form validation script",
		KeyTaskFormErrorHeader:           "The form could not be submitted",
		KeyGeneratedFormHeader:           "This form was generated from the task variables",
		KeyTaskCompleted:                 "Task {{ id }} completed",
		KeyTaskSaved:                     "Task {{ id }} saved",
		KeyProcessStarted:                "Process instance {{ id }} started",
		KeyRequiredField:                 "This field is required",
		KeyLocalValidationFailed:         "{{ field }}: {{ message }}",
		KeyValidationScriptRejectedInput: "{{ message }}",
	},
	"es": {
		KeyValueNotExistInTable:          `El valor "{{ value }}" no existe en {{ table }}`,
		KeyFieldKeyMappingRequired:       "Se requiere un mapeo de clave para comprobar que el valor existe",
		KeyFieldKeyValueMappingFormat:    `El mapeo de clave debe tener la forma "tabla#atributo"`,
		KeyUnexpectedError:               "Error inesperado: {{ message }}",
		KeyActionCheckValueExist:         "comprobando que el valor existe",
		KeyPermissionDenied:              "No tiene permiso para acceder a este formulario",
		KeyUnableToFindFormForTask:       "No se encontró un formulario para la tarea {{ id }}",
		KeyUnableToFindFormForProcess:    "No se encontró un formulario para el proceso {{ name }}",
		KeyUnableToCallValidationScript:  "No se pudo ejecutar el script de validación del formulario",
		KeyTaskFormErrorHeader:           "No se pudo enviar el formulario",
		KeyGeneratedFormHeader:           "Este formulario se generó a partir de las variables de la tarea",
		KeyTaskCompleted:                 "Tarea {{ id }} completada",
		KeyTaskSaved:                     "Tarea {{ id }} guardada",
		KeyProcessStarted:                "Instancia de proceso {{ id }} iniciada",
		KeyRequiredField:                 "Este campo es obligatorio",
		KeyLocalValidationFailed:         "{{ field }}: {{ message }}",
		KeyValidationScriptRejectedInput: "{{ message }}",
	},
}

// Option customises a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used to report template failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFallback sets the locale used when no bundle matches. Defaults to
// DefaultLocale.
func WithFallback(locale string) Option {
	return func(c *Catalog) {
		c.fallback = strings.TrimSpace(locale)
	}
}

// Catalog holds compiled message templates per locale.
type Catalog struct {
	fallback  string
	locales   []string
	matcher   language.Matcher
	templates map[string]map[string]*pongo2.Template
	logger    *zap.Logger
}

// NewCatalog compiles the bundles (locale → key → template). Templates use
// pongo2 syntax and render as plain text.
func NewCatalog(bundles map[string]map[string]string, options ...Option) (*Catalog, error) {
	c := &Catalog{
		fallback:  DefaultLocale,
		templates: make(map[string]map[string]*pongo2.Template, len(bundles)),
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}

	for locale, bundle := range bundles {
		compiled := make(map[string]*pongo2.Template, len(bundle))
		for key, source := range bundle {
			tpl, err := pongo2.FromString("{% autoescape off %}" + source + "{% endautoescape %}")
			if err != nil {
				return nil, fmt.Errorf("messages: compile %s/%s: %w", locale, key, err)
			}
			compiled[key] = tpl
		}
		c.templates[locale] = compiled
		c.locales = append(c.locales, locale)
	}
	if _, ok := c.templates[c.fallback]; !ok {
		return nil, fmt.Errorf("messages: fallback locale %q has no bundle", c.fallback)
	}

	// The fallback goes first so unmatched requests resolve to it.
	sort.Slice(c.locales, func(i, j int) bool {
		if c.locales[i] == c.fallback || c.locales[j] == c.fallback {
			return c.locales[i] == c.fallback
		}
		return c.locales[i] < c.locales[j]
	})
	tags := make([]language.Tag, 0, len(c.locales))
	for _, locale := range c.locales {
		tags = append(tags, language.Make(locale))
	}
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog of built-in English and Spanish messages.
func Default() *Catalog {
	defaultOnce.Do(func() {
		catalog, err := NewCatalog(builtin)
		if err != nil {
			panic(err)
		}
		defaultCatalog = catalog
	})
	return defaultCatalog
}

// Locales lists the available locales, fallback first.
func (c *Catalog) Locales() []string {
	return append([]string(nil), c.locales...)
}

// Match returns the available locale closest to the requested one.
func (c *Catalog) Match(locale string) string {
	if strings.TrimSpace(locale) == "" {
		return c.fallback
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return c.fallback
	}
	_, idx, confidence := c.matcher.Match(tag)
	if confidence == language.No || idx < 0 || idx >= len(c.locales) {
		return c.fallback
	}
	return c.locales[idx]
}

// Message renders key for locale. Missing keys fall back to the fallback
// locale and finally to the key itself.
func (c *Catalog) Message(locale, key string, args map[string]any) string {
	tpl := c.lookup(c.Match(locale), key)
	if tpl == nil {
		return key
	}
	out, err := tpl.Execute(pongo2.Context(args))
	if err != nil {
		c.logger.Warn("messages: render failed",
			zap.String("locale", locale),
			zap.String("key", key),
			zap.Error(err))
		return key
	}
	return out
}

func (c *Catalog) lookup(locale, key string) *pongo2.Template {
	if tpl := c.templates[locale][key]; tpl != nil {
		return tpl
	}
	return c.templates[c.fallback][key]
}

// ValueNotExistInTable is the error shown when a remote existence check fails.
func ValueNotExistInTable(l Localizer, locale string, value any, table string) string {
	return l.Message(locale, KeyValueNotExistInTable, map[string]any{"value": fmt.Sprint(value), "table": table})
}

// UnexpectedError wraps an action description into the unexpected error
// warning.
func UnexpectedError(l Localizer, locale, message string) string {
	return l.Message(locale, KeyUnexpectedError, map[string]any{"message": message})
}
