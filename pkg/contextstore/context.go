package contextstore

import (
	"maps"

	"github.com/goliatone/go-taskforms/pkg/model"
)

// RenderingContext is a point-in-time view of a registered context. Maps
// returned by its accessors are copies; form definitions are shared with the
// store.
type RenderingContext struct {
	token            uint64
	rootForm         *model.FormDefinition
	nestedForms      []*model.FormDefinition
	data             map[string]any
	processVariables map[string]any
	marshaller       model.MarshallerContext
	params           map[string]string
	metadata         map[string]any
	attributes       map[string]any
}

func (c *RenderingContext) Token() uint64 { return c.token }

func (c *RenderingContext) RootForm() *model.FormDefinition { return c.rootForm }

func (c *RenderingContext) NestedForms() []*model.FormDefinition {
	return append([]*model.FormDefinition(nil), c.nestedForms...)
}

func (c *RenderingContext) Data() map[string]any { return maps.Clone(c.data) }

func (c *RenderingContext) ProcessVariables() map[string]any { return maps.Clone(c.processVariables) }

func (c *RenderingContext) Marshaller() model.MarshallerContext { return c.marshaller }

func (c *RenderingContext) Param(name string) string { return c.params[name] }

func (c *RenderingContext) Metadata() map[string]any { return maps.Clone(c.metadata) }

func (c *RenderingContext) Attribute(name string) any { return c.attributes[name] }

// Settings returns the rendering settings the context was built from, if any.
func (c *RenderingContext) Settings() model.RenderingSettings {
	settings, _ := c.attributes[AttributeRenderingSettings].(model.RenderingSettings)
	return settings
}

// MetadataString returns a string metadata entry.
func (c *RenderingContext) MetadataString(key string) string {
	value, _ := c.metadata[key].(string)
	return value
}

// Model returns the renderable model for the context.
func (c *RenderingContext) Model() model.RenderingModel {
	return model.RenderingModel{
		RootForm:    c.rootForm,
		NestedForms: c.NestedForms(),
		Data:        c.Data(),
		Metadata:    c.Metadata(),
	}
}

func (c RenderingContext) snapshot() *RenderingContext {
	c.nestedForms = append([]*model.FormDefinition(nil), c.nestedForms...)
	c.data = maps.Clone(c.data)
	c.processVariables = maps.Clone(c.processVariables)
	c.params = maps.Clone(c.params)
	c.metadata = maps.Clone(c.metadata)
	c.attributes = maps.Clone(c.attributes)
	return &c
}
