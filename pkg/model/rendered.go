package model

// RenderingKind discriminates the FormRenderingSettings variants.
type RenderingKind string

const (
	RenderingKindWorkbench RenderingKind = "workbench"
	RenderingKindExternal  RenderingKind = "external"
)

// FormRenderingSettings is the result of a render request.
type FormRenderingSettings interface {
	Kind() RenderingKind
}

// RenderingModel is the renderable snapshot of a registered rendering
// context: the form tree plus its current data and metadata.
type RenderingModel struct {
	RootForm    *FormDefinition   `json:"rootForm"`
	NestedForms []*FormDefinition `json:"nestedForms,omitempty"`
	Data        map[string]any    `json:"data"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// MetadataString returns the metadata entry for key as a string.
func (m RenderingModel) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if value, ok := m.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// WorkbenchFormRenderingSettings is an embedded render result. Token addresses
// the live rendering context in the runtime context store.
type WorkbenchFormRenderingSettings struct {
	Token        uint64         `json:"token"`
	Model        RenderingModel `json:"model"`
	DefaultForms bool           `json:"defaultForms"`
}

func (*WorkbenchFormRenderingSettings) Kind() RenderingKind { return RenderingKindWorkbench }

// ExternalFormRenderingSettings points the caller at an external rendering
// service.
type ExternalFormRenderingSettings struct {
	URL string `json:"url"`
}

func (*ExternalFormRenderingSettings) Kind() RenderingKind { return RenderingKindExternal }

// RunType is the terminal action a submit performs against a context.
type RunType string

const (
	RunTypeStart    RunType = "start"
	RunTypeClaim    RunType = "claim"
	RunTypeRelease  RunType = "release"
	RunTypeSave     RunType = "save"
	RunTypeComplete RunType = "complete"
)
