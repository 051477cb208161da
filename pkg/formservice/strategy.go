package formservice

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"strconv"

	"github.com/flosch/pongo2/v6"
	"github.com/google/uuid"
	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/provider"
)

// DefaultExternalURLTemplate points at the process engine's own form renderer.
// Template variables are query-escaped before rendering.
const DefaultExternalURLTemplate = "jbpm/forms?containerId={{ domain }}&serverTemplateId={{ template }}" +
	"{% if taskId %}&taskId={{ taskId }}{% elif caseDefId %}&caseDefId={{ caseDefId }}{% else %}&processId={{ processId }}{% endif %}"

// strategy renders task and process forms. It is chosen once when the service
// is built.
type strategy interface {
	displayTask(ctx context.Context, serverTemplateID, domainID string, taskID int64) (model.FormRenderingSettings, error)
	displayProcess(ctx context.Context, serverTemplateID, domainID, processID string, dynamic bool) (model.FormRenderingSettings, error)
}

type externalStrategy struct {
	tpl    *pongo2.Template
	logger *zap.Logger
}

func newExternalStrategy(source string, logger *zap.Logger) (*externalStrategy, error) {
	if source == "" {
		source = DefaultExternalURLTemplate
	}
	tpl, err := pongo2.FromString("{% autoescape off %}" + source + "{% endautoescape %}")
	if err != nil {
		return nil, formerrors.Configuration("formservice: compile external renderer url", err)
	}
	return &externalStrategy{tpl: tpl, logger: logger}, nil
}

func (s *externalStrategy) displayTask(_ context.Context, serverTemplateID, domainID string, taskID int64) (model.FormRenderingSettings, error) {
	return s.render(pongo2.Context{
		"template": url.QueryEscape(serverTemplateID),
		"domain":   url.QueryEscape(domainID),
		"taskId":   strconv.FormatInt(taskID, 10),
	}), nil
}

func (s *externalStrategy) displayProcess(_ context.Context, serverTemplateID, domainID, processID string, dynamic bool) (model.FormRenderingSettings, error) {
	vars := pongo2.Context{
		"template": url.QueryEscape(serverTemplateID),
		"domain":   url.QueryEscape(domainID),
	}
	if dynamic {
		vars["caseDefId"] = url.QueryEscape(processID)
	} else {
		vars["processId"] = url.QueryEscape(processID)
	}
	return s.render(vars), nil
}

func (s *externalStrategy) render(vars pongo2.Context) model.FormRenderingSettings {
	out, err := s.tpl.Execute(vars)
	if err != nil {
		s.logger.Debug("formservice: unable to render external form url", zap.Error(err))
		return nil
	}
	return &model.ExternalFormRenderingSettings{URL: out}
}

type embeddedStrategy struct {
	data       DataClient
	documents  DocumentResolver
	forms      RawFormSource
	chain      *provider.Chain
	marshaller model.MarshallerContext
	logger     *zap.Logger
}

func (s *embeddedStrategy) displayTask(ctx context.Context, serverTemplateID, domainID string, taskID int64) (model.FormRenderingSettings, error) {
	logger := s.logger.With(zap.Int64("task", taskID), zap.String("domain", domainID))

	snapshot, err := s.data.GetTask(ctx, domainID, taskID)
	if err != nil {
		if fatal := hardFailure(err); fatal != nil {
			return nil, fatal
		}
		if formerrors.IsNotFound(err) {
			return nil, err
		}
		logger.Debug("formservice: unable to fetch task", zap.Error(err))
		return nil, nil
	}
	if snapshot == nil {
		return nil, formerrors.NotFound(fmt.Sprintf("formservice: no task found for id %d", taskID), nil)
	}

	task := model.TaskDefinition{
		ID:                snapshot.ID,
		Name:              snapshot.Name,
		Description:       snapshot.Description,
		FormName:          snapshot.FormName,
		DeploymentID:      RegistrationKey(serverTemplateID, domainID),
		ProcessID:         snapshot.ProcessID,
		ProcessInstanceID: snapshot.ProcessInstanceID,
		Status:            snapshot.Status,
	}

	inputDefs, err := s.data.GetTaskInputDefinitions(ctx, domainID, snapshot.ProcessID, snapshot.Name)
	if err != nil {
		return s.degrade(logger, "input definitions", err)
	}
	outputDefs, err := s.data.GetTaskOutputDefinitions(ctx, domainID, snapshot.ProcessID, snapshot.Name)
	if err != nil {
		return s.degrade(logger, "output definitions", err)
	}
	task.TaskInputDefinitions = inputDefs
	task.TaskOutputDefinitions = outputDefs

	nodeMetadata, err := s.data.GetActiveNodeMetadata(ctx, domainID, snapshot.ProcessInstanceID, snapshot.WorkItemID)
	if err != nil {
		if fatal := hardFailure(err); fatal != nil {
			return nil, fatal
		}
		logger.Debug("formservice: unable to fetch active node metadata", zap.Error(err))
	}

	inputs, err := s.linkDocuments(ctx, maps.Clone(snapshot.InputData))
	if err != nil {
		return nil, err
	}
	s.convert(inputDefs, inputs)
	outputs, err := s.linkDocuments(ctx, maps.Clone(snapshot.OutputData))
	if err != nil {
		return nil, err
	}
	task.OutputIncluded = len(outputs) > 0

	vars, err := s.data.GetProcessInstanceVariables(ctx, domainID, snapshot.ProcessInstanceID)
	if err != nil {
		logger.Debug("formservice: unable to fetch process instance variables", zap.Error(err))
		vars = nil
	}

	newSettings := func(content string) *model.TaskRenderingSettings {
		settings := model.NewTaskRenderingSettings(task, inputs, outputs, serverTemplateID, content, s.marshaller)
		maps.Copy(settings.RenderingMetadata(), nodeMetadata)
		if vars != nil {
			settings.SetProcessInstanceVariables(vars)
		}
		return settings
	}

	content, err := s.forms.GetTaskRawForm(ctx, domainID, taskID)
	if err != nil {
		if fatal := hardFailure(err); fatal != nil {
			return nil, fatal
		}
		logger.Debug("formservice: unable to fetch task form", zap.Error(err))
		return s.chain.RenderDefault(ctx, newSettings("")), nil
	}
	return s.chain.Render(ctx, newSettings(content)), nil
}

func (s *embeddedStrategy) displayProcess(ctx context.Context, serverTemplateID, domainID, processID string, _ bool) (model.FormRenderingSettings, error) {
	logger := s.logger.With(zap.String("process", processID), zap.String("domain", domainID))

	snapshot, err := s.data.GetProcessDefinition(ctx, domainID, processID)
	if err != nil {
		if fatal := hardFailure(err); fatal != nil {
			return nil, fatal
		}
		logger.Debug("formservice: unable to fetch process definition", zap.Error(err))
	}
	if snapshot == nil {
		snapshot = &ProcessSnapshot{ID: processID, Name: processID}
	}
	containerID := snapshot.ContainerID
	if containerID == "" {
		containerID = domainID
	}

	process := model.ProcessDefinition{
		ID:           snapshot.ID,
		Name:         snapshot.Name,
		PackageName:  snapshot.PackageName,
		DeploymentID: RegistrationKey(serverTemplateID, containerID),
	}
	variables := maps.Clone(snapshot.Variables)

	content, err := s.forms.GetProcessRawForm(ctx, domainID, processID)
	if err != nil {
		if fatal := hardFailure(err); fatal != nil {
			return nil, fatal
		}
		logger.Debug("formservice: unable to fetch process form", zap.Error(err))
		content = ""
	}

	settings := model.NewProcessRenderingSettings(process, variables, serverTemplateID, content, s.marshaller)
	if content == "" {
		return s.chain.RenderDefault(ctx, settings), nil
	}
	return s.chain.Render(ctx, settings), nil
}

func (s *embeddedStrategy) degrade(logger *zap.Logger, what string, err error) (model.FormRenderingSettings, error) {
	if fatal := hardFailure(err); fatal != nil {
		return nil, fatal
	}
	logger.Debug("formservice: unable to fetch "+what, zap.Error(err))
	return nil, nil
}

// linkDocuments fills in the download link of document values.
func (s *embeddedStrategy) linkDocuments(ctx context.Context, data map[string]any) (map[string]any, error) {
	if len(data) == 0 || s.documents == nil {
		return data, nil
	}
	for key, value := range data {
		var doc *model.Document
		switch v := value.(type) {
		case model.Document:
			doc = &v
		case *model.Document:
			if v == nil {
				continue
			}
			copied := *v
			doc = &copied
		default:
			continue
		}
		link, err := s.documents.ResolveLink(ctx, doc.Identifier)
		if err != nil {
			if fatal := hardFailure(err); fatal != nil {
				return nil, fatal
			}
			s.logger.Debug("formservice: unable to resolve document link",
				zap.String("document", doc.Identifier), zap.Error(err))
			continue
		}
		doc.Link = link
		data[key] = *doc
	}
	return data, nil
}

// convert rehydrates string inputs into the types declared by the task input
// definitions. Values that fail to convert are kept as delivered.
func (s *embeddedStrategy) convert(definitions map[string]string, inputs map[string]any) {
	for key, typeName := range definitions {
		value, ok := inputs[key]
		if !ok {
			continue
		}
		if _, isString := value.(string); !isString {
			continue
		}
		converted, err := s.marshaller.Rehydrate(typeName, value)
		if err != nil {
			s.logger.Debug("formservice: keeping unconverted input", zap.String("input", key), zap.Error(err))
			continue
		}
		inputs[key] = converted
	}
}

// RegistrationKey identifies one render of a task or process:
// <serverTemplateID>@<domainID>@<random id>.
func RegistrationKey(serverTemplateID, domainID string) string {
	return serverTemplateID + "@" + domainID + "@" + uuid.NewString()
}

// hardFailure returns the error the caller must see for err, or nil when the
// failure may degrade.
func hardFailure(err error) error {
	switch {
	case err == nil:
		return nil
	case formerrors.IsAuthFailure(err), formerrors.IsPermissionDenied(err):
		return formerrors.PermissionDenied("formservice: permission denied", err)
	default:
		return nil
	}
}
