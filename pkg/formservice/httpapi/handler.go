package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/messages"
	"github.com/goliatone/go-taskforms/pkg/model"
)

// FormService is the part of formservice.Service the handler drives.
type FormService interface {
	GetFormDisplayTask(ctx context.Context, serverTemplateID, domainID string, taskID int64) (model.FormRenderingSettings, error)
	GetFormDisplayProcess(ctx context.Context, serverTemplateID, domainID, processID string, dynamic bool) (model.FormRenderingSettings, error)
	Submit(ctx context.Context, engine *asyncvalidation.Engine, runType model.RunType, token uint64, values map[string]any) (asyncvalidation.Outcome, error)
	Context(token uint64) (*contextstore.RenderingContext, error)
	ClearContext(token uint64)
}

type renderResponse struct {
	Kind model.RenderingKind         `json:"kind"`
	Data model.FormRenderingSettings `json:"data"`
}

type submitRequest struct {
	Values map[string]any `json:"values"`
}

type submitResponse struct {
	State         string            `json:"state"`
	Valid         bool              `json:"valid"`
	Stale         bool              `json:"stale,omitempty"`
	RemoteChecks  int               `json:"remoteChecks"`
	FieldErrors   map[string]string `json:"fieldErrors,omitempty"`
	FieldWarnings map[string]string `json:"fieldWarnings,omitempty"`
	FormError     string            `json:"formError,omitempty"`
	Message       string            `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handler builds a net/http handler with default options plus any overrides.
func Handler(service FormService, fns ...OptionFn) http.Handler {
	return HandlerWithOptions(service, NewOptions(fns...))
}

// HandlerWithOptions builds a handler from a pre-constructed Options value.
func HandlerWithOptions(service FormService, opts Options) http.Handler {
	opts = NewOptions(func(o *Options) { *o = opts })
	return &handler{
		service:  service,
		opts:     opts,
		sessions: make(map[uint64]*asyncvalidation.Engine),
	}
}

type handler struct {
	service FormService
	opts    Options

	mu       sync.Mutex
	sessions map[uint64]*asyncvalidation.Engine
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if h.opts.Guard != nil {
		if err := h.opts.Guard(r); err != nil {
			writeGuardError(w, err)
			return
		}
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	locale := h.opts.Localizer.Match(requestLocale(r))

	switch {
	case len(segments) == 2 && segments[0] == "tasks":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.renderTask(w, r, segments[1], locale)
	case len(segments) == 2 && segments[0] == "processes":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.renderProcess(w, r, segments[1], locale)
	case len(segments) == 2 && segments[0] == "contexts":
		if !allow(w, r, http.MethodDelete) {
			return
		}
		h.clear(w, segments[1])
	case len(segments) == 3 && segments[0] == "contexts":
		if !allow(w, r, http.MethodPost) {
			return
		}
		h.submit(w, r, segments[1], model.RunType(segments[2]), locale)
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) renderTask(w http.ResponseWriter, r *http.Request, rawID, locale string) {
	taskID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || taskID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		return
	}
	template, domain := h.target(r)
	result, err := h.service.GetFormDisplayTask(r.Context(), template, domain, taskID)
	if err != nil {
		h.writeError(w, err, locale)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: h.opts.Localizer.Message(locale, messages.KeyUnableToFindFormForTask, map[string]any{"id": taskID}),
			Code:  formerrors.CodeNotFound,
		})
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{Kind: result.Kind(), Data: result})
}

func (h *handler) renderProcess(w http.ResponseWriter, r *http.Request, processID, locale string) {
	template, domain := h.target(r)
	dynamic, _ := strconv.ParseBool(r.URL.Query().Get(h.opts.DynamicParam))
	result, err := h.service.GetFormDisplayProcess(r.Context(), template, domain, processID, dynamic)
	if err != nil {
		h.writeError(w, err, locale)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: h.opts.Localizer.Message(locale, messages.KeyUnableToFindFormForProcess, map[string]any{"name": processID}),
			Code:  formerrors.CodeNotFound,
		})
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{Kind: result.Kind(), Data: result})
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request, rawToken string, runType model.RunType, locale string) {
	token, err := strconv.ParseUint(rawToken, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid context token"})
		return
	}

	var body submitRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	if _, err := h.service.Context(token); err != nil {
		h.drop(token)
		h.writeError(w, err, locale)
		return
	}
	outcome, err := h.service.Submit(r.Context(), h.session(token, locale), runType, token, normalize(body.Values))
	if err != nil {
		if formerrors.IsNotFound(err) {
			h.drop(token)
		}
		h.writeError(w, err, locale)
		return
	}

	resp := submitResponse{
		State:         outcome.State.String(),
		Valid:         outcome.Valid(),
		Stale:         outcome.Stale,
		RemoteChecks:  outcome.RemoteChecks,
		FieldErrors:   outcome.FieldErrors,
		FieldWarnings: outcome.FieldWarnings,
		FormError:     outcome.FormError,
	}
	status := http.StatusOK
	switch {
	case outcome.Stale:
		status = http.StatusConflict
	case !outcome.Valid():
		status = http.StatusUnprocessableEntity
		resp.Message = h.opts.Localizer.Message(locale, messages.KeyTaskFormErrorHeader, nil)
	default:
		resp.Message = h.successMessage(runType, token, locale)
		if runType != model.RunTypeSave {
			h.drop(token)
		}
	}
	writeJSON(w, status, resp)
}

func (h *handler) clear(w http.ResponseWriter, rawToken string) {
	token, err := strconv.ParseUint(rawToken, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid context token"})
		return
	}
	h.service.ClearContext(token)
	h.drop(token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) session(token uint64, locale string) *asyncvalidation.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	engine, ok := h.sessions[token]
	if !ok {
		h.prune()
		engine = h.opts.Engines(locale)
		h.sessions[token] = engine
	}
	return engine
}

// prune drops the engines of contexts that no longer exist. Caller holds h.mu.
func (h *handler) prune() {
	for token := range h.sessions {
		if _, err := h.service.Context(token); formerrors.IsNotFound(err) {
			delete(h.sessions, token)
		}
	}
}

func (h *handler) drop(token uint64) {
	h.mu.Lock()
	delete(h.sessions, token)
	h.mu.Unlock()
}

func (h *handler) target(r *http.Request) (string, string) {
	query := r.URL.Query()
	template := query.Get(h.opts.ServerTemplateParam)
	if template == "" {
		template = h.opts.DefaultServerTemplate
	}
	domain := query.Get(h.opts.DomainParam)
	if domain == "" {
		domain = h.opts.DefaultDomain
	}
	return template, domain
}

func (h *handler) successMessage(runType model.RunType, token uint64, locale string) string {
	args := map[string]any{"id": token}
	switch runType {
	case model.RunTypeSave:
		return h.opts.Localizer.Message(locale, messages.KeyTaskSaved, args)
	case model.RunTypeComplete:
		return h.opts.Localizer.Message(locale, messages.KeyTaskCompleted, args)
	default:
		return ""
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error, locale string) {
	var coded *formerrors.Error
	code := ""
	if errors.As(err, &coded) {
		code = coded.Code
	}
	switch {
	case formerrors.IsPermissionDenied(err):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error: h.opts.Localizer.Message(locale, messages.KeyPermissionDenied, nil),
			Code:  formerrors.CodePermissionDenied,
		})
	case formerrors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: code})
	case formerrors.IsConfiguration(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: code})
	default:
		h.opts.Logger.Error("httpapi: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError), Code: code})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(payload)
}

func writeGuardError(w http.ResponseWriter, err error) {
	code := http.StatusForbidden
	var httpErr formerrors.HTTPError
	if errors.As(err, &httpErr) && httpErr != nil {
		if c := httpErr.StatusCode(); c > 0 {
			code = c
		}
	}
	http.Error(w, http.StatusText(code), code)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

// requestLocale returns the first language range of Accept-Language.
func requestLocale(r *http.Request) string {
	if locale := r.URL.Query().Get("locale"); locale != "" {
		return locale
	}
	header := r.Header.Get("Accept-Language")
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}

// normalize turns decoded json.Number values into strings so that form
// values reach validation the way a browser would submit them.
func normalize(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case json.Number:
			out[key] = v.String()
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if n, ok := item.(json.Number); ok {
					items[i] = n.String()
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}
