package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
	"github.com/goliatone/go-taskforms/pkg/contextstore"
	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

type stubService struct {
	result    model.FormRenderingSettings
	err       error
	dynamic   bool
	target    [2]string
	engines   []*asyncvalidation.Engine
	submitted map[string]any
	outcome   asyncvalidation.Outcome
	cleared   []uint64
	// missing lists the tokens without a live context.
	missing map[uint64]bool
}

func (s *stubService) GetFormDisplayTask(_ context.Context, template, domain string, _ int64) (model.FormRenderingSettings, error) {
	s.target = [2]string{template, domain}
	return s.result, s.err
}

func (s *stubService) GetFormDisplayProcess(_ context.Context, template, domain, _ string, dynamic bool) (model.FormRenderingSettings, error) {
	s.target = [2]string{template, domain}
	s.dynamic = dynamic
	return s.result, s.err
}

func (s *stubService) Submit(_ context.Context, engine *asyncvalidation.Engine, _ model.RunType, _ uint64, values map[string]any) (asyncvalidation.Outcome, error) {
	s.engines = append(s.engines, engine)
	s.submitted = values
	return s.outcome, s.err
}

func (s *stubService) Context(token uint64) (*contextstore.RenderingContext, error) {
	if s.missing[token] {
		return nil, formerrors.NotFound("no context", nil)
	}
	return nil, nil
}

func (s *stubService) ClearContext(token uint64) {
	s.cleared = append(s.cleared, token)
}

func serve(h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return payload
}

func TestHandler_RenderTask(t *testing.T) {
	svc := &stubService{result: &model.WorkbenchFormRenderingSettings{Token: 42, DefaultForms: true}}
	h := Handler(svc, WithDefaults("sample-server", "evaluation"))

	rec := serve(h, http.MethodGet, "/tasks/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Kind string `json:"kind"`
		Data struct {
			Token        uint64 `json:"token"`
			DefaultForms bool   `json:"defaultForms"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Kind != "workbench" || payload.Data.Token != 42 || !payload.Data.DefaultForms {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if svc.target != [2]string{"sample-server", "evaluation"} {
		t.Fatalf("expected defaults applied, got %v", svc.target)
	}
}

func TestHandler_RenderProcessExternal(t *testing.T) {
	svc := &stubService{result: &model.ExternalFormRenderingSettings{URL: "jbpm/forms?processId=x"}}
	rec := serve(Handler(svc), http.MethodGet, "/processes/claims?serverTemplateId=s1&domainId=d1&dynamic=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !svc.dynamic || svc.target != [2]string{"s1", "d1"} {
		t.Fatalf("unexpected process call %v dynamic=%v", svc.target, svc.dynamic)
	}
}

func TestHandler_RenderErrors(t *testing.T) {
	cases := []struct {
		name    string
		svc     *stubService
		path    string
		status  int
		message string
	}{
		{name: "permission", svc: &stubService{err: formerrors.PermissionDenied("denied", nil)}, path: "/tasks/7", status: http.StatusForbidden, message: "No tiene permiso para acceder a este formulario"},
		{name: "missing task", svc: &stubService{err: formerrors.NotFound("no task found for id 7", nil)}, path: "/tasks/7", status: http.StatusNotFound},
		{name: "no form", svc: &stubService{}, path: "/tasks/7", status: http.StatusNotFound, message: "No se encontró un formulario para la tarea 7"},
		{name: "no process form", svc: &stubService{}, path: "/processes/approval", status: http.StatusNotFound, message: "No se encontró un formulario para el proceso approval"},
		{name: "bad id", svc: &stubService{}, path: "/tasks/abc", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(Handler(tc.svc), http.MethodGet, tc.path, "", "Accept-Language", "es-MX,es;q=0.9")
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			if tc.message != "" {
				if got := decodeError(t, rec).Error; got != tc.message {
					t.Fatalf("unexpected message %q", got)
				}
			}
		})
	}
}

func TestHandler_SubmitKeepsEnginePerToken(t *testing.T) {
	svc := &stubService{outcome: asyncvalidation.Outcome{
		State:       asyncvalidation.StateError,
		FieldErrors: map[string]string{"customer": `The value "C404" does not exist in Customer`},
	}}
	h := Handler(svc)

	rec := serve(h, http.MethodPost, "/contexts/42/complete", `{"values": {"customer": "C404", "amount": 25}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	var payload submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.State != "error" || payload.FieldErrors["customer"] == "" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if diff := cmp.Diff(map[string]any{"customer": "C404", "amount": "25"}, svc.submitted); diff != "" {
		t.Fatalf("submitted values mismatch (-want +got):\n%s", diff)
	}

	svc.outcome = asyncvalidation.Outcome{State: asyncvalidation.StateValidated}
	rec = serve(h, http.MethodPost, "/contexts/42/complete", `{"values": {"customer": "C1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(svc.engines) != 2 || svc.engines[0] != svc.engines[1] {
		t.Fatalf("expected the same engine for both attempts")
	}

	serve(h, http.MethodPost, "/contexts/42/complete", `{}`)
	if svc.engines[2] == svc.engines[1] {
		t.Fatalf("expected a fresh engine after completion")
	}
}

func TestHandler_SessionsFollowContextLifetime(t *testing.T) {
	svc := &stubService{
		outcome: asyncvalidation.Outcome{State: asyncvalidation.StateError, FieldErrors: map[string]string{"amount": "required"}},
		missing: map[uint64]bool{99: true},
	}
	h := Handler(svc).(*handler)

	if rec := serve(h, http.MethodPost, "/contexts/99/complete", `{}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if len(svc.engines) != 0 || len(h.sessions) != 0 {
		t.Fatalf("expected no engine for an unknown token, got %d sessions", len(h.sessions))
	}

	serve(h, http.MethodPost, "/contexts/42/save", `{}`)
	if len(h.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(h.sessions))
	}

	// context 42 abandoned and evicted elsewhere
	svc.missing[42] = true
	serve(h, http.MethodPost, "/contexts/43/save", `{}`)
	if _, ok := h.sessions[42]; ok || len(h.sessions) != 1 {
		t.Fatalf("expected the stale session pruned, got %v", h.sessions)
	}
}

func TestHandler_ClearAndMethods(t *testing.T) {
	svc := &stubService{}
	h := Handler(svc)

	if rec := serve(h, http.MethodDelete, "/contexts/42", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if diff := cmp.Diff([]uint64{42}, svc.cleared); diff != "" {
		t.Fatalf("cleared mismatch (-want +got):\n%s", diff)
	}
	if rec := serve(h, http.MethodPost, "/tasks/7", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/contexts/42/save", `{"values": `); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHandler_GuardRejects(t *testing.T) {
	h := Handler(&stubService{}, WithGuard(func(*http.Request) error {
		return formerrors.StatusError{Code: http.StatusUnauthorized}
	}))
	if rec := serve(h, http.MethodGet, "/tasks/7", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	if got := MountPath("admin"); got != "/admin/api/forms" {
		t.Fatalf("unexpected mount path: %q", got)
	}

	mux := http.NewServeMux()
	svc := &stubService{result: &model.ExternalFormRenderingSettings{URL: "x"}}
	pattern, err := RegisterRoutes(mux, "/admin", svc)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec := serve(mux, http.MethodGet, pattern+"/tasks/7", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if _, err := RegisterRoutes(nil, "/", svc); err == nil {
		t.Fatalf("expected missing mux error")
	}
}
