package openapivalidation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/routers"

	"github.com/nimburion/docrest/pkg/controller"
	"github.com/nimburion/docrest/pkg/middleware/testutil"
	logpkg "github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/openapi"
	"github.com/nimburion/docrest/pkg/server/router"
	ginrouter "github.com/nimburion/docrest/pkg/server/router/gin"
)

func TestSnapshotAndRestoreRequestBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "/", bytes.NewBufferString("payload"))
	body, err := snapshotAndRestoreRequestBody(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body: %s", string(body))
	}

	buf := make([]byte, 7)
	if _, err := req.Body.Read(buf); err != nil {
		t.Fatalf("expected body to be restored: %v", err)
	}
}

func TestCloneRequestForValidation(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/api/users", nil)
	clone := cloneRequestForValidation(req, nil, "/api")
	if clone.URL.Path != "/users" {
		t.Fatalf("unexpected cloned path: %s", clone.URL.Path)
	}
	if clone.Body != http.NoBody {
		t.Fatalf("expected NoBody when no payload")
	}
}

func TestOpenAPIValidationStatusCode(t *testing.T) {
	if code := openapiValidationStatusCode(nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := openapiValidationStatusCode(&routers.RouteError{Reason: routers.ErrMethodNotAllowed.Error()}); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

const itemsSpec = `openapi: 3.0.3
info:
  title: test
  version: "1.0"
paths:
  /items:
    get:
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
      responses:
        "200":
          description: ok
`

func loadItems(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(itemsSpec))
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}
	return doc
}

// serve runs one request through the middleware in front of a handler that
// records whether it was reached.
func serve(t *testing.T, doc *openapi3.T, cfg Config, log *testutil.MockLogger, method, target, body string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	var l logpkg.Logger
	if log != nil {
		l = log
	}
	mw, err := NewRequestValidationMiddleware(doc, cfg, l)
	if err != nil {
		t.Fatalf("NewRequestValidationMiddleware: %v", err)
	}
	reached := false
	handler := func(c router.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	}
	r := ginrouter.NewRouter()
	r.Use(mw)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Handle(method, req.URL.Path, handler)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, reached
}

func TestNewRequestValidationMiddleware_Errors(t *testing.T) {
	if _, err := NewRequestValidationMiddleware(nil, Config{}, nil); err == nil {
		t.Error("expected error for nil document")
	}
	if _, err := NewRequestValidationMiddleware(loadItems(t), Config{Mode: "lenient"}, nil); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestOpenAPIRequestValidation_Modes(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		method      string
		path        string
		wantStatus  int
		wantReached bool
		wantWarning bool
	}{
		{"strict valid", ValidationModeStrict, http.MethodGet, "/items?limit=5", http.StatusOK, true, false},
		{"strict bad query", ValidationModeStrict, http.MethodGet, "/items?limit=five", http.StatusBadRequest, false, false},
		{"strict unknown method", "", http.MethodPost, "/items", http.StatusMethodNotAllowed, false, false},
		{"warn-only bad query", ValidationModeWarnOnly, http.MethodGet, "/items?limit=five", http.StatusOK, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &testutil.MockLogger{}
			rec, reached := serve(t, loadItems(t), Config{Mode: tt.mode}, log, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus || reached != tt.wantReached {
				t.Fatalf("status=%d reached=%v", rec.Code, reached)
			}
			_, warned := log.Find("warn", "openapi request validation failed (warn-only)")
			if warned != tt.wantWarning {
				t.Errorf("warned = %v", warned)
			}
			if rec.Code >= http.StatusBadRequest {
				var body map[string][]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body["message"]) == 0 {
					t.Errorf("expected a message body, got %s", rec.Body.String())
				}
			}
		})
	}
}

func TestOpenAPIRequestValidation_StripAndSkipPrefix(t *testing.T) {
	rec, reached := serve(t, loadItems(t), Config{StripPrefix: "/api"}, nil, http.MethodGet, "/api/items", "")
	if rec.Code != http.StatusOK || !reached {
		t.Errorf("strip prefix: status=%d reached=%v", rec.Code, reached)
	}
	rec, reached = serve(t, loadItems(t), Config{SkipPathPrefixes: []string{"/metrics"}}, nil, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !reached {
		t.Errorf("skip prefix: status=%d reached=%v", rec.Code, reached)
	}
}

func TestOpenAPIRequestValidation_GeneratedDocument(t *testing.T) {
	schema, err := document.ParseSchema([]byte(`{
		"type": "object",
		"properties": {"title": {"type": "string"}, "pages": {"type": "integer", "minimum": 1}},
		"required": ["title"]
	}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	model, err := document.NewModel("books", document.NewMemoryExecutor(), schema)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	res, err := controller.NewResource(controller.Config{Name: "books"}, model)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	doc, err := openapi.Build(openapi.Info{}, "/api", res)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid document", `{"title":"Dune","pages":412}`, http.StatusOK},
		{"valid array", `[{"title":"Dune"},{"title":"Emma"}]`, http.StatusOK},
		{"pages below minimum", `{"title":"Dune","pages":0}`, http.StatusBadRequest},
		{"missing title", `{"pages":3}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(t, doc, Config{}, nil, http.MethodPost, "/api/books", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}
