package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
	ginrouter "github.com/nimburion/docrest/pkg/server/router/gin"
)

const personSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "age":  {"type": "integer", "minimum": 0},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["name"]
}`

// countingExecutor records how many aggregations reached the store.
type countingExecutor struct {
	*document.MemoryExecutor
	aggregates atomic.Int32
}

func (e *countingExecutor) Aggregate(ctx context.Context, collection string, pipeline []document.Document) ([]document.Document, error) {
	e.aggregates.Add(1)
	return e.MemoryExecutor.Aggregate(ctx, collection, pipeline)
}

// auditRecorder collects audit records.
type auditRecorder struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (a *auditRecorder) Audit(_ context.Context, record AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *auditRecorder) count(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.records {
		if r.Operation == op {
			n++
		}
	}
	return n
}

func (a *auditRecorder) last() AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[len(a.records)-1]
}

// observerRecorder collects handler outcomes.
type observerRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *observerRecorder) ObserveOperation(resource, operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, resource+"."+operation+"="+outcome)
}

func (o *observerRecorder) has(entry string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.outcomes {
		if e == entry {
			return true
		}
	}
	return false
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type harness struct {
	t        *testing.T
	exec     *countingExecutor
	model    *document.Model
	resource *Resource
	router   router.Router
	audit    *auditRecorder
	observer *observerRecorder
}

func newHarness(t *testing.T, cfg Config, modelOpts ...document.ModelOption) *harness {
	t.Helper()
	schema, err := document.ParseSchema([]byte(personSchema))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	exec := &countingExecutor{MemoryExecutor: document.NewMemoryExecutor()}
	modelOpts = append([]document.ModelOption{
		document.WithClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
		document.WithRUCC(document.RUCCConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}),
	}, modelOpts...)
	model, err := document.NewModel("people", exec, schema, modelOpts...)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if cfg.Name == "" {
		cfg.Name = "people"
	}
	audit := &auditRecorder{}
	observer := &observerRecorder{}
	resource, err := NewResource(cfg, model, WithAuditSink(audit), WithOperationObserver(observer))
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	r := ginrouter.NewRouter()
	router.Mount(r.Group("/api"), resource.Routes())
	return &harness{t: t, exec: exec, model: model, resource: resource, router: r, audit: audit, observer: observer}
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) create(doc document.Document) document.Document {
	h.t.Helper()
	created, err := h.model.Create(context.Background(), doc)
	if err != nil {
		h.t.Fatalf("Create(%v): %v", doc, err)
	}
	return created
}

// stored reads a document bypassing the soft-delete scope.
func (h *harness) stored(id interface{}) (document.Document, error) {
	return h.exec.FindOne(context.Background(), "people", document.Filter{document.FieldID: id})
}

func decodeObject(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode object %q: %v", rec.Body.String(), err)
	}
	return out
}

func decodeArray(t *testing.T, rec *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode array %q: %v", rec.Body.String(), err)
	}
	return out
}

func decodeMessages(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Message
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func names(docs []map[string]interface{}) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["name"].(string)
	}
	return out
}
