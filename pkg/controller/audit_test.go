package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
	ginrouter "github.com/nimburion/docrest/pkg/server/router/gin"
)

// capturedLogger keeps the messages logged at each level.
type capturedLogger struct {
	mu      sync.Mutex
	entries []string
	fields  [][]any
}

func (l *capturedLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
	l.fields = append(l.fields, args)
}

func (l *capturedLogger) Debug(msg string, args ...any)             { l.log("debug", msg, args) }
func (l *capturedLogger) Info(msg string, args ...any)              { l.log("info", msg, args) }
func (l *capturedLogger) Warn(msg string, args ...any)              { l.log("warn", msg, args) }
func (l *capturedLogger) Error(msg string, args ...any)             { l.log("error", msg, args) }
func (l *capturedLogger) With(...any) logger.Logger                 { return l }
func (l *capturedLogger) WithContext(context.Context) logger.Logger { return l }

func (l *capturedLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// blockingWriter holds every write until release is closed.
type blockingWriter struct {
	fakeWriter
	release chan struct{}
}

func (w *blockingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	<-w.release
	return w.fakeWriter.WriteMessages(ctx, msgs...)
}

func closeSink(t *testing.T, sink *KafkaAuditSink) {
	t.Helper()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func sampleRecord() AuditRecord {
	return AuditRecord{
		Resource:  "people",
		Operation: OpUpdate,
		Actor:     "alice",
		IDs:       []string{"a"},
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Before:    document.Document{"name": "Ann"},
		After:     document.Document{"name": "Anne"},
	}
}

func TestLogAuditSink(t *testing.T) {
	log := &capturedLogger{}
	NewLogAuditSink(log).Audit(context.Background(), sampleRecord())

	if !log.has("info: audit") {
		t.Fatalf("expected audit entry, got %v", log.entries)
	}
	fields := log.fields[0]
	seen := map[string]bool{}
	for i := 0; i+1 < len(fields); i += 2 {
		seen[fields[i].(string)] = true
	}
	for _, key := range []string{"resource", "operation", "actor", "ids", "before", "after"} {
		if !seen[key] {
			t.Errorf("missing field %q in %v", key, fields)
		}
	}
}

func TestKafkaAuditSink_Publishes(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaAuditSink(w, "audit", time.Second, 0, nil)
	sink.Audit(context.Background(), sampleRecord())
	closeSink(t, sink)

	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "people" {
		t.Errorf("key = %q", msg.Key)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "operation" || string(msg.Headers[0].Value) != OpUpdate {
		t.Errorf("headers = %v", msg.Headers)
	}
	var decoded AuditRecord
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Actor != "alice" || decoded.After["name"] != "Anne" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestKafkaAuditSink_CanceledRequestStillPublishes(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaAuditSink(w, "audit", time.Second, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Audit(ctx, sampleRecord())
	closeSink(t, sink)
	if len(w.messages) != 1 {
		t.Fatalf("expected the record to be published, got %d", len(w.messages))
	}
}

func TestKafkaAuditSink_FailureIsLogged(t *testing.T) {
	log := &capturedLogger{}
	sink := newKafkaAuditSink(&fakeWriter{err: errors.New("leader not available")}, "audit", time.Second, 0, log)
	sink.Audit(context.Background(), sampleRecord())
	closeSink(t, sink)
	if !log.has("error: failed to publish audit record") {
		t.Errorf("expected publish failure to be logged, got %v", log.entries)
	}
}

func TestKafkaAuditSink_ClosedDropsRecords(t *testing.T) {
	log := &capturedLogger{}
	w := &fakeWriter{}
	sink := newKafkaAuditSink(w, "audit", time.Second, 0, log)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	sink.Audit(context.Background(), sampleRecord())

	if !w.closed || len(w.messages) != 0 {
		t.Errorf("closed=%v messages=%d", w.closed, len(w.messages))
	}
	if !log.has("warn: audit record dropped, sink is closed") {
		t.Errorf("expected drop warning, got %v", log.entries)
	}
}

func TestNewKafkaAuditSink_Validation(t *testing.T) {
	if _, err := NewKafkaAuditSink(KafkaAuditConfig{Topic: "audit"}, nil); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaAuditSink(KafkaAuditConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Error("expected error without topic")
	}
	sink, err := NewKafkaAuditSink(KafkaAuditConfig{Brokers: []string{"localhost:9092"}, Topic: "audit"}, nil)
	if err != nil {
		t.Fatalf("NewKafkaAuditSink: %v", err)
	}
	if sink.timeout != 10*time.Second {
		t.Errorf("timeout = %v", sink.timeout)
	}
	_ = sink.Close()
}

func TestKafkaAuditSink_SlowBrokerDoesNotBlockAudit(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	sink := newKafkaAuditSink(w, "audit", time.Second, 0, nil)

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			sink.Audit(context.Background(), sampleRecord())
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Audit blocked on the writer")
	}

	close(w.release)
	closeSink(t, sink)
	if len(w.messages) != 3 {
		t.Errorf("expected Close to drain 3 records, got %d", len(w.messages))
	}
}

func TestKafkaAuditSink_FullQueueDropsRecords(t *testing.T) {
	log := &capturedLogger{}
	w := &blockingWriter{release: make(chan struct{})}
	sink := newKafkaAuditSink(w, "audit", time.Second, 1, log)

	// one record held by the publisher, one queued, the rest dropped
	for i := 0; i < 5; i++ {
		sink.Audit(context.Background(), sampleRecord())
	}
	close(w.release)
	closeSink(t, sink)

	if !log.has("warn: audit record dropped, queue is full") {
		t.Errorf("expected a drop warning, got %v", log.entries)
	}
	if n := len(w.messages); n < 1 || n > 2 {
		t.Errorf("published %d records", n)
	}
}

func TestCreate_SlowAuditSinkDoesNotDelayResponse(t *testing.T) {
	h := newHarness(t, Config{})
	w := &blockingWriter{release: make(chan struct{})}
	sink := newKafkaAuditSink(w, "audit", time.Second, 0, nil)
	defer func() {
		close(w.release)
		closeSink(t, sink)
	}()

	resource, err := NewResource(Config{Name: "people"}, h.model, WithAuditSink(sink))
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	r := ginrouter.NewRouter()
	router.Mount(r.Group("/api"), resource.Routes())

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/people", strings.NewReader(`{"name":"Ann"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		done <- rec.Code
	}()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("status = %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("response waited for the audit writer")
	}
}
