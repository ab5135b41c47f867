package document

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.mongodb.org/mongo-driver/bson"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *recordingObserver) ObserveRUCC(_ string, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *recordingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

// interferingExecutor lets a test run code right before each conditional write.
type interferingExecutor struct {
	*MemoryExecutor
	beforeReplace func(call int)
	calls         int
}

func (e *interferingExecutor) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	e.calls++
	if e.beforeReplace != nil {
		e.beforeReplace(e.calls)
	}
	return e.MemoryExecutor.FindOneAndReplace(ctx, collection, filter, doc)
}

var fastRetry = RUCCConfig{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func increment(field string) Transform {
	return func(_ context.Context, doc Document) (Document, error) {
		n, _ := asNumber(doc[field])
		doc[field] = int64(n) + 1
		return doc, nil
	}
}

func TestRUCC_Commits(t *testing.T) {
	observer := &recordingObserver{}
	m, _ := newTestModel(t, WithObserver(observer), WithRUCC(fastRetry))
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann", "age": 1})

	updated, err := m.RUCC(ctx, created[FieldID], increment("age"))
	if err != nil {
		t.Fatalf("RUCC: %v", err)
	}
	if updated["age"] != int64(2) || versionOf(updated) != 2 {
		t.Fatalf("unexpected result %#v", updated)
	}
	if observer.count(OutcomeCommitted) != 1 {
		t.Fatalf("expected one committed outcome, got %v", observer.outcomes)
	}
}

func TestRUCC_MissingDocument(t *testing.T) {
	observer := &recordingObserver{}
	m, _ := newTestModel(t, WithObserver(observer))
	called := false
	got, err := m.RUCC(context.Background(), "nope", func(_ context.Context, d Document) (Document, error) {
		called = true
		return d, nil
	})
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got %#v, %v", got, err)
	}
	if called {
		t.Fatal("transform must not run for a missing document")
	}
	if observer.count(OutcomeMissing) != 1 {
		t.Fatalf("expected missing outcome, got %v", observer.outcomes)
	}
}

func TestRUCC_SkipsSoftDeleted(t *testing.T) {
	m, _ := newTestModel(t)
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann"})
	created[FieldDeleted] = true
	if _, err := m.Save(ctx, created); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.RUCC(ctx, created[FieldID], increment("age"))
	if err != nil || got != nil {
		t.Fatalf("expected soft-deleted document to be invisible, got %#v, %v", got, err)
	}
}

func TestRUCC_RetriesAgainstLatestState(t *testing.T) {
	observer := &recordingObserver{}
	exec := &interferingExecutor{MemoryExecutor: NewMemoryExecutor()}
	m, err := NewModel("people", exec, mustSchema(t), WithObserver(observer), WithRUCC(fastRetry))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann", "age": 1})
	id := created[FieldID]

	exec.beforeReplace = func(call int) {
		if call != 1 {
			return
		}
		current, _ := exec.MemoryExecutor.FindOne(ctx, "people", Filter{FieldID: id})
		current["age"] = int64(10)
		current[FieldVersion] = versionOf(current) + 1
		if _, err := exec.MemoryExecutor.ReplaceOne(ctx, "people", Filter{FieldID: id}, current); err != nil {
			t.Errorf("concurrent writer: %v", err)
		}
	}

	var seen []interface{}
	updated, err := m.RUCC(ctx, id, func(ctx context.Context, doc Document) (Document, error) {
		seen = append(seen, doc["age"])
		return increment("age")(ctx, doc)
	})
	if err != nil {
		t.Fatalf("RUCC: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected transform to run twice, ran %d times", len(seen))
	}
	if updated["age"] != int64(11) {
		t.Fatalf("transform must apply to the latest state, got age=%v", updated["age"])
	}
	if versionOf(updated) != 3 {
		t.Fatalf("expected version 3, got %v", updated[FieldVersion])
	}
	if observer.count(OutcomeRetried) != 1 || observer.count(OutcomeCommitted) != 1 {
		t.Fatalf("unexpected outcomes %v", observer.outcomes)
	}
}

func TestRUCC_ConcurrentTransformsBothCommit(t *testing.T) {
	m, _ := newTestModel(t, WithRUCC(fastRetry))
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann", "tags": bson.A{}})
	id := created[FieldID]

	var ready sync.WaitGroup
	ready.Add(2)
	appendTag := func(tag string) Transform {
		var once sync.Once
		return func(_ context.Context, doc Document) (Document, error) {
			once.Do(func() {
				ready.Done()
				ready.Wait()
			})
			tags, _ := asArray(doc["tags"])
			doc["tags"] = append(bson.A(append([]interface{}(nil), tags...)), tag)
			return doc, nil
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tag := range []string{"x", "y"} {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			_, errs[i] = m.RUCC(ctx, id, appendTag(tag))
		}(i, tag)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("RUCC: %v", err)
		}
	}
	final, _ := m.FindOne(ctx, Filter{FieldID: id})
	if versionOf(final) != 3 {
		t.Fatalf("expected version 3 after two commits, got %v", final[FieldVersion])
	}
	tags, _ := asArray(final["tags"])
	if len(tags) != 2 {
		t.Fatalf("expected both transforms to be applied, got %v", tags)
	}
}

func TestRUCC_ExhaustsRetryBudget(t *testing.T) {
	observer := &recordingObserver{}
	exec := &interferingExecutor{MemoryExecutor: NewMemoryExecutor()}
	m, _ := NewModel("people", exec, mustSchema(t), WithObserver(observer),
		WithRUCC(RUCCConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann", "age": 1})
	id := created[FieldID]

	exec.beforeReplace = func(int) {
		current, _ := exec.MemoryExecutor.FindOne(ctx, "people", Filter{FieldID: id})
		current[FieldVersion] = versionOf(current) + 1
		_, _ = exec.MemoryExecutor.ReplaceOne(ctx, "people", Filter{FieldID: id}, current)
	}

	_, err := m.RUCC(ctx, id, increment("age"))
	var cme *ConcurrentModificationError
	if !errors.As(err, &cme) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
	if cme.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cme.Attempts)
	}
	if observer.count(OutcomeRetried) != 3 || observer.count(OutcomeExhausted) != 1 {
		t.Fatalf("unexpected outcomes %v", observer.outcomes)
	}
}

func TestRUCC_TransformErrorIsNotRetried(t *testing.T) {
	m, _ := newTestModel(t, WithRUCC(fastRetry))
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann"})
	boom := errors.New("boom")
	calls := 0
	_, err := m.RUCC(ctx, created[FieldID], func(context.Context, Document) (Document, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single failing call, got calls=%d err=%v", calls, err)
	}
}

func TestRUCC_NilTransformResultIsNoop(t *testing.T) {
	m, _ := newTestModel(t)
	ctx := context.Background()
	created, _ := m.Create(ctx, Document{"name": "ann"})
	got, err := m.RUCC(ctx, created[FieldID], func(context.Context, Document) (Document, error) { return nil, nil })
	if err != nil || versionOf(got) != 1 {
		t.Fatalf("expected unchanged document, got %#v, %v", got, err)
	}
}

func TestProperty_RUCCVersionMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("each committed rucc bumps version by exactly one", prop.ForAll(
		func(n int) bool {
			m, _ := newTestModel(t)
			ctx := context.Background()
			created, err := m.Create(ctx, Document{"name": "ann", "age": 0})
			if err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				doc, err := m.RUCC(ctx, created[FieldID], increment("age"))
				if err != nil || versionOf(doc) != int64(i+2) {
					return false
				}
			}
			final, err := m.FindOne(ctx, Filter{FieldID: created[FieldID]})
			return err == nil && versionOf(final) == int64(n+1) && Equal(final["age"], n)
		},
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
