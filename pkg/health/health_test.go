package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistry_Check(t *testing.T) {
	tests := []struct {
		name    string
		checks  map[string]error
		healthy bool
	}{
		{"empty", nil, true},
		{"all healthy", map[string]error{"mongodb": nil, "kafka": nil}, true},
		{"one failing", map[string]error{"mongodb": errors.New("no reachable servers"), "kafka": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, err := range tt.checks {
				r.Register(NewAdapterChecker(name, CheckFunc(func(context.Context) error { return err }), time.Second))
			}
			got := r.Check(context.Background())
			if got.IsHealthy() != tt.healthy {
				t.Errorf("healthy = %v, want %v (%+v)", got.IsHealthy(), tt.healthy, got)
			}
			if len(got.Checks) != len(tt.checks) {
				t.Fatalf("expected %d results, got %d", len(tt.checks), len(got.Checks))
			}
			for i := 1; i < len(got.Checks); i++ {
				if got.Checks[i-1].Name > got.Checks[i].Name {
					t.Errorf("results are not ordered: %+v", got.Checks)
				}
			}
		})
	}
}

func TestAdapterChecker_ReportsError(t *testing.T) {
	c := NewAdapterChecker("mongodb", CheckFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), 0)
	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy || res.Error != "connection refused" {
		t.Errorf("result = %+v", res)
	}
	if c.timeout != 5*time.Second {
		t.Errorf("default timeout = %v", c.timeout)
	}
}

func TestAdapterChecker_Timeout(t *testing.T) {
	c := NewAdapterChecker("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 20*time.Millisecond)
	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Errorf("expected timeout to be unhealthy, got %+v", res)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAdapterChecker("db", CheckFunc(func(context.Context) error { return errors.New("down") }), time.Second))
	r.Register(NewAdapterChecker("db", CheckFunc(func(context.Context) error { return nil }), time.Second))
	got := r.Check(context.Background())
	if !got.IsHealthy() || len(got.Checks) != 1 {
		t.Errorf("result = %+v", got)
	}
}
