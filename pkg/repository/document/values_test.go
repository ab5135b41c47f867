package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestEqual(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{name: "numbers across types", a: int32(3), b: float64(3), want: true},
		{name: "different numbers", a: 3, b: 4, want: false},
		{name: "documents ignore key order", a: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}, b: bson.M{"b": 2, "a": 1}, want: true},
		{name: "arrays are ordered", a: bson.A{1, 2}, b: []interface{}{2, 1}, want: false},
		{name: "time and datetime", a: now, b: primitive.NewDateTimeFromTime(now), want: true},
		{name: "nil vs value", a: nil, b: 0, want: false},
		{name: "strings", a: "x", b: "x", want: true},
		{name: "missing key", a: bson.M{"a": 1}, b: bson.M{"a": 1, "b": nil}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Fatalf("Equal(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Document{
		"name":    "ann",
		"tags":    bson.A{"a", "b", "c"},
		"address": bson.M{"city": "Rome", "zip": "00100"},
	}
	patch := Document{
		"tags":    []interface{}{"z"},
		"address": map[string]interface{}{"city": "Milan"},
		"age":     30,
	}

	got := Merge(base, patch)

	if !Equal(got["tags"], bson.A{"z"}) {
		t.Errorf("arrays must be replaced wholesale, got %#v", got["tags"])
	}
	if !Equal(got["address"], bson.M{"city": "Milan", "zip": "00100"}) {
		t.Errorf("documents must be deep merged, got %#v", got["address"])
	}
	if got["name"] != "ann" || got["age"] != 30 {
		t.Errorf("unexpected scalars %#v", got)
	}
	if !Equal(base["address"], bson.M{"city": "Rome", "zip": "00100"}) {
		t.Error("Merge must not mutate base")
	}
	if !Equal(Merge(base, Document{"name": "ann"}), base) {
		t.Error("merging an identical value must produce an equal document")
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := Document{"nested": bson.M{"list": bson.A{bson.M{"v": 1}}}}
	clone := Clone(doc)
	clone["nested"].(bson.M)["list"].(bson.A)[0].(bson.M)["v"] = 2
	if got, _ := lookupPath(doc, "nested.list.0.v"); got != 1 {
		t.Fatalf("original changed through clone: %#v", got)
	}
}

func TestParseIDAndIDString(t *testing.T) {
	oid := primitive.NewObjectID()
	if ParseID(oid.Hex()) != oid {
		t.Error("expected hex id to become an ObjectID")
	}
	if ParseID("plain") != "plain" {
		t.Error("expected non hex id to stay a string")
	}
	if IDString(oid) != oid.Hex() || IDString(7) != "7" || IDString(nil) != "" {
		t.Error("unexpected IDString rendering")
	}
}

func TestSnapshotFilter(t *testing.T) {
	exec := NewMemoryExecutor()
	ctx := context.Background()
	doc := Document{
		FieldID:   "s1",
		"name":    "ann",
		"empty":   bson.M{},
		"profile": bson.M{"city": "Rome", "langs": bson.A{"it", "en"}},
		"note":    nil,
		"version": int64(1),
	}
	if _, err := exec.InsertOne(ctx, "people", doc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	filter := SnapshotFilter(doc)
	if _, err := exec.FindOne(ctx, "people", filter); err != nil {
		t.Fatalf("fresh snapshot must match: %v", err)
	}

	reordered := Document{
		FieldID:   "s1",
		"version": int64(1),
		"note":    nil,
		"profile": bson.D{{Key: "langs", Value: bson.A{"it", "en"}}, {Key: "city", Value: "Rome"}},
		"empty":   bson.M{},
		"name":    "ann",
	}
	if _, err := exec.FindOne(ctx, "people", SnapshotFilter(reordered)); err != nil {
		t.Fatalf("key order inside embedded documents must not matter: %v", err)
	}

	mutations := []Document{
		{"name": "bob"},
		{"profile": bson.M{"city": "Rome", "langs": bson.A{"it"}}},
		{"profile": bson.M{"city": "Rome", "langs": bson.A{"it", "en", "fr"}}},
		{"version": int64(2)},
	}
	for _, change := range mutations {
		next := Merge(doc, change)
		if _, err := exec.ReplaceOne(ctx, "people", Filter{FieldID: "s1"}, next); err != nil {
			t.Fatalf("replace: %v", err)
		}
		if _, err := exec.FindOne(ctx, "people", filter); !errors.Is(err, ErrNotFound) {
			t.Errorf("stale snapshot matched after %v: err=%v", change, err)
		}
		if _, err := exec.ReplaceOne(ctx, "people", Filter{FieldID: "s1"}, doc); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
}

func TestCheckPipeline(t *testing.T) {
	tests := []struct {
		name     string
		pipeline []Document
		wantOp   string
	}{
		{name: "plain match", pipeline: []Document{{"$match": bson.M{"a": 1}}, {"$limit": 5}}},
		{name: "top level lookup", pipeline: []Document{{"$lookup": bson.M{"from": "users"}}}, wantOp: "$lookup"},
		{name: "nested in facet", pipeline: []Document{{"$facet": bson.M{"x": bson.A{bson.M{"$out": "copy"}}}}}, wantOp: "$out"},
		{name: "where inside match", pipeline: []Document{{"$match": bson.M{"$or": bson.A{bson.M{"$where": "1"}}}}}, wantOp: "$where"},
		{name: "ordered stage", pipeline: []Document{{"$group": bson.D{{Key: "acc", Value: bson.M{"$accumulator": bson.M{}}}}}}, wantOp: "$accumulator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPipeline(tt.pipeline)
			if tt.wantOp == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var restricted *RestrictedOperatorError
			if !errors.As(err, &restricted) {
				t.Fatalf("expected RestrictedOperatorError, got %v", err)
			}
			if restricted.Operator != tt.wantOp || err.Error() != tt.wantOp+" is restricted." {
				t.Fatalf("unexpected error %q", err.Error())
			}
		})
	}
}
