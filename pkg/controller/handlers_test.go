package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
	ginrouter "github.com/nimburion/docrest/pkg/server/router/gin"
)

func listPath(values url.Values) string {
	return "/api/people?" + values.Encode()
}

func seedPeople(h *harness, n int) {
	for i := 1; i <= n; i++ {
		h.create(document.Document{"name": fmt.Sprintf("p%02d", i), "age": i})
	}
}

func TestCreateThenShow(t *testing.T) {
	h := newHarness(t, Config{})

	rec := h.do(http.MethodPost, "/api/people", `{"name":"Ann","age":30}`, "X-User", "alice")
	expectStatus(t, rec, http.StatusOK)
	created := decodeObject(t, rec)
	id, _ := created["_id"].(string)
	if id == "" {
		t.Fatalf("expected an id, got %v", created["_id"])
	}

	rec = h.do(http.MethodGet, "/api/people/"+id, "")
	expectStatus(t, rec, http.StatusOK)
	shown := decodeObject(t, rec)
	if shown["version"] != float64(1) {
		t.Errorf("expected version 1, got %v", shown["version"])
	}
	if shown["deleted"] != false {
		t.Errorf("expected deleted=false, got %v", shown["deleted"])
	}
	if shown["createdAt"] == nil || shown["createdAt"] != shown["lastUpdated"] {
		t.Errorf("expected createdAt == lastUpdated, got %v / %v", shown["createdAt"], shown["lastUpdated"])
	}

	if h.audit.count(OpCreate) != 1 {
		t.Fatalf("expected one create audit record, got %d", h.audit.count(OpCreate))
	}
	record := h.audit.last()
	if record.Actor != "alice" || record.Resource != "people" || !reflect.DeepEqual(record.IDs, []string{id}) {
		t.Errorf("unexpected audit record %+v", record)
	}
}

func TestCreate_ActorFromContextWinsOverHeader(t *testing.T) {
	h := newHarness(t, Config{UserField: "principal"})
	authenticate := func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			c.Set("principal", "bob")
			return next(c)
		}
	}
	r := ginrouter.NewRouter()
	router.Mount(r.Group("/api"), h.resource.Routes(authenticate))
	h.router = r

	rec := h.do(http.MethodPost, "/api/people", `{"name":"Ann"}`, "X-User", "from-header")
	expectStatus(t, rec, http.StatusOK)
	if got := h.audit.last().Actor; got != "bob" {
		t.Errorf("expected authenticated user, got %q", got)
	}
}

func TestShow_NotFound(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(http.MethodGet, "/api/people/507f1f77bcf86cd799439011", "")
	expectStatus(t, rec, http.StatusNotFound)
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
	if !h.observer.has("people.show=not_found") {
		t.Errorf("expected not_found outcome, got %v", h.observer.outcomes)
	}
}

func TestIndex_PaginationDefaultsToNewestFirst(t *testing.T) {
	h := newHarness(t, Config{})
	seedPeople(h, 25)

	rec := h.do(http.MethodGet, listPath(url.Values{"page": {"2"}, "count": {"10"}}), "")
	expectStatus(t, rec, http.StatusOK)
	docs := decodeArray(t, rec)

	var want []string
	for i := 15; i >= 6; i-- {
		want = append(want, fmt.Sprintf("p%02d", i))
	}
	if got := names(docs); !reflect.DeepEqual(got, want) {
		t.Fatalf("page 2 = %v, want %v", got, want)
	}
}

func TestIndex_Options(t *testing.T) {
	h := newHarness(t, Config{})
	seedPeople(h, 25)

	tests := []struct {
		name   string
		values url.Values
		want   []string
	}{
		{name: "default page size", values: url.Values{"sort": {"age"}}, want: seq(1, 20)},
		{name: "no limit", values: url.Values{"count": {"-1"}, "sort": {"age"}}, want: seq(1, 25)},
		{name: "ascending", values: url.Values{"sort": {"age"}, "count": {"3"}}, want: []string{"p01", "p02", "p03"}},
		{name: "descending", values: url.Values{"sort": {"-age"}, "count": {"3"}}, want: []string{"p25", "p24", "p23"}},
		{name: "filter", values: url.Values{"filter": {`{"age":{"$lte":2}}`}, "sort": {"age"}}, want: []string{"p01", "p02"}},
		{name: "page past the end", values: url.Values{"page": {"4"}, "count": {"10"}}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodGet, listPath(tt.values), "")
			expectStatus(t, rec, http.StatusOK)
			if got := names(decodeArray(t, rec)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func seq(from, to int) []string {
	out := []string{}
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("p%02d", i))
	}
	return out
}

func TestIndex_SelectIsUnionedWithConfig(t *testing.T) {
	h := newHarness(t, Config{Select: []string{"age"}})
	seedPeople(h, 1)

	rec := h.do(http.MethodGet, listPath(url.Values{"select": {"name"}}), "")
	expectStatus(t, rec, http.StatusOK)
	docs := decodeArray(t, rec)
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	keys := make([]string, 0, len(docs[0]))
	for k := range docs[0] {
		keys = append(keys, k)
	}
	if len(keys) != 3 || docs[0]["name"] != "p01" || docs[0]["age"] != float64(1) || docs[0]["_id"] == nil {
		t.Errorf("expected _id, name and age only, got %v", docs[0])
	}
}

func TestIndex_MetaEnvelope(t *testing.T) {
	h := newHarness(t, Config{})
	seedPeople(h, 25)

	rec := h.do(http.MethodGet, listPath(url.Values{
		"meta":   {"true"},
		"count":  {"2"},
		"filter": {`{"age":{"$gt":20}}`},
	}), "")
	expectStatus(t, rec, http.StatusOK)
	body := decodeObject(t, rec)
	meta, _ := body["meta"].(map[string]interface{})
	want := map[string]interface{}{"page": float64(1), "count": float64(2), "matched": float64(5), "totalCount": float64(25)}
	if !reflect.DeepEqual(meta, want) {
		t.Errorf("meta = %v, want %v", meta, want)
	}
	if data, _ := body["data"].([]interface{}); len(data) != 2 {
		t.Errorf("expected 2 documents, got %v", body["data"])
	}
}

func TestCount_FilterNormalization(t *testing.T) {
	h := newHarness(t, Config{})
	for _, name := range []string{"Alice", "alfred", "Bob"} {
		h.create(document.Document{"name": name})
	}

	tests := []struct {
		filter string
		want   string
	}{
		{filter: "", want: "3"},
		{filter: `{"name":"/^al/"}`, want: "2"},
		{filter: `{"name":"al"}`, want: "0"},
		{filter: `{"name":{"$in":["/bob/","Alice"]}}`, want: "2"},
		{filter: `{"name":"//"}`, want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			rec := h.do(http.MethodGet, "/api/people/count?"+url.Values{"filter": {tt.filter}}.Encode(), "")
			expectStatus(t, rec, http.StatusOK)
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("count = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCount_MalformedFilterIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	seedPeople(h, 3)

	rec := h.do(http.MethodGet, "/api/people/count?"+url.Values{"filter": {"{bad"}}.Encode(), "")
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeMessages(t, rec); !reflect.DeepEqual(got, []string{"filter is not valid JSON"}) {
		t.Errorf("messages = %v", got)
	}
}

func TestCount_DefaultFilterAndOmit(t *testing.T) {
	h := newHarness(t, Config{
		DefaultFilter: document.Filter{"age": document.Filter{"$gte": 10}},
		Omit:          []string{"secret"},
	})
	seedPeople(h, 12)

	rec := h.do(http.MethodGet, "/api/people/count?"+url.Values{"filter": {`{"secret":"x"}`}}.Encode(), "")
	expectStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != "3" {
		t.Errorf("count = %s, want 3", got)
	}
}

func TestCount_Search(t *testing.T) {
	h := newHarness(t, Config{}, document.WithTextIndex("name"))
	if err := h.model.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	for _, name := range []string{"Alice Smith", "Bob Stone"} {
		h.create(document.Document{"name": name})
	}
	rec := h.do(http.MethodGet, "/api/people/count?search=smith", "")
	expectStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
}

func TestCount_SearchWithoutTextIndex(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(http.MethodGet, "/api/people/count?search=x", "")
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeMessages(t, rec); len(got) != 1 || !strings.Contains(got[0], "search is not enabled") {
		t.Errorf("messages = %v", got)
	}
}

func TestUpdate_NoOpSkipsWrite(t *testing.T) {
	h := newHarness(t, Config{})
	doc := h.create(document.Document{"_id": "a", "name": "Ann", "tags": []interface{}{"x"}})

	rec := h.do(http.MethodPut, "/api/people/a", `{"name":"Ann","tags":["x"],"_id":"other"}`)
	expectStatus(t, rec, http.StatusOK)

	stored, err := h.stored("a")
	if err != nil {
		t.Fatalf("stored: %v", err)
	}
	if !document.Equal(stored[document.FieldVersion], 1) {
		t.Errorf("expected version 1, got %v", stored[document.FieldVersion])
	}
	if !document.Equal(stored[document.FieldLastUpdated], doc[document.FieldLastUpdated]) {
		t.Errorf("expected lastUpdated unchanged, got %v", stored[document.FieldLastUpdated])
	}
	if n := h.audit.count(OpUpdate); n != 0 {
		t.Errorf("expected no audit record, got %d", n)
	}
	if !h.observer.has("people.update=noop") {
		t.Errorf("expected noop outcome, got %v", h.observer.outcomes)
	}
}

func TestUpdate_ReplacesArraysAndBumpsVersion(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann", "tags": []interface{}{"x", "y"}})

	rec := h.do(http.MethodPut, "/api/people/a", `{"tags":["z"],"_id":"b","version":99,"createdAt":"1999-01-01T00:00:00Z"}`)
	expectStatus(t, rec, http.StatusOK)
	updated := decodeObject(t, rec)
	if updated["_id"] != "a" || updated["name"] != "Ann" {
		t.Errorf("identity or untouched fields changed: %v", updated)
	}
	if !reflect.DeepEqual(updated["tags"], []interface{}{"z"}) {
		t.Errorf("expected tags replaced wholesale, got %v", updated["tags"])
	}
	if updated["version"] != float64(2) {
		t.Errorf("expected version 2, got %v", updated["version"])
	}
	if updated["createdAt"] == "1999-01-01T00:00:00Z" || updated["lastUpdated"] == updated["createdAt"] {
		t.Errorf("unexpected metadata %v / %v", updated["createdAt"], updated["lastUpdated"])
	}
	if _, err := h.stored("b"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected no document with the payload _id, got %v", err)
	}

	record := h.audit.last()
	if record.Operation != OpUpdate || record.Before == nil || record.After == nil {
		t.Fatalf("expected update audit with snapshots, got %+v", record)
	}
	if !document.Equal(record.Before["tags"], []interface{}{"x", "y"}) {
		t.Errorf("before snapshot = %v", record.Before["tags"])
	}
}

func TestUpdate_Errors(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})

	rec := h.do(http.MethodPut, "/api/people/missing", `{"name":"x"}`)
	expectStatus(t, rec, http.StatusNotFound)

	rec = h.do(http.MethodPut, "/api/people/a", `{"age":-1}`)
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeMessages(t, rec); len(got) != 1 || !strings.HasPrefix(got[0], "age") {
		t.Errorf("expected one age message, got %v", got)
	}

	rec = h.do(http.MethodPut, "/api/people/a", `["not","an","object"]`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = h.do(http.MethodPut, "/api/people/a", "")
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeMessages(t, rec); !reflect.DeepEqual(got, []string{"body is required"}) {
		t.Errorf("messages = %v", got)
	}
}

func TestCreate_Batch(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantItems  []int
	}{
		{name: "all succeed", body: `[{"name":"A"},{"name":"B"}]`, wantStatus: http.StatusOK, wantItems: []int{200, 200}},
		{name: "partial", body: `[{"name":"A"},{"age":3},{"name":"C"}]`, wantStatus: http.StatusMultiStatus, wantItems: []int{200, 400, 200}},
		{name: "all fail", body: `[{"age":1},"x"]`, wantStatus: http.StatusBadRequest, wantItems: []int{400, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			rec := h.do(http.MethodPost, "/api/people", tt.body)
			expectStatus(t, rec, tt.wantStatus)
			items := decodeArray(t, rec)
			if len(items) != len(tt.wantItems) {
				t.Fatalf("expected %d items, got %d", len(tt.wantItems), len(items))
			}
			for i, want := range tt.wantItems {
				if items[i]["status"] != float64(want) {
					t.Errorf("item %d status = %v, want %d", i, items[i]["status"], want)
				}
			}
		})
	}
}

func TestCreate_BatchKeepsInputOrder(t *testing.T) {
	h := newHarness(t, Config{BulkConcurrency: 4})
	var parts []string
	for i := 0; i < 20; i++ {
		parts = append(parts, fmt.Sprintf(`{"name":"n%02d"}`, i))
	}
	rec := h.do(http.MethodPost, "/api/people", "["+strings.Join(parts, ",")+"]")
	expectStatus(t, rec, http.StatusOK)
	for i, item := range decodeArray(t, rec) {
		doc, _ := item["document"].(map[string]interface{})
		if doc["name"] != fmt.Sprintf("n%02d", i) {
			t.Fatalf("item %d holds %v", i, doc["name"])
		}
	}
}

func TestCreate_Upsert(t *testing.T) {
	h := newHarness(t, Config{Upsert: true})
	h.create(document.Document{"_id": "a", "name": "Ann", "tags": []interface{}{"x", "y"}})

	rec := h.do(http.MethodPost, "/api/people", `{"_id":"a","tags":["z"]}`)
	expectStatus(t, rec, http.StatusOK)
	doc := decodeObject(t, rec)
	if doc["name"] != "Ann" || !reflect.DeepEqual(doc["tags"], []interface{}{"z"}) || doc["version"] != float64(2) {
		t.Errorf("unexpected upserted document %v", doc)
	}

	rec = h.do(http.MethodPost, "/api/people", `{"_id":"new","name":"Neo"}`)
	expectStatus(t, rec, http.StatusOK)
	if doc := decodeObject(t, rec); doc["version"] != float64(1) {
		t.Errorf("expected a fresh document, got %v", doc)
	}
}

func TestCreate_UpsertMatchesStoreAssignedID(t *testing.T) {
	h := newHarness(t, Config{Upsert: true})
	existing := h.create(document.Document{"name": "Ann"})
	hex := document.IDString(existing[document.FieldID])

	rec := h.do(http.MethodPost, "/api/people", fmt.Sprintf(`{"_id":%q,"name":"Annie"}`, hex))
	expectStatus(t, rec, http.StatusOK)
	if doc := decodeObject(t, rec); doc["name"] != "Annie" || doc["version"] != float64(2) {
		t.Errorf("expected the stored document to be merged, got %v", doc)
	}
	rec = h.do(http.MethodGet, "/api/people/count", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
}

func TestCreate_HexIDIsStoredAsObjectID(t *testing.T) {
	h := newHarness(t, Config{Upsert: true})
	id := primitive.NewObjectID()

	rec := h.do(http.MethodPost, "/api/people", fmt.Sprintf(`{"_id":%q,"name":"Neo"}`, id.Hex()))
	expectStatus(t, rec, http.StatusOK)
	stored, err := h.stored(id)
	if err != nil {
		t.Fatalf("expected the document under its ObjectID: %v", err)
	}
	if stored["name"] != "Neo" {
		t.Errorf("stored = %v", stored)
	}
}

func TestCreate_DuplicateIDWithoutUpsert(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})
	rec := h.do(http.MethodPost, "/api/people", `{"_id":"a","name":"Other"}`)
	expectStatus(t, rec, http.StatusBadRequest)
	if len(decodeMessages(t, rec)) != 1 {
		t.Errorf("expected one message, got %s", rec.Body.String())
	}
}

func TestBulkShow_KeepsRequestOrder(t *testing.T) {
	h := newHarness(t, Config{})
	for _, id := range []string{"a", "b", "c"} {
		h.create(document.Document{"_id": id, "name": strings.ToUpper(id)})
	}
	rec := h.do(http.MethodGet, "/api/people/bulk/c,zz,a", "")
	expectStatus(t, rec, http.StatusOK)
	if got := names(decodeArray(t, rec)); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Errorf("got %v", got)
	}
}

func TestBulkShow_UppercaseObjectID(t *testing.T) {
	h := newHarness(t, Config{})
	created := h.create(document.Document{"name": "Ann"})
	hex := strings.ToUpper(document.IDString(created[document.FieldID]))

	rec := h.do(http.MethodGet, "/api/people/"+hex, "")
	expectStatus(t, rec, http.StatusOK)
	rec = h.do(http.MethodGet, "/api/people/bulk/"+hex, "")
	expectStatus(t, rec, http.StatusOK)
	if got := names(decodeArray(t, rec)); !reflect.DeepEqual(got, []string{"Ann"}) {
		t.Errorf("got %v", got)
	}
}

func TestBulkUpdate_ResolvesEachID(t *testing.T) {
	h := newHarness(t, Config{})
	for _, id := range []string{"a", "b"} {
		h.create(document.Document{"_id": id, "name": id})
	}
	rec := h.do(http.MethodPut, "/api/people/bulk/a,zz,b", `{"age":5}`)
	expectStatus(t, rec, http.StatusMultiStatus)
	items := decodeArray(t, rec)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[1]["status"] != float64(404) || items[1]["id"] != "zz" {
		t.Errorf("expected zz to be not found, got %v", items[1])
	}
	for _, i := range []int{0, 2} {
		doc, _ := items[i]["document"].(map[string]interface{})
		if doc["age"] != float64(5) || doc["version"] != float64(2) {
			t.Errorf("item %d = %v", i, items[i])
		}
	}
}

func TestDestroy(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})

	expectStatus(t, h.do(http.MethodDelete, "/api/people/a", ""), http.StatusOK)
	if _, err := h.stored("a"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected document to be removed, got %v", err)
	}
	expectStatus(t, h.do(http.MethodDelete, "/api/people/a", ""), http.StatusNotFound)
	if h.audit.count(OpDestroy) != 1 {
		t.Errorf("expected one destroy audit record, got %d", h.audit.count(OpDestroy))
	}
}

func TestBulkDestroy_NamesMissingIDs(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})
	h.create(document.Document{"_id": "c", "name": "Cid"})

	rec := h.do(http.MethodDelete, "/api/people/bulk/a,b,c", "")
	expectStatus(t, rec, http.StatusBadRequest)
	messages := decodeMessages(t, rec)
	if len(messages) != 1 || !strings.HasSuffix(messages[0], ": b") {
		t.Errorf("expected error naming b only, got %v", messages)
	}
	for _, id := range []string{"a", "c"} {
		if _, err := h.stored(id); !errors.Is(err, document.ErrNotFound) {
			t.Errorf("expected %s to stay removed, got %v", id, err)
		}
	}
	if rec := h.audit.last(); rec.Operation != OpBulkDestroy || !reflect.DeepEqual(rec.IDs, []string{"a", "c"}) {
		t.Errorf("unexpected audit record %+v", rec)
	}
}

func TestBulkDestroy_AllRemoved(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})
	h.create(document.Document{"_id": "b", "name": "Bob"})

	rec := h.do(http.MethodDelete, "/api/people/bulk/a,b", "")
	expectStatus(t, rec, http.StatusOK)
	if got := names(decodeArray(t, rec)); !reflect.DeepEqual(got, []string{"Ann", "Bob"}) {
		t.Errorf("got %v", got)
	}
}

func TestMarkAsDeleted_HidesFromReadPaths(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})
	h.create(document.Document{"_id": "b", "name": "Bob"})

	rec := h.do(http.MethodDelete, "/api/people/a/soft", "")
	expectStatus(t, rec, http.StatusOK)
	if doc := decodeObject(t, rec); doc["deleted"] != true || doc["version"] != float64(2) {
		t.Errorf("unexpected soft-deleted document %v", doc)
	}

	expectStatus(t, h.do(http.MethodGet, "/api/people/a", ""), http.StatusNotFound)
	expectStatus(t, h.do(http.MethodDelete, "/api/people/a/soft", ""), http.StatusNotFound)
	if got := strings.TrimSpace(h.do(http.MethodGet, "/api/people/count", "").Body.String()); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}

	stored, err := h.stored("a")
	if err != nil {
		t.Fatalf("expected the document to remain stored: %v", err)
	}
	if stored[document.FieldDeleted] != true {
		t.Errorf("expected deleted=true, got %v", stored[document.FieldDeleted])
	}
}

func TestMarkAsDeleted_VisibleWhenConfigured(t *testing.T) {
	h := newHarness(t, Config{PermanentDeleteVisible: true})
	h.create(document.Document{"_id": "a", "name": "Ann"})

	expectStatus(t, h.do(http.MethodDelete, "/api/people/a/soft", ""), http.StatusOK)
	rec := h.do(http.MethodGet, "/api/people/a", "")
	expectStatus(t, rec, http.StatusOK)
	if doc := decodeObject(t, rec); doc["deleted"] != true {
		t.Errorf("expected soft-deleted document to be visible, got %v", doc)
	}
}

func TestBulkMarkAsDeleted(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(document.Document{"_id": "a", "name": "Ann"})
	h.create(document.Document{"_id": "c", "name": "Cid"})

	rec := h.do(http.MethodDelete, "/api/people/bulk/a,b,c/soft", "")
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeMessages(t, rec); len(got) != 1 || !strings.Contains(got[0], "b") {
		t.Errorf("expected error naming b, got %v", got)
	}
	for _, id := range []string{"a", "c"} {
		stored, err := h.stored(id)
		if err != nil || stored[document.FieldDeleted] != true {
			t.Errorf("expected %s soft-deleted, got %v (%v)", id, stored, err)
		}
	}
}

func TestAggregate_RejectsRestrictedOperators(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "lookup stage", body: `{"pipeline":[{"$lookup":{"from":"secrets","as":"s"}}]}`, want: "$lookup is restricted."},
		{name: "nested", body: `[{"$match":{"$and":[{"$where":"true"}]}}]`, want: "$where is restricted."},
		{name: "facet", body: `[{"$facet":{"x":[{"$out":"copy"}]}}]`, want: "$out is restricted."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			rec := h.do(http.MethodPost, "/api/people/aggregate", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if got := decodeMessages(t, rec); !reflect.DeepEqual(got, []string{tt.want}) {
				t.Errorf("messages = %v", got)
			}
			if n := h.exec.aggregates.Load(); n != 0 {
				t.Errorf("expected no store call, got %d", n)
			}
		})
	}
}

func TestAggregate_RunsPipeline(t *testing.T) {
	h := newHarness(t, Config{})
	seedPeople(h, 5)

	rec := h.do(http.MethodPost, "/api/people/aggregate", `[{"$match":{"age":{"$gte":4}}},{"$count":"n"}]`)
	expectStatus(t, rec, http.StatusOK)
	docs := decodeArray(t, rec)
	if len(docs) != 1 || docs[0]["n"] != float64(2) {
		t.Errorf("got %v", docs)
	}
	if n := h.exec.aggregates.Load(); n != 1 {
		t.Errorf("expected one store call, got %d", n)
	}

	rec = h.do(http.MethodPost, "/api/people/aggregate", `{"pipeline":"nope"}`)
	expectStatus(t, rec, http.StatusBadRequest)
}
