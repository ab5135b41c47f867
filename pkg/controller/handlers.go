package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Count responds with the number of documents matching the request filter.
func (r *Resource) Count(c router.Context) error {
	params, err := r.params(c, OpCount)
	if err != nil {
		return r.fail(c, OpCount, err)
	}
	filter, err := r.listFilter(params)
	if err != nil {
		return r.fail(c, OpCount, err)
	}
	n, err := r.model.Count(c.Request().Context(), filter)
	if err != nil {
		return r.fail(c, OpCount, err)
	}
	return r.okay(c, OpCount, n)
}

// Index lists the documents matching the request filter, sorted and paged.
func (r *Resource) Index(c router.Context) error {
	ctx := c.Request().Context()
	params, err := r.params(c, OpIndex)
	if err != nil {
		return r.fail(c, OpIndex, err)
	}
	filter, err := r.listFilter(params)
	if err != nil {
		return r.fail(c, OpIndex, err)
	}

	page, count, skip, limit := Pagination(params, r.cfg.PageSize)
	opts := document.FindOptions{
		Select: r.selectFields(params),
		Sort:   ParseSort(params.String("sort")),
		Skip:   skip,
		Limit:  limit,
	}
	r.logger.WithContext(ctx).Debug("listing documents", "filter", filter, "page", page, "count", count)
	docs, err := r.model.Find(ctx, filter, opts)
	if err != nil {
		return r.fail(c, OpIndex, err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	if !params.Bool("meta") {
		return r.okay(c, OpIndex, docs)
	}

	matched, err := r.model.Count(ctx, filter)
	if err != nil {
		return r.fail(c, OpIndex, err)
	}
	total, err := r.model.Count(ctx, r.scope(document.Filter{}))
	if err != nil {
		return r.fail(c, OpIndex, err)
	}
	return r.okay(c, OpIndex, ListResponse{
		Meta: Meta{Page: page, Count: count, Matched: matched, TotalCount: total},
		Data: docs,
	})
}

// Show responds with one document, or 404.
func (r *Resource) Show(c router.Context) error {
	params, err := r.params(c, OpShow)
	if err != nil {
		return r.fail(c, OpShow, err)
	}
	doc, err := r.model.FindOne(c.Request().Context(), r.readFilter(params.String("id")))
	if err != nil {
		return r.fail(c, OpShow, err)
	}
	return r.okay(c, OpShow, doc)
}

// BulkShow responds with the documents of a comma-separated id list, in the
// order of the list. Unknown ids are skipped.
func (r *Resource) BulkShow(c router.Context) error {
	params, err := r.params(c, OpBulkShow)
	if err != nil {
		return r.fail(c, OpBulkShow, err)
	}
	ids := params.Strings("ids")
	in := make([]interface{}, len(ids))
	for i, id := range ids {
		in[i] = document.ParseID(id)
	}
	filter := r.scope(document.Filter{document.FieldID: document.Filter{"$in": in}})
	found, err := r.model.Find(c.Request().Context(), filter, document.FindOptions{})
	if err != nil {
		return r.fail(c, OpBulkShow, err)
	}

	byID := make(map[string]document.Document, len(found))
	for _, doc := range found {
		byID[document.IDString(doc[document.FieldID])] = doc
	}
	docs := make([]document.Document, 0, len(found))
	for i := range ids {
		key := document.IDString(in[i])
		if doc, ok := byID[key]; ok {
			docs = append(docs, doc)
			delete(byID, key)
		}
	}
	return r.okay(c, OpBulkShow, docs)
}

// Create inserts one document or an array of documents. With upsert
// enabled, an element whose _id already exists is merged into it instead.
func (r *Resource) Create(c router.Context) error {
	ctx := c.Request().Context()
	params, err := r.params(c, OpCreate)
	if err != nil {
		return r.fail(c, OpCreate, err)
	}

	actor := r.actor(c)
	body := params["body"]
	if single, ok := asDocument(body); ok {
		doc, err := r.createOne(ctx, actor, single)
		if err != nil {
			return r.fail(c, OpCreate, err)
		}
		return r.okay(c, OpCreate, doc)
	}

	elements, ok := asElements(body)
	if !ok {
		return r.fail(c, OpCreate, NewValidationError("body must be a JSON object or an array of objects"))
	}
	results := r.fanOut(ctx, len(elements), func(ctx context.Context, i int) ItemResult {
		doc, ok := asDocument(elements[i])
		if !ok {
			return itemFailed("", NewValidationError(fmt.Sprintf("element %d is not an object", i)))
		}
		created, err := r.createOne(ctx, actor, doc)
		if err != nil {
			return itemFailed(document.IDString(doc[document.FieldID]), err)
		}
		return itemOK(created)
	})
	return r.batch(c, OpCreate, results)
}

func (r *Resource) createOne(ctx context.Context, actor string, doc document.Document) (document.Document, error) {
	doc = withStoreID(doc)
	if id, ok := doc[document.FieldID]; ok && id != nil && r.cfg.Upsert {
		existing, err := r.model.FindOne(ctx, document.Filter{document.FieldID: id, document.FieldDeleted: false})
		switch {
		case err == nil:
			return r.apply(ctx, actor, OpCreate, existing, doc)
		case !IsNotFound(err):
			return nil, err
		}
	}

	created, err := r.model.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	r.record(ctx, actor, OpCreate, []string{document.IDString(created[document.FieldID])}, nil, created)
	return created, nil
}

// withStoreID converts a hex string _id to the ObjectID form the store
// assigns, so caller ids match store-assigned ones.
func withStoreID(doc document.Document) document.Document {
	raw, ok := doc[document.FieldID].(string)
	if !ok {
		return doc
	}
	id := document.ParseID(raw)
	if _, still := id.(string); still {
		return doc
	}
	out := make(document.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	out[document.FieldID] = id
	return out
}

// Update merges the body into one live document.
func (r *Resource) Update(c router.Context) error {
	params, err := r.params(c, OpUpdate)
	if err != nil {
		return r.fail(c, OpUpdate, err)
	}
	patch, ok := asDocument(params["body"])
	if !ok {
		return r.fail(c, OpUpdate, NewValidationError("body must be a JSON object"))
	}
	doc, changed, err := r.updateOne(c.Request().Context(), r.actor(c), OpUpdate, params.String("id"), patch)
	if err != nil {
		return r.fail(c, OpUpdate, err)
	}
	if !changed {
		r.observe(OpUpdate, OutcomeNoop)
		return r.responder.Okay(c, doc)
	}
	return r.okay(c, OpUpdate, doc)
}

// BulkUpdate merges the body into every document of a comma-separated id
// list. Each id resolves independently.
func (r *Resource) BulkUpdate(c router.Context) error {
	params, err := r.params(c, OpBulkUpdate)
	if err != nil {
		return r.fail(c, OpBulkUpdate, err)
	}
	patch, ok := asDocument(params["body"])
	if !ok {
		return r.fail(c, OpBulkUpdate, NewValidationError("body must be a JSON object"))
	}
	ids := params.Strings("ids")
	actor := r.actor(c)
	results := r.fanOut(c.Request().Context(), len(ids), func(ctx context.Context, i int) ItemResult {
		doc, _, err := r.updateOne(ctx, actor, OpBulkUpdate, ids[i], patch)
		if err != nil {
			return itemFailed(ids[i], err)
		}
		return itemOK(doc)
	})
	return r.batch(c, OpBulkUpdate, results)
}

// updateOne loads id, merges patch and saves the result unless nothing
// changed. changed is false for the no-op short-circuit.
func (r *Resource) updateOne(ctx context.Context, actor string, op, id string, patch document.Document) (doc document.Document, changed bool, err error) {
	current, err := r.model.FindOne(ctx, liveFilter(id))
	if err != nil {
		return nil, false, err
	}
	merged := document.Merge(current, immutableStripped(patch))
	if document.Equal(merged, current) {
		r.logger.WithContext(ctx).Debug("update is a no-op", "id", id)
		return current, false, nil
	}
	saved, err := r.save(ctx, actor, op, current, merged)
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

// apply merges patch into current and saves it; used by upserting creates.
func (r *Resource) apply(ctx context.Context, actor string, op string, current, patch document.Document) (document.Document, error) {
	merged := document.Merge(current, immutableStripped(patch))
	if document.Equal(merged, current) {
		return current, nil
	}
	return r.save(ctx, actor, op, current, merged)
}

func (r *Resource) save(ctx context.Context, actor string, op string, before, next document.Document) (document.Document, error) {
	saved, err := r.model.Save(ctx, next)
	if err != nil {
		return nil, err
	}
	r.record(ctx, actor, op, []string{document.IDString(saved[document.FieldID])}, before, saved)
	return saved, nil
}

// Destroy physically removes one live document.
func (r *Resource) Destroy(c router.Context) error {
	params, err := r.params(c, OpDestroy)
	if err != nil {
		return r.fail(c, OpDestroy, err)
	}
	ctx := c.Request().Context()
	id := params.String("id")
	removed, err := r.destroyOne(ctx, id)
	if err != nil {
		return r.fail(c, OpDestroy, err)
	}
	r.record(ctx, r.actor(c), OpDestroy, []string{id}, removed, nil)
	return r.okay(c, OpDestroy, removed)
}

// BulkDestroy physically removes every document of a comma-separated id
// list. Ids that could not be removed are named in the error; the others
// stay removed.
func (r *Resource) BulkDestroy(c router.Context) error {
	params, err := r.params(c, OpBulkDestroy)
	if err != nil {
		return r.fail(c, OpBulkDestroy, err)
	}
	ids := params.Strings("ids")
	results := r.fanOut(c.Request().Context(), len(ids), func(ctx context.Context, i int) ItemResult {
		removed, err := r.destroyOne(ctx, ids[i])
		if err != nil {
			return itemFailed(ids[i], err)
		}
		return itemOK(removed)
	})
	return r.allOrError(c, OpBulkDestroy, "remove", ids, results)
}

func (r *Resource) destroyOne(ctx context.Context, id string) (document.Document, error) {
	current, err := r.model.FindOne(ctx, liveFilter(id))
	if err != nil {
		return nil, err
	}
	if err := r.model.Remove(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// MarkAsDeleted soft-deletes one live document.
func (r *Resource) MarkAsDeleted(c router.Context) error {
	params, err := r.params(c, OpMarkAsDeleted)
	if err != nil {
		return r.fail(c, OpMarkAsDeleted, err)
	}
	ctx := c.Request().Context()
	id := params.String("id")
	doc, err := r.markOne(ctx, id)
	if err != nil {
		return r.fail(c, OpMarkAsDeleted, err)
	}
	r.record(ctx, r.actor(c), OpMarkAsDeleted, []string{id}, nil, doc)
	return r.okay(c, OpMarkAsDeleted, doc)
}

// BulkMarkAsDeleted soft-deletes every document of a comma-separated id list
// with the same all-or-error reporting as BulkDestroy.
func (r *Resource) BulkMarkAsDeleted(c router.Context) error {
	params, err := r.params(c, OpBulkMarkAsDeleted)
	if err != nil {
		return r.fail(c, OpBulkMarkAsDeleted, err)
	}
	ids := params.Strings("ids")
	results := r.fanOut(c.Request().Context(), len(ids), func(ctx context.Context, i int) ItemResult {
		doc, err := r.markOne(ctx, ids[i])
		if err != nil {
			return itemFailed(ids[i], err)
		}
		return itemOK(doc)
	})
	return r.allOrError(c, OpBulkMarkAsDeleted, "mark as deleted", ids, results)
}

// markOne sets the soft-delete flag through RUCC.
func (r *Resource) markOne(ctx context.Context, id string) (document.Document, error) {
	doc, err := r.model.RUCC(ctx, document.ParseID(id), func(_ context.Context, current document.Document) (document.Document, error) {
		current[document.FieldDeleted] = true
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, document.ErrNotFound
	}
	return doc, nil
}

// allOrError responds with the affected documents when every id succeeded,
// otherwise with an error naming the ids that failed.
func (r *Resource) allOrError(c router.Context, op, verb string, ids []string, results []ItemResult) error {
	var (
		failed []string
		docs   = make([]document.Document, 0, len(results))
	)
	for i, res := range results {
		if res.Failed() {
			failed = append(failed, ids[i])
			continue
		}
		docs = append(docs, res.Document)
	}
	succeeded := make([]string, 0, len(docs))
	for _, doc := range docs {
		succeeded = append(succeeded, document.IDString(doc[document.FieldID]))
	}
	if len(succeeded) > 0 {
		r.record(c.Request().Context(), r.actor(c), op, succeeded, nil, nil)
	}
	if len(failed) > 0 {
		return r.fail(c, op, NewError(CodeBulkIncomplete, nil).
			WithMessage(fmt.Sprintf("unable to %s: %s", verb, strings.Join(failed, ", "))).
			WithHTTPStatus(http.StatusBadRequest))
	}
	return r.okay(c, op, docs)
}

// Aggregate runs a caller pipeline. The model rejects restricted operators
// before any store call.
// The body is either the stage array or {"pipeline": [...]}.
func (r *Resource) Aggregate(c router.Context) error {
	params, err := r.params(c, OpAggregate)
	if err != nil {
		return r.fail(c, OpAggregate, err)
	}
	pipeline, err := pipelineOf(params["body"])
	if err != nil {
		return r.fail(c, OpAggregate, err)
	}
	docs, err := r.model.Aggregate(c.Request().Context(), pipeline)
	if err != nil {
		return r.fail(c, OpAggregate, err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return r.okay(c, OpAggregate, docs)
}

func pipelineOf(body interface{}) ([]document.Document, error) {
	if doc, ok := asDocument(body); ok {
		body = doc["pipeline"]
	}
	stages, ok := asElements(body)
	if !ok {
		return nil, NewValidationError("pipeline must be an array of stages")
	}
	pipeline := make([]document.Document, len(stages))
	for i, stage := range stages {
		doc, ok := asDocument(stage)
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("pipeline stage %d must be an object", i))
		}
		pipeline[i] = doc
	}
	return pipeline, nil
}

// immutableStripped drops the identity and metadata fields from an update payload.
func immutableStripped(patch document.Document) document.Document {
	out := document.Clone(patch)
	delete(out, document.FieldID)
	for _, f := range document.MetadataFields {
		delete(out, f)
	}
	return out
}

func asDocument(v interface{}) (document.Document, bool) {
	switch t := v.(type) {
	case document.Document:
		return t, true
	case map[string]interface{}:
		return document.Document(t), true
	default:
		return nil, false
	}
}

func asElements(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case bson.A:
		return []interface{}(t), true
	case []interface{}:
		return t, true
	default:
		return nil, false
	}
}
