package document

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryExecutor is an in-process Executor. It stores deep copies of every
// document, serializes writes with a mutex and evaluates the query subset
// used by this package. It backs database.type=memory and the test suites.
type MemoryExecutor struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	docs    []Document
	indexes map[string]Index
}

// NewMemoryExecutor creates an empty MemoryExecutor.
func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{collections: map[string]*memoryCollection{}}
}

func (e *MemoryExecutor) collection(name string) *memoryCollection {
	c, ok := e.collections[name]
	if !ok {
		c = &memoryCollection{indexes: map[string]Index{}}
		e.collections[name] = c
	}
	return c
}

func (c *memoryCollection) matcher() matcher {
	var fields []string
	for _, idx := range c.indexes {
		if !idx.Text {
			continue
		}
		for _, k := range idx.Keys {
			fields = append(fields, k.Field)
		}
	}
	sort.Strings(fields)
	return matcher{textFields: fields}
}

func (c *memoryCollection) indexOf(filter Filter) (int, error) {
	m := c.matcher()
	for i, d := range c.docs {
		ok, err := m.match(d, filter)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func (c *memoryCollection) filter(filter Filter) ([]Document, error) {
	m := c.matcher()
	var out []Document
	for _, d := range c.docs {
		ok, err := m.match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *memoryCollection) hasID(id interface{}) bool {
	for _, d := range c.docs {
		if Equal(d[FieldID], id) {
			return true
		}
	}
	return false
}

// InsertOne stores a copy of doc, assigning an ObjectID when _id is absent.
func (e *MemoryExecutor) InsertOne(ctx context.Context, collection string, doc Document) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.collection(collection)
	stored := Clone(doc)
	if stored == nil {
		stored = Document{}
	}
	if _, ok := stored[FieldID]; !ok {
		stored[FieldID] = primitive.NewObjectID()
	}
	if c.hasID(stored[FieldID]) {
		return nil, fmt.Errorf("duplicate key error: %s._id %s", collection, IDString(stored[FieldID]))
	}
	c.docs = append(c.docs, stored)
	return stored[FieldID], nil
}

// FindOne returns a copy of the first document matching filter.
func (e *MemoryExecutor) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := e.collection(collection)
	i, err := c.indexOf(filter)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, ErrNotFound
	}
	return Clone(c.docs[i]), nil
}

// Find returns copies of the matching documents with sort, skip, limit and
// projection applied in that order.
func (e *MemoryExecutor) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	matched, err := e.collection(collection).filter(filter)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(matched))
	for i, d := range matched {
		docs[i] = Clone(d)
	}
	sortDocuments(docs, opts.Sort)
	docs = page(docs, opts.Skip, opts.Limit)
	if p := projection(opts.Select); p != nil {
		for i, d := range docs {
			docs[i] = project(d, p)
		}
	}
	return docs, nil
}

// ReplaceOne replaces the first document matching filter, keeping its _id.
func (e *MemoryExecutor) ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.collection(collection)
	i, err := c.indexOf(filter)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, nil
	}
	replacement, err := replacementFor(c.docs[i], doc)
	if err != nil {
		return 0, err
	}
	c.docs[i] = replacement
	return 1, nil
}

// FindOneAndReplace atomically replaces the first document matching filter
// and returns a copy of the new image.
func (e *MemoryExecutor) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.collection(collection)
	i, err := c.indexOf(filter)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, ErrNotFound
	}
	replacement, err := replacementFor(c.docs[i], doc)
	if err != nil {
		return nil, err
	}
	c.docs[i] = replacement
	return Clone(replacement), nil
}

func replacementFor(current, doc Document) (Document, error) {
	replacement := Clone(doc)
	if replacement == nil {
		replacement = Document{}
	}
	if id, ok := replacement[FieldID]; ok && !Equal(id, current[FieldID]) {
		return nil, fmt.Errorf("the (immutable) field '_id' was found to have been altered")
	}
	replacement[FieldID] = current[FieldID]
	return replacement, nil
}

// DeleteOne removes the first document matching filter.
func (e *MemoryExecutor) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.collection(collection)
	i, err := c.indexOf(filter)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, nil
	}
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	return 1, nil
}

// CountDocuments counts documents matching filter.
func (e *MemoryExecutor) CountDocuments(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	matched, err := e.collection(collection).filter(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Aggregate supports the $match, $sort, $skip, $limit, $project and $count stages.
func (e *MemoryExecutor) Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	c := e.collection(collection)
	docs := make([]Document, len(c.docs))
	for i, d := range c.docs {
		docs[i] = Clone(d)
	}
	m := c.matcher()
	e.mu.RUnlock()

	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("a pipeline stage specification object must contain exactly one field")
		}
		for op, arg := range stage {
			var err error
			docs, err = applyStage(m, docs, op, arg)
			if err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

func applyStage(m matcher, docs []Document, op string, arg interface{}) ([]Document, error) {
	switch op {
	case "$match":
		filter, ok := asDocument(arg)
		if !ok {
			return nil, fmt.Errorf("$match requires a document")
		}
		var out []Document
		for _, d := range docs {
			ok, err := m.match(d, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, d)
			}
		}
		return out, nil
	case "$sort":
		fields, err := sortSpec(arg)
		if err != nil {
			return nil, err
		}
		sortDocuments(docs, fields)
		return docs, nil
	case "$skip":
		n, ok := asNumber(arg)
		if !ok {
			return nil, fmt.Errorf("$skip requires a number")
		}
		return page(docs, int64(n), 0), nil
	case "$limit":
		n, ok := asNumber(arg)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("$limit requires a positive number")
		}
		return page(docs, 0, int64(n)), nil
	case "$project":
		spec, ok := asDocument(arg)
		if !ok {
			return nil, fmt.Errorf("$project requires a document")
		}
		p := map[string]int{}
		for k, v := range spec {
			n, _ := asNumber(v)
			if b, isBool := v.(bool); isBool && b {
				n = 1
			}
			p[k] = int(n)
		}
		for i, d := range docs {
			docs[i] = project(d, p)
		}
		return docs, nil
	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("$count requires a field name")
		}
		if len(docs) == 0 {
			return []Document{}, nil
		}
		return []Document{{name: int64(len(docs))}}, nil
	default:
		return nil, fmt.Errorf("unsupported pipeline stage %s", op)
	}
}

func sortSpec(arg interface{}) ([]SortField, error) {
	var fields []SortField
	switch t := arg.(type) {
	case bson.D:
		for _, e := range t {
			n, _ := asNumber(e.Value)
			fields = append(fields, SortField{Field: e.Key, Order: sortOrder(n)})
		}
	default:
		d, ok := asDocument(arg)
		if !ok {
			return nil, fmt.Errorf("$sort requires a document")
		}
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n, _ := asNumber(d[k])
			fields = append(fields, SortField{Field: k, Order: sortOrder(n)})
		}
	}
	return fields, nil
}

func sortOrder(n float64) SortOrder {
	if n < 0 {
		return SortDesc
	}
	return SortAsc
}

// EnsureIndexes records index definitions; text indexes drive $text matching.
func (e *MemoryExecutor) EnsureIndexes(ctx context.Context, collection string, indexes []Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.collection(collection)
	for _, idx := range indexes {
		name := idx.Name
		if name == "" {
			parts := make([]string, 0, len(idx.Keys))
			for _, k := range idx.Keys {
				parts = append(parts, fmt.Sprintf("%s_%d", k.Field, k.Order))
			}
			name = strings.Join(parts, "_")
		}
		c.indexes[name] = idx
	}
	return nil
}

// Indexes returns the index names recorded for collection.
func (e *MemoryExecutor) Indexes(collection string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[collection]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, _ := lookupPath(docs[i], f.Field)
			b, _ := lookupPath(docs[j], f.Field)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if f.Order == SortDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func page(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return []Document{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// project applies an inclusion or exclusion projection. _id is kept unless
// explicitly excluded.
func project(doc Document, p map[string]int) Document {
	inclusive := false
	for k, v := range p {
		if v != 0 && k != FieldID {
			inclusive = true
			break
		}
	}
	if !inclusive {
		out := Clone(doc)
		for k, v := range p {
			if v == 0 {
				deletePath(out, k)
			}
		}
		return out
	}
	out := Document{}
	if v, ok := p[FieldID]; !ok || v != 0 {
		if id, present := doc[FieldID]; present {
			out[FieldID] = id
		}
	}
	for k, v := range p {
		if v == 0 || k == FieldID {
			continue
		}
		if val, ok := lookupPath(doc, k); ok {
			setPath(out, k, cloneValue(val))
		}
	}
	return out
}

func setPath(doc Document, path string, v interface{}) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asDocument(current[part])
		if !ok {
			next = Document{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = v
}

func deletePath(doc Document, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asDocument(current[part])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}
