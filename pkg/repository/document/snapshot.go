package document

import (
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

// SnapshotFilter turns a fully materialized document into a match predicate
// that only selects the stored document while every field still holds the
// snapshot value. Embedded documents are flattened into dotted paths so that
// key order inside them does not matter; arrays are matched element by
// element plus a $size guard.
func SnapshotFilter(snapshot Document) Filter {
	out := Filter{}
	flattenSnapshot("", snapshot, out)
	return out
}

func flattenSnapshot(prefix string, doc Document, out Filter) {
	if prefix != "" && len(doc) == 0 {
		out[prefix] = bson.M{}
		return
	}
	for k, v := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		flattenValue(path, v, out)
	}
}

func flattenValue(path string, v interface{}, out Filter) {
	if d, ok := asDocument(v); ok {
		flattenSnapshot(path, d, out)
		return
	}
	if arr, ok := asArray(v); ok {
		out[path] = bson.M{"$size": len(arr)}
		for i, e := range arr {
			flattenValue(path+"."+strconv.Itoa(i), e, out)
		}
		return
	}
	if v == nil {
		out[path] = bson.M{"$eq": nil}
		return
	}
	out[path] = bson.M{"$eq": v}
}
