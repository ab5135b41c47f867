package document

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Clone returns a deep copy of doc. Embedded documents become bson.M and
// arrays become bson.A; leaf values are copied by value.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return Clone(t)
	case map[string]interface{}:
		return Clone(Document(t))
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// asDocument views v as a document when it is one.
func asDocument(v interface{}) (Document, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return Document(t), true
	case bson.D:
		return Document(t.Map()), true
	default:
		return nil, false
	}
}

// asArray views v as an array when it is one.
func asArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case bson.A:
		return []interface{}(t), true
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// Equal reports whether a and b hold the same document value. Numbers compare
// by value across Go numeric types, embedded documents ignore key order and
// time.Time compares equal to the primitive.DateTime of the same instant.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if da, ok := asDocument(a); ok {
		db, ok := asDocument(b)
		if !ok || len(da) != len(db) {
			return false
		}
		for k, va := range da {
			vb, present := db[k]
			if !present || !Equal(va, vb) {
				return false
			}
		}
		return true
	}
	if aa, ok := asArray(a); ok {
		ab, ok := asArray(b)
		if !ok || len(aa) != len(ab) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ab[i]) {
				return false
			}
		}
		return true
	}
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && (na == nb || (math.IsNaN(na) && math.IsNaN(nb)))
	}
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		return ok && ta.UnixMilli() == tb.UnixMilli()
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two scalar values: nil < numbers < strings < bools < times.
// Values of unrelated kinds fall back to that type ordering.
func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		na, _ := asNumber(a)
		nb, _ := asNumber(b)
		return compareFloat(na, nb)
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 4:
		ta, _ := asTime(a)
		tb, _ := asTime(b)
		return ta.Compare(tb)
	case 5:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(oa.Hex(), ob.Hex())
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func typeRank(v interface{}) int {
	if v == nil {
		return 0
	}
	if _, ok := asNumber(v); ok {
		return 1
	}
	if _, ok := asTime(v); ok {
		return 4
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	case primitive.ObjectID:
		return 5
	}
	return 6
}

// lookupPath resolves a dotted path through embedded documents and array indexes.
func lookupPath(doc Document, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		if d, ok := asDocument(current); ok {
			v, present := d[part]
			if !present {
				return nil, false
			}
			current = v
			continue
		}
		if arr, ok := asArray(current); ok {
			idx, ok := parseIndex(part)
			if !ok || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}
		return nil, false
	}
	return current, true
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ParseID converts an identifier taken from a URL into the stored _id type:
// 24-character hex strings become ObjectIDs, anything else stays a string.
func ParseID(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// IDString renders a stored _id for logs and error messages.
func IDString(id interface{}) string {
	switch t := id.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// versionOf reads the version counter regardless of the numeric type the store returned.
func versionOf(doc Document) int64 {
	n, ok := asNumber(doc[FieldVersion])
	if !ok {
		return 0
	}
	return int64(n)
}
