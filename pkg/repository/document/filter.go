package document

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformedFilter is returned by ParseFilter when a string filter is not a JSON document.
var ErrMalformedFilter = errors.New("filter is not valid JSON")

// Normalize walks a filter and turns every string of the form "/pattern/"
// into a case-insensitive primitive.Regex. Embedded documents and arrays are
// normalized recursively; other values are left untouched. Normalize never
// mutates its input and is idempotent.
func Normalize(filter Filter) Filter {
	if filter == nil {
		return Filter{}
	}
	out := make(Filter, len(filter))
	for k, v := range filter {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return patternFromString(t)
	case bson.M:
		return Normalize(t)
	case map[string]interface{}:
		return Normalize(Filter(t))
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: normalizeValue(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []interface{}:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []string:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = patternFromString(e)
		}
		return out
	default:
		return v
	}
}

// IsPatternLiteral reports whether s is a slash-delimited pattern. The empty
// pattern "//" and a lone "/" are literals.
func IsPatternLiteral(s string) bool {
	return len(s) >= 3 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/")
}

func patternFromString(s string) interface{} {
	if !IsPatternLiteral(s) {
		return s
	}
	inner := s[1 : len(s)-1]
	if _, err := regexp.Compile(inner); err != nil {
		inner = regexp.QuoteMeta(inner)
	}
	return primitive.Regex{Pattern: inner, Options: "i"}
}

// ParseFilter accepts a request filter either as a JSON string (MongoDB
// relaxed extended JSON, so {"$oid": ...} works) or as an already decoded
// document. Empty input yields an empty filter. A string that does not decode
// to a document is rejected with ErrMalformedFilter.
func ParseFilter(raw interface{}) (Filter, error) {
	switch t := raw.(type) {
	case nil:
		return Filter{}, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return Filter{}, nil
		}
		out := Filter{}
		if err := bson.UnmarshalExtJSON([]byte(t), false, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFilter, err)
		}
		return out, nil
	case []byte:
		return ParseFilter(string(t))
	default:
		if d, ok := asDocument(raw); ok {
			return Filter(d), nil
		}
		return nil, fmt.Errorf("%w: unsupported filter type %T", ErrMalformedFilter, raw)
	}
}

// OmitKeys returns a copy of filter without the listed top-level keys.
func OmitKeys(filter Filter, keys []string) Filter {
	out := make(Filter, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// MergeFilters overlays each filter onto the previous one; later keys win.
func MergeFilters(filters ...Filter) Filter {
	out := Filter{}
	for _, f := range filters {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}
