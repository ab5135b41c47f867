package document

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// restrictedOperators are rejected anywhere inside a request pipeline.
var restrictedOperators = map[string]struct{}{
	"$lookup":            {},
	"$graphLookup":       {},
	"$unionWith":         {},
	"$merge":             {},
	"$out":               {},
	"$currentOp":         {},
	"$listSessions":      {},
	"$listLocalSessions": {},
	"$collStats":         {},
	"$indexStats":        {},
	"$planCacheStats":    {},
	"$function":          {},
	"$accumulator":       {},
	"$where":             {},
}

// RestrictedOperators returns the denylisted operator names in sorted order.
func RestrictedOperators() []string {
	out := make([]string, 0, len(restrictedOperators))
	for op := range restrictedOperators {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// CheckPipeline walks every stage, including nested documents and arrays,
// and returns a *RestrictedOperatorError for the first denylisted key.
func CheckPipeline(pipeline []Document) error {
	for _, stage := range pipeline {
		if err := checkValue(stage); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(v interface{}) error {
	switch t := v.(type) {
	case bson.D:
		for _, e := range t {
			if err := checkKey(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	}
	if d, ok := asDocument(v); ok {
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := checkKey(k, d[k]); err != nil {
				return err
			}
		}
		return nil
	}
	if arr, ok := asArray(v); ok {
		for _, e := range arr {
			if err := checkValue(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkKey(key string, value interface{}) error {
	if _, denied := restrictedOperators[key]; denied {
		return &RestrictedOperatorError{Operator: key}
	}
	return checkValue(value)
}
