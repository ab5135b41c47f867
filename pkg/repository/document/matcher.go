package document

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matcher evaluates the subset of the MongoDB query language produced by this
// package against in-memory documents.
type matcher struct {
	textFields []string
}

func (m matcher) match(doc Document, filter Filter) (bool, error) {
	for key, cond := range filter {
		ok, err := m.matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m matcher) matchKey(doc Document, key string, cond interface{}) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		clauses, ok := asArray(cond)
		if !ok {
			return false, fmt.Errorf("%s requires an array", key)
		}
		return m.matchLogical(doc, key, clauses)
	case "$text":
		spec, ok := asDocument(cond)
		if !ok {
			return false, fmt.Errorf("$text requires a document")
		}
		search, _ := spec["$search"].(string)
		return m.matchText(doc, search), nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unsupported top-level operator %s", key)
	}

	values := resolveAll(doc, key)
	if ops, ok := operatorDocument(cond); ok {
		for op, arg := range ops {
			ok, err := matchOperator(values, op, arg, ops)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return matchLiteral(values, cond), nil
}

func (m matcher) matchLogical(doc Document, op string, clauses []interface{}) (bool, error) {
	for _, c := range clauses {
		clause, ok := asDocument(c)
		if !ok {
			return false, fmt.Errorf("%s clauses must be documents", op)
		}
		ok, err := m.match(doc, clause)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !ok:
			return false, nil
		case op == "$or" && ok:
			return true, nil
		case op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or", nil
}

func (m matcher) matchText(doc Document, search string) bool {
	terms := strings.Fields(strings.ToLower(search))
	if len(terms) == 0 {
		return false
	}
	fields := m.textFields
	if len(fields) == 0 {
		for k := range doc {
			fields = append(fields, k)
		}
	}
	for _, f := range fields {
		for _, v := range resolveAll(doc, f) {
			s, ok := v.(string)
			if !ok {
				continue
			}
			s = strings.ToLower(s)
			for _, t := range terms {
				if strings.Contains(s, t) {
					return true
				}
			}
		}
	}
	return false
}

// operatorDocument reports whether cond is an operator expression such as
// {"$gt": 1}. An empty document is a literal.
func operatorDocument(cond interface{}) (Document, bool) {
	d, ok := asDocument(cond)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for k := range d {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return d, true
}

// resolveAll returns every value reachable through a dotted path, descending
// into arrays of embedded documents the way the server does.
func resolveAll(doc Document, path string) []interface{} {
	current := []interface{}{doc}
	for _, part := range strings.Split(path, ".") {
		var next []interface{}
		for _, c := range current {
			if d, ok := asDocument(c); ok {
				if v, present := d[part]; present {
					next = append(next, v)
				}
				continue
			}
			if arr, ok := asArray(c); ok {
				if idx, isIndex := parseIndex(part); isIndex {
					if idx < len(arr) {
						next = append(next, arr[idx])
					}
					continue
				}
				for _, e := range arr {
					if d, ok := asDocument(e); ok {
						if v, present := d[part]; present {
							next = append(next, v)
						}
					}
				}
			}
		}
		current = next
	}
	return current
}

// candidates expands array values so that scalar conditions match any element.
func candidates(values []interface{}) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
		if arr, ok := asArray(v); ok {
			out = append(out, arr...)
		}
	}
	return out
}

func matchLiteral(values []interface{}, cond interface{}) bool {
	if cond == nil {
		if len(values) == 0 {
			return true
		}
	}
	if re, ok := cond.(primitive.Regex); ok {
		return matchRegex(values, re.Pattern, re.Options)
	}
	for _, v := range candidates(values) {
		if Equal(v, cond) {
			return true
		}
	}
	return false
}

func matchRegex(values []interface{}, pattern, options string) bool {
	re, err := compilePattern(pattern, options)
	if err != nil {
		return false
	}
	for _, v := range candidates(values) {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return true
		}
	}
	return false
}

func compilePattern(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func matchOperator(values []interface{}, op string, arg interface{}, ops Document) (bool, error) {
	switch op {
	case "$eq":
		return matchLiteral(values, arg), nil
	case "$ne":
		return !matchLiteral(values, arg), nil
	case "$in", "$nin":
		list, ok := asArray(arg)
		if !ok {
			return false, fmt.Errorf("%s requires an array", op)
		}
		found := false
		for _, item := range list {
			if matchLiteral(values, item) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$exists":
		want, _ := arg.(bool)
		if n, ok := asNumber(arg); ok {
			want = n != 0
		}
		return (len(values) > 0) == want, nil
	case "$size":
		n, ok := asNumber(arg)
		if !ok {
			return false, fmt.Errorf("$size requires a number")
		}
		for _, v := range values {
			if arr, ok := asArray(v); ok && float64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	case "$gt", "$gte", "$lt", "$lte":
		for _, v := range candidates(values) {
			if typeRank(v) != typeRank(arg) {
				continue
			}
			c := compareValues(v, arg)
			if (op == "$gt" && c > 0) || (op == "$gte" && c >= 0) || (op == "$lt" && c < 0) || (op == "$lte" && c <= 0) {
				return true, nil
			}
		}
		return false, nil
	case "$regex":
		options, _ := ops["$options"].(string)
		switch p := arg.(type) {
		case string:
			return matchRegex(values, p, options), nil
		case primitive.Regex:
			return matchRegex(values, p.Pattern, p.Options+options), nil
		default:
			return false, fmt.Errorf("$regex requires a string")
		}
	case "$options":
		return true, nil
	case "$not":
		inner, ok := operatorDocument(arg)
		if !ok {
			if re, isRegex := arg.(primitive.Regex); isRegex {
				return !matchRegex(values, re.Pattern, re.Options), nil
			}
			return false, fmt.Errorf("$not requires an operator document")
		}
		for k, a := range inner {
			ok, err := matchOperator(values, k, a, inner)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}
