package controller

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/docrest/pkg/server/router"
)

// ParamLocation is where a request parameter is read from.
type ParamLocation string

const (
	InPath  ParamLocation = "path"
	InQuery ParamLocation = "query"
	InBody  ParamLocation = "body"
	InForm  ParamLocation = "formData"
)

// ParamType is the declared type a raw value is coerced to.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeFile    ParamType = "file"
)

// ParamSpec declares one named request parameter.
type ParamSpec struct {
	Name        string
	In          ParamLocation
	Type        ParamType
	Required    bool
	Description string
}

// Params is the flat name → value mapping produced by a Mapper.
type Params map[string]interface{}

// String returns the parameter as a string, or "" when absent.
func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the parameter as an int64 and whether it was present.
func (p Params) Int(name string) (int64, bool) {
	switch v := p[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Bool returns the parameter as a bool; absent means false.
func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// Strings returns an array parameter.
func (p Params) Strings(name string) []string {
	switch v := p[name].(type) {
	case []string:
		return v
	case string:
		return splitList(v)
	default:
		return nil
	}
}

// Mapper extracts the declared parameters from a request.
type Mapper interface {
	Map(c router.Context, specs []ParamSpec) (Params, error)
}

// RequestMapper is the default Mapper. Path and query values are coerced to
// their declared type; the body is decoded as MongoDB relaxed extended JSON
// so {"$oid": ...} and {"$date": ...} survive into the store.
type RequestMapper struct{}

var _ Mapper = RequestMapper{}

// Map implements Mapper.
func (RequestMapper) Map(c router.Context, specs []ParamSpec) (Params, error) {
	params := Params{}
	var missing []string
	for _, spec := range specs {
		var (
			value   interface{}
			present bool
			err     error
		)
		switch spec.In {
		case InPath:
			raw := c.Param(spec.Name)
			present = raw != ""
			if present {
				value, err = coerce(raw, spec.Type)
			}
		case InQuery:
			raw := c.Query(spec.Name)
			present = raw != ""
			if present {
				value, err = coerce(raw, spec.Type)
			}
		case InBody:
			value, present, err = decodeBody(c)
		case InForm:
			// multipart payloads are read by the handler that owns them
			continue
		default:
			return nil, fmt.Errorf("parameter %s: unsupported location %q", spec.Name, spec.In)
		}
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("%s: %v", spec.Name, err))
		}
		if !present {
			if spec.Required {
				missing = append(missing, spec.Name+" is required")
			}
			continue
		}
		params[spec.Name] = value
	}
	if len(missing) > 0 {
		return nil, NewValidationError(missing...)
	}
	return params, nil
}

func coerce(raw string, typ ParamType) (interface{}, error) {
	switch typ {
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return n, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	case TypeArray:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

// decodeBody decodes a JSON object or array body. An empty body is absent.
func decodeBody(c router.Context) (interface{}, bool, error) {
	data, err := c.Body()
	if err != nil {
		return nil, false, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, false, nil
	}
	// wrap the payload so arrays decode through the document reader
	var envelope bson.M
	if err := bson.UnmarshalExtJSON([]byte(`{"body":`+trimmed+`}`), false, &envelope); err != nil {
		return nil, false, fmt.Errorf("body is not valid JSON")
	}
	return envelope["body"], true, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
