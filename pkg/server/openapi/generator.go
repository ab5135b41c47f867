package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/docrest/pkg/controller"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Info contains API metadata.
type Info struct {
	Title       string
	Version     string
	Description string
}

// Build generates the OpenAPI document of the given resources mounted under
// basePath. Each resource contributes a document schema, a patch schema with
// no required fields and one operation per route.
func Build(info Info, basePath string, resources ...*controller.Resource) (*openapi3.T, error) {
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = "API"
	}
	version := strings.TrimSpace(info.Version)
	if version == "" {
		version = "0.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       title,
			Version:     version,
			Description: info.Description,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				errorSchemaName: openapi3.NewSchemaRef("", errorSchema()),
				itemSchemaName:  openapi3.NewSchemaRef("", itemSchema()),
			},
		},
	}

	base := "/" + strings.Trim(strings.TrimSpace(basePath), "/")
	if base == "/" {
		base = ""
	}

	for _, res := range resources {
		if res == nil {
			continue
		}
		name := res.Name()
		if _, exists := doc.Components.Schemas[name]; exists {
			return nil, fmt.Errorf("duplicate resource %q", name)
		}
		full, patch := resourceSchemas(res.Model().Schema())
		doc.Components.Schemas[name] = openapi3.NewSchemaRef("", full)
		doc.Components.Schemas[name+patchSuffix] = openapi3.NewSchemaRef("", patch)

		for _, op := range res.Operations() {
			path := router.OpenAPIPath(base + op.Path)
			item := doc.Paths.Value(path)
			if item == nil {
				item = &openapi3.PathItem{}
				doc.Paths.Set(path, item)
			}
			item.SetOperation(op.Method, components(doc.Components.Schemas).operation(name, op))
		}
	}
	return doc, nil
}

const (
	errorSchemaName = "Error"
	itemSchemaName  = "ItemResult"
	patchSuffix     = "Patch"
)

// components resolves references to registered component schemas.
type components openapi3.Schemas

// ref returns a resolved reference so the document validates without a
// loader pass.
func (c components) ref(name string) *openapi3.SchemaRef {
	ref := &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
	if target, ok := c[name]; ok && target != nil {
		ref.Value = target.Value
	}
	return ref
}

func (c components) operation(resource string, op controller.Operation) *openapi3.Operation {
	operation := openapi3.NewOperation()
	operation.OperationID = resource + "." + op.Name
	operation.Summary = op.Summary
	operation.Tags = []string{resource}

	for _, spec := range op.Params {
		switch spec.In {
		case controller.InPath:
			param := openapi3.NewPathParameter(spec.Name).
				WithDescription(spec.Description).
				WithSchema(paramSchema(spec.Type))
			operation.AddParameter(param)
		case controller.InQuery:
			param := openapi3.NewQueryParameter(spec.Name).
				WithDescription(spec.Description).
				WithSchema(paramSchema(spec.Type))
			param.Required = spec.Required
			operation.AddParameter(param)
		case controller.InBody:
			operation.RequestBody = &openapi3.RequestBodyRef{Value: c.requestBody(resource, op.Name, spec)}
		case controller.InForm:
			form := openapi3.NewObjectSchema().
				WithProperty(spec.Name, openapi3.NewStringSchema().WithFormat("binary"))
			form.Required = []string{spec.Name}
			body := openapi3.NewRequestBody().
				WithDescription(spec.Description).
				WithRequired(spec.Required).
				WithContent(openapi3.Content{"multipart/form-data": openapi3.NewMediaType().WithSchema(form)})
			operation.RequestBody = &openapi3.RequestBodyRef{Value: body}
		}
	}

	operation.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: c.successResponse(resource, op.Name)}),
		openapi3.WithStatus(http.StatusBadRequest, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("invalid request or store failure").
			WithJSONSchemaRef(c.ref(errorSchemaName))}),
	)
	switch op.Name {
	case controller.OpShow, controller.OpUpdate, controller.OpDestroy, controller.OpMarkAsDeleted:
		operation.AddResponse(http.StatusNotFound, openapi3.NewResponse().WithDescription("document not found"))
	case controller.OpCreate, controller.OpBulkUpdate, controller.OpBulkUpload:
		operation.AddResponse(http.StatusMultiStatus, openapi3.NewResponse().
			WithDescription("some elements failed").
			WithJSONSchema(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(itemSchemaName)}))
	}
	return operation
}

func (c components) requestBody(resource, op string, spec controller.ParamSpec) *openapi3.RequestBody {
	body := openapi3.NewRequestBody().WithDescription(spec.Description).WithRequired(spec.Required)
	switch op {
	case controller.OpCreate:
		one := c.ref(resource)
		many := openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(resource)})
		return body.WithJSONSchema(&openapi3.Schema{OneOf: openapi3.SchemaRefs{one, many}})
	case controller.OpUpdate, controller.OpBulkUpdate:
		return body.WithJSONSchemaRef(c.ref(resource + patchSuffix))
	case controller.OpAggregate:
		stages := openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())
		wrapped := openapi3.NewObjectSchema().WithProperty("pipeline", stages)
		wrapped.Required = []string{"pipeline"}
		return body.WithJSONSchema(&openapi3.Schema{OneOf: openapi3.SchemaRefs{
			openapi3.NewSchemaRef("", stages),
			openapi3.NewSchemaRef("", wrapped),
		}})
	default:
		return body.WithJSONSchema(paramSchema(spec.Type))
	}
}

func (c components) successResponse(resource, op string) *openapi3.Response {
	response := openapi3.NewResponse()
	switch op {
	case controller.OpCount:
		return response.WithDescription("number of matching documents").WithJSONSchema(openapi3.NewIntegerSchema())
	case controller.OpIndex:
		list := &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(resource)}
		meta := openapi3.NewObjectSchema().
			WithProperty("page", openapi3.NewInt64Schema()).
			WithProperty("count", openapi3.NewInt64Schema()).
			WithProperty("matched", openapi3.NewInt64Schema()).
			WithProperty("totalCount", openapi3.NewInt64Schema())
		envelope := openapi3.NewObjectSchema().
			WithProperty("meta", meta).
			WithPropertyRef("data", openapi3.NewSchemaRef("", list))
		return response.WithDescription("matching documents, or an envelope when meta=true").
			WithJSONSchema(&openapi3.Schema{OneOf: openapi3.SchemaRefs{
				openapi3.NewSchemaRef("", list),
				openapi3.NewSchemaRef("", envelope),
			}})
	case controller.OpCreate:
		return response.WithDescription("created document, or per-element results for an array body").
			WithJSONSchema(&openapi3.Schema{OneOf: openapi3.SchemaRefs{
				c.ref(resource),
				openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(itemSchemaName)}),
			}})
	case controller.OpBulkUpdate, controller.OpBulkUpload:
		return response.WithDescription("per-element results").
			WithJSONSchema(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(itemSchemaName)})
	case controller.OpAggregate:
		return response.WithDescription("pipeline output").
			WithJSONSchema(openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()))
	case controller.OpBulkShow, controller.OpBulkDestroy, controller.OpBulkMarkAsDeleted:
		return response.WithDescription("documents in request order").
			WithJSONSchema(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: c.ref(resource)})
	default:
		return response.WithDescription("the document").WithJSONSchemaRef(c.ref(resource))
	}
}

func paramSchema(typ controller.ParamType) *openapi3.Schema {
	switch typ {
	case controller.TypeInteger:
		return openapi3.NewInt64Schema()
	case controller.TypeNumber:
		return openapi3.NewFloat64Schema()
	case controller.TypeBoolean:
		return openapi3.NewBoolSchema()
	case controller.TypeArray:
		return openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	case controller.TypeObject:
		return openapi3.NewObjectSchema()
	default:
		return openapi3.NewStringSchema()
	}
}

func errorSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("message", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	s.Required = []string{"message"}
	return s
}

func itemSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewIntegerSchema()).
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("document", openapi3.NewObjectSchema()).
		WithProperty("message", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	s.Required = []string{"status"}
	return s
}

// resourceSchemas converts a document schema into its published form and the
// patch variant used by update bodies.
func resourceSchemas(schema *document.Schema) (full, patch *openapi3.Schema) {
	var root *jsonschema.Schema
	if schema != nil {
		root = schema.JSONSchema()
	}
	full = convertSchema(root)
	if full.Properties == nil {
		full.Properties = openapi3.Schemas{}
	}
	if _, ok := full.Properties[document.FieldID]; !ok {
		full.Properties[document.FieldID] = openapi3.NewSchemaRef("", openapi3.NewStringSchema())
	}
	for _, name := range document.MetadataFields {
		if prop, ok := full.Properties[name]; ok && prop.Value != nil {
			prop.Value.ReadOnly = true
		}
	}

	patchCopy := *full
	patchCopy.Required = nil
	return full, &patchCopy
}

// convertSchema maps the JSON Schema keywords documents use onto the
// OpenAPI 3.0 schema object.
func convertSchema(s *jsonschema.Schema) *openapi3.Schema {
	if s == nil {
		return openapi3.NewObjectSchema()
	}
	out := &openapi3.Schema{
		Title:       s.Title,
		Description: s.Description,
		Format:      s.Format,
		Pattern:     s.Pattern,
		Min:         s.Minimum,
		Max:         s.Maximum,
		Required:    append([]string(nil), s.Required...),
	}

	types := s.Types
	if s.Type != "" {
		types = []string{s.Type}
	}
	for _, t := range types {
		if t == "null" {
			out.Nullable = true
			continue
		}
		if out.Type == nil {
			out.Type = &openapi3.Types{t}
		}
	}

	if s.MinLength != nil && *s.MinLength > 0 {
		out.MinLength = uint64(*s.MinLength)
	}
	if s.MaxLength != nil && *s.MaxLength >= 0 {
		max := uint64(*s.MaxLength)
		out.MaxLength = &max
	}
	if s.MinItems != nil && *s.MinItems > 0 {
		out.MinItems = uint64(*s.MinItems)
	}
	if s.MaxItems != nil && *s.MaxItems >= 0 {
		max := uint64(*s.MaxItems)
		out.MaxItems = &max
	}
	if len(s.Enum) > 0 {
		out.Enum = append([]any(nil), s.Enum...)
	}
	if len(s.Default) > 0 {
		var v any
		if err := json.Unmarshal(s.Default, &v); err == nil {
			out.Default = v
		}
	}
	if s.Items != nil {
		out.Items = openapi3.NewSchemaRef("", convertSchema(s.Items))
	}
	if len(s.Properties) > 0 {
		out.Properties = make(openapi3.Schemas, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = openapi3.NewSchemaRef("", convertSchema(prop))
		}
	}
	return out
}

// Marshal encodes doc as JSON, or YAML when format is "yaml" or "yml".
func Marshal(doc *openapi3.T, format string) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("openapi document is nil")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		return jsonToYAML(data)
	default:
		return data, nil
	}
}

// jsonToYAML re-encodes JSON as block-style YAML keeping the key order.
func jsonToYAML(data []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	resetStyle(&node)
	return yaml.Marshal(&node)
}

func resetStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		resetStyle(child)
	}
}

// WriteSpec writes doc as YAML or JSON based on the file extension.
func WriteSpec(path string, doc *openapi3.T) error {
	outputPath := strings.TrimSpace(path)
	if outputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), ".")
	data, err := Marshal(doc, format)
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write openapi document: %w", err)
	}
	return nil
}
