// Package openapi generates the OpenAPI document of the mounted resources and
// serves it together with Swagger UI.
package openapi

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/nimburion/docrest/pkg/server/router"
)

// Paths of the served document.
const (
	JSONPath = "/api/openapi/openapi.json"
	YAMLPath = "/api/openapi/openapi.yaml"
)

// Handler serves a generated OpenAPI document. Both encodings are rendered
// once at construction.
type Handler struct {
	json []byte
	yaml []byte
}

// NewHandler renders doc for serving.
func NewHandler(doc *openapi3.T) (*Handler, error) {
	jsonData, err := Marshal(doc, "json")
	if err != nil {
		return nil, fmt.Errorf("render openapi json: %w", err)
	}
	yamlData, err := Marshal(doc, "yaml")
	if err != nil {
		return nil, fmt.Errorf("render openapi yaml: %w", err)
	}
	return &Handler{json: jsonData, yaml: yamlData}, nil
}

// ServeJSON serves the document as JSON.
func (h *Handler) ServeJSON(c router.Context) error {
	return h.serve(c, "application/json", h.json)
}

// ServeYAML serves the document as YAML.
func (h *Handler) ServeYAML(c router.Context) error {
	return h.serve(c, "application/x-yaml", h.yaml)
}

func (h *Handler) serve(c router.Context, contentType string, data []byte) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=300")
	return c.Blob(http.StatusOK, contentType, data)
}

// RegisterRoutes registers the document routes on r.
func (h *Handler) RegisterRoutes(r router.Router) {
	r.GET(YAMLPath, h.ServeYAML)
	r.GET(JSONPath, h.ServeJSON)
}
