package openapi

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/nimburion/docrest/pkg/server/router"
)

// SwaggerPath is where Swagger UI is served.
const SwaggerPath = "/swagger"

var swaggerPage = template.Must(template.New("swagger").Parse(swaggerUITemplate))

// SwaggerHandler serves Swagger UI pointed at the generated document.
type SwaggerHandler struct {
	page []byte
}

// NewSwaggerHandler renders the Swagger UI page for the document at specURL.
func NewSwaggerHandler(specURL string) (*SwaggerHandler, error) {
	var buf bytes.Buffer
	if err := swaggerPage.Execute(&buf, map[string]string{"SpecURL": specURL}); err != nil {
		return nil, err
	}
	return &SwaggerHandler{page: buf.Bytes()}, nil
}

// ServeSwaggerUI serves the Swagger UI HTML page.
func (h *SwaggerHandler) ServeSwaggerUI(c router.Context) error {
	return c.Blob(http.StatusOK, "text/html; charset=utf-8", h.page)
}

// RegisterRoutes registers the Swagger UI routes on r.
func (h *SwaggerHandler) RegisterRoutes(r router.Router) {
	r.GET(SwaggerPath, h.ServeSwaggerUI)
	r.GET(SwaggerPath+"/", h.ServeSwaggerUI)
}

// swaggerUITemplate loads Swagger UI from the unpkg CDN.
const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>docrest - Swagger UI</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui.css">
    <style>
        html {
            box-sizing: border-box;
            overflow: -moz-scrollbars-vertical;
            overflow-y: scroll;
        }
        *, *:before, *:after {
            box-sizing: inherit;
        }
        body {
            margin: 0;
            padding: 0;
        }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-standalone-preset.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [
                    SwaggerUIBundle.presets.apis,
                    SwaggerUIStandalonePreset
                ],
                plugins: [
                    SwaggerUIBundle.plugins.DownloadUrl
                ],
                layout: "StandaloneLayout"
            });
        };
    </script>
</body>
</html>
`
