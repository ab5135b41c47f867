// Package openapivalidation validates incoming requests against the generated
// OpenAPI document before they reach the resource handlers.
package openapivalidation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	logpkg "github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Validation modes.
const (
	ValidationModeStrict   = "strict"
	ValidationModeWarnOnly = "warn-only"
)

// Config configures OpenAPI request validation.
type Config struct {
	StripPrefix string
	Mode        string // strict, warn-only
	// SkipPathPrefixes bypasses validation for paths the document does not
	// describe, such as /metrics.
	SkipPathPrefixes []string
}

// NewRequestValidationMiddleware validates incoming requests against doc.
// In strict mode a failing request is answered with 400 (405 for an unknown
// method) and a {message: [...]} body. In warn-only mode the failure is
// logged and the request proceeds.
func NewRequestValidationMiddleware(doc *openapi3.T, cfg Config, log logpkg.Logger) (router.MiddlewareFunc, error) {
	if doc == nil {
		return nil, errors.New("openapi document is nil")
	}
	specRouter, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "":
		mode = ValidationModeStrict
	case ValidationModeStrict, ValidationModeWarnOnly:
	default:
		return nil, fmt.Errorf("unknown validation mode %q", cfg.Mode)
	}
	if log == nil {
		log = logpkg.Nop()
	}

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		MultiError:         true,
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if skipped(req.URL.Path, cfg.SkipPathPrefixes) {
				return next(c)
			}

			bodyBytes, bodyReadErr := snapshotAndRestoreRequestBody(req)
			if bodyReadErr != nil {
				validationErr := fmt.Errorf("read request body for validation: %w", bodyReadErr)
				if mode != ValidationModeWarnOnly {
					return reject(c, validationErr)
				}
				warnValidationFailure(log, req, validationErr)
				return next(c)
			}

			validationReq := cloneRequestForValidation(req, bodyBytes, cfg.StripPrefix)
			if err := validateOpenAPIRequest(validationReq, specRouter, options); err != nil {
				if mode != ValidationModeWarnOnly {
					return reject(c, err)
				}
				warnValidationFailure(log, req, err)
			}

			return next(c)
		}
	}, nil
}

func skipped(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func reject(c router.Context, err error) error {
	return c.JSON(openapiValidationStatusCode(err), map[string][]string{
		"message": validationMessages(err),
	})
}

// validationMessages flattens a MultiError into one message per failure.
func validationMessages(err error) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		out := make([]string, 0, len(multi))
		for _, e := range multi {
			out = append(out, validationMessages(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

func warnValidationFailure(log logpkg.Logger, req *http.Request, err error) {
	log.WithContext(req.Context()).Warn(
		"openapi request validation failed (warn-only)",
		"method", req.Method,
		"path", req.URL.Path,
		"error", err.Error(),
	)
}

func snapshotAndRestoreRequestBody(req *http.Request) ([]byte, error) {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(req.Body)
	if closeErr := req.Body.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	return body, nil
}

func cloneRequestForValidation(req *http.Request, body []byte, stripPrefix string) *http.Request {
	validationReq := req.Clone(req.Context())
	if req.URL != nil {
		urlCopy := *req.URL
		validationReq.URL = &urlCopy
	}

	trimmedStripPrefix := strings.TrimSpace(stripPrefix)
	if trimmedStripPrefix != "" && validationReq.URL != nil && strings.HasPrefix(validationReq.URL.Path, trimmedStripPrefix) {
		rewritten := strings.TrimPrefix(validationReq.URL.Path, trimmedStripPrefix)
		if rewritten == "" {
			rewritten = "/"
		}
		validationReq.URL.Path = rewritten
		if validationReq.URL.RawPath != "" {
			validationReq.URL.RawPath = rewritten
		}
	}

	if len(body) == 0 {
		validationReq.Body = http.NoBody
		validationReq.ContentLength = 0
		return validationReq
	}

	validationReq.Body = io.NopCloser(bytes.NewReader(body))
	validationReq.ContentLength = int64(len(body))
	return validationReq
}

func validateOpenAPIRequest(req *http.Request, specRouter routers.Router, opts *openapi3filter.Options) error {
	route, pathParams, err := specRouter.FindRoute(req)
	if err != nil {
		return err
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    opts,
	}
	return openapi3filter.ValidateRequest(req.Context(), input)
}

func openapiValidationStatusCode(err error) int {
	var routeErr *routers.RouteError
	if errors.As(err, &routeErr) && routeErr.Reason == routers.ErrMethodNotAllowed.Error() {
		return http.StatusMethodNotAllowed
	}
	return http.StatusBadRequest
}
