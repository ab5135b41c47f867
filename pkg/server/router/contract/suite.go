// Package contract holds the conformance suite every router adapter must pass.
package contract

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/docrest/pkg/server/router"
)

// TestRouterContract runs the shared router conformance suite.
func TestRouterContract(t *testing.T, createRouter func() router.Router) {
	t.Helper()

	t.Run("http_methods", func(t *testing.T) {
		r := createRouter()
		for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			method := m
			r.Handle(method, "/m", func(c router.Context) error {
				return c.String(http.StatusOK, method)
			})
		}
		for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			res := performRequest(r, m, "/m", nil, "")
			if res.Code != http.StatusOK || res.Body.String() != m {
				t.Fatalf("%s: got %d %q", m, res.Code, res.Body.String())
			}
		}
		if res := performRequest(r, http.MethodGet, "/not-registered", nil, ""); res.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unregistered route, got %d", res.Code)
		}
	})

	t.Run("resource_route_table", func(t *testing.T) {
		r := createRouter()
		echo := func(name string) router.HandlerFunc {
			return func(c router.Context) error {
				return c.String(http.StatusOK, name+"|"+c.Param("id")+c.Param("ids"))
			}
		}
		router.Mount(r.Group("/api"), []router.Route{
			{Method: http.MethodGet, Path: "/people/count", Handler: echo("count")},
			{Method: http.MethodGet, Path: "/people/bulk/:ids", Handler: echo("bulkShow")},
			{Method: http.MethodDelete, Path: "/people/bulk/:ids/soft", Handler: echo("bulkSoft")},
			{Method: http.MethodDelete, Path: "/people/bulk/:ids", Handler: echo("bulkDestroy")},
			{Method: http.MethodGet, Path: "/people", Handler: echo("index")},
			{Method: http.MethodGet, Path: "/people/:id", Handler: echo("show")},
			{Method: http.MethodDelete, Path: "/people/:id/soft", Handler: echo("soft")},
			{Method: http.MethodDelete, Path: "/people/:id", Handler: echo("destroy")},
		})

		cases := []struct {
			method, path, want string
		}{
			{http.MethodGet, "/api/people/count", "count|"},
			{http.MethodGet, "/api/people/bulk/a,b,c", "bulkShow|a,b,c"},
			{http.MethodDelete, "/api/people/bulk/a,b/soft", "bulkSoft|a,b"},
			{http.MethodDelete, "/api/people/bulk/a", "bulkDestroy|a"},
			{http.MethodGet, "/api/people", "index|"},
			{http.MethodGet, "/api/people/42", "show|42"},
			{http.MethodDelete, "/api/people/42/soft", "soft|42"},
			{http.MethodDelete, "/api/people/42", "destroy|42"},
		}
		for _, tc := range cases {
			res := performRequest(r, tc.method, tc.path, nil, "")
			if res.Code != http.StatusOK || res.Body.String() != tc.want {
				t.Errorf("%s %s: got %d %q, want %q", tc.method, tc.path, res.Code, res.Body.String(), tc.want)
			}
		}
	})

	t.Run("middleware", func(t *testing.T) {
		r := createRouter()
		var order []string
		r.Use(func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				order = append(order, "global")
				return next(c)
			}
		})
		group := r.Group("/g", func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				order = append(order, "group")
				return next(c)
			}
		})
		group.GET("/m", func(c router.Context) error {
			order = append(order, "handler")
			return c.String(http.StatusOK, "ok")
		}, func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				order = append(order, "route")
				return next(c)
			}
		})

		if res := performRequest(r, http.MethodGet, "/g/m", nil, ""); res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
		if strings.Join(order, ",") != "global,group,route,handler" {
			t.Fatalf("unexpected middleware order: %v", order)
		}
	})

	t.Run("body_is_cached", func(t *testing.T) {
		r := createRouter()
		r.POST("/body", func(c router.Context) error {
			first, err := c.Body()
			if err != nil {
				return err
			}
			second, _ := c.Body()
			rest, _ := io.ReadAll(c.Request().Body)
			return c.String(http.StatusOK, string(first)+"|"+string(second)+"|"+string(rest))
		})
		res := performRequest(r, http.MethodPost, "/body", strings.NewReader(`{"a":1}`), "application/json")
		if res.Body.String() != `{"a":1}|{"a":1}|{"a":1}` {
			t.Fatalf("unexpected body echo %q", res.Body.String())
		}
		r.POST("/empty", func(c router.Context) error {
			b, err := c.Body()
			if err != nil || len(b) != 0 {
				t.Errorf("expected empty body, got %q, %v", b, err)
			}
			return c.NoContent(http.StatusNoContent)
		})
		if res := performRequest(r, http.MethodPost, "/empty", nil, ""); res.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", res.Code)
		}
	})

	t.Run("responses", func(t *testing.T) {
		r := createRouter()
		r.GET("/json", func(c router.Context) error {
			return c.JSON(http.StatusCreated, map[string]string{"x": "y"})
		})
		r.GET("/blob", func(c router.Context) error {
			return c.Blob(http.StatusOK, "application/yaml", []byte("a: 1\n"))
		})
		r.GET("/none", func(c router.Context) error {
			return c.NoContent(http.StatusNotFound)
		})

		res := performRequest(r, http.MethodGet, "/json", nil, "")
		if res.Code != http.StatusCreated || !strings.Contains(res.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("unexpected json response %d %q", res.Code, res.Header().Get("Content-Type"))
		}
		res = performRequest(r, http.MethodGet, "/blob", nil, "")
		if res.Header().Get("Content-Type") != "application/yaml" || res.Body.String() != "a: 1\n" {
			t.Fatalf("unexpected blob response %q %q", res.Header().Get("Content-Type"), res.Body.String())
		}
		res = performRequest(r, http.MethodGet, "/none", nil, "")
		if res.Code != http.StatusNotFound || res.Body.Len() != 0 {
			t.Fatalf("expected empty 404, got %d %q", res.Code, res.Body.String())
		}
	})

	t.Run("context_storage", func(t *testing.T) {
		r := createRouter()
		r.Use(func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				c.Set("from_mw", "yes")
				return next(c)
			}
		})
		r.GET("/ctx", func(c router.Context) error {
			if c.Get("missing") != nil {
				t.Error("expected nil for missing key")
			}
			return c.String(http.StatusOK, c.Get("from_mw").(string))
		})
		if res := performRequest(r, http.MethodGet, "/ctx", nil, ""); res.Body.String() != "yes" {
			t.Fatalf("expected value set by middleware, got %q", res.Body.String())
		}
	})

	t.Run("error_handling", func(t *testing.T) {
		r := createRouter()
		r.GET("/err1", func(c router.Context) error { return errors.New("boom") })
		if res := performRequest(r, http.MethodGet, "/err1", nil, ""); res.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", res.Code)
		}

		r.GET("/err2", func(c router.Context) error {
			if err := c.String(http.StatusBadRequest, "bad"); err != nil {
				return err
			}
			return errors.New("ignored")
		})
		res := performRequest(r, http.MethodGet, "/err2", nil, "")
		if res.Code != http.StatusBadRequest || res.Body.String() != "bad" {
			t.Fatalf("expected written response to win, got %d %q", res.Code, res.Body.String())
		}
	})

	t.Run("response_writer", func(t *testing.T) {
		r := createRouter()
		r.GET("/rw", func(c router.Context) error {
			rw := c.Response()
			if rw.Written() {
				t.Error("Written must be false before writes")
			}
			rw.WriteHeader(http.StatusCreated)
			rw.WriteHeader(http.StatusTeapot)
			if rw.Status() != http.StatusCreated || !rw.Written() {
				t.Errorf("expected first status to stick, got %d", rw.Status())
			}
			return nil
		})
		if res := performRequest(r, http.MethodGet, "/rw", nil, ""); res.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", res.Code)
		}
	})
}

func performRequest(r router.Router, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	var testBody io.Reader = http.NoBody
	if body != nil {
		testBody = body
	}
	req := httptest.NewRequest(method, path, testBody)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
