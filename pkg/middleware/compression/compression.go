// Package compression negotiates brotli or gzip response encoding.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/nimburion/docrest/pkg/server/router"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// Config controls response compression.
type Config struct {
	Enabled      bool
	EnableGzip   bool
	EnableBrotli bool
	GzipLevel    int
	BrotliLevel  int
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize              int
	ContentTypes         []string
	ExcludedPathPrefixes []string
}

// DefaultConfig compresses JSON, YAML and text bodies of 1 KiB or more.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		EnableGzip:   true,
		EnableBrotli: true,
		GzipLevel:    gzip.DefaultCompression,
		BrotliLevel:  4,
		MinSize:      1024,
		ContentTypes: []string{"application/json", "application/x-yaml", "text/"},
	}
}

// Middleware compresses response bodies with the encoding the client
// prefers. Bodies are buffered until MinSize is reached so small responses
// go out untouched.
func Middleware(cfg Config) router.MiddlewareFunc {
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = DefaultConfig().BrotliLevel
	}
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = gzip.DefaultCompression
	}
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = DefaultConfig().ContentTypes
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if !cfg.Enabled || req.Method == http.MethodHead || cfg.excluded(req.URL.Path) {
				return next(c)
			}
			encoding := negotiate(req.Header.Get("Accept-Encoding"), cfg)
			if encoding == "" {
				return next(c)
			}

			appendVary(c.Response().Header(), "Accept-Encoding")
			w := &compressWriter{base: c.Response(), encoding: encoding, cfg: cfg}
			c.SetResponse(w)
			err := next(c)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
			return err
		}
	}
}

func (cfg Config) excluded(path string) bool {
	for _, prefix := range cfg.ExcludedPathPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// negotiate picks brotli or gzip from an Accept-Encoding header. Ties go to
// brotli; "*" stands in for either when not named explicitly.
func negotiate(acceptEncoding string, cfg Config) string {
	if acceptEncoding == "" {
		return ""
	}
	qualities := parseAcceptEncoding(acceptEncoding)
	quality := func(name string) float64 {
		if q, ok := qualities[name]; ok {
			return q
		}
		return qualities["*"]
	}

	best, bestQ := "", 0.0
	if cfg.EnableBrotli {
		if q := quality(encodingBrotli); q > bestQ {
			best, bestQ = encodingBrotli, q
		}
	}
	if cfg.EnableGzip {
		if q := quality(encodingGzip); q > bestQ {
			best = encodingGzip
		}
	}
	return best
}

func parseAcceptEncoding(header string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(strings.TrimSpace(part), ";")
		name := strings.ToLower(strings.TrimSpace(sections[0]))
		if name == "" {
			continue
		}
		q := 1.0
		for _, param := range sections[1:] {
			kv := strings.SplitN(strings.TrimSpace(param), "=", 2)
			if len(kv) == 2 && strings.EqualFold(kv[0], "q") {
				if parsed, err := strconv.ParseFloat(kv[1], 64); err == nil {
					q = parsed
				}
			}
		}
		out[name] = q
	}
	return out
}

// compressWriter buffers the start of the body and decides once, either
// when MinSize bytes arrived or when the handler finished, whether to
// compress.
type compressWriter struct {
	base     router.ResponseWriter
	encoding string
	cfg      Config

	status  int
	decided bool
	encoder io.WriteCloser
	buffer  bytes.Buffer
}

func (w *compressWriter) Header() http.Header {
	return w.base.Header()
}

func (w *compressWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if noBodyStatus(code) {
		w.decided = true
		w.base.WriteHeader(code)
	}
}

func (w *compressWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.decided {
		if w.encoder != nil {
			return w.encoder.Write(p)
		}
		return w.base.Write(p)
	}
	w.buffer.Write(p)
	if w.buffer.Len() >= w.cfg.MinSize {
		if err := w.decide(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *compressWriter) decide() error {
	w.decided = true
	header := w.Header()
	compress := w.buffer.Len() >= w.cfg.MinSize &&
		header.Get("Content-Encoding") == "" &&
		compressible(header.Get("Content-Type"), w.cfg.ContentTypes)

	if compress {
		header.Del("Content-Length")
		header.Set("Content-Encoding", w.encoding)
		switch w.encoding {
		case encodingBrotli:
			w.encoder = brotli.NewWriterLevel(w.base, w.cfg.BrotliLevel)
		case encodingGzip:
			gz, err := gzip.NewWriterLevel(w.base, w.cfg.GzipLevel)
			if err != nil {
				return fmt.Errorf("create gzip writer: %w", err)
			}
			w.encoder = gz
		}
	}
	if !w.base.Written() {
		w.base.WriteHeader(w.statusOrOK())
	}
	if w.buffer.Len() == 0 {
		return nil
	}
	var err error
	if w.encoder != nil {
		_, err = w.encoder.Write(w.buffer.Bytes())
	} else {
		_, err = w.base.Write(w.buffer.Bytes())
	}
	w.buffer.Reset()
	return err
}

// Close flushes whatever is still buffered and finishes the encoder.
func (w *compressWriter) Close() error {
	if !w.decided {
		if w.status == 0 && w.buffer.Len() == 0 {
			return nil
		}
		if err := w.decide(); err != nil {
			return err
		}
	}
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}

func (w *compressWriter) statusOrOK() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *compressWriter) Status() int {
	if w.base.Written() {
		return w.base.Status()
	}
	return w.statusOrOK()
}

func (w *compressWriter) Written() bool {
	return w.status != 0 || w.base.Written()
}

func noBodyStatus(code int) bool {
	return code == http.StatusNoContent || code == http.StatusNotModified || (code >= 100 && code < 200)
}

func compressible(contentType string, allowed []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(ct, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func appendVary(header http.Header, value string) {
	current := header.Get("Vary")
	if current == "" {
		header.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	header.Set("Vary", current+", "+value)
}
