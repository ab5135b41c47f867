package controller

import (
	"fmt"
	"strings"

	"github.com/nimburion/docrest/pkg/repository/document"
)

// Default controller settings.
const (
	DefaultPageSize        = 20
	DefaultBulkConcurrency = 8
	DefaultUserField       = "user"
	DefaultUserHeader      = "X-User"

	// NoLimit as the count parameter returns every match, sorted only.
	NoLimit = -1
)

// Config is the per-resource controller configuration. It is copied at
// construction and never mutated afterwards.
type Config struct {
	// Name is the route prefix and the resource label in logs and metrics.
	Name string
	// Select is always unioned with the caller's select list.
	Select []string
	// Omit lists filter keys stripped from every request filter.
	Omit []string
	// DefaultFilter is merged under every request filter.
	DefaultFilter document.Filter
	// PermanentDeleteVisible includes soft-deleted documents on read paths.
	PermanentDeleteVisible bool
	// Upsert merges created elements into existing documents with the same _id.
	Upsert bool
	PageSize        int64
	BulkConcurrency int
	// UserField is the context key holding the authenticated user.
	UserField string
	// UserHeader is read when UserField is not set on the request.
	UserHeader string
}

// withDefaults returns a deep copy of c with zero values defaulted.
func (c Config) withDefaults() Config {
	out := c
	out.Select = append([]string(nil), c.Select...)
	out.Omit = append([]string(nil), c.Omit...)
	out.DefaultFilter = document.Clone(c.DefaultFilter)
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.BulkConcurrency <= 0 {
		out.BulkConcurrency = DefaultBulkConcurrency
	}
	if strings.TrimSpace(out.UserField) == "" {
		out.UserField = DefaultUserField
	}
	if strings.TrimSpace(out.UserHeader) == "" {
		out.UserHeader = DefaultUserHeader
	}
	return out
}

// Validate checks the configuration.
func (c Config) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("resource name is required")
	}
	if strings.ContainsAny(name, "/:{} ") {
		return fmt.Errorf("resource name %q must be a single path segment", c.Name)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("resource %s: page size must be positive", c.Name)
	}
	if c.BulkConcurrency < 0 {
		return fmt.Errorf("resource %s: bulk concurrency must be positive", c.Name)
	}
	return nil
}
