package controller

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/docrest/pkg/repository/document"
)

// Meta is the envelope attached to a list response when meta=true.
type Meta struct {
	Page       int64 `json:"page"`
	Count      int64 `json:"count"`
	Matched    int64 `json:"matched"`
	TotalCount int64 `json:"totalCount"`
}

// ListResponse is the body of index when meta=true.
type ListResponse struct {
	Meta Meta                `json:"meta"`
	Data []document.Document `json:"data"`
}

// DefaultSort orders lists by lastUpdated, newest first.
var DefaultSort = []document.SortField{{Field: document.FieldLastUpdated, Order: document.SortDesc}}

// ParseSort parses a comma-separated sort list. Each entry is split on "-":
// when that yields more than one segment the second segment is sorted
// descending, otherwise the first segment is sorted ascending. So "-age"
// sorts age descending and "name" sorts name ascending. An empty list yields
// DefaultSort.
func ParseSort(raw string) []document.SortField {
	var fields []document.SortField
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		segments := strings.Split(entry, "-")
		field, order := segments[0], document.SortAsc
		if len(segments) > 1 {
			field, order = segments[1], document.SortDesc
		}
		if field = strings.TrimSpace(field); field == "" {
			continue
		}
		fields = append(fields, document.SortField{Field: field, Order: order})
	}
	if len(fields) == 0 {
		return append([]document.SortField(nil), DefaultSort...)
	}
	return fields
}

// Pagination resolves the page and page size of a list request. page
// defaults to 1 and count to pageSize; count == NoLimit disables paging.
func Pagination(params Params, pageSize int64) (page, count, skip, limit int64) {
	page, ok := params.Int("page")
	if !ok || page < 1 {
		page = 1
	}
	count, ok = params.Int("count")
	if !ok || (count < 1 && count != NoLimit) {
		count = pageSize
	}
	if count == NoLimit {
		return page, count, 0, 0
	}
	return page, count, count * (page - 1), count
}

// selectFields unions the configured select list with the caller's.
func (r *Resource) selectFields(params Params) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{r.cfg.Select, params.Strings("select")} {
		for _, f := range list {
			if f = strings.TrimSpace(f); f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// listFilter builds the filter of count and index: the default filter, the
// parsed and normalized request filter, minus omitted keys, scoped to live
// documents, plus an optional full-text clause.
func (r *Resource) listFilter(params Params) (document.Filter, error) {
	requested, err := document.ParseFilter(params["filter"])
	if err != nil {
		r.logger.Error("rejecting malformed filter", "filter", params.String("filter"), "error", err)
		return nil, err
	}
	filter := document.MergeFilters(document.Normalize(r.cfg.DefaultFilter), document.Normalize(requested))
	filter = r.scope(document.OmitKeys(filter, r.cfg.Omit))

	if search := strings.TrimSpace(params.String("search")); search != "" {
		if len(r.model.TextFields()) == 0 {
			return nil, NewValidationError(fmt.Sprintf("search is not enabled for %s", r.cfg.Name))
		}
		filter["$text"] = bson.M{"$search": search}
	}
	return filter, nil
}
