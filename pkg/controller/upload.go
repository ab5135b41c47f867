package controller

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
)

// UploadField is the multipart form field carrying the CSV payload.
const UploadField = "file"

// maxUploadMemory bounds the multipart parts kept in memory.
const maxUploadMemory = 32 << 20

// BulkUpload creates one document per CSV row. The first row holds the field
// names; rows with fewer than two fields are skipped. Rows are persisted
// independently and their outcomes are returned in row order.
func (r *Resource) BulkUpload(c router.Context) error {
	req := c.Request()
	if err := req.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return r.fail(c, OpBulkUpload, NewValidationError(fmt.Sprintf("invalid multipart payload: %v", err)))
	}
	file, _, err := req.FormFile(UploadField)
	if err != nil {
		return r.fail(c, OpBulkUpload, NewValidationError(UploadField+" is required"))
	}
	defer file.Close()

	records, err := ParseCSV(file, r.model.Schema())
	if err != nil {
		return r.fail(c, OpBulkUpload, NewValidationError(err.Error()))
	}

	actor := r.actor(c)
	results := r.fanOut(req.Context(), len(records), func(ctx context.Context, i int) ItemResult {
		created, err := r.createOne(ctx, actor, records[i])
		if err != nil {
			return itemFailed(document.IDString(records[i][document.FieldID]), err)
		}
		return itemOK(created)
	})
	return r.batch(c, OpBulkUpload, results)
}

// ParseCSV reads comma-delimited rows into documents keyed by the header
// row. Cells are converted to the schema type of their column; empty cells
// are left out.
func ParseCSV(in io.Reader, schema *document.Schema) ([]document.Document, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var docs []document.Document
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv row %d: %w", line, err)
		}
		if len(row) < 2 {
			continue
		}
		doc := document.Document{}
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || cell == "" {
				continue
			}
			doc[header[i]] = cellValue(cell, schema, header[i])
		}
		docs = append(docs, doc)
	}
}

func cellValue(cell string, schema *document.Schema, field string) interface{} {
	if schema == nil {
		return cell
	}
	switch schema.PropertyType(field) {
	case "integer":
		if n, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64); err == nil {
			return n
		}
	case "number":
		if n, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(strings.TrimSpace(cell)); err == nil {
			return b
		}
	}
	return cell
}
