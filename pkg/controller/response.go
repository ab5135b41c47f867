package controller

import (
	"net/http"

	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Responder emits the outcome of a handler on the response channel.
type Responder interface {
	// Okay sends 200 with data as the JSON body.
	Okay(c router.Context, data interface{}) error
	// NotFound sends 404 with an empty body.
	NotFound(c router.Context) error
	// Error sends the status chosen by MapError with a {message: [...]} body.
	Error(c router.Context, err error) error
	// Batch sends per-item results with 200, 207 or 400 depending on how
	// many items failed.
	Batch(c router.Context, results []ItemResult) error
}

// ItemResult is the outcome of one element of a batch operation.
type ItemResult struct {
	Status   int               `json:"status"`
	ID       string            `json:"id,omitempty"`
	Document document.Document `json:"document,omitempty"`
	Message  []string          `json:"message,omitempty"`
}

// Failed reports whether the item did not succeed.
func (r ItemResult) Failed() bool {
	return r.Status >= http.StatusBadRequest
}

// itemOK builds a successful item result.
func itemOK(doc document.Document) ItemResult {
	return ItemResult{Status: http.StatusOK, ID: document.IDString(doc[document.FieldID]), Document: doc}
}

// itemFailed builds a failed item result from err.
func itemFailed(id string, err error) ItemResult {
	status, body := MapError(err)
	if status == http.StatusNotFound && len(body.Message) == 0 {
		body.Message = []string{"document " + id + " not found"}
	}
	return ItemResult{Status: status, ID: id, Message: body.Message}
}

// BatchStatus is 200 when every item succeeded, 400 when every item failed
// and 207 otherwise. An empty batch is a success.
func BatchStatus(results []ItemResult) int {
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return http.StatusOK
	case failed == len(results):
		return http.StatusBadRequest
	default:
		return http.StatusMultiStatus
	}
}

// JSONResponder is the default Responder.
type JSONResponder struct{}

var _ Responder = JSONResponder{}

// Okay sends a successful JSON response with HTTP 200 OK.
func (JSONResponder) Okay(c router.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// NotFound sends HTTP 404 with no body.
func (JSONResponder) NotFound(c router.Context) error {
	return c.NoContent(http.StatusNotFound)
}

// Error sends an error response with the status mapped by MapError.
func (r JSONResponder) Error(c router.Context, err error) error {
	status, body := MapError(err)
	if status == http.StatusNotFound {
		return r.NotFound(c)
	}
	return c.JSON(status, body)
}

// Batch sends the per-item results.
func (JSONResponder) Batch(c router.Context, results []ItemResult) error {
	if results == nil {
		results = []ItemResult{}
	}
	return c.JSON(BatchStatus(results), results)
}
