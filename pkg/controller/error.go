package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nimburion/docrest/pkg/repository/document"
)

// Stable error codes carried by AppError.
const (
	CodeValidation         = "validation.failed"
	CodeNotFound           = "resource.not_found"
	CodeRestrictedOperator = "pipeline.restricted_operator"
	CodeMalformedFilter    = "validation.malformed_filter"
	CodeConcurrentUpdate   = "resource.concurrent_modification"
	CodeBulkIncomplete     = "resource.bulk_incomplete"
	CodeInternal           = "internal.error"
)

// AppError is the single application error contract shared by the handlers:
// a stable code, the messages rendered to the client, the HTTP status and an
// optional cause.
type AppError struct {
	Code       string
	Messages   []string
	HTTPStatus int
	Cause      error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	label := e.Code
	if len(e.Messages) > 0 {
		label = strings.Join(e.Messages, "; ")
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", label, e.Cause)
	}
	return label
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError creates an AppError with a stable code.
func NewError(code string, cause error) *AppError {
	return &AppError{Code: code, Cause: cause}
}

// WithMessage sets the client-facing messages.
func (e *AppError) WithMessage(messages ...string) *AppError {
	if e == nil {
		return nil
	}
	e.Messages = append([]string(nil), messages...)
	return e
}

// WithHTTPStatus sets an explicit HTTP status for this error.
func (e *AppError) WithHTTPStatus(status int) *AppError {
	if e == nil {
		return nil
	}
	e.HTTPStatus = status
	return e
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message []string `json:"message"`
}

// MapError converts any error into a status code and the {message: [...]}
// body. Not-found maps to 404; everything else is a 400 carrying either one
// message per failing field or the single error text.
func MapError(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusOK, ErrorResponse{}
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = inferStatusFromCode(appErr.Code)
		}
		messages := appErr.Messages
		if len(messages) == 0 {
			messages = messagesOf(appErr.Cause)
		}
		return status, ErrorResponse{Message: messages}
	}

	if errors.Is(err, document.ErrNotFound) {
		return http.StatusNotFound, ErrorResponse{}
	}
	return http.StatusBadRequest, ErrorResponse{Message: messagesOf(err)}
}

// messagesOf renders the client messages of a domain error.
func messagesOf(err error) []string {
	if err == nil {
		return []string{"an unexpected error occurred"}
	}
	var validation *document.ValidationError
	if errors.As(err, &validation) && len(validation.Messages) > 0 {
		return append([]string(nil), validation.Messages...)
	}
	var restricted *document.RestrictedOperatorError
	if errors.As(err, &restricted) {
		return []string{restricted.Error()}
	}
	if errors.Is(err, document.ErrMalformedFilter) {
		return []string{document.ErrMalformedFilter.Error()}
	}
	return []string{err.Error()}
}

// AsAppError classifies a domain error into an AppError.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		validation *document.ValidationError
		restricted *document.RestrictedOperatorError
		concurrent *document.ConcurrentModificationError
	)
	switch {
	case errors.Is(err, document.ErrNotFound):
		return NewError(CodeNotFound, err).WithHTTPStatus(http.StatusNotFound)
	case errors.As(err, &validation):
		return NewError(CodeValidation, err).WithMessage(validation.Messages...).WithHTTPStatus(http.StatusBadRequest)
	case errors.As(err, &restricted):
		return NewRestrictedOperatorError(restricted.Operator)
	case errors.Is(err, document.ErrMalformedFilter):
		return NewError(CodeMalformedFilter, err).WithMessage(document.ErrMalformedFilter.Error()).WithHTTPStatus(http.StatusBadRequest)
	case errors.As(err, &concurrent):
		return NewError(CodeConcurrentUpdate, err).WithMessage(concurrent.Error()).WithHTTPStatus(http.StatusBadRequest)
	default:
		return NewInternalError(err.Error(), err)
	}
}

// NewValidationError creates a validation error with one message per failure.
func NewValidationError(messages ...string) *AppError {
	return NewError(CodeValidation, nil).
		WithMessage(messages...).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError creates a not-found error. Its response body is empty.
func NewNotFoundError(message string) *AppError {
	return NewError(CodeNotFound, nil).
		WithMessage(message).
		WithHTTPStatus(http.StatusNotFound)
}

// NewRestrictedOperatorError rejects an aggregation pipeline operator.
func NewRestrictedOperatorError(operator string) *AppError {
	restricted := &document.RestrictedOperatorError{Operator: operator}
	return NewError(CodeRestrictedOperator, restricted).
		WithMessage(restricted.Error()).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewInternalError wraps a store failure. Store failures are surfaced as 400
// with the error text.
func NewInternalError(message string, cause error) *AppError {
	return NewError(CodeInternal, cause).
		WithMessage(message).
		WithHTTPStatus(http.StatusBadRequest)
}

func inferStatusFromCode(code string) int {
	lowerCode := strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.Contains(lowerCode, "not_found"):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
