package controller

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	"github.com/nimburion/docrest/pkg/repository/document"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "code only",
			appError: NewError(CodeValidation, nil),
			want:     "validation.failed",
		},
		{
			name:     "messages",
			appError: NewValidationError("name is required", "age: too small"),
			want:     "name is required; age: too small",
		},
		{
			name:     "with cause",
			appError: NewInternalError("database error", errors.New("connection timeout")),
			want:     "database error: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	appErr := NewError(CodeInternal, cause)

	if unwrapped := appErr.Unwrap(); unwrapped != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
	var nilErr *AppError
	if nilErr.Error() != "" || nilErr.Unwrap() != nil || nilErr.WithMessage("x") != nil {
		t.Error("nil AppError must be inert")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		want       []string
	}{
		{
			name:       "not found sentinel",
			err:        fmt.Errorf("lookup: %w", document.ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not found app error",
			err:        NewNotFoundError("person a not found"),
			wantStatus: http.StatusNotFound,
			want:       []string{"person a not found"},
		},
		{
			name:       "validation lists every field",
			err:        &document.ValidationError{Messages: []string{"name is required", "age: must be >= 0"}},
			wantStatus: http.StatusBadRequest,
			want:       []string{"name is required", "age: must be >= 0"},
		},
		{
			name:       "restricted operator",
			err:        &document.RestrictedOperatorError{Operator: "$lookup"},
			wantStatus: http.StatusBadRequest,
			want:       []string{"$lookup is restricted."},
		},
		{
			name:       "malformed filter",
			err:        fmt.Errorf("%w: unexpected end of input", document.ErrMalformedFilter),
			wantStatus: http.StatusBadRequest,
			want:       []string{"filter is not valid JSON"},
		},
		{
			name:       "concurrent modification",
			err:        &document.ConcurrentModificationError{ID: "a", Attempts: 3},
			wantStatus: http.StatusBadRequest,
			want:       []string{"document a was modified concurrently; gave up after 3 attempts"},
		},
		{
			name:       "generic store failure",
			err:        errors.New("server selection timeout"),
			wantStatus: http.StatusBadRequest,
			want:       []string{"server selection timeout"},
		},
		{
			name:       "app error without messages falls back to cause",
			err:        NewError(CodeValidation, &document.ValidationError{Messages: []string{"tags: not an array"}}),
			wantStatus: http.StatusBadRequest,
			want:       []string{"tags: not an array"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := MapError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if !reflect.DeepEqual(body.Message, tt.want) {
				t.Errorf("messages = %v, want %v", body.Message, tt.want)
			}
		})
	}
}

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil", nil, ""},
		{"not found", document.ErrNotFound, CodeNotFound},
		{"validation", &document.ValidationError{Messages: []string{"x"}}, CodeValidation},
		{"restricted", &document.RestrictedOperatorError{Operator: "$out"}, CodeRestrictedOperator},
		{"malformed filter", document.ErrMalformedFilter, CodeMalformedFilter},
		{"concurrent", &document.ConcurrentModificationError{ID: "a", Attempts: 2}, CodeConcurrentUpdate},
		{"other", errors.New("boom"), CodeInternal},
		{"already classified", NewValidationError("x"), CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			if tt.wantCode == "" {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil || got.Code != tt.wantCode {
				t.Fatalf("AsAppError() = %v, want code %s", got, tt.wantCode)
			}
		})
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", document.ErrNotFound)) {
		t.Error("expected wrapped ErrNotFound to be not-found")
	}
	if IsNotFound(errors.New("other")) {
		t.Error("unexpected not-found")
	}
}
