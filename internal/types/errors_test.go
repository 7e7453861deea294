package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeGeometryOutsideGrid,
		Message: "polygon extends beyond the latitude axis",
	}

	expected := "geometry_outside_grid: polygon extends beyond the latitude axis"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	appErr := NewAppError(ErrCodeStoreWriteFailed, "copy failed", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the underlying error")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeUpstreamArchive, "chunk fetch failed", nil)
	wrapped := fmt.Errorf("feed forecast: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeUpstreamArchive {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeUpstreamArchive)
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewAppError(ErrCodeGeometryOutsideGrid, "x", nil))
	if got := CodeOf(wrapped); got != ErrCodeGeometryOutsideGrid {
		t.Errorf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if !IsCode(wrapped, ErrCodeGeometryOutsideGrid) {
		t.Error("IsCode should match through wrapping")
	}
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeStoreWriteFailed, "copy", nil, map[string]any{"table": "precip_data"})
	extended := orig.WithDetails(map[string]any{"rows": 3})

	if len(orig.Details) != 1 {
		t.Errorf("original details mutated: %v", orig.Details)
	}
	if extended.Details["table"] != "precip_data" || extended.Details["rows"] != 3 {
		t.Errorf("merged details = %v", extended.Details)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidDate, http.StatusBadRequest},
		{ErrCodeValidationInvalidBody, http.StatusBadRequest},
		{ErrCodeGeometryOutsideGrid, http.StatusUnprocessableEntity},
		{ErrCodeConflictRunInProgress, http.StatusConflict},
		{ErrCodeStoreWriteFailed, http.StatusBadGateway},
		{ErrCodeUpstreamArchive, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{ErrCodeConfigInvalidManifest, http.StatusInternalServerError},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
