package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"reducer/internal/types"
)

// maxRequestBodySize caps request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for every error response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is what a caller learns about a failure. Wrapped causes stay
// in the logs.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
}

func newErrorDetail(r *http.Request, code types.ErrorCode, msg string, details map[string]any) ErrorDetail {
	ctx := r.Context()
	return ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(ctx),
		RunID:     types.GetRunID(ctx),
	}
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(APIErrorResponse{
			Error: newErrorDetail(r, types.ErrCodeInternalUnexpected, "failed to encode response", nil),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error envelope. The first *types.AppError in err's chain
// picks the status; anything else is a 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
			Error: newErrorDetail(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil),
		})
		return
	}
	JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
		Error: newErrorDetail(r, appErr.Code, appErr.Message, appErr.Details),
	})
}

// DecodeJSON strictly decodes exactly one JSON value of at most 1 MB into
// dst. Every failure is a validation_invalid_body AppError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

func bodyError(err error) error {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mistyped *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body must not exceed 1MB", err)
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed JSON in request body", err)
	case errors.As(err, &mistyped):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "invalid value for field", err,
			map[string]any{"field": mistyped.Field, "expected": mistyped.Type.String()})
	case errors.Is(err, io.EOF):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body must not be empty", err)
	}
	// encoding/json has no typed error for unknown fields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "unknown field in request body", err,
			map[string]any{"field": strings.Trim(field, `"`)})
	}
	return types.NewAppError(types.ErrCodeValidationInvalidBody, "invalid JSON in request body", err)
}
