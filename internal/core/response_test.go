package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reducer/internal/types"
)

func requestWithIDs(requestID, runID string) *http.Request {
	ctx := types.WithRunID(types.WithRequestID(context.Background(), requestID), runID)
	return httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	result := &types.RunResult{Today: "2022-05-04", Status: types.RunStatusSuccess, Rows: map[types.FeedName]int{types.FeedPrecip: 3}}

	JSON(rec, requestWithIDs("", ""), http.StatusOK, APIResponse{Data: result})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var got struct {
		Data types.RunResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data.Rows[types.FeedPrecip] != 3 || got.Data.Status != types.RunStatusSuccess {
		t.Errorf("unexpected body: %+v", got.Data)
	}
}

func TestJSON_MarshalFailureIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithIDs("req-1", ""), http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != string(types.ErrCodeInternalUnexpected) || got.RequestID != "req-1" {
		t.Errorf("unexpected error detail: %+v", got)
	}
}

func TestError_StatusFromCode(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationInvalidDate, http.StatusBadRequest},
		{types.ErrCodeGeometryOutsideGrid, http.StatusUnprocessableEntity},
		{types.ErrCodeConflictRunInProgress, http.StatusConflict},
		{types.ErrCodeStoreWriteFailed, http.StatusBadGateway},
		{types.ErrCodeUpstreamArchive, http.StatusBadGateway},
		{types.ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{types.ErrCodeConfigInvalidManifest, http.StatusInternalServerError},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, requestWithIDs("", ""), types.NewAppError(tt.code, "boom", nil))

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decodeError(t, rec).Code; got != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestError_CarriesDetailsAndIDs(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewAppErrorWithDetails(types.ErrCodeStoreWriteFailed, "copy count mismatch",
		errors.New("pq: connection reset"), map[string]any{"table": "wave2web.precipitation"})

	Error(rec, requestWithIDs("req-9", "run-2022-05-04"), fmt.Errorf("push window: %w", err))

	got := decodeError(t, rec)
	if got.Message != "copy count mismatch" {
		t.Errorf("unexpected message %q", got.Message)
	}
	if got.Details["table"] != "wave2web.precipitation" {
		t.Errorf("details not propagated: %v", got.Details)
	}
	if got.RequestID != "req-9" || got.RunID != "run-2022-05-04" {
		t.Errorf("ids not propagated: %+v", got)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Error("wrapped cause leaked into response")
	}
}

func TestError_JoinedErrorsUseFirstAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := errors.Join(
		errors.New("plain"),
		types.NewAppError(types.ErrCodeUpstreamArchive, "archive down", nil),
		types.NewAppError(types.ErrCodeStoreWriteFailed, "store down", nil),
	)
	Error(rec, requestWithIDs("", ""), err)

	if got := decodeError(t, rec).Code; got != string(types.ErrCodeUpstreamArchive) {
		t.Errorf("expected first AppError code, got %s", got)
	}
}

func TestError_PlainErrorIsOpaque500(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, requestWithIDs("", ""), errors.New("secret internals"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != string(types.ErrCodeInternalUnexpected) || strings.Contains(got.Message, "secret") {
		t.Errorf("unexpected error detail: %+v", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"today":"2022-05-04"}`},
		{name: "empty body", body: ``, wantErr: "must not be empty"},
		{name: "truncated body", body: `{"today":`, wantErr: "malformed JSON"},
		{name: "syntax error", body: `{"today" "2022-05-04"}`, wantErr: "malformed JSON"},
		{name: "type mismatch", body: `{"today":20220504}`, wantErr: "invalid value"},
		{name: "unknown field", body: `{"today":"2022-05-04","feed":"precip"}`, wantErr: "unknown field"},
		{name: "trailing value", body: `{"today":"2022-05-04"}{"today":"2022-05-05"}`, wantErr: "single JSON object"},
		{name: "too large", body: `{"today":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, wantErr: "1MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var in types.RunInput
			err := DecodeJSON(httptest.NewRecorder(), req, &in)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if in.Today != "2022-05-04" {
					t.Errorf("got today %q", in.Today)
				}
				return
			}
			if !types.IsCode(err, types.ErrCodeValidationInvalidBody) {
				t.Fatalf("expected invalid body error, got %v", err)
			}
			var appErr *types.AppError
			errors.As(err, &appErr)
			if !strings.Contains(appErr.Message, tt.wantErr) {
				t.Errorf("message %q does not contain %q", appErr.Message, tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_UnknownFieldNamed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tomorrow":"2022-05-05"}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &types.RunInput{})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Details["field"] != "tomorrow" {
		t.Errorf("expected field detail, got %v", appErr.Details)
	}
}
