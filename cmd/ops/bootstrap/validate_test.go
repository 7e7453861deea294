package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockConnector struct {
	err  error
	dsns []string
}

func (m *mockConnector) Connect(_ context.Context, dsn string) error {
	m.dsns = append(m.dsns, dsn)
	return m.err
}

const validTargetSpec = `{"tigge": {"url": "s3://h2ox/tigge/forecast.zarr", "variables": ["tp"], "variables_rename": ["precip_mm"], "lat_col": "latitude", "lon_col": "longitude", "table": "tigge_reduced", "horizon": {"url": "s3://h2ox/tigge/horizon.json", "key": "most_recent_date"}}}`

func TestValidateDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		connErr error
		valid   bool
	}{
		{name: "valid", input: "postgres://reducer:pw@db.internal:5432/reducer", valid: true},
		{name: "postgresql scheme", input: "postgresql://reducer:pw@db.internal/reducer", valid: true},
		{name: "empty", input: "  ", valid: false},
		{name: "wrong scheme", input: "mysql://db.internal/reducer", valid: false},
		{name: "no host", input: "postgres:///reducer", valid: false},
		{name: "connection fails", input: "postgres://db.internal/reducer", connErr: errors.New("table tracked_reservoirs does not exist"), valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidatorWithDeps(&mockConnector{err: tt.connErr})
			got := v.ValidateDatabaseURL(context.Background(), tt.input)
			if got.Valid != tt.valid {
				t.Errorf("Valid = %v (%s), want %v", got.Valid, got.Message, tt.valid)
			}
		})
	}
}

func TestValidateDatabaseURL_NilConnectorSkipsProbe(t *testing.T) {
	got := NewValidatorWithDeps(nil).ValidateDatabaseURL(context.Background(), "postgres://db.internal/reducer")
	if !got.Valid {
		t.Errorf("expected valid, got %s", got.Message)
	}
}

func TestValidateTargetSpec(t *testing.T) {
	v := NewValidatorWithDeps(nil)

	got := v.ValidateTargetSpec(context.Background(), validTargetSpec)
	if !got.Valid {
		t.Fatalf("expected valid manifest, got %s", got.Message)
	}
	if !strings.Contains(got.Message, "forecast->tigge_reduced") {
		t.Errorf("message = %q", got.Message)
	}

	for _, bad := range []string{
		"",
		"not json",
		`{"radar": {}}`,
		strings.Replace(validTargetSpec, `"variables_rename": ["precip_mm"]`, `"variables_rename": ["a", "b"]`, 1),
	} {
		if got := v.ValidateTargetSpec(context.Background(), bad); got.Valid {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestValidateSlackWebhook(t *testing.T) {
	v := NewValidatorWithDeps(nil)
	if got := v.ValidateSlackWebhook(context.Background(), "https://hooks.slack.com/services/T000/B000/XXXX"); !got.Valid {
		t.Errorf("expected valid, got %s", got.Message)
	}
	for _, bad := range []string{"http://hooks.slack.com/services/T/B/X", "https://example.com/hook", ""} {
		if got := v.ValidateSlackWebhook(context.Background(), bad); got.Valid {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestValidateQueueURL(t *testing.T) {
	v := NewValidatorWithDeps(nil)
	for _, good := range []string{
		"https://sqs.us-east-1.amazonaws.com/123456789012/reducer-requeue",
		"http://localhost:4566/000000000000/reducer-requeue",
	} {
		if got := v.ValidateQueueURL(context.Background(), good); !got.Valid {
			t.Errorf("expected %q to be valid: %s", good, got.Message)
		}
	}
	if got := v.ValidateQueueURL(context.Background(), "reducer-requeue"); got.Valid {
		t.Error("expected bare queue name to be rejected")
	}
}

func TestValidateRegex_InvalidPattern(t *testing.T) {
	got := NewValidatorWithDeps(nil).ValidateRegex(context.Background(), "x", "(", "Field")
	if got.Valid {
		t.Error("expected invalid pattern to fail")
	}
}
