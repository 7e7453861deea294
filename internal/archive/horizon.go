package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"reducer/internal/types"
)

// HorizonReader reads a feed's most recent available date from its token
// object, a small JSON document such as {"last_prelim": "2022-05-03"}.
type HorizonReader struct {
	s3     S3Client
	logger *slog.Logger
}

// NewHorizonReader creates a HorizonReader reading through client.
func NewHorizonReader(client S3Client, logger *slog.Logger) *HorizonReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &HorizonReader{s3: client, logger: logger}
}

// Horizon returns the feed's horizon date at 00:00 UTC.
func (h *HorizonReader) Horizon(ctx context.Context, spec types.FeedSpec) (time.Time, error) {
	bucket, key, err := ParseURL(spec.Horizon.URL)
	if err != nil {
		return time.Time{}, err
	}

	body, err := h.s3.GetObject(ctx, bucket, key)
	if err != nil {
		return time.Time{}, unavailableError("failed to fetch horizon token", spec.Horizon.URL, err)
	}
	defer body.Close()

	var token map[string]any
	if err := json.NewDecoder(body).Decode(&token); err != nil {
		return time.Time{}, corruptError("failed to parse horizon token", spec.Horizon.URL, err)
	}

	raw, ok := token[spec.Horizon.Key].(string)
	if !ok || raw == "" {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeConfigMissingField,
			fmt.Sprintf("horizon token has no %q date", spec.Horizon.Key), nil,
			map[string]any{"url": spec.Horizon.URL, "feed": spec.Name})
	}
	// Tokens sometimes carry a full timestamp; only the calendar day counts.
	if len(raw) > len(types.DateLayout) {
		raw = raw[:len(types.DateLayout)]
	}
	d, err := types.ParseDate(raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeConfigMissingField,
			fmt.Sprintf("horizon token %q is not a date", raw), err,
			map[string]any{"url": spec.Horizon.URL, "feed": spec.Name})
	}

	h.logger.InfoContext(ctx, "read feed horizon", "feed", spec.Name, "horizon", raw)
	return d, nil
}
