package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"reducer/internal/types"
)

// feedAliases maps the legacy manifest keys onto feed names.
var feedAliases = map[string]types.FeedName{
	"forecast": types.FeedForecast,
	"tigge":    types.FeedForecast,
	"precip":   types.FeedPrecip,
	"chirps":   types.FeedPrecip,
}

// FeedManifest is the decoded TARGET_SPEC: one FeedSpec per configured feed,
// in processing order. It implements envconfig.Decoder.
//
// TARGET_SPEC is a JSON object keyed by feed name:
//
//	{"forecast": {"url": "s3://...", "variables": ["tp"], ...},
//	 "precip":   {"url": "s3://...", "variables": ["precip"], ...}}
type FeedManifest []types.FeedSpec

// Decode parses a TARGET_SPEC value. Defaults are applied to time_col and
// step_col; consistency is checked by Validate.
func (m *FeedManifest) Decode(value string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return fmt.Errorf("TARGET_SPEC is not a JSON object: %w", err)
	}

	byFeed := make(map[types.FeedName]types.FeedSpec, len(raw))
	for key, body := range raw {
		name, ok := feedAliases[strings.ToLower(key)]
		if !ok {
			return fmt.Errorf("TARGET_SPEC: unknown feed %q", key)
		}
		if _, dup := byFeed[name]; dup {
			return fmt.Errorf("TARGET_SPEC: feed %q declared twice", name)
		}

		var spec types.FeedSpec
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("TARGET_SPEC: feed %q: %w", key, err)
		}
		spec.Name = name
		if spec.TimeCol == "" {
			spec.TimeCol = "time"
		}
		if spec.StepCol == "" {
			spec.StepCol = "step"
		}
		byFeed[name] = spec
	}

	out := make(FeedManifest, 0, len(byFeed))
	for _, name := range types.FeedOrder {
		if spec, ok := byFeed[name]; ok {
			out = append(out, spec)
		}
	}
	*m = out
	return nil
}

// Validate checks every spec's field rules plus the cross-field rules the
// tags cannot express. Failures are config_invalid_manifest AppErrors.
func (m FeedManifest) Validate(v *validator.Validate) error {
	if len(m) == 0 {
		return manifestError("TARGET_SPEC declares no feeds", nil, nil)
	}
	for _, spec := range m {
		details := map[string]any{"feed": spec.Name}
		if err := v.Struct(spec); err != nil {
			return manifestError("invalid feed spec", err, details)
		}
		if len(spec.Variables) != len(spec.VariablesRename) {
			return manifestError(fmt.Sprintf("variables has %d entries but variables_rename has %d",
				len(spec.Variables), len(spec.VariablesRename)), nil, details)
		}
		if slices.Contains(spec.VariablesRename, "reservoir") ||
			slices.Contains(spec.VariablesRename, "date") ||
			slices.Contains(spec.VariablesRename, "timestamp") {
			return manifestError("variables_rename collides with a fixed column", nil, details)
		}
		seen := make(map[string]bool, len(spec.VariablesRename))
		for _, col := range spec.VariablesRename {
			if seen[col] {
				return manifestError(fmt.Sprintf("column %q renamed twice", col), nil, details)
			}
			seen[col] = true
		}
	}
	return nil
}

// Spec returns the spec for name.
func (m FeedManifest) Spec(name types.FeedName) (types.FeedSpec, bool) {
	for _, s := range m {
		if s.Name == name {
			return s, true
		}
	}
	return types.FeedSpec{}, false
}

func manifestError(msg string, err error, details map[string]any) error {
	return &ConfigError{
		Type:    ErrManifest,
		Message: msg,
		Err:     types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidManifest, msg, err, details),
	}
}
