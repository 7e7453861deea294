package core

import (
	"net/http"

	"reducer/internal/types"
)

// HandleRun triggers a catch-up run for the day in the body and replies with
// the run summary. A run already held by another worker is a 409.
func (s *Server) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, s.Logger)

	var in types.RunInput
	if err := DecodeJSON(w, r, &in); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.Validator.ValidateStruct(in); err != nil {
		Error(w, r, err)
		return
	}

	result, err := s.Runner.Run(ctx, in)
	if err != nil {
		if result != nil && result.RunID != "" {
			r = r.WithContext(types.WithRunID(ctx, result.RunID))
		}
		logger.ErrorContext(ctx, "run failed", "today", in.Today, "error", err)
		Error(w, r, err)
		return
	}
	if result.Status == types.RunStatusSkipped {
		Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeConflictRunInProgress,
			"another catch-up run is in progress", nil, map[string]any{"today": in.Today}))
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: result})
}
