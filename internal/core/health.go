package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds all probes together. A probe still running at
// the deadline is reported unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (the database, a feed archive).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function into a named HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

// Name returns the probe name.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Check runs the function.
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeOutcome struct {
	name string
	err  error
}

// HandleHealth runs every probe concurrently and replies 200 when all pass,
// 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := runProbes(ctx, s.HealthProbes)

	resp := healthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	for _, c := range components {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}
	JSON(w, r, status, resp)
}

// runProbes collects one status per probe. Outcomes land in a buffered
// channel so a probe that outlives ctx never blocks; it is reported as timed
// out.
func runProbes(ctx context.Context, probes []HealthProbe) map[string]componentStatus {
	if len(probes) == 0 {
		return nil
	}

	outcomes := make(chan probeOutcome, len(probes))
	var g errgroup.Group
	for _, p := range probes {
		g.Go(func() (err error) {
			defer func() {
				if rvr := recover(); rvr != nil {
					err = fmt.Errorf("probe panicked: %v", rvr)
				}
				outcomes <- probeOutcome{name: p.Name(), err: err}
			}()
			return p.Check(ctx)
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	components := make(map[string]componentStatus, len(probes))
	for _, p := range probes {
		components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}
	for {
		select {
		case o := <-outcomes:
			if o.err != nil {
				components[o.name] = componentStatus{Status: "unhealthy", Message: o.err.Error()}
			} else {
				components[o.name] = componentStatus{Status: "healthy"}
			}
		default:
			return components
		}
	}
}
