package core

import "time"

// runTimeout bounds a run triggered over HTTP.
const runTimeout = 15 * time.Minute

// MountRoutes registers the middleware chain and the routes:
//
//	POST /        trigger a catch-up run
//	GET  /health  dependency probes
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.With(ContextTimeoutMiddleware(runTimeout)).Post("/", s.HandleRun)
	s.router.Get("/health", s.HandleHealth)
}
