package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Typed nils must not reach the handlers as non-nil interfaces.
	var (
		enroller  handlers.ImageEmbedder
		forgetter handlers.Forgetter
	)
	if s.deps.Enroller != nil {
		enroller = s.deps.Enroller
	}
	if s.deps.Stream != nil {
		forgetter = s.deps.Stream
	}

	healthHandler := handlers.NewHealthHandler(s.deps.Index, s.deps.Inference)
	configHandler := handlers.NewConfigHandler(s.config)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Index, enroller, forgetter)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", healthHandler.Get)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		r.Get("/config", configHandler.Get)

		// Identities
		r.Get("/identities", identitiesHandler.List)
		r.Post("/identities", identitiesHandler.Create)
		r.Post("/identities/search", identitiesHandler.Search)
		r.Get("/identities/{label}", identitiesHandler.Get)
		r.Put("/identities/{label}", identitiesHandler.Update)
		r.Delete("/identities/{label}", identitiesHandler.Delete)

		// Recognition stream
		if s.deps.Stream != nil {
			framesHandler := handlers.NewFramesHandler(s.deps.Stream)
			streamHandler := handlers.NewStreamHandler(s.deps.Stream)
			r.Post("/frames", framesHandler.Process)
			r.Get("/stream/config", streamHandler.Get)
			r.Put("/stream/config", streamHandler.Update)
		}

		// Attendance
		if s.deps.Attendance != nil {
			attendanceHandler := handlers.NewAttendanceHandler(s.deps.Attendance)
			r.Get("/attendance", attendanceHandler.List)
		}
	})
}
