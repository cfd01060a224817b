package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	limits := handlers.UploadLimits{
		MaxBytes:     s.config.Web.MaxUploadBytes,
		MaxImageSide: s.config.Web.MaxImageSide,
	}

	attendanceHandler := handlers.NewAttendanceHandler(s.services.Orchestrator, limits, s.config.Matching.CandidateLimit, s.log)
	identitiesHandler := handlers.NewIdentitiesHandler(s.services.Gallery, s.services.Orchestrator, s.services.Ledger, limits, s.log)
	sessionsHandler := handlers.NewSessionsHandler(s.services.Ledger, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Attendance
		r.Post("/attendance/entry", attendanceHandler.Entry)
		r.Post("/attendance/exit", attendanceHandler.Exit)
		r.Post("/identify", attendanceHandler.Identify)

		// Gallery
		r.Get("/identities", identitiesHandler.List)
		r.Post("/identities", identitiesHandler.Create)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Get("/identities/{id}/sessions", identitiesHandler.Sessions)

		// Attendance log
		r.Get("/sessions", sessionsHandler.List)
	})
}
