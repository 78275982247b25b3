package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	var maxUpload int64
	var threshold float64
	var snapshotPath string
	if s.config != nil {
		maxUpload = s.config.Web.MaxUploadBytes
		threshold = s.config.Matching.Threshold
		snapshotPath = s.config.Matching.IndexSnapshotPath
	}

	healthHandler := handlers.NewHealthHandler(s.deps.Store)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Pipeline, s.deps.Store, maxUpload)
	enrollHandler := handlers.NewEnrollHandler(s.deps.Enroller, maxUpload)
	membersHandler := handlers.NewMembersHandler(s.deps.Store, s.deps.Index)
	indexHandler := handlers.NewIndexHandler(s.deps.Index, threshold, snapshotPath)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

		// Attendance
		r.Post("/events/{eventID}/attendance", attendanceHandler.Record)
		r.Get("/events/{eventID}/attendance", attendanceHandler.List)

		// Members
		r.Post("/members", membersHandler.Save)
		r.Get("/members/{memberID}", membersHandler.Get)
		r.Post("/members/{memberID}/enroll", enrollHandler.Enroll)

		// Embedding index
		r.Get("/index", indexHandler.Status)
		r.Post("/index/rebuild", indexHandler.Rebuild)
	})
}
