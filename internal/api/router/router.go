// Package router assembles the HTTP surface: middleware stack, role guards
// and the appointment, reschedule, wizard and realtime routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicore/clinic-ops/internal/api/respond"
	"github.com/clinicore/clinic-ops/internal/appointments"
	httpmiddleware "github.com/clinicore/clinic-ops/internal/http/middleware"
	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/internal/notifications"
	"github.com/clinicore/clinic-ops/internal/realtime"
	"github.com/clinicore/clinic-ops/internal/reschedule"
	"github.com/clinicore/clinic-ops/internal/wizard"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Appointments       *appointments.Handler
	Reschedule         *reschedule.Handler
	Wizard             *wizard.Handler
	Notifications      *notifications.Handler
	Hub                *realtime.Hub
	MetricsHandler     http.Handler
	AuthJWTSecret      string
	CORSAllowedOrigins []string
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond.Message(w, "ok")
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Authenticated surface.
	r.Group(func(auth chi.Router) {
		auth.Use(httpmiddleware.CallerJWT(cfg.AuthJWTSecret))

		if cfg.Hub != nil {
			auth.Get("/ws", cfg.Hub.HandleWS)
		}

		auth.Route("/api", func(api chi.Router) {
			api.Route("/appointments", func(ar chi.Router) {
				ar.Get("/", cfg.Appointments.List)
				ar.Get("/{id}", cfg.Appointments.Get)

				// Clinician/admin writes.
				ar.Group(func(cr chi.Router) {
					cr.Use(httpmiddleware.RequireRole(identity.RoleDoctor, identity.RoleAdmin))
					cr.Post("/", cfg.Appointments.Create)
					cr.Put("/{id}/state", cfg.Appointments.SetState)
					cr.Put("/{id}/reschedule", cfg.Appointments.Reschedule)
					cr.Put("/{id}/reschedule-requests/{reqID}", cfg.Reschedule.Respond)
					cr.Post("/{id}/wizard", cfg.Wizard.CompleteStep)
				})

				// Patient-owned workflow.
				ar.Group(func(pr chi.Router) {
					pr.Use(httpmiddleware.RequireRole(identity.RolePatient))
					pr.Post("/{id}/reschedule-requests", cfg.Reschedule.Create)
					pr.Delete("/{id}/reschedule-requests/{reqID}", cfg.Reschedule.Cancel)
				})

				ar.Get("/{id}/reschedule-requests", cfg.Reschedule.List)
			})

			api.Route("/consultations", func(cr chi.Router) {
				cr.Use(httpmiddleware.RequireRole(identity.RoleDoctor, identity.RoleAdmin))
				cr.Post("/full", cfg.Wizard.CreateFull)
				cr.Post("/first", cfg.Wizard.CreateFirst)
			})

			if cfg.Notifications != nil {
				api.Route("/notifications", func(nr chi.Router) {
					nr.Use(httpmiddleware.RequireRole(identity.RoleDoctor, identity.RoleAdmin))
					nr.Get("/", cfg.Notifications.List)
					nr.Put("/{id}/read", cfg.Notifications.MarkRead)
					nr.Put("/{id}/archive", cfg.Notifications.Archive)
				})
				api.Route("/chat", func(cr chi.Router) {
					cr.Post("/messages", cfg.Notifications.ChatMessage)
					cr.Get("/unread", cfg.Notifications.ChatUnread)
					cr.Put("/read", cfg.Notifications.ChatRead)
				})
			}
		})
	})

	return r
}
