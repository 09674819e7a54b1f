package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Routes builds the full chi mux: a CORS layer permitting WebSocket
// upgrades, a canonical /api/v1 tree, and a legacy /api tree that reuses
// the same handlers but writes through the flattened legacy envelope.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}).Handler)
	r.Use(RateLimitMiddleware(s.RateLimitConfig))

	r.Route("/api/v1", s.mountAPI())
	r.Group(func(r chi.Router) {
		r.Use(LegacyMiddleware)
		r.Route("/api", s.mountAPI())
	})

	return r
}

func (s *Server) mountAPI() func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(RateLimitMiddleware(LoginRateLimitConfig)).Post("/login", s.Login)
			r.With(RateLimitMiddleware(RegisterRateLimitConfig)).Post("/register", s.Register)
			r.Post("/refresh", s.Refresh)
			r.Post("/logout", s.Logout)
			r.Post("/verify-2fa", s.Verify2FA)
			r.Get("/validate", s.withAuth(s.ValidateToken))
			r.Get("/{provider}/authorize", s.OAuthAuthorize)
			r.Post("/{provider}/callback", s.OAuthCallback)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/", s.ListNotes)
			r.Post("/", s.CreateNote)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetNote)
				r.Put("/", s.UpdateNote)
				r.Patch("/", s.PatchNote)
				r.Delete("/", s.DeleteNote)
				r.Post("/share", s.ShareNote)
				r.Delete("/share", s.UnshareNote)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/", s.ListTasks)
			r.Post("/", s.CreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetTask)
				r.Put("/", s.UpdateTask)
				r.Patch("/", s.PatchTask)
				r.Delete("/", s.DeleteTask)
				r.Post("/share", s.ShareTask)
				r.Delete("/share", s.UnshareTask)
			})
		})

		r.Route("/folders", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/", s.ListFolders)
			r.Post("/", s.CreateFolder)
			r.Post("/notes/{noteId}/move", s.MoveNoteFolder)
			r.Post("/tasks/{taskId}/move", s.MoveTaskFolder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetFolder)
				r.Put("/", s.UpdateFolder)
				r.Delete("/", s.DeleteFolder)
				r.Post("/move", s.MoveFolder)
				r.Get("/path", s.FolderPath)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/users", s.ListUsers)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Post("/lock", s.LockUser)
				r.Post("/unlock", s.UnlockUser)
				r.Post("/grant-admin", s.GrantAdmin)
				r.Post("/revoke-admin", s.RevokeAdmin)
				r.Post("/disable-2fa", s.DisableUser2FA)
				r.Delete("/", s.DeleteUser)
			})
		})

		r.Route("/chat", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/users", s.ChatUsers)
			r.Post("/rooms/direct", s.CreateDirectRoom)
			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", s.CreateGroupRoom)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.GetRoom)
					r.Delete("/", s.DeleteRoom)
					r.Put("/read", s.MarkRoomRead)
					r.Put("/theme", s.UpdateRoomTheme)
					r.Get("/pinned", s.ListPinned)
					r.Get("/messages", s.ListMessages)
					r.Post("/messages", s.SendMessage)
					r.Route("/messages/{messageId}", func(r chi.Router) {
						r.Post("/read", s.MarkMessageRead)
						r.Post("/pin", s.PinMessage)
						r.Delete("/pin", s.UnpinMessage)
						r.Post("/reactions", s.ToggleReaction)
						r.Delete("/reactions", s.RemoveReaction)
						r.Delete("/reactions/{emoji}", s.RemoveReaction)
					})
				})
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Get("/search", s.SearchUsers)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Post("/replay", s.SyncReplay)
		})
	}
}

// withAuth lets a single route (rather than a whole sub-tree) require
// authentication, e.g. GET /auth/validate alongside its unauthenticated
// siblings.
func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.AuthMiddleware(h).ServeHTTP(w, r)
	}
}
