package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mfiguera/lexbot-be/internal/api/handlers"
	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/config"
	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/mfiguera/lexbot-be/internal/services"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(cfg *config.Config, userService services.UserServiceProvider, assistantService services.AssistantServiceProvider, files *filestore.Store, tokens *auth.TokenService) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userService, tokens, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	assistantHandler := handlers.NewAssistantHandler(assistantService, files)
	streamHandler := handlers.NewStreamHandler(assistantService, cfg.FrontendURL)

	guard := auth.Middleware(tokens)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh-token", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(guard)
				r.Post("/logout", authHandler.Logout)
				r.Get("/verify", authHandler.Verify)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Post("/assistant/ask", assistantHandler.Ask)
			r.Get("/assistant/ws", streamHandler.Serve)
			r.Get("/files/{name}", assistantHandler.Download)
		})
	})

	return r
}
