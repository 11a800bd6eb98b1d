package web

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
)

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func NewRouter(h *Handlers, logger *log.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger(logger))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/memory", func(r chi.Router) {
			r.Get("/stats", h.Stats)
			r.Post("/capture", h.Capture)
			r.Post("/search", h.Search)
			r.Post("/assemble", h.Assemble)
			r.Post("/respond", h.Respond)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.CreateConversation)
			r.Post("/search", h.SearchConversations)
			r.Get("/{id}", h.GetConversation)
			r.Get("/{id}/context", h.ConversationContext)
			r.Get("/{id}/messages", h.GetConversationMessages)
			r.Post("/{id}/participants", h.AddParticipant)
			r.Delete("/{id}/participants/{character_id}", h.RemoveParticipant)
		})

		r.Route("/characters/{id}", func(r chi.Router) {
			r.Get("/conversations/recent", h.RecentConversations)
			r.Get("/conversations/channels", h.ChannelConversations)
		})

		r.Get("/campaigns/{id}/messages/recent", h.RecentCampaignMessages)
	})

	return r
}
