package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/register", h.RegisterHandler)
	r.Post("/api/login", h.LoginHandler)
	r.Post("/api/logout", h.LogoutHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Get("/api/conversations", h.ListConversationsHandler)
		r.Get("/api/conversations/{conversationID}", h.GetConversationHandler)
		r.Delete("/api/conversations/{conversationID}", h.DeleteConversationHandler)
		r.Post("/api/conversations/{conversationID}/documents", h.UploadDocumentHandler)
		r.Post("/api/documents", h.UploadDocumentHandler)
		r.Post("/api/chat", h.ChatHandler)
	})

	return r
}
