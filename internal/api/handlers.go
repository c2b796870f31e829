package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/auth"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/core"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/rag"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/store"
)

// maxUploadBytes caps multipart document uploads.
const maxUploadBytes = 32 << 20

type ctxKey string

const userIDKey ctxKey = "userID"

type APIHandler struct {
	chatService *core.ChatService
	jwtSecret   string
}

func NewAPIHandler(cs *core.ChatService, jwtSecret string) *APIHandler {
	return &APIHandler{chatService: cs, jwtSecret: jwtSecret}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		email, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.chatService.GetUserByEmail(email)
		if err != nil {
			log.Printf("Error resolving user %s: %v", email, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.chatService.GetUserByEmail(req.Email)
	if err != nil {
		log.Printf("Error checking user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "User already exists", http.StatusConflict)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for %s: %v", req.Email, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.chatService.CreateUser(req.Email, hashed)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := auth.GenerateJWT(h.jwtSecret, user.Email)
	if err != nil {
		log.Printf("Error generating JWT for %s: %v", req.Email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AuthResponse{User: user, Token: token})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.chatService.GetUserByEmail(req.Email)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Email, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(h.jwtSecret, user.Email)
	if err != nil {
		log.Printf("Error generating JWT for %s: %v", req.Email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// LogoutHandler exists for API-surface parity; tokens are stateless, so
// discarding the token client-side is the whole operation.
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chatService.Conversations(userID(r))
	if err != nil {
		log.Printf("Error listing conversations for user %d: %v", userID(r), err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversations)
}

type ConversationDetailResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, messages, err := h.chatService.ConversationDetail(conversationID, userID(r))
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting conversation %s for user %d: %v", conversationID, userID(r), err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConversationDetailResponse{Conversation: conv, Messages: messages})
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	err := h.chatService.DeleteConversation(conversationID, userID(r))
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error deleting conversation %s for user %d: %v", conversationID, userID(r), err)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UploadResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// UploadDocumentHandler accepts a multipart document, stages it to a temp
// file for the loaders, and ingests it into the conversation's vector
// index. The temp file is removed on every exit path.
func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	conversationID := r.FormValue("conversation_id")
	if fromRoute := chi.URLParam(r, "conversationID"); fromRoute != "" {
		conversationID = fromRoute
	}

	staged, err := stageUpload(file, header.Filename)
	if err != nil {
		log.Printf("Error staging upload %q: %v", header.Filename, err)
		http.Error(w, "Failed to read uploaded file", http.StatusInternalServerError)
		return
	}
	defer os.Remove(staged)

	contentType := header.Header.Get("Content-Type")
	conv, _, err := h.chatService.UploadDocument(r.Context(), conversationID, userID(r), header.Filename, contentType, staged)
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, rag.ErrUnprocessable) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		log.Printf("Error processing document %q: %v", header.Filename, err)
		http.Error(w, "Failed to process document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{
		Status:         "success",
		ConversationID: conv.ID,
		Message:        "Document '" + header.Filename + "' uploaded and processed successfully.",
	})
}

func stageUpload(file io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Prompt         string `json:"prompt"`
}

// ChatHandler streams the assistant's reply as a plain-text body. When the
// prompt starts a new conversation, its identifier and title travel back in
// response headers since the body is reserved for the answer itself.
// Failures after streaming has begun are reported in-band.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	answer, err := h.chatService.Ask(r.Context(), req.ConversationID, userID(r), req.Prompt)
	if errors.Is(err, core.ErrEmptyPrompt) {
		http.Error(w, "Prompt cannot be empty", http.StatusBadRequest)
		return
	}
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error starting chat for user %d: %v", userID(r), err)
		http.Error(w, "Failed to process prompt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if answer.Created {
		w.Header().Set("X-Conversation-Id", answer.Conversation.ID)
		w.Header().Set("X-Conversation-Title", answer.Conversation.Title)
	}

	flusher, _ := w.(http.Flusher)
	for {
		fragment, ok := answer.Stream.Recv()
		if !ok {
			return
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			// Client went away; let the producer finish and persist.
			answer.Stream.Abandon()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
