package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/api"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/config"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/core"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/gemini"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/rag"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/store"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/websearch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	pool, err := gemini.NewKeyPool(cfg.GeminiAPIKeys)
	if err != nil {
		log.Fatalf("Failed to build API key pool: %v", err)
	}
	caller := gemini.NewCaller(pool)
	llm := gemini.NewClient(caller, cfg.GenerationModel, cfg.EmbeddingModel, cfg.TitleModel)

	indexes, err := rag.NewFileStore(cfg.VectorDir)
	if err != nil {
		log.Fatalf("Failed to prepare vector store directory: %v", err)
	}
	indexer := rag.NewIndexer(indexes, llm, cfg.ChunkSize, cfg.ChunkOverlap)
	retriever := rag.NewRetriever(indexes, llm, cfg.RetrievalTopK)

	search := websearch.New(cfg.WebSearch)

	chatService := core.NewChatService(db, llm, retriever, indexer, indexes, search)
	handler := api.NewAPIHandler(chatService, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.NewRouter(handler),
		// Responses stream for as long as the model generates, so no
		// write timeout.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on port %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
