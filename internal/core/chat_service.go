package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/gemini"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/rag"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/store"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/websearch"
)

var (
	// ErrNotFound covers conversations that don't exist or belong to
	// someone else; the API deliberately doesn't distinguish the two.
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyPrompt rejects blank chat input before anything is persisted.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// unavailableText is the in-band error string streamed (and persisted as the
// assistant's answer) when generation fails after exhausting every API key.
const unavailableText = "Error: AI service unavailable or at capacity. Please try again later."

// historyWindow bounds how many prior turns are replayed to the model.
const historyWindow = 20

// rewriteWindow bounds how many turns feed the standalone-question rewrite.
const rewriteWindow = 6

// Generator is the language-model surface the orchestrator needs,
// implemented by the Gemini client.
type Generator interface {
	StreamChat(ctx context.Context, prompt string, history []gemini.Turn, emit func(text string) error) error
	Complete(ctx context.Context, prompt string) (string, error)
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

// Retriever fetches document context for a conversation.
type Retriever interface {
	Retrieve(ctx context.Context, query, conversationID string) ([]rag.Snippet, error)
}

// Indexer ingests an uploaded document into a conversation's vector index.
type Indexer interface {
	Ingest(ctx context.Context, conversationID, filename, path string) (int, error)
}

// IndexStore is the slice of the vector store the orchestrator needs for
// lifecycle management.
type IndexStore interface {
	Delete(conversationID string) error
}

// Searcher provides optional web augmentation.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) []websearch.Result
}

// ChatService drives the end-to-end turn: analyze the query, optionally
// rewrite it as a standalone question, retrieve document and web context,
// assemble the prompt, stream the model's answer, and persist the exchange.
// It also owns conversation lifecycle (create, list, delete with cascade).
type ChatService struct {
	db        *store.SQLiteStore
	llm       Generator
	retriever Retriever
	indexer   Indexer
	indexes   IndexStore
	search    Searcher
}

func NewChatService(db *store.SQLiteStore, llm Generator, retriever Retriever, indexer Indexer, indexes IndexStore, search Searcher) *ChatService {
	return &ChatService{
		db:        db,
		llm:       llm,
		retriever: retriever,
		indexer:   indexer,
		indexes:   indexes,
		search:    search,
	}
}

// User plumbing for the API layer.

func (s *ChatService) GetUserByEmail(email string) (*store.User, error) {
	return s.db.GetUserByEmail(email)
}

func (s *ChatService) CreateUser(email, passwordHash string) (*store.User, error) {
	return s.db.CreateUser(email, passwordHash)
}

// Conversation lifecycle.

func (s *ChatService) Conversations(userID int64) ([]store.Conversation, error) {
	return s.db.GetConversationsByUserID(userID)
}

func (s *ChatService) ConversationDetail(conversationID string, userID int64) (*store.Conversation, []store.Message, error) {
	conv, err := s.db.GetConversationByID(conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, ErrNotFound
	}
	messages, err := s.db.GetMessagesByConversationID(conversationID, 500, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("loading messages: %w", err)
	}
	return conv, messages, nil
}

// DeleteConversation removes the conversation, all its messages, and its
// vector index backing storage.
func (s *ChatService) DeleteConversation(conversationID string, userID int64) error {
	conv, err := s.db.GetConversationByID(conversationID, userID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrNotFound
	}
	if err := s.db.DeleteConversation(conversationID, userID); err != nil {
		return err
	}
	if err := s.indexes.Delete(conversationID); err != nil {
		log.Printf("Failed to delete vector index for conversation %s: %v", conversationID, err)
	}
	return nil
}

// UploadDocument stores the document on the conversation and ingests it into
// the vector index. An empty conversationID creates a conversation titled
// after the file; if ingestion then fails, that fresh conversation is rolled
// back so no orphaned empty record survives.
func (s *ChatService) UploadDocument(ctx context.Context, conversationID string, userID int64, filename, contentType, stagedPath string) (conv *store.Conversation, created bool, err error) {
	if conversationID == "" {
		conv, err = s.db.CreateConversation(userID, deriveTitle(filename))
		if err != nil {
			return nil, false, fmt.Errorf("creating conversation: %w", err)
		}
		created = true
	} else {
		conv, err = s.db.GetConversationByID(conversationID, userID)
		if err != nil {
			return nil, false, err
		}
		if conv == nil {
			return nil, false, ErrNotFound
		}
		if conv.Title == store.DefaultTitle {
			if err := s.db.UpdateConversationTitle(conv.ID, userID, deriveTitle(filename)); err != nil {
				log.Printf("Failed to retitle conversation %s after upload: %v", conv.ID, err)
			}
		}
	}

	rollback := func() {
		if !created {
			return
		}
		if derr := s.db.DeleteConversation(conv.ID, userID); derr != nil {
			log.Printf("Failed to roll back conversation %s: %v", conv.ID, derr)
		}
		if derr := s.indexes.Delete(conv.ID); derr != nil {
			log.Printf("Failed to roll back vector index for %s: %v", conv.ID, derr)
		}
	}

	content, err := os.ReadFile(stagedPath)
	if err != nil {
		rollback()
		return nil, created, fmt.Errorf("%w: cannot read uploaded file: %v", rag.ErrUnprocessable, err)
	}
	if err := s.db.SaveDocument(conv.ID, userID, filename, content, contentType); err != nil {
		rollback()
		return nil, created, err
	}

	if _, err := s.indexer.Ingest(ctx, conv.ID, filename, stagedPath); err != nil {
		rollback()
		return nil, created, err
	}

	sysMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleSystem,
		Content:        fmt.Sprintf("Document %q was uploaded and is ready for questions.", filename),
	}
	if err := s.db.CreateMessage(sysMsg); err != nil {
		log.Printf("Failed to record upload notice for conversation %s: %v", conv.ID, err)
	}
	return conv, created, nil
}

// Answer is a streamed reply plus the conversation it belongs to.
type Answer struct {
	Conversation *store.Conversation
	Created      bool
	Stream       *TextStream
}

// Ask runs one chat turn. The user message is persisted up front; the
// returned stream yields the assistant's answer and its finalizer persists
// whatever was produced, even if the client disconnects or generation fails
// partway.
func (s *ChatService) Ask(ctx context.Context, conversationID string, userID int64, prompt string) (*Answer, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	var conv *store.Conversation
	var created bool
	var err error
	if conversationID == "" {
		conv, err = s.db.CreateConversation(userID, deriveTitle(prompt))
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		created = true
	} else {
		conv, err = s.db.GetConversationByID(conversationID, userID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, ErrNotFound
		}
		if conv.Title == store.DefaultTitle {
			if uerr := s.db.UpdateConversationTitle(conv.ID, userID, deriveTitle(prompt)); uerr == nil {
				conv.Title = deriveTitle(prompt)
			}
		}
	}

	// History is captured before the new user message so the model sees the
	// conversation as it stood when the question was asked.
	history, err := s.db.GetLastNMessages(conv.ID, historyWindow, store.RoleUser, store.RoleAssistant)
	if err != nil {
		log.Printf("Failed to load history for conversation %s, proceeding without it: %v", conv.ID, err)
		history = nil
	}

	userMsg := &store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: prompt}
	if err := s.db.CreateMessage(userMsg); err != nil {
		return nil, fmt.Errorf("storing user message: %w", err)
	}

	stream := NewTextStream(func(accumulated string) {
		text := strings.TrimSpace(accumulated)
		if text == "" {
			return
		}
		msg := &store.Message{ConversationID: conv.ID, Role: store.RoleAssistant, Content: text}
		if err := s.db.CreateMessage(msg); err != nil {
			log.Printf("Failed to store assistant message for conversation %s: %v", conv.ID, err)
		}
	})

	go s.generate(ctx, conv, prompt, history, stream)

	if created {
		go s.refineTitle(conv.ID, userID, prompt)
	}

	return &Answer{Conversation: conv, Created: created, Stream: stream}, nil
}

// generate is the producer side of one turn's stream.
func (s *ChatService) generate(ctx context.Context, conv *store.Conversation, prompt string, history []store.Message, stream *TextStream) {
	defer stream.End()

	simple := IsSimplePrompt(prompt)
	searchQuery := prompt

	if !simple && len(history) > 0 {
		if rewritten := s.rewriteQuery(ctx, prompt, history); rewritten != "" {
			searchQuery = rewritten
		}
	}

	var docSnippets []rag.Snippet
	var webResults []websearch.Result
	if !simple {
		snips, err := s.retriever.Retrieve(ctx, searchQuery, conv.ID)
		if err != nil {
			log.Printf("Document retrieval failed for conversation %s, continuing without it: %v", conv.ID, err)
		} else {
			docSnippets = snips
		}
		if s.search != nil && s.search.Enabled() {
			webResults = s.search.Search(ctx, searchQuery)
		}
	}

	finalPrompt := AssemblePrompt(prompt, docSnippets, webResults)
	hasContext := len(docSnippets) > 0 || len(webResults) > 0
	scanner := newTagScanner(hasContext)

	turns := toTurns(history)
	err := s.llm.StreamChat(ctx, finalPrompt, turns, func(text string) error {
		return stream.Push(scanner.Feed(text))
	})
	if err != nil {
		if errors.Is(err, ErrStreamAbandoned) {
			log.Printf("Client abandoned stream for conversation %s", conv.ID)
			return
		}
		log.Printf("Generation failed for conversation %s: %v", conv.ID, err)
		stream.Push(unavailableText)
		return
	}

	stream.Push(scanner.Flush())
	stream.Push(CitationBlock(scanner.Tag(), docSnippets, webResults))
}

// rewriteQuery turns a follow-up question into a standalone search query.
// Any failure falls back silently to the original prompt.
func (s *ChatService) rewriteQuery(ctx context.Context, prompt string, history []store.Message) string {
	recent := history
	if len(recent) > rewriteWindow {
		recent = recent[len(recent)-rewriteWindow:]
	}
	var lines []string
	for _, msg := range recent {
		lines = append(lines, msg.Role+": "+msg.Content)
	}

	rewritten, err := s.llm.Complete(ctx, rewritePrompt(strings.Join(lines, "\n"), prompt))
	if err != nil {
		log.Printf("Query rewrite failed, using original prompt: %v", err)
		return ""
	}
	rewritten = strings.ReplaceAll(strings.TrimSpace(rewritten), `"`, "")
	if rewritten == "" || strings.ContainsRune(rewritten, '\n') {
		return ""
	}
	log.Printf("Rewritten query: %s", rewritten)
	return rewritten
}

// refineTitle asks the model for a better conversation title after the
// first exchange; best effort only.
func (s *ChatService) refineTitle(conversationID string, userID int64, basis string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := s.llm.GenerateTitle(ctx, basis)
	if err != nil {
		log.Printf("Failed to generate title for conversation %s: %v", conversationID, err)
		return
	}
	if err := s.db.UpdateConversationTitle(conversationID, userID, title); err != nil {
		log.Printf("Failed to save title %q for conversation %s: %v", title, conversationID, err)
	}
}

func toTurns(history []store.Message) []gemini.Turn {
	turns := make([]gemini.Turn, 0, len(history))
	for _, msg := range history {
		if msg.Role != store.RoleUser && msg.Role != store.RoleAssistant {
			continue
		}
		turns = append(turns, gemini.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// deriveTitle trims a prompt or filename down to a displayable title.
func deriveTitle(basis string) string {
	basis = strings.TrimSpace(basis)
	runes := []rune(basis)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	if basis == "" {
		return store.DefaultTitle
	}
	return basis
}
