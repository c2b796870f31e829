package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/gemini"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/rag"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/store"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/websearch"
)

type fakeLLM struct {
	mu sync.Mutex

	streamFragments []string
	streamErr       error
	completeReply   string
	completeErr     error
	title           string

	streamPrompts   []string
	streamHistories [][]gemini.Turn
	completePrompts []string
}

func (f *fakeLLM) StreamChat(ctx context.Context, prompt string, history []gemini.Turn, emit func(text string) error) error {
	f.mu.Lock()
	f.streamPrompts = append(f.streamPrompts, prompt)
	f.streamHistories = append(f.streamHistories, history)
	fragments := f.streamFragments
	streamErr := f.streamErr
	f.mu.Unlock()

	if streamErr != nil {
		return streamErr
	}
	for _, fragment := range fragments {
		if err := emit(fragment); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completePrompts = append(f.completePrompts, prompt)
	return f.completeReply, f.completeErr
}

func (f *fakeLLM) GenerateTitle(ctx context.Context, basis string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.title == "" {
		return "", errors.New("no title configured")
	}
	return f.title, nil
}

func (f *fakeLLM) lastStreamPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streamPrompts) == 0 {
		return ""
	}
	return f.streamPrompts[len(f.streamPrompts)-1]
}

func (f *fakeLLM) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completePrompts)
}

type fakeRetriever struct {
	mu       sync.Mutex
	snippets []rag.Snippet
	err      error
	queries  []string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query, conversationID string) ([]rag.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.snippets, f.err
}

func (f *fakeRetriever) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeRetriever) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

type fakeIndexer struct {
	chunks int
	err    error
}

func (f *fakeIndexer) Ingest(ctx context.Context, conversationID, filename, path string) (int, error) {
	return f.chunks, f.err
}

type fakeIndexStore struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeIndexStore) Delete(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, conversationID)
	return nil
}

type fakeSearcher struct {
	enabled bool
	results []websearch.Result
}

func (f *fakeSearcher) Enabled() bool { return f.enabled }
func (f *fakeSearcher) Search(ctx context.Context, query string) []websearch.Result {
	return f.results
}

type serviceFixture struct {
	svc     *ChatService
	db      *store.SQLiteStore
	llm     *fakeLLM
	ret     *fakeRetriever
	indexer *fakeIndexer
	indexes *fakeIndexStore
	user    *store.User
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	user, err := db.CreateUser("test@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	f := &serviceFixture{
		db:      db,
		llm:     &fakeLLM{streamFragments: []string{"answer"}, title: "Generated Title"},
		ret:     &fakeRetriever{},
		indexer: &fakeIndexer{chunks: 3},
		indexes: &fakeIndexStore{},
		user:    user,
	}
	f.svc = NewChatService(db, f.llm, f.ret, f.indexer, f.indexes, &fakeSearcher{})
	return f
}

func drain(t *testing.T, stream *TextStream) string {
	t.Helper()
	var b strings.Builder
	for {
		fragment, ok := stream.Recv()
		if !ok {
			return b.String()
		}
		b.WriteString(fragment)
	}
}

func writeFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0o644)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	f := newServiceFixture(t)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		_, err := f.svc.Ask(context.Background(), "", f.user.ID, prompt)
		if !errors.Is(err, ErrEmptyPrompt) {
			t.Fatalf("Ask(%q) = %v, want ErrEmptyPrompt", prompt, err)
		}
	}

	convs, err := f.svc.Conversations(f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Fatalf("empty prompt created %d conversations", len(convs))
	}
}

func TestAskUnknownConversation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Ask(context.Background(), "no-such-id", f.user.ID, "hello there")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Ask = %v, want ErrNotFound", err)
	}
}

func TestAskCreatesConversationAndPersistsTurn(t *testing.T) {
	f := newServiceFixture(t)
	f.llm.streamFragments = []string{"Paris is ", "the capital."}

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if !answer.Created {
		t.Fatal("Created = false for a fresh conversation")
	}
	if answer.Conversation.Title != "What is the capital of France?" {
		t.Fatalf("initial title = %q", answer.Conversation.Title)
	}

	got := drain(t, answer.Stream)
	if got != "Paris is the capital." {
		t.Fatalf("streamed text = %q", got)
	}

	// Persistence completes before the stream reports done.
	messages, err := f.db.GetMessagesByConversationID(answer.Conversation.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(messages))
	}
	if messages[0].Role != store.RoleUser || messages[0].Content != "What is the capital of France?" {
		t.Fatalf("first message = %+v", messages[0])
	}
	if messages[1].Role != store.RoleAssistant || messages[1].Content != "Paris is the capital." {
		t.Fatalf("second message = %+v", messages[1])
	}

	// Title refinement runs in the background.
	waitFor(t, "title refinement", func() bool {
		conv, err := f.db.GetConversationByID(answer.Conversation.ID, f.user.ID)
		return err == nil && conv != nil && conv.Title == "Generated Title"
	})
}

func TestAskGreetingSkipsRetrievalAndRewrite(t *testing.T) {
	f := newServiceFixture(t)
	f.llm.streamFragments = []string{"Hello! How can I help?"}

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}
	drain(t, answer.Stream)

	if f.ret.calls() != 0 {
		t.Fatalf("greeting triggered %d retrievals", f.ret.calls())
	}
	if f.llm.completeCalls() != 0 {
		t.Fatalf("greeting triggered %d rewrites", f.llm.completeCalls())
	}
	if got := f.llm.lastStreamPrompt(); got != "hi" {
		t.Fatalf("model prompt = %q, want the raw greeting", got)
	}
}

func TestAskStripsSourceTagAndAppendsCitations(t *testing.T) {
	f := newServiceFixture(t)
	f.ret.snippets = []rag.Snippet{{Source: "notes.txt", Content: "Paris is the capital of France."}}
	f.llm.streamFragments = []string{"SOURCE: DOCUMENT\n---\n", "Paris is the capital."}

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, answer.Stream)

	if strings.Contains(got, "SOURCE:") {
		t.Fatalf("tag leaked to consumer: %q", got)
	}
	if !strings.HasPrefix(got, "Paris is the capital.") {
		t.Fatalf("streamed text = %q", got)
	}
	if !strings.Contains(got, "Sources:\n- notes.txt") {
		t.Fatalf("citations missing: %q", got)
	}

	// The assembled prompt contains the retrieved context.
	if !strings.Contains(f.llm.lastStreamPrompt(), "--- UPLOADED DOCUMENT CONTEXT ---") {
		t.Fatal("model prompt missing document context section")
	}
}

func TestAskGenerationFailureStreamsFallback(t *testing.T) {
	f := newServiceFixture(t)
	f.llm.streamErr = errors.New("quota exceeded on every key")

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, answer.Stream)

	if got != unavailableText {
		t.Fatalf("streamed text = %q, want the fallback", got)
	}

	// The fallback is persisted as the assistant's answer.
	messages, err := f.db.GetMessagesByConversationID(answer.Conversation.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 || messages[1].Content != unavailableText {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestAskFollowUpUsesRewrittenQuery(t *testing.T) {
	f := newServiceFixture(t)
	f.ret.snippets = []rag.Snippet{{Source: "doc.txt", Content: "context"}}
	f.llm.streamFragments = []string{"SOURCE: DOCUMENT\n---\nanswer"}
	f.llm.completeReply = "What other companies does Elon Musk run?"

	first, err := f.svc.Ask(context.Background(), "", f.user.ID, "Who is the CEO of Tesla?")
	if err != nil {
		t.Fatal(err)
	}
	drain(t, first.Stream)

	second, err := f.svc.Ask(context.Background(), first.Conversation.ID, f.user.ID, "What other companies does he run?")
	if err != nil {
		t.Fatal(err)
	}
	drain(t, second.Stream)

	if f.llm.completeCalls() != 1 {
		t.Fatalf("rewrite called %d times, want 1 (follow-up only)", f.llm.completeCalls())
	}
	if got := f.ret.lastQuery(); got != "What other companies does Elon Musk run?" {
		t.Fatalf("retrieval query = %q, want the rewritten question", got)
	}

	// The model still answers the user's literal question.
	if !strings.Contains(f.llm.lastStreamPrompt(), "What other companies does he run?") {
		t.Fatal("model prompt missing the original follow-up question")
	}
}

func TestAskRetrievalFailureContinuesWithoutContext(t *testing.T) {
	f := newServiceFixture(t)
	f.ret.err = errors.New("index corrupted")
	f.llm.streamFragments = []string{"best effort answer"}

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, answer.Stream)

	if got != "best effort answer" {
		t.Fatalf("streamed text = %q", got)
	}
	if got := f.llm.lastStreamPrompt(); got != "What is the capital of France?" {
		t.Fatalf("model prompt = %q, want the bare question", got)
	}
}

func TestUploadDocumentCreatesConversation(t *testing.T) {
	f := newServiceFixture(t)

	staged := filepath.Join(t.TempDir(), "staged.txt")
	if err := writeFile(t, staged, "Paris is the capital of France."); err != nil {
		t.Fatal(err)
	}

	conv, created, err := f.svc.UploadDocument(context.Background(), "", f.user.ID, "notes.txt", "text/plain", staged)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("created = false for upload without a conversation")
	}
	if conv.Title != "notes.txt" {
		t.Fatalf("title = %q, want the filename", conv.Title)
	}

	stored, err := f.db.GetConversationByID(conv.ID, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DocumentName == nil || *stored.DocumentName != "notes.txt" {
		t.Fatalf("document name not saved: %+v", stored)
	}

	// The upload notice lands in the transcript.
	messages, err := f.db.GetMessagesByConversationID(conv.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Role != store.RoleSystem {
		t.Fatalf("messages = %+v, want one system notice", messages)
	}
}

func TestUploadDocumentIngestFailureRollsBack(t *testing.T) {
	f := newServiceFixture(t)
	f.indexer.err = rag.ErrUnprocessable

	staged := filepath.Join(t.TempDir(), "staged.bin")
	if err := writeFile(t, staged, "content"); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.svc.UploadDocument(context.Background(), "", f.user.ID, "image.bin", "application/octet-stream", staged)
	if !errors.Is(err, rag.ErrUnprocessable) {
		t.Fatalf("err = %v, want ErrUnprocessable", err)
	}

	convs, err := f.svc.Conversations(f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Fatalf("rolled-back upload left %d conversations", len(convs))
	}
}

func TestUploadDocumentRetitlesDefaultConversation(t *testing.T) {
	f := newServiceFixture(t)

	conv, err := f.db.CreateConversation(f.user.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != store.DefaultTitle {
		t.Fatalf("fresh conversation title = %q", conv.Title)
	}

	staged := filepath.Join(t.TempDir(), "staged.txt")
	if err := writeFile(t, staged, "content"); err != nil {
		t.Fatal(err)
	}

	got, created, err := f.svc.UploadDocument(context.Background(), conv.ID, f.user.ID, "report.pdf", "application/pdf", staged)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("created = true for an existing conversation")
	}

	stored, err := f.db.GetConversationByID(got.ID, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "report.pdf" {
		t.Fatalf("title = %q, want the filename", stored.Title)
	}
}

func TestDeleteConversationRemovesIndex(t *testing.T) {
	f := newServiceFixture(t)

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	drain(t, answer.Stream)

	if err := f.svc.DeleteConversation(answer.Conversation.ID, f.user.ID); err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.svc.ConversationDetail(answer.Conversation.ID, f.user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("detail after delete = %v, want ErrNotFound", err)
	}

	f.indexes.mu.Lock()
	deleted := append([]string(nil), f.indexes.deleted...)
	f.indexes.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != answer.Conversation.ID {
		t.Fatalf("index deletions = %v", deleted)
	}
}

func TestDeleteConversationWrongUser(t *testing.T) {
	f := newServiceFixture(t)

	answer, err := f.svc.Ask(context.Background(), "", f.user.ID, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	drain(t, answer.Stream)

	other, err := f.db.CreateUser("other@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteConversation(answer.Conversation.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user delete = %v, want ErrNotFound", err)
	}
}
