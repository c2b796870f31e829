package core

import (
	"fmt"
	"strings"

	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/rag"
	"github.com/Saishabeer/Shabeer-s-Gemini-Chatbot/internal/websearch"
)

// greetings are prompts that never trigger retrieval or query rewriting;
// they go straight to the model as-is.
var greetings = map[string]struct{}{
	"hi":        {},
	"hello":     {},
	"hlo":       {},
	"hey":       {},
	"thanks":    {},
	"thank you": {},
	"ok":        {},
	"okay":      {},
	"bye":       {},
	"goodbye":   {},
}

// IsSimplePrompt reports whether the prompt is a plain greeting
// (case-insensitive, surrounding whitespace ignored).
func IsSimplePrompt(prompt string) bool {
	_, ok := greetings[strings.ToLower(strings.TrimSpace(prompt))]
	return ok
}

// Source tags the model prefixes its answer with when context was supplied.
const (
	SourceDocument  = "DOCUMENT"
	SourceWeb       = "WEB"
	SourceKnowledge = "KNOWLEDGE"

	sourcePrefix    = "SOURCE:"
	sourceSeparator = "---"
)

const contextInstruction = `You are a friendly, helpful, and conversational AI assistant.

Your knowledge comes from three places, in strict priority order:
1. UPLOADED DOCUMENT CONTEXT, when provided below. Always prefer it.
2. WEB SEARCH RESULTS, when provided below, for up-to-date information.
3. Your own pre-trained knowledge, only when neither context answers the question.

Before your answer, state which source you relied on by writing exactly one line
"SOURCE: DOCUMENT" or "SOURCE: WEB" or "SOURCE: KNOWLEDGE"
followed by a line containing only "---", then your actual answer.`

// AssemblePrompt builds the final model prompt. Without any retrieved
// context the user's question passes through untouched; with context, the
// instruction block, the labeled context sections, and the question are
// combined and the model is asked to declare which source it used.
func AssemblePrompt(question string, docSnippets []rag.Snippet, webResults []websearch.Result) string {
	docContext := joinSnippets(docSnippets)
	webContext := joinWebResults(webResults)
	if docContext == "" && webContext == "" {
		return question
	}

	parts := []string{contextInstruction}
	if docContext != "" {
		parts = append(parts, "--- UPLOADED DOCUMENT CONTEXT ---\n"+docContext)
	}
	if webContext != "" {
		parts = append(parts, "--- WEB SEARCH RESULTS ---\n"+webContext)
	}
	return strings.Join(parts, "\n\n") + "\n\n--- USER QUESTION ---\n" + question
}

func joinSnippets(snippets []rag.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "\n\n")
}

func joinWebResults(results []websearch.Result) string {
	var parts []string
	for _, r := range results {
		if r.Content != "" {
			parts = append(parts, r.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ParseSourceAnswer splits a complete model output into its declared source
// tag and the answer body, stripping the tag line and separator. Output that
// doesn't follow the contract is returned whole with an empty tag, so a
// model that ignores the instruction degrades to an answer without
// citations instead of failing.
func ParseSourceAnswer(output string) (tag, answer string) {
	trimmed := strings.TrimLeft(output, " \t\r\n")
	if !strings.HasPrefix(trimmed, sourcePrefix) {
		return "", output
	}

	rest := trimmed[len(sourcePrefix):]
	newline := strings.IndexByte(rest, '\n')
	if newline < 0 {
		return "", output
	}

	candidate := strings.TrimSpace(rest[:newline])
	switch candidate {
	case SourceDocument, SourceWeb, SourceKnowledge:
	default:
		return "", output
	}

	body := rest[newline+1:]
	sepLine := strings.TrimLeft(body, " \t\r\n")
	if !strings.HasPrefix(sepLine, sourceSeparator) {
		return "", output
	}
	sepLine = sepLine[len(sourceSeparator):]
	return candidate, strings.TrimLeft(sepLine, " \t\r\n")
}

// CitationBlock renders the user-visible citation list for the declared
// source tag, or "" when nothing should be appended.
func CitationBlock(tag string, docSnippets []rag.Snippet, webResults []websearch.Result) string {
	switch tag {
	case SourceDocument:
		seen := map[string]struct{}{}
		var lines []string
		for _, s := range docSnippets {
			if _, dup := seen[s.Source]; dup || s.Source == "" {
				continue
			}
			seen[s.Source] = struct{}{}
			lines = append(lines, "- "+s.Source)
		}
		if len(lines) == 0 {
			return ""
		}
		return "\n\nSources:\n" + strings.Join(lines, "\n")
	case SourceWeb:
		var lines []string
		for _, r := range webResults {
			if r.Title == "" && r.URL == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", r.Title, r.URL))
		}
		if len(lines) == 0 {
			return ""
		}
		return "\n\nWeb sources:\n" + strings.Join(lines, "\n")
	default:
		return ""
	}
}

// rewritePrompt asks the model to turn a follow-up question into a
// standalone one using recent history. Few-shot examples keep the small
// model on task.
func rewritePrompt(historyText, question string) string {
	return fmt.Sprintf(`You are an expert at rephrasing a follow-up question into a standalone question, using the provided chat history. Do not answer the question, just provide the rephrased, standalone question.

**Example 1:**
Chat History:
user: Who is the CEO of Tesla?
assistant: Elon Musk is the CEO of Tesla.
Follow-up Question: What other companies does he run?
Standalone Question: What other companies does Elon Musk run?

**Example 2:**
Chat History:
user: Can you tell me about the Golden Gate Bridge?
assistant: The Golden Gate Bridge is a suspension bridge spanning the Golden Gate.
Follow-up Question: how long is it
Standalone Question: How long is the Golden Gate Bridge?

**Your Task:**

Chat History:
%s

Follow-up Question: %s

Standalone Question:`, historyText, question)
}
