package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Turn is one prior exchange in a conversation, decoupled from the provider
// SDK's content shape. Role is "user" or "assistant".
type Turn struct {
	Role    string
	Content string
}

// Client wraps the Gemini API behind provider-neutral operations. Every call
// goes through the retrying Caller, building a fresh SDK client from the
// pool's current key per attempt.
type Client struct {
	caller          *Caller
	generationModel string
	embeddingModel  string
	titleModel      string
	embedLimiter    *rate.Limiter
}

// Chat answers run warm and long; titles run cool and clipped to a few
// words. Embedding calls are paced under the API's per-minute budget.
var (
	chatTemperature    = float32(0.9)
	chatTopP           = float32(1)
	chatTopK           = int32(1)
	chatMaxTokens      = int32(8192)
	titleTemperature   = float32(0.3)
	titleMaxTokens     = int32(20)
	titleInstruction   = "You are a helpful assistant that generates concise titles for chat conversations. The title should be 3-5 words maximum. Just return the title itself, nothing else."
	embedRatePerSecond = rate.Limit(25) // embedding API allows 1500 requests/min
)

func NewClient(caller *Caller, generationModel, embeddingModel, titleModel string) *Client {
	return &Client{
		caller:          caller,
		generationModel: generationModel,
		embeddingModel:  embeddingModel,
		titleModel:      titleModel,
		embedLimiter:    rate.NewLimiter(embedRatePerSecond, 1),
	}
}

// StreamChat sends prompt with the given history and calls emit for each
// text fragment as the model produces it. A key-related failure re-runs the
// whole generation with the next key; fragments already emitted before the
// failure are not withdrawn.
func (c *Client) StreamChat(ctx context.Context, prompt string, history []Turn, emit func(text string) error) error {
	return c.caller.Do(ctx, func(ctx context.Context, apiKey string) error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("creating genai client: %w", err)
		}
		defer client.Close()

		model := c.chatModel(client)
		session := model.StartChat()
		session.History = toGenaiHistory(history)

		iter := session.SendMessageStream(ctx, genai.Text(prompt))
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				return fmt.Errorf("gemini stream failed: %w", err)
			}
			if text := responseText(resp); text != "" {
				if err := emit(text); err != nil {
					// Consumer is gone; not a provider failure, never retried.
					return fmt.Errorf("stream consumer: %w", err)
				}
			}
		}
	})
}

// Complete issues a one-shot generation with no history and returns the full
// response text. Used for query rewriting.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := c.caller.Do(ctx, func(ctx context.Context, apiKey string) error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("creating genai client: %w", err)
		}
		defer client.Close()

		resp, err := c.chatModel(client).GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return fmt.Errorf("gemini generate failed: %w", err)
		}
		out = responseText(resp)
		return nil
	})
	return out, err
}

// GenerateTitle asks the model for a 3-5 word conversation title based on
// the opening exchange.
func (c *Client) GenerateTitle(ctx context.Context, basis string) (string, error) {
	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)

	var out string
	err := c.caller.Do(ctx, func(ctx context.Context, apiKey string) error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("creating genai client: %w", err)
		}
		defer client.Close()

		model := client.GenerativeModel(c.titleModel)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(titleInstruction)}}
		model.GenerationConfig = genai.GenerationConfig{
			Temperature:     &titleTemperature,
			MaxOutputTokens: &titleMaxTokens,
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return fmt.Errorf("gemini title generation failed: %w", err)
		}
		out = responseText(resp)
		return nil
	})
	if err != nil {
		return "", err
	}

	out = strings.Trim(out, "\"'\n\r\t .")
	if out == "" {
		return "", fmt.Errorf("model generated an empty title")
	}
	return out, nil
}

// EmbedText returns the embedding vector for text. Calls are paced under the
// embedding API's request-per-minute budget.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := c.embedLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var vec []float32
	err := c.caller.Do(ctx, func(ctx context.Context, apiKey string) error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("creating genai client: %w", err)
		}
		defer client.Close()

		res, err := client.EmbeddingModel(c.embeddingModel).EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return fmt.Errorf("gemini embedding request failed: %w", err)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return fmt.Errorf("no embedding data received from gemini")
		}
		vec = res.Embedding.Values
		return nil
	})
	return vec, err
}

func (c *Client) chatModel(client *genai.Client) *genai.GenerativeModel {
	model := client.GenerativeModel(c.generationModel)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &chatTemperature,
		TopP:            &chatTopP,
		TopK:            &chatTopK,
		MaxOutputTokens: &chatMaxTokens,
	}
	return model
}

// toGenaiHistory maps provider-neutral turns into the SDK's content shape.
// The Gemini API names the assistant role "model".
func toGenaiHistory(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
