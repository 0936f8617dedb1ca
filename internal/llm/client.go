package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Source is a citation attached to a grounded answer.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Client is an abstraction over LLM providers. Calls may fail or time out;
// timeout handling belongs to the provider implementation, not the caller.
type Client interface {
	// GenerateContent generates free-form text.
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateGrounded generates text with search grounding enabled and
	// returns any cited sources alongside the answer.
	GenerateGrounded(ctx context.Context, prompt string, tier ModelTier) (string, []Source, error)
	// GenerateJSON generates a JSON document, stripped of markdown fences.
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
	config *Config
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: config}, nil
}

// GenerateContent implements Client.
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model, err := c.model(tier)
	if err != nil {
		return "", err
	}
	resp, err := c.generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	return extractText(resp)
}

// GenerateGrounded implements Client. Grounding citations come back as
// sources; an answer with no citations is still a valid answer.
func (c *GeminiClient) GenerateGrounded(ctx context.Context, prompt string, tier ModelTier) (string, []Source, error) {
	model, err := c.model(tier)
	if err != nil {
		return "", nil, err
	}
	model.Tools = []*genai.Tool{{GoogleSearchRetrieval: &genai.GoogleSearchRetrieval{}}}

	resp, err := c.generate(ctx, model, prompt)
	if err != nil {
		return "", nil, err
	}

	text, err := extractText(resp)
	if err != nil {
		return "", nil, err
	}
	return text, extractSources(resp), nil
}

// GenerateJSON implements Client.
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model, err := c.model(tier)
	if err != nil {
		return "", err
	}
	model.ResponseMIMEType = "application/json"

	resp, err := c.generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// Close implements Client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *GeminiClient) model(tier ModelTier) (*genai.GenerativeModel, error) {
	name := c.config.GetModel(tier)
	if name == "" {
		return nil, fmt.Errorf("no model configured for tier %s", tier)
	}
	model := c.client.GenerativeModel(name)
	model.SetTemperature(0.1) // Low temperature for consistent output
	return model, nil
}

// generate calls the model with a bounded retry for transient provider
// failures. Context cancellation stops the retry chain.
func (c *GeminiClient) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			var genErr error
			resp, genErr = model.GenerateContent(ctx, genai.Text(prompt))
			return genErr
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	return resp, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// extractSources pulls citation URIs off the first candidate.
func extractSources(resp *genai.GenerateContentResponse) []Source {
	if len(resp.Candidates) == 0 {
		return nil
	}
	meta := resp.Candidates[0].CitationMetadata
	if meta == nil {
		return nil
	}

	var sources []Source
	for _, cs := range meta.CitationSources {
		if cs == nil || cs.URI == nil || *cs.URI == "" {
			continue
		}
		sources = append(sources, Source{Title: *cs.URI, URI: *cs.URI})
	}
	return sources
}
