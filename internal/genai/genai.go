// Package genai generates fallback phrases with the OpenAI API.
//
// It is used when the phrase table has no entry for today's day of the
// year, so a run still has something to deliver.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// ErrNoChoicesReturned indicates the completion response carried no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

const systemPrompt = `You write one short inspirational phrase per request. ` +
	`Respond with a JSON object with exactly these keys: ` +
	`"phrase" (the phrase itself), "meaning" (one sentence explaining it), ` +
	`"example" (one sentence using it). Respond with the JSON object only.`

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// realChatService adapts the OpenAI SDK service to chatService.
type realChatService struct {
	client openai.Client
}

func (s realChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI ChatCompletion service for generating phrases.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: realChatService{client: cli}, model: cfg.Model}, nil
}

// GeneratePhrase asks the model for a phrase suitable for date and parses
// the structured response.
func (c *Client) GeneratePhrase(ctx context.Context, date time.Time) (*models.Phrase, error) {
	userPrompt := fmt.Sprintf("Write the inspirational phrase of the day for %s.", date.Format("January 2"))

	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		slog.Error("GenAI completion failed", "error", err)
		return nil, fmt.Errorf("failed to generate phrase: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	phrase, err := parsePhrase(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	slog.Info("GenAI fallback phrase generated", "phrase", phrase.Excerpt(40))
	return phrase, nil
}

// parsePhrase decodes the model's JSON response, tolerating a markdown
// code fence around it.
func parsePhrase(content string) (*models.Phrase, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var out struct {
		Phrase  string `json:"phrase"`
		Meaning string `json:"meaning"`
		Example string `json:"example"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse generated phrase: %w", err)
	}
	if out.Phrase == "" {
		return nil, models.ErrEmptyPhrase
	}
	return &models.Phrase{Text: out.Phrase, Meaning: out.Meaning, Example: out.Example}, nil
}
