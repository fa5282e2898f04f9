package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp openai.ChatCompletion
	err  error
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePhrase_Success(t *testing.T) {
	mockResp := completionWith(`{"phrase": "Practice makes perfect", "meaning": "Skill comes from repetition", "example": "She rehearsed daily."}`)
	client := &Client{chat: &mockChatService{resp: mockResp}, model: "test-model"}

	phrase, err := client.GeneratePhrase(context.Background(), time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if phrase.Text != "Practice makes perfect" {
		t.Errorf("expected phrase text, got %q", phrase.Text)
	}
	if phrase.Meaning == "" || phrase.Example == "" {
		t.Errorf("expected meaning and example, got %+v", phrase)
	}
}

func TestGeneratePhrase_FencedResponse(t *testing.T) {
	mockResp := completionWith("```json\n{\"phrase\": \"Carpe diem\", \"meaning\": \"Seize the day\", \"example\": \"Carpe diem, she said.\"}\n```")
	client := &Client{chat: &mockChatService{resp: mockResp}, model: "test-model"}

	phrase, err := client.GeneratePhrase(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if phrase.Text != "Carpe diem" {
		t.Errorf("expected fenced JSON to parse, got %q", phrase.Text)
	}
}

func TestGeneratePhrase_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: "test-model"}
	_, err := client.GeneratePhrase(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePhrase_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}, model: "test-model"}
	_, err := client.GeneratePhrase(context.Background(), time.Now())
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGeneratePhrase_MalformedResponse(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("not json at all")}, model: "test-model"}
	if _, err := client.GeneratePhrase(context.Background(), time.Now()); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}
