package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

type mockClient struct {
	failures int
	calls    int
	lastTo   string
	lastMsg  []byte
}

func (m *mockClient) SendMail(ctx context.Context, to string, msg []byte) error {
	m.calls++
	m.lastTo = to
	m.lastMsg = msg
	if m.calls <= m.failures {
		return errors.New("Connection refused")
	}
	return nil
}

func newTestSender(t *testing.T, client Client) *Sender {
	t.Helper()
	s, err := NewSender(
		WithClient(client),
		WithFrom("phrases@example.com"),
		WithRetryBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	return s
}

func testPhrase() models.Phrase {
	return models.Phrase{
		ID:      1,
		Text:    "Practice makes perfect",
		Meaning: "Skill comes from repetition",
		Example: "She rehearsed daily, because practice makes perfect.",
	}
}

func TestSendSuccess(t *testing.T) {
	client := &mockClient{}
	s := newTestSender(t, client)

	r := models.Recipient{Address: "ana@example.com", Name: "Ana"}
	if err := s.Send(context.Background(), testPhrase(), r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
	if client.lastTo != "ana@example.com" {
		t.Errorf("lastTo = %q", client.lastTo)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	client := &mockClient{failures: 2}
	s := newTestSender(t, client)

	r := models.Recipient{Address: "ana@example.com"}
	if err := s.Send(context.Background(), testPhrase(), r); err != nil {
		t.Fatalf("Send failed after retries: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 3", client.calls)
	}
}

func TestSendExhaustsRetryBudget(t *testing.T) {
	client := &mockClient{failures: 100}
	s := newTestSender(t, client)

	r := models.Recipient{Address: "ana@example.com"}
	err := s.Send(context.Background(), testPhrase(), r)
	if err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if client.calls != DefaultMaxRetries {
		t.Errorf("calls = %d, want %d", client.calls, DefaultMaxRetries)
	}
	if !strings.Contains(err.Error(), "Connection refused") {
		t.Errorf("error %q does not carry the cause", err)
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	client := &mockClient{}
	s := newTestSender(t, client)

	err := s.Send(context.Background(), models.Phrase{}, models.Recipient{Address: "ana@example.com"})
	if !errors.Is(err, models.ErrEmptyPhrase) {
		t.Errorf("empty phrase error = %v, want ErrEmptyPhrase", err)
	}

	err = s.Send(context.Background(), testPhrase(), models.Recipient{Address: "not-an-address"})
	if !errors.Is(err, models.ErrInvalidEmail) {
		t.Errorf("invalid address error = %v, want ErrInvalidEmail", err)
	}
	if client.calls != 0 {
		t.Errorf("client called %d times for invalid input, want 0", client.calls)
	}
}

func TestSendHonorsContextCancellation(t *testing.T) {
	client := &mockClient{failures: 100}
	s := newTestSender(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Send(ctx, testPhrase(), models.Recipient{Address: "ana@example.com"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNewSenderValidation(t *testing.T) {
	t.Setenv("EMAIL_USER", "")
	t.Setenv("EMAIL_PASSWORD", "")
	t.Setenv("SMTP_SERVER", "")
	t.Setenv("SMTP_PORT", "")

	if _, err := NewSender(); err == nil {
		t.Error("NewSender with no credentials succeeded, want error")
	}
	_, err := NewSender(
		WithUsername("u@example.com"), WithPassword("pw"),
		WithHost("smtp.example.com"), WithPort(70000),
	)
	if err == nil {
		t.Error("NewSender with out-of-range port succeeded, want error")
	}
}

func TestNewSenderEnvelopeFrom(t *testing.T) {
	t.Setenv("EMAIL_USER", "")
	t.Setenv("EMAIL_PASSWORD", "")
	t.Setenv("SMTP_SERVER", "")
	t.Setenv("SMTP_PORT", "")

	s, err := NewSender(
		WithUsername("u@example.com"), WithPassword("pw"),
		WithHost("smtp.example.com"), WithPort(587),
		WithFrom("bounce@example.com"),
	)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	client, ok := s.client.(*SMTPClient)
	if !ok {
		t.Fatalf("client is %T, want *SMTPClient", s.client)
	}
	if client.from != "bounce@example.com" {
		t.Errorf("envelope sender = %q, want the WithFrom address", client.from)
	}
	if s.from != "bounce@example.com" {
		t.Errorf("header From = %q, want the WithFrom address", s.from)
	}
}

func TestBuildMessageTiers(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	standard, err := buildMessage(testPhrase(),
		models.Recipient{Address: "ana@example.com", Name: "Ana"}, "phrases@example.com", now)
	if err != nil {
		t.Fatalf("buildMessage failed: %v", err)
	}
	got := string(standard)
	for _, want := range []string{
		"Subject: Your Daily Phrase\r\n",
		"To: ana@example.com",
		"Content-Type: multipart/alternative",
		"Hello Ana,",
		"PHRASE: Practice makes perfect",
		"MEANING: Skill comes from repetition",
		"text/html",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("standard message missing %q", want)
		}
	}

	premium, err := buildMessage(testPhrase(),
		models.Recipient{Address: "ben@example.com", Tier: models.TierPremium}, "phrases@example.com", now)
	if err != nil {
		t.Fatalf("buildMessage failed: %v", err)
	}
	got = string(premium)
	if !strings.Contains(got, "Subject: Your Daily Phrase (Premium Edition)") {
		t.Error("premium message missing premium subject")
	}
	if !strings.Contains(got, "Hello Premium Subscriber,") {
		t.Error("premium message missing nameless premium greeting")
	}
}
