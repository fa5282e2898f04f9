package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

type stubGenerator struct {
	phrase *models.Phrase
	err    error
	calls  int
}

func (g *stubGenerator) GeneratePhrase(ctx context.Context, date time.Time) (*models.Phrase, error) {
	g.calls++
	return g.phrase, g.err
}

func TestFallbackPhraseSource(t *testing.T) {
	date := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	configured := &models.Phrase{ID: 1, Text: "Carpe diem"}
	generated := &models.Phrase{Text: "Practice makes perfect"}

	t.Run("primary hit skips generator", func(t *testing.T) {
		gen := &stubGenerator{phrase: generated}
		src := NewFallbackPhraseSource(&stubPhrases{phrase: configured}, gen)

		got, err := src.PhraseOfDay(context.Background(), date)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != configured {
			t.Errorf("got %+v, want configured phrase", got)
		}
		if gen.calls != 0 {
			t.Errorf("generator called %d times, want 0", gen.calls)
		}
	})

	t.Run("primary miss uses generator", func(t *testing.T) {
		gen := &stubGenerator{phrase: generated}
		src := NewFallbackPhraseSource(&stubPhrases{}, gen)

		got, err := src.PhraseOfDay(context.Background(), date)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != generated {
			t.Errorf("got %+v, want generated phrase", got)
		}
	})

	t.Run("primary error propagates", func(t *testing.T) {
		gen := &stubGenerator{phrase: generated}
		src := NewFallbackPhraseSource(&stubPhrases{err: errors.New("database gone")}, gen)

		if _, err := src.PhraseOfDay(context.Background(), date); err == nil {
			t.Error("expected primary error to propagate")
		}
		if gen.calls != 0 {
			t.Errorf("generator called %d times on primary error, want 0", gen.calls)
		}
	})

	t.Run("generator failure degrades to no phrase", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("api unavailable")}
		src := NewFallbackPhraseSource(&stubPhrases{}, gen)

		got, err := src.PhraseOfDay(context.Background(), date)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %+v, want nil", got)
		}
	})
}
