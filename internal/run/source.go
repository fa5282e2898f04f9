package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// PhraseGenerator produces a phrase for a date when none is configured.
type PhraseGenerator interface {
	GeneratePhrase(ctx context.Context, date time.Time) (*models.Phrase, error)
}

// fallbackPhraseSource consults primary first and asks the generator only
// when primary has nothing for the day. A generator failure degrades to
// "no phrase today" rather than failing the run.
type fallbackPhraseSource struct {
	primary   PhraseSource
	generator PhraseGenerator
}

// NewFallbackPhraseSource wraps primary with a generated-phrase fallback.
func NewFallbackPhraseSource(primary PhraseSource, generator PhraseGenerator) PhraseSource {
	return &fallbackPhraseSource{primary: primary, generator: generator}
}

func (s *fallbackPhraseSource) PhraseOfDay(ctx context.Context, date time.Time) (*models.Phrase, error) {
	phrase, err := s.primary.PhraseOfDay(ctx, date)
	if err != nil || phrase != nil {
		return phrase, err
	}

	slog.Info("no phrase configured for today, generating a fallback", "date", date.Format("2006-01-02"))
	generated, err := s.generator.GeneratePhrase(ctx, date)
	if err != nil {
		slog.Warn("fallback phrase generation failed", "error", err)
		return nil, nil
	}
	return generated, nil
}
