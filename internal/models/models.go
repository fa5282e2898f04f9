// Package models defines the core data structures for PhrasePipe.
//
// It includes types for recipients, the daily phrase, and per-delivery
// outcomes, which are shared across modules.
package models

import (
	"errors"
	"regexp"
	"time"
)

// Tier labels a recipient's subscription level. It affects message content
// and report grouping only, never dispatch or retry eligibility.
type Tier string

const (
	// TierStandard is the default subscription tier.
	TierStandard Tier = "standard"
	// TierPremium marks paying subscribers.
	TierPremium Tier = "premium"
)

// DeliveryResult names the outcome kind recorded in the delivery trace.
type DeliveryResult string

const (
	// DeliverySent indicates a successful first-run delivery.
	DeliverySent DeliveryResult = "sent"
	// DeliverySentRetry indicates a successful delivery during a deferred retry run.
	DeliverySentRetry DeliveryResult = "sent_retry"
	// DeliveryNetworkError indicates a transient network-layer failure.
	DeliveryNetworkError DeliveryResult = "network_error"
	// DeliveryError indicates a permanent failure.
	DeliveryError DeliveryResult = "error"
)

// Error variables for better error handling and testability
var (
	ErrEmptyAddress  = errors.New("recipient address cannot be empty")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrEmptyPhrase   = errors.New("phrase text cannot be empty")
	ErrNoPhraseToday = errors.New("no phrase found for today")
)

// emailRegex matches the address shape the original subscription form accepts.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail reports whether addr looks like a deliverable email address.
func ValidateEmail(addr string) error {
	if addr == "" {
		return ErrEmptyAddress
	}
	if !emailRegex.MatchString(addr) {
		return ErrInvalidEmail
	}
	return nil
}

// Recipient is one delivery target. It is immutable for the duration of a
// run; the recipient source owns the list.
type Recipient struct {
	ID      int64  `json:"id"`
	Address string `json:"email"`
	Name    string `json:"name,omitempty"`
	Tier    Tier   `json:"tier,omitempty"`
}

// DisplayName returns the name to greet the recipient with, falling back to
// a tier-appropriate generic greeting.
func (r Recipient) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Tier == TierPremium {
		return "Premium Subscriber"
	}
	return "Friend"
}

// Phrase is the payload delivered to every recipient in a run. It is
// read-only once the run starts.
type Phrase struct {
	ID      int64  `json:"id"`
	Text    string `json:"phrase"`
	Meaning string `json:"meaning,omitempty"`
	Example string `json:"example,omitempty"`
}

// Excerpt returns the first n characters of the phrase text for logging.
func (p Phrase) Excerpt(n int) string {
	runes := []rune(p.Text)
	if len(runes) <= n {
		return p.Text
	}
	return string(runes[:n]) + "..."
}

// DeliveryOutcome is produced exactly once per (recipient, phrase) pair per
// dispatch attempt.
type DeliveryOutcome struct {
	Recipient Recipient
	OK        bool
	Duration  time.Duration
	Error     string
	Transient bool
}

// FailedDelivery records one failed recipient inside the retry queue file.
type FailedDelivery struct {
	Recipient      Recipient `json:"recipient"`
	Error          string    `json:"error"`
	IsNetworkError bool      `json:"is_network_error"`
}

// DeliveryStats summarizes today's trace rows for the end-of-run report.
type DeliveryStats struct {
	TotalToday     int     `json:"total_today"`
	SucceededToday int     `json:"succeeded_today"`
	FailedToday    int     `json:"failed_today"`
	TotalAllTime   int     `json:"total_all_time"`
	SuccessRate    float64 `json:"success_rate_today"`
}
