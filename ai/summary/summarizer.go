// Package summary implements the cognitive profile summarizer. It
// periodically compresses an owner's long-run history into a bounded
// natural-language profile so prompts never need to replay the full log.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/confidant-ai/confidant/ai/llm"
	"github.com/confidant-ai/confidant/store"
)

// ErrProfileNotEstablished marks an owner with no profile yet. It is an
// explicit sentinel: a missing profile must never be interpolated into a
// prompt as an empty string.
var ErrProfileNotEstablished = errors.New("cognitive profile not yet established")

// ErrSummarizationFailed indicates a profile refresh attempt failed. The
// previous profile (if any) remains authoritative until the next successful
// attempt.
var ErrSummarizationFailed = errors.New("profile summarization failed")

const (
	defaultThreshold = 15
	defaultWindow    = 30
	defaultMaxRunes  = 600 // ~150 tokens
	defaultTimeout   = 30 * time.Second
)

const summarizerSystemPrompt = `You are a profile compression assistant. ` +
	`Given a conversation history, produce a compact third-person profile of the user ` +
	`covering dominant emotional tone, recurring topics, and stylistic patterns. ` +
	`Stay under 150 tokens. Output only the profile text.`

// RecentTurnSource supplies the bounded recent window of turns.
// *memory.Store satisfies it.
type RecentTurnSource interface {
	RecentTurns(ctx context.Context, ownerID string, n int) ([]*store.Turn, error)
}

// ProfileStore persists cognitive profiles. *store.Store satisfies it.
type ProfileStore interface {
	UpsertCognitiveProfile(ctx context.Context, upsert *store.UpsertCognitiveProfile) (*store.CognitiveProfile, error)
	GetCognitiveProfile(ctx context.Context, ownerID string) (*store.CognitiveProfile, error)
}

// Summarizer regenerates cognitive profiles from recent history.
type Summarizer struct {
	turns     RecentTurnSource
	profiles  ProfileStore
	llm       llm.Service
	threshold int
	window    int
	maxRunes  int
	timeout   time.Duration

	// Concurrent threshold crossings for the same owner collapse into one
	// regeneration.
	group singleflight.Group
}

// NewSummarizer creates a cognitive profile summarizer.
func NewSummarizer(turns RecentTurnSource, profiles ProfileStore, llmService llm.Service, threshold, window int) *Summarizer {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if window < threshold {
		window = defaultWindow
		if window < threshold {
			window = threshold * 2
		}
	}
	return &Summarizer{
		turns:     turns,
		profiles:  profiles,
		llm:       llmService,
		threshold: threshold,
		window:    window,
		maxRunes:  defaultMaxRunes,
		timeout:   defaultTimeout,
	}
}

// Threshold returns the turn count that triggers a refresh.
func (s *Summarizer) Threshold() int {
	return s.threshold
}

// ShouldUpdate reports whether the turn count since the last refresh has
// crossed the threshold.
func (s *Summarizer) ShouldUpdate(turnsSinceUpdate int) bool {
	return turnsSinceUpdate >= s.threshold
}

// Profile returns the owner's profile text, or ErrProfileNotEstablished.
func (s *Summarizer) Profile(ctx context.Context, ownerID string) (string, error) {
	profile, err := s.profiles.GetCognitiveProfile(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("get cognitive profile: %w", err)
	}
	if profile == nil || profile.ProfileText == "" {
		return "", ErrProfileNotEstablished
	}
	return profile.ProfileText, nil
}

// MaybeUpdate regenerates the owner's profile when the threshold has been
// crossed. Failure leaves the previous profile byte-identical; the caller
// is expected to log and continue.
func (s *Summarizer) MaybeUpdate(ctx context.Context, ownerID string, turnsSinceUpdate int) error {
	if !s.ShouldUpdate(turnsSinceUpdate) {
		return nil
	}

	_, err, shared := s.group.Do(ownerID, func() (any, error) {
		return nil, s.update(ctx, ownerID)
	})
	if shared {
		slog.Debug("summary: refresh deduplicated", "owner_id", ownerID)
	}
	return err
}

func (s *Summarizer) update(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	turns, err := s.turns.RecentTurns(ctx, ownerID, s.window)
	if err != nil {
		return fmt.Errorf("%w: load recent turns: %v", ErrSummarizationFailed, err)
	}
	if len(turns) == 0 {
		return nil
	}

	profileText, err := s.generate(ctx, turns)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}
	if profileText == "" {
		return fmt.Errorf("%w: empty profile from llm", ErrSummarizationFailed)
	}

	// The upsert replaces the whole text in one statement; there is no
	// partial merge that could drift from stale fragments.
	if _, err := s.profiles.UpsertCognitiveProfile(ctx, &store.UpsertCognitiveProfile{
		OwnerID:     ownerID,
		ProfileText: profileText,
		UpdatedTs:   time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("%w: persist profile: %v", ErrSummarizationFailed, err)
	}

	slog.Info("summary: cognitive profile refreshed",
		"owner_id", ownerID,
		"window", len(turns),
		"profile_length", len(profileText),
	)
	return nil
}

func (s *Summarizer) generate(ctx context.Context, turns []*store.Turn) (string, error) {
	var sb strings.Builder
	sb.WriteString("Conversation history:\n\n")
	for _, turn := range turns {
		content := turn.Content
		if truncated := truncateRunes(content, 500); len(truncated) < len(content) {
			content = truncated + "..."
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", turn.Role, content))
	}

	messages := []llm.Message{
		llm.SystemPrompt(summarizerSystemPrompt),
		llm.UserMessage(sb.String()),
	}
	profileText, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return truncateRunes(strings.TrimSpace(profileText), s.maxRunes), nil
}

// truncateRunes safely truncates a string by rune count, not bytes.
func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
