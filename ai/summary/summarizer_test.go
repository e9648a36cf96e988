package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confidant-ai/confidant/ai/llm"
	"github.com/confidant-ai/confidant/store"
)

type fakeTurnSource struct {
	turns []*store.Turn
	err   error
}

func (f *fakeTurnSource) RecentTurns(_ context.Context, _ string, _ int) ([]*store.Turn, error) {
	return f.turns, f.err
}

type fakeProfileStore struct {
	profile  *store.CognitiveProfile
	getErr   error
	upserted *store.UpsertCognitiveProfile
}

func (f *fakeProfileStore) UpsertCognitiveProfile(_ context.Context, upsert *store.UpsertCognitiveProfile) (*store.CognitiveProfile, error) {
	f.upserted = upsert
	return &store.CognitiveProfile{OwnerID: upsert.OwnerID, ProfileText: upsert.ProfileText}, nil
}

func (f *fakeProfileStore) GetCognitiveProfile(_ context.Context, _ string) (*store.CognitiveProfile, error) {
	return f.profile, f.getErr
}

type fakeLLM struct {
	reply    string
	err      error
	calls    int
	messages []llm.Message
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.calls++
	f.messages = messages
	return f.reply, f.err
}

func (f *fakeLLM) ChatStream(_ context.Context, _ []llm.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error)
	close(contentChan)
	close(errChan)
	return contentChan, errChan
}

func someTurns() []*store.Turn {
	return []*store.Turn{
		{Role: store.RoleUser, Content: "I started stargazing again"},
		{Role: store.RoleAssistant, Content: "That sounds wonderful"},
	}
}

func TestShouldUpdate(t *testing.T) {
	s := NewSummarizer(&fakeTurnSource{}, &fakeProfileStore{}, &fakeLLM{}, 15, 30)

	assert.False(t, s.ShouldUpdate(0))
	assert.False(t, s.ShouldUpdate(14))
	assert.True(t, s.ShouldUpdate(15))
	assert.True(t, s.ShouldUpdate(40))
}

func TestProfileNotEstablished(t *testing.T) {
	tests := []struct {
		name    string
		profile *store.CognitiveProfile
	}{
		{name: "no row", profile: nil},
		{name: "empty text", profile: &store.CognitiveProfile{OwnerID: "o", ProfileText: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSummarizer(&fakeTurnSource{}, &fakeProfileStore{profile: tt.profile}, &fakeLLM{}, 15, 30)
			_, err := s.Profile(context.Background(), "owner-1")
			assert.ErrorIs(t, err, ErrProfileNotEstablished)
		})
	}
}

func TestProfileReturnsText(t *testing.T) {
	profiles := &fakeProfileStore{profile: &store.CognitiveProfile{OwnerID: "o", ProfileText: "Enjoys stargazing."}}
	s := NewSummarizer(&fakeTurnSource{}, profiles, &fakeLLM{}, 15, 30)

	text, err := s.Profile(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Enjoys stargazing.", text)
}

func TestMaybeUpdateBelowThresholdIsNoop(t *testing.T) {
	generator := &fakeLLM{reply: "profile"}
	s := NewSummarizer(&fakeTurnSource{turns: someTurns()}, &fakeProfileStore{}, generator, 15, 30)

	require.NoError(t, s.MaybeUpdate(context.Background(), "owner-1", 10))
	assert.Zero(t, generator.calls)
}

func TestMaybeUpdateReplacesWholeProfile(t *testing.T) {
	profiles := &fakeProfileStore{}
	s := NewSummarizer(&fakeTurnSource{turns: someTurns()}, profiles, &fakeLLM{reply: "Warm, curious, talks about the night sky."}, 15, 30)

	require.NoError(t, s.MaybeUpdate(context.Background(), "owner-1", 15))
	require.NotNil(t, profiles.upserted)
	assert.Equal(t, "owner-1", profiles.upserted.OwnerID)
	assert.Equal(t, "Warm, curious, talks about the night sky.", profiles.upserted.ProfileText)
	assert.NotZero(t, profiles.upserted.UpdatedTs)
}

func TestMaybeUpdateFailureLeavesProfileUntouched(t *testing.T) {
	profiles := &fakeProfileStore{profile: &store.CognitiveProfile{OwnerID: "o", ProfileText: "previous"}}
	s := NewSummarizer(&fakeTurnSource{turns: someTurns()}, profiles, &fakeLLM{err: errors.New("backend down")}, 15, 30)

	err := s.MaybeUpdate(context.Background(), "owner-1", 20)
	assert.ErrorIs(t, err, ErrSummarizationFailed)
	assert.Nil(t, profiles.upserted)

	text, perr := s.Profile(context.Background(), "owner-1")
	require.NoError(t, perr)
	assert.Equal(t, "previous", text)
}

func TestMaybeUpdateBoundsProfileLength(t *testing.T) {
	profiles := &fakeProfileStore{}
	long := strings.Repeat("x", 2000)
	s := NewSummarizer(&fakeTurnSource{turns: someTurns()}, profiles, &fakeLLM{reply: long}, 15, 30)

	require.NoError(t, s.MaybeUpdate(context.Background(), "owner-1", 15))
	require.NotNil(t, profiles.upserted)
	assert.Len(t, []rune(profiles.upserted.ProfileText), 600)
}

func TestMaybeUpdateTruncatesHistoryOnRuneBoundary(t *testing.T) {
	generator := &fakeLLM{reply: "profile"}
	turns := []*store.Turn{
		{Role: store.RoleUser, Content: strings.Repeat("é", 600)},
	}
	s := NewSummarizer(&fakeTurnSource{turns: turns}, &fakeProfileStore{}, generator, 15, 30)

	require.NoError(t, s.MaybeUpdate(context.Background(), "owner-1", 15))
	require.Len(t, generator.messages, 2)

	history := generator.messages[1].Content
	assert.True(t, utf8.ValidString(history))
	assert.Contains(t, history, strings.Repeat("é", 500)+"...")
	assert.NotContains(t, history, strings.Repeat("é", 501))
}

func TestMaybeUpdateNoHistoryIsNoop(t *testing.T) {
	profiles := &fakeProfileStore{}
	s := NewSummarizer(&fakeTurnSource{}, profiles, &fakeLLM{reply: "anything"}, 15, 30)

	require.NoError(t, s.MaybeUpdate(context.Background(), "owner-1", 15))
	assert.Nil(t, profiles.upserted)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hél", truncateRunes("héllo", 3))
	assert.Equal(t, "héllo", truncateRunes("héllo", 0))
}
