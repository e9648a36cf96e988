package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confidant-ai/confidant/ai/llm"
	"github.com/confidant-ai/confidant/ai/prompt"
	"github.com/confidant-ai/confidant/store"
)

// attempt scripts one generation attempt: chunks delivered, then an optional
// terminal error.
type attempt struct {
	chunks []string
	err    error
}

type scriptedGenerator struct {
	mu       sync.Mutex
	attempts []attempt
	calls    int
	prompts  [][]llm.Message
}

func (g *scriptedGenerator) ChatStream(_ context.Context, messages []llm.Message) (<-chan string, <-chan error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	g.prompts = append(g.prompts, messages)
	var script attempt
	if idx < len(g.attempts) {
		script = g.attempts[idx]
	}
	g.mu.Unlock()

	contentChan := make(chan string, len(script.chunks)+1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		for _, chunk := range script.chunks {
			contentChan <- chunk
		}
		if script.err != nil {
			errChan <- script.err
		}
	}()
	return contentChan, errChan
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingAppender struct {
	mu      sync.Mutex
	appends []store.Role
	err     error
}

func (a *recordingAppender) Append(_ context.Context, _ string, role store.Role, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.appends = append(a.appends, role)
	return "uid", nil
}

func (a *recordingAppender) roles() []store.Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]store.Role(nil), a.appends...)
}

type noopRefresher struct{}

func (noopRefresher) ShouldUpdate(int) bool                          { return false }
func (noopRefresher) MaybeUpdate(context.Context, string, int) error { return nil }

func retries(n int) *int { return &n }

func newTestManager(g Generator, a TurnAppender) *Manager {
	return NewManager(g, a, noopRefresher{}, nil, nil, nil, Options{
		RetryBudget: retries(2),
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		Timeout:     5 * time.Second,
	})
}

func testTurn() *Turn {
	return &Turn{
		OwnerID:     "owner-1",
		SessionID:   "sess-1",
		UserMessage: "hello there",
		Prompt:      prompt.NewAssembler(0).Assemble(prompt.Input{Identity: "You are Ada.", NewMessage: "hello there"}),
	}
}

func TestStreamCompletes(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{chunks: []string{"Hi ", "there!"}}}}
	appender := &recordingAppender{}
	m := newTestManager(gen, appender)

	var emitted strings.Builder
	result, err := m.Stream(context.Background(), testTurn(), func(chunk string) {
		emitted.WriteString(chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "Hi there!", result.Reply)
	assert.Equal(t, "Hi there!", emitted.String())
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.FellBack)
	assert.Equal(t, []store.Role{store.RoleUser, store.RoleAssistant}, appender.roles())
}

func TestStreamRetriesTransientFailures(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: errors.New("dial tcp 10.0.0.1:443: connection refused")},
		{err: errors.New("stream recv failed: unexpected EOF")},
		{chunks: []string{"Recovered reply"}},
	}}
	appender := &recordingAppender{}
	m := newTestManager(gen, appender)

	var emitted strings.Builder
	result, err := m.Stream(context.Background(), testTurn(), func(chunk string) {
		emitted.WriteString(chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, result.FellBack)
	assert.Equal(t, "Recovered reply", result.Reply)
	assert.NotContains(t, emitted.String(), FallbackMessage)
	// Only the successful attempt's reply is persisted.
	assert.Equal(t, []store.Role{store.RoleUser, store.RoleAssistant}, appender.roles())
}

func TestStreamRetriesUseIdenticalPrompt(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: errors.New("timeout awaiting response")},
		{chunks: []string{"ok"}},
	}}
	m := newTestManager(gen, &recordingAppender{})

	_, err := m.Stream(context.Background(), testTurn(), nil)
	require.NoError(t, err)

	require.Equal(t, 2, gen.callCount())
	assert.Equal(t, gen.prompts[0], gen.prompts[1])
}

func TestStreamExhaustionServesFallback(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: errors.New("connection reset by peer")},
		{err: errors.New("i/o timeout")},
		{err: errors.New("service unavailable")},
	}}
	appender := &recordingAppender{}
	m := newTestManager(gen, appender)

	var emitted []string
	result, err := m.Stream(context.Background(), testTurn(), func(chunk string) {
		emitted = append(emitted, chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.True(t, result.FellBack)
	assert.Equal(t, FallbackMessage, result.Reply)
	assert.Equal(t, 3, result.Attempts)
	require.NotEmpty(t, emitted)
	assert.Equal(t, FallbackMessage, emitted[len(emitted)-1])
	// The fallback is never persisted as an assistant turn.
	assert.Equal(t, []store.Role{store.RoleUser}, appender.roles())
}

func TestRetryBudgetOptions(t *testing.T) {
	// Unset takes the default; an explicit zero disables retries.
	m := NewManager(&scriptedGenerator{}, &recordingAppender{}, noopRefresher{}, nil, nil, nil, Options{})
	assert.Equal(t, 2, m.retryBudget)

	gen := &scriptedGenerator{attempts: []attempt{
		{err: errors.New("connection reset by peer")},
	}}
	m = NewManager(gen, &recordingAppender{}, noopRefresher{}, nil, nil, nil, Options{
		RetryBudget: retries(0),
		BackoffBase: time.Millisecond,
		Timeout:     5 * time.Second,
	})

	result, err := m.Stream(context.Background(), testTurn(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, result.FellBack)
}

func TestStreamFatalErrorSkipsRetries(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: errors.New("model does not exist")},
	}}
	m := newTestManager(gen, &recordingAppender{})

	result, err := m.Stream(context.Background(), testTurn(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, result.FellBack)
}

func TestStreamMidReplyFailureDoesNotRetryOrFallBack(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{chunks: []string{"partial "}, err: errors.New("connection reset by peer")},
	}}
	appender := &recordingAppender{}
	m := newTestManager(gen, appender)

	var emitted strings.Builder
	result, err := m.Stream(context.Background(), testTurn(), func(chunk string) {
		emitted.WriteString(chunk)
	})
	require.NoError(t, err)

	// Chunks already reached the user: no retry, no fallback text on top.
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, result.FellBack)
	assert.NotContains(t, emitted.String(), FallbackMessage)
	assert.Equal(t, []store.Role{store.RoleUser}, appender.roles())
}

func TestStreamRejectsConcurrentTurnsPerOwner(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &gatedGenerator{release: release, started: started}
	m := newTestManager(gen, &recordingAppender{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Stream(context.Background(), testTurn(), nil)
	}()

	<-started
	_, err := m.Stream(context.Background(), testTurn(), nil)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	// A different owner is not blocked.
	assert.True(t, m.tryAcquire("owner-2"))
	m.release("owner-2")

	close(release)
	<-done
}

func TestStreamValidation(t *testing.T) {
	m := newTestManager(&scriptedGenerator{}, &recordingAppender{})

	_, err := m.Stream(context.Background(), &Turn{UserMessage: "hi"}, nil)
	assert.Error(t, err)

	_, err = m.Stream(context.Background(), &Turn{OwnerID: "owner-1", UserMessage: "   "}, nil)
	assert.Error(t, err)
}

// gatedGenerator blocks its stream until released.
type gatedGenerator struct {
	release   <-chan struct{}
	started   chan<- struct{}
	startOnce sync.Once
}

func (g *gatedGenerator) ChatStream(_ context.Context, _ []llm.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		g.startOnce.Do(func() { close(g.started) })
		<-g.release
		contentChan <- "done"
	}()
	return contentChan, errChan
}
