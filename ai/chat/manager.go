// Package chat implements the generation session manager: it drives one
// conversation turn from composed prompt to streamed reply, owning retries,
// the safety fallback, and the post-success side effects (persistence, audit,
// speech, profile refresh).
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/confidant-ai/confidant/ai/audit"
	"github.com/confidant-ai/confidant/ai/llm"
	"github.com/confidant-ai/confidant/ai/memory"
	"github.com/confidant-ai/confidant/ai/metrics"
	"github.com/confidant-ai/confidant/ai/prompt"
	"github.com/confidant-ai/confidant/ai/speech"
	"github.com/confidant-ai/confidant/store"
)

// ErrTurnInFlight rejects a second concurrent turn for the same owner. The
// caller should surface it as "still answering the previous message".
var ErrTurnInFlight = errors.New("a turn is already in flight for this owner")

// FallbackMessage is the fixed reply served when every generation attempt
// has failed. It is shown verbatim, never persisted as an assistant turn,
// and never paraphrased by the model.
const FallbackMessage = "I'm having trouble connecting right now and can't " +
	"give you a proper reply. Please try again in a moment. If you are in " +
	"crisis or at risk, please reach out to a local emergency service or " +
	"someone you trust immediately."

// State is the lifecycle phase of one turn.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateRetrying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateRetrying:
		return "retrying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultRetryBudget       = 2
	defaultBackoffBase       = 500 * time.Millisecond
	defaultBackoffCap        = 4 * time.Second
	defaultGenerationTimeout = 60 * time.Second
)

// Generator is the streaming generation backend. llm.Service satisfies it.
type Generator interface {
	ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error)
}

// TurnAppender persists completed turn sides. *memory.Store satisfies it.
type TurnAppender interface {
	Append(ctx context.Context, ownerID string, role store.Role, content string) (string, error)
}

// ProfileRefresher regenerates the cognitive profile off the hot path.
// *summary.Summarizer satisfies it.
type ProfileRefresher interface {
	ShouldUpdate(turnsSinceUpdate int) bool
	MaybeUpdate(ctx context.Context, ownerID string, turnsSinceUpdate int) error
}

// Turn is one user message plus everything needed to answer it. The composed
// prompt is consumed exactly once per attempt and must not be mutated between
// retries.
type Turn struct {
	OwnerID     string
	SessionID   string
	UserMessage string
	Prompt      prompt.ComposedPrompt

	VoiceName   string
	AudioOn     bool
	SpokenInput bool

	// TurnsSinceProfileUpdate feeds the deferred profile refresh check.
	TurnsSinceProfileUpdate int
}

// Result describes how a turn ended.
type Result struct {
	State    State
	Reply    string
	Attempts int
	FellBack bool
}

// Manager drives conversation turns. At most one turn per owner runs at a
// time; turns for different owners proceed in parallel.
type Manager struct {
	generator  Generator
	memory     TurnAppender
	summarizer ProfileRefresher
	trail      *audit.Trail
	speech     *speech.SideChannel
	exporter   *metrics.PrometheusExporter

	retryBudget int
	backoffBase time.Duration
	backoffCap  time.Duration
	timeout     time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Options tunes the manager. Zero values take defaults, except RetryBudget
// where nil means default and an explicit zero disables retries.
type Options struct {
	RetryBudget *int // additional attempts after the first (nil: default 2, 0: no retries)
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Timeout     time.Duration // total budget for one turn including retries
}

// NewManager creates a generation session manager. Trail, side-channel,
// summarizer, and exporter are optional; nil disables the side effect.
func NewManager(generator Generator, turns TurnAppender, summarizer ProfileRefresher,
	trail *audit.Trail, sideChannel *speech.SideChannel, exporter *metrics.PrometheusExporter,
	opts Options) *Manager {
	retryBudget := defaultRetryBudget
	if opts.RetryBudget != nil {
		retryBudget = *opts.RetryBudget
		if retryBudget < 0 {
			retryBudget = 0
		}
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGenerationTimeout
	}
	return &Manager{
		generator:   generator,
		memory:      turns,
		summarizer:  summarizer,
		trail:       trail,
		speech:      sideChannel,
		exporter:    exporter,
		retryBudget: retryBudget,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		timeout:     opts.Timeout,
		inFlight:    make(map[string]struct{}),
	}
}

// Stream answers one turn, invoking emit for each chunk in generation order.
// It returns ErrTurnInFlight when the owner already has a running turn, the
// context error when the turn was cancelled, and otherwise a Result: either
// Completed with the full reply, or Failed (with the fallback already emitted
// when no partial output had been shown).
func (m *Manager) Stream(ctx context.Context, turn *Turn, emit func(chunk string)) (*Result, error) {
	if turn.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if strings.TrimSpace(turn.UserMessage) == "" {
		return nil, errors.New("user message cannot be empty")
	}
	if emit == nil {
		emit = func(string) {}
	}

	if !m.tryAcquire(turn.OwnerID) {
		return nil, ErrTurnInFlight
	}
	defer m.release(turn.OwnerID)

	if m.exporter != nil {
		m.exporter.ChatTurnStarted()
		defer m.exporter.ChatTurnFinished()
		m.exporter.RecordSnippetsDropped(turn.Prompt.DroppedSnippets)
	}
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// The user side is recorded before generation: it happened regardless of
	// how the reply turns out. A failed append means memory was not updated
	// and nothing more.
	if _, err := m.memory.Append(ctx, turn.OwnerID, store.RoleUser, turn.UserMessage); err != nil {
		slog.Warn("chat: user turn not persisted", "owner_id", turn.OwnerID, "error", err)
	} else if m.exporter != nil {
		m.exporter.RecordTurnAppended(string(store.RoleUser))
	}
	m.trail.Record(ctx, turn.OwnerID, turn.SessionID, string(store.RoleUser), turn.UserMessage)

	result, err := m.generate(ctx, turn, emit)
	if err != nil {
		if m.exporter != nil {
			m.exporter.RecordChatTurn("cancelled", time.Since(started))
		}
		return nil, err
	}

	if result.State == StateCompleted {
		m.completeTurn(ctx, turn, result.Reply)
		if m.exporter != nil {
			m.exporter.RecordChatTurn("completed", time.Since(started))
		}
	} else {
		if result.FellBack {
			emit(FallbackMessage)
			result.Reply = FallbackMessage
			if m.exporter != nil {
				m.exporter.RecordFallback()
			}
		}
		if m.exporter != nil {
			m.exporter.RecordChatTurn("failed", time.Since(started))
		}
	}
	return result, nil
}

// generate runs the attempt loop. Retries reuse the same composed prompt
// unmodified and happen only when no chunk has been shown yet; once partial
// output is visible the turn fails rather than restarting mid-sentence.
func (m *Manager) generate(ctx context.Context, turn *Turn, emit func(chunk string)) (*Result, error) {
	messages := turn.Prompt.Messages()
	result := &Result{State: StateIdle}

	for attempt := 0; attempt <= m.retryBudget; attempt++ {
		result.Attempts = attempt + 1
		result.State = StateSending

		reply, delivered, err := m.streamOnce(ctx, messages, emit, result)
		if err == nil {
			result.State = StateCompleted
			result.Reply = reply
			if m.exporter != nil {
				m.exporter.RecordGenerationAttempt("success")
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		transient := isTransient(err)
		if m.exporter != nil {
			outcome := "fatal_error"
			if transient {
				outcome = "transient_error"
			}
			m.exporter.RecordGenerationAttempt(outcome)
		}

		if delivered > 0 {
			// Chunks already reached the user; a retry would replay or
			// contradict them. Surface the failure instead.
			slog.Error("chat: stream failed mid-reply",
				"owner_id", turn.OwnerID, "attempt", attempt+1, "chunks_delivered", delivered, "error", err)
			result.State = StateFailed
			result.Reply = reply
			return result, nil
		}

		if !transient || attempt == m.retryBudget {
			slog.Error("chat: generation failed",
				"owner_id", turn.OwnerID, "attempts", attempt+1, "transient", transient, "error", err)
			result.State = StateFailed
			result.FellBack = true
			return result, nil
		}

		result.State = StateRetrying
		delay := exponentialBackoff(attempt, m.backoffBase, m.backoffCap)
		slog.Warn("chat: transient generation failure, retrying",
			"owner_id", turn.OwnerID, "attempt", attempt+1, "backoff", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	result.State = StateFailed
	result.FellBack = true
	return result, nil
}

// streamOnce performs a single attempt and returns the accumulated reply and
// the number of chunks that were emitted to the caller.
func (m *Manager) streamOnce(ctx context.Context, messages []llm.Message, emit func(chunk string), result *Result) (string, int, error) {
	contentChan, errChan := m.generator.ChatStream(ctx, messages)

	var sb strings.Builder
	delivered := 0
	for contentChan != nil || errChan != nil {
		select {
		case chunk, ok := <-contentChan:
			if !ok {
				contentChan = nil
				continue
			}
			result.State = StateStreaming
			sb.WriteString(chunk)
			emit(chunk)
			delivered++
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			if err != nil {
				return sb.String(), delivered, err
			}
		case <-ctx.Done():
			return sb.String(), delivered, ctx.Err()
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", delivered, fmt.Errorf("empty completion from backend")
	}
	return reply, delivered, nil
}

// completeTurn runs the post-success side effects. None of them can fail the
// already-delivered reply.
func (m *Manager) completeTurn(ctx context.Context, turn *Turn, reply string) {
	if _, err := m.memory.Append(ctx, turn.OwnerID, store.RoleAssistant, reply); err != nil {
		if errors.Is(err, memory.ErrStoreUnavailable) {
			slog.Warn("chat: assistant turn not persisted", "owner_id", turn.OwnerID, "error", err)
		} else {
			slog.Error("chat: assistant turn append failed", "owner_id", turn.OwnerID, "error", err)
		}
	} else if m.exporter != nil {
		m.exporter.RecordTurnAppended(string(store.RoleAssistant))
	}

	m.trail.Record(ctx, turn.OwnerID, turn.SessionID, string(store.RoleAssistant), reply)

	if m.speech.ShouldRender(turn.AudioOn, turn.SpokenInput) {
		// Detached from the request context: the reply is already complete
		// and audio should not die with the HTTP request.
		go func() {
			renderCtx := context.WithoutCancel(ctx)
			m.speech.Render(renderCtx, turn.SessionID, reply, turn.VoiceName)
		}()
	}

	if m.summarizer != nil && m.summarizer.ShouldUpdate(turn.TurnsSinceProfileUpdate) {
		ownerID := turn.OwnerID
		turns := turn.TurnsSinceProfileUpdate
		go func() {
			err := m.summarizer.MaybeUpdate(context.Background(), ownerID, turns)
			if m.exporter != nil {
				m.exporter.RecordProfileRefresh(err == nil)
			}
			if err != nil {
				slog.Warn("chat: deferred profile refresh failed", "owner_id", ownerID, "error", err)
			}
		}()
	}
}

func (m *Manager) tryAcquire(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[ownerID]; busy {
		return false
	}
	m.inFlight[ownerID] = struct{}{}
	return true
}

func (m *Manager) release(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, ownerID)
}
