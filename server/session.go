package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confidant-ai/confidant/ai/speech"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// ErrSessionNotFound indicates an unknown or already-expired session.
var ErrSessionNotFound = errors.New("session not found")

// Session is one live conversation. It carries presentation state only; all
// durable memory lives in the store, keyed by OwnerID.
type Session struct {
	ID              string        `json:"session_id"`
	OwnerID         string        `json:"owner_id"`
	Status          SessionStatus `json:"status"`
	AssistantName   string        `json:"assistant_name"`
	PersonaOverride string        `json:"persona_override"`
	VoiceName       string        `json:"voice_name"`
	AudioOn         bool          `json:"audio_on"`
	StartedAt       time.Time     `json:"started_at"`
	LastActivityAt  time.Time     `json:"last_activity_at"`

	// TurnsSinceProfileUpdate counts turn sides appended since the last
	// cognitive profile refresh for this owner.
	TurnsSinceProfileUpdate int `json:"-"`
}

// SessionManager tracks live sessions in memory and expires the idle ones.
type SessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	sessionByOwner map[string]string
	idleTimeout    time.Duration
	onExpire       func(*Session)
}

// NewSessionManager creates a session manager with the given idle timeout.
func NewSessionManager(idleTimeout time.Duration) *SessionManager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &SessionManager{
		sessions:       make(map[string]*Session),
		sessionByOwner: make(map[string]string),
		idleTimeout:    idleTimeout,
	}
}

// SetExpireHook registers a callback invoked for each expired session.
func (m *SessionManager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create opens a session for an owner. An owner's previous live session, if
// any, is ended first; one person talks through one session at a time.
func (m *SessionManager) Create(ownerID, assistantName, personaOverride, voiceName string, audioOn bool) *Session {
	now := time.Now().UTC()
	if voiceName == "" {
		voiceName = speech.DefaultVoice
	}
	s := &Session{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Status:          SessionActive,
		AssistantName:   assistantName,
		PersonaOverride: personaOverride,
		VoiceName:       voiceName,
		AudioOn:         audioOn,
		StartedAt:       now,
		LastActivityAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prevID, ok := m.sessionByOwner[ownerID]; ok {
		if prev, ok := m.sessions[prevID]; ok && prev.Status == SessionActive {
			prev.Status = SessionEnded
		}
	}
	m.sessions[s.ID] = s
	m.sessionByOwner[ownerID] = s.ID
	return cloneSession(s)
}

// Get returns a copy of a live session.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != SessionActive {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Touch refreshes the session's activity timestamp.
func (m *SessionManager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// NoteTurn records one completed turn (both sides) and returns the number of
// turn sides appended since the last profile refresh.
func (m *SessionManager) NoteTurn(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}
	s.TurnsSinceProfileUpdate += 2
	s.LastActivityAt = time.Now().UTC()
	return s.TurnsSinceProfileUpdate, nil
}

// ResetProfileCounter zeroes the refresh counter after a profile update has
// been scheduled.
func (m *SessionManager) ResetProfileCounter(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.TurnsSinceProfileUpdate = 0
	}
}

// SetAudio toggles audio rendering for the session.
func (m *SessionManager) SetAudio(sessionID string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.AudioOn = on
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End closes a session.
func (m *SessionManager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Status = SessionEnded
	s.LastActivityAt = time.Now().UTC()
	if s.OwnerID != "" && m.sessionByOwner[s.OwnerID] == s.ID {
		delete(m.sessionByOwner, s.OwnerID)
	}
	return cloneSession(s), nil
}

// ActiveCount returns the number of live sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == SessionActive {
			count++
		}
	}
	return count
}

// StartJanitor sweeps idle sessions until ctx is cancelled.
func (m *SessionManager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *SessionManager) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		// Ended sessions have no readers; each sweep drops them so the map
		// does not grow for the lifetime of the process.
		if s.Status != SessionActive {
			delete(m.sessions, id)
			continue
		}
		if now.Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		s.Status = SessionEnded
		s.LastActivityAt = now
		expired = append(expired, cloneSession(s))
		if s.OwnerID != "" && m.sessionByOwner[s.OwnerID] == s.ID {
			delete(m.sessionByOwner, s.OwnerID)
		}
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func cloneSession(s *Session) *Session {
	c := *s
	return &c
}
