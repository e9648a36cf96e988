package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewSessionManager(time.Hour)

	sess := m.Create("owner-1", "Ada", "", "feminine", true)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, SessionActive, sess.Status)
	assert.Equal(t, 1, m.ActiveCount())

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "Ada", got.AssistantName)
	assert.True(t, got.AudioOn)

	ended, err := m.End(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, ended.Status)
	assert.Equal(t, 0, m.ActiveCount())

	_, err = m.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionCreateReplacesPreviousForOwner(t *testing.T) {
	m := NewSessionManager(time.Hour)

	first := m.Create("owner-1", "Ada", "", "", false)
	second := m.Create("owner-1", "Ada", "", "", false)

	_, err := m.Get(first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestSessionDefaultVoice(t *testing.T) {
	m := NewSessionManager(time.Hour)
	sess := m.Create("owner-1", "Ada", "", "", false)
	assert.Equal(t, "feminine", sess.VoiceName)
}

func TestSessionNoteTurnCountsSides(t *testing.T) {
	m := NewSessionManager(time.Hour)
	sess := m.Create("owner-1", "Ada", "", "", false)

	count, err := m.NoteTurn(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = m.NoteTurn(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	m.ResetProfileCounter(sess.ID)
	count, err = m.NoteTurn(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSessionIdleExpiry(t *testing.T) {
	m := NewSessionManager(time.Nanosecond)
	var expired []*Session
	m.SetExpireHook(func(s *Session) { expired = append(expired, s) })

	sess := m.Create("owner-1", "Ada", "", "", false)
	time.Sleep(time.Millisecond)
	m.expireIdle()

	assert.Equal(t, 0, m.ActiveCount())
	require.Len(t, expired, 1)
	assert.Equal(t, sess.ID, expired[0].ID)

	_, err := m.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Expired sessions leave no entries behind.
	m.mu.RLock()
	assert.Empty(t, m.sessions)
	assert.Empty(t, m.sessionByOwner)
	m.mu.RUnlock()
}

func TestJanitorSweepRemovesEndedSessions(t *testing.T) {
	m := NewSessionManager(time.Hour)

	sess := m.Create("owner-1", "Ada", "", "", false)
	_, err := m.End(sess.ID)
	require.NoError(t, err)

	replaced := m.Create("owner-2", "Ada", "", "", false)
	m.Create("owner-2", "Ada", "", "", false)

	m.expireIdle()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.sessions, 1)
	assert.NotContains(t, m.sessions, sess.ID)
	assert.NotContains(t, m.sessions, replaced.ID)
}

func TestSessionSetAudio(t *testing.T) {
	m := NewSessionManager(time.Hour)
	sess := m.Create("owner-1", "Ada", "", "", false)

	require.NoError(t, m.SetAudio(sess.ID, true))
	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, got.AudioOn)

	assert.ErrorIs(t, m.SetAudio("missing", true), ErrSessionNotFound)
}

func TestAudioMailbox(t *testing.T) {
	box := NewAudioMailbox()

	_, _, ok := box.Pop("sess-1")
	assert.False(t, ok)

	box.DeliverAudio("sess-1", []byte{1}, "audio/mpeg")
	box.DeliverAudio("sess-1", []byte{2}, "audio/mpeg")

	audio, format, ok := box.Pop("sess-1")
	require.True(t, ok)
	assert.Equal(t, []byte{2}, audio) // latest clip wins
	assert.Equal(t, "audio/mpeg", format)

	_, _, ok = box.Pop("sess-1")
	assert.False(t, ok)
}

func TestOwnerLimiter(t *testing.T) {
	l := newOwnerLimiter(0.001, 2)

	assert.True(t, l.allow("owner-1"))
	assert.True(t, l.allow("owner-1"))
	assert.False(t, l.allow("owner-1"))

	// Other owners have their own bucket.
	assert.True(t, l.allow("owner-2"))
}

func TestOwnerLimiterForget(t *testing.T) {
	l := newOwnerLimiter(0.001, 1)

	assert.True(t, l.allow("owner-1"))
	assert.False(t, l.allow("owner-1"))

	l.forget("owner-1")
	l.mu.Lock()
	assert.Empty(t, l.limiters)
	l.mu.Unlock()

	// A fresh bucket applies if the owner comes back.
	assert.True(t, l.allow("owner-1"))
}
