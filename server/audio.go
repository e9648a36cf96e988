package server

import "sync"

// AudioMailbox holds the latest rendered audio per session until the client
// fetches it. It satisfies speech.Sink. Audio is a side-channel; only the
// most recent clip matters, older unfetched clips are replaced.
type AudioMailbox struct {
	mu    sync.Mutex
	clips map[string]audioClip
}

type audioClip struct {
	data   []byte
	format string
}

// NewAudioMailbox creates an empty mailbox.
func NewAudioMailbox() *AudioMailbox {
	return &AudioMailbox{clips: make(map[string]audioClip)}
}

// DeliverAudio stores a clip for the session, replacing any unfetched one.
func (m *AudioMailbox) DeliverAudio(sessionID string, audio []byte, format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[sessionID] = audioClip{data: audio, format: format}
}

// Pop returns and removes the session's pending clip, if any.
func (m *AudioMailbox) Pop(sessionID string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clip, ok := m.clips[sessionID]
	if !ok {
		return nil, "", false
	}
	delete(m.clips, sessionID)
	return clip.data, clip.format, true
}

// Drop discards any pending clip for the session.
func (m *AudioMailbox) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clips, sessionID)
}
