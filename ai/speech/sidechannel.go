package speech

import (
	"context"
	"log/slog"
	"time"
)

const defaultSynthesisTimeout = 10 * time.Second

// Sink receives rendered audio for a session. Implementations must not
// block for long; delivery happens on the side-channel goroutine.
type Sink interface {
	DeliverAudio(sessionID string, audio []byte, format string)
}

// SideChannel renders speech for completed turns. It is a deliberate
// isolation boundary: every failure is caught and swallowed here, logged
// only, and never surfaces as a failure of the text response.
type SideChannel struct {
	synth   Synthesizer
	sink    Sink
	enabled bool
	timeout time.Duration
}

// NewSideChannel creates the speech side-channel. A nil synthesizer or
// sink disables rendering entirely.
func NewSideChannel(synth Synthesizer, sink Sink, enabled bool) *SideChannel {
	return &SideChannel{
		synth:   synth,
		sink:    sink,
		enabled: enabled,
		timeout: defaultSynthesisTimeout,
	}
}

// ShouldRender applies the rendering policy: the user's audio toggle, or a
// turn that originated from spoken input (which always gets a spoken reply).
func (c *SideChannel) ShouldRender(audioOn, spokenInput bool) bool {
	if c == nil || !c.enabled || c.synth == nil || c.sink == nil {
		return false
	}
	return audioOn || spokenInput
}

// Render synthesizes text and delivers the audio to the sink. It never
// returns an error; synthesis failure is logged and dropped.
func (c *SideChannel) Render(ctx context.Context, sessionID, text, voiceName string) {
	if c == nil || !c.enabled || c.synth == nil || c.sink == nil || text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	audio, err := c.synth.Synthesize(ctx, text, ResolveVoice(voiceName))
	if err != nil {
		slog.Warn("speech: synthesis failed, skipping audio for this turn",
			"session_id", sessionID,
			"voice", voiceName,
			"error", err,
		)
		return
	}

	c.sink.DeliverAudio(sessionID, audio, "audio/mpeg")
	slog.Debug("speech: audio rendered", "session_id", sessionID, "bytes", len(audio))
}
