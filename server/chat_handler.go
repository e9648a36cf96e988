package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/confidant-ai/confidant/ai/chat"
	"github.com/confidant-ai/confidant/ai/memory"
	"github.com/confidant-ai/confidant/ai/prompt"
	"github.com/confidant-ai/confidant/ai/summary"
)

// ChatRequest is one user message within a session.
type ChatRequest struct {
	Message string `json:"message"`
	// SpokenInput marks a message that arrived via dictation; spoken turns
	// always get a spoken reply regardless of the audio toggle.
	SpokenInput bool `json:"spoken_input"`
}

// chatEvent is the SSE payload. Exactly one of the fields is set per event.
type chatEvent struct {
	Chunk string `json:"chunk,omitempty"`
	Done  *struct {
		FellBack bool `json:"fell_back"`
		Attempts int  `json:"attempts"`
	} `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChat answers one turn over an SSE stream.
func (s *Server) handleChat(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	if !s.limiter.allow(sess.OwnerID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "slow down a little")
	}

	ctx := c.Request().Context()

	// Recall before the new message is appended, so the query cannot match
	// itself. A cold or unreachable store degrades to an empty recall.
	retrievalStart := time.Now()
	recalled, err := s.memory.Retrieve(ctx, sess.OwnerID, req.Message, s.profile.RetrievalK)
	if err != nil {
		if !errors.Is(err, memory.ErrStoreUnavailable) {
			slog.Warn("chat retrieval failed", "owner_id", sess.OwnerID, "error", err)
		}
		recalled = nil
	}
	if s.exporter != nil {
		s.exporter.RecordRetrieval(time.Since(retrievalStart))
	}

	profileText, err := s.summarizer.Profile(ctx, sess.OwnerID)
	if err != nil && !errors.Is(err, summary.ErrProfileNotEstablished) {
		slog.Warn("chat profile load failed", "owner_id", sess.OwnerID, "error", err)
	}

	snippets := make([]prompt.Snippet, 0, len(recalled))
	for _, r := range recalled {
		snippets = append(snippets, prompt.Snippet{Content: r.Content, Score: r.Score})
	}

	composed := s.assembler.Assemble(prompt.Input{
		Identity:        buildIdentity(sess.AssistantName),
		PersonaOverride: sess.PersonaOverride,
		ProfileText:     profileText,
		Memory:          snippets,
		NewMessage:      req.Message,
	})

	turn := &chat.Turn{
		OwnerID:                 sess.OwnerID,
		SessionID:               sess.ID,
		UserMessage:             req.Message,
		Prompt:                  composed,
		VoiceName:               sess.VoiceName,
		AudioOn:                 sess.AudioOn,
		SpokenInput:             req.SpokenInput,
		TurnsSinceProfileUpdate: sess.TurnsSinceProfileUpdate + 2,
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	emit := func(chunk string) {
		writeEvent(resp, chatEvent{Chunk: chunk})
	}

	result, err := s.chat.Stream(ctx, turn, emit)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrTurnInFlight):
			writeEvent(resp, chatEvent{Error: "still answering your previous message"})
		case ctx.Err() != nil:
			// Client went away; nothing left to tell it.
		default:
			slog.Error("chat turn failed", "session_id", sess.ID, "error", err)
			writeEvent(resp, chatEvent{Error: "something went wrong"})
		}
		return nil
	}

	if result.State == chat.StateCompleted {
		if count, err := s.sessions.NoteTurn(sess.ID); err == nil {
			if s.summarizer.ShouldUpdate(count) {
				s.sessions.ResetProfileCounter(sess.ID)
			}
		}
	}

	if result.State == chat.StateFailed && !result.FellBack {
		// The stream died after partial output was shown; tell the client the
		// reply is incomplete instead of passing it off as finished.
		writeEvent(resp, chatEvent{Error: "the reply was interrupted"})
		return nil
	}

	done := chatEvent{Done: &struct {
		FellBack bool `json:"fell_back"`
		Attempts int  `json:"attempts"`
	}{FellBack: result.FellBack, Attempts: result.Attempts}}
	writeEvent(resp, done)
	return nil
}

func writeEvent(resp *echo.Response, event chatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "data: %s\n\n", payload)
	resp.Flush()
}
