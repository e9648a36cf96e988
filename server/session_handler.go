package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/confidant-ai/confidant/ai/memory"
)

// CreateSessionRequest defines the payload for opening a session.
type CreateSessionRequest struct {
	OwnerID         string `json:"owner_id"`
	AssistantName   string `json:"assistant_name"`
	PersonaOverride string `json:"persona_override"`
	VoiceName       string `json:"voice_name"`
	AudioOn         bool   `json:"audio_on"`
}

// CreateSessionResponse returns the opened session plus a greeting that may
// reference the owner's last conversation.
type CreateSessionResponse struct {
	Session  *Session `json:"session"`
	Greeting string   `json:"greeting"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id is required")
	}

	sess := s.sessions.Create(req.OwnerID, req.AssistantName, req.PersonaOverride, req.VoiceName, req.AudioOn)
	greeting := s.greeting(c.Request().Context(), sess)

	slog.Info("session opened", "session_id", sess.ID, "owner_id", sess.OwnerID, "audio_on", sess.AudioOn)
	return c.JSON(http.StatusCreated, &CreateSessionResponse{Session: sess, Greeting: greeting})
}

// greeting builds the session-opening line. Returning users get a nod to the
// most relevant recent moment; memory trouble degrades to the plain greeting.
func (s *Server) greeting(ctx context.Context, sess *Session) string {
	name := sess.AssistantName
	if name == "" {
		name = "Confidant"
	}

	recalled, err := s.memory.Retrieve(ctx, sess.OwnerID, "the last thing we talked about", 1)
	if err != nil {
		if !errors.Is(err, memory.ErrStoreUnavailable) {
			slog.Warn("greeting retrieval failed", "owner_id", sess.OwnerID, "error", err)
		}
		return fmt.Sprintf("Hi, I'm %s. What's on your mind today?", name)
	}
	if len(recalled) == 0 {
		return fmt.Sprintf("Hi, I'm %s. It's good to meet you. What's on your mind today?", name)
	}

	topic := recalled[0].Content
	if runes := []rune(topic); len(runes) > 120 {
		topic = string(runes[:120]) + "..."
	}
	return fmt.Sprintf("Welcome back, it's %s. Last time you mentioned: %q. How have things been since?", name, topic)
}

func (s *Server) handleEndSession(c echo.Context) error {
	sessionID := c.Param("id")
	sess, err := s.sessions.End(sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	s.mailbox.Drop(sessionID)
	s.limiter.forget(sess.OwnerID)
	slog.Info("session ended", "session_id", sess.ID, "owner_id", sess.OwnerID)
	return c.JSON(http.StatusOK, sess)
}

// AudioToggleRequest switches speech rendering for a session.
type AudioToggleRequest struct {
	AudioOn bool `json:"audio_on"`
}

func (s *Server) handleAudioToggle(c echo.Context) error {
	var req AudioToggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if err := s.sessions.SetAudio(c.Param("id"), req.AudioOn); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleFetchAudio(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	audio, format, ok := s.mailbox.Pop(sessionID)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Blob(http.StatusOK, format, audio)
}

// handlePurgeMemory erases everything stored for an owner: every turn and the
// cognitive profile, in that order. The turn delete is all-or-nothing.
func (s *Server) handlePurgeMemory(c echo.Context) error {
	ownerID := strings.TrimSpace(c.Param("ownerID"))
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner id is required")
	}

	ctx := c.Request().Context()
	if err := s.memory.Purge(ctx, ownerID); err != nil {
		slog.Error("memory purge failed", "owner_id", ownerID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable").SetInternal(err)
	}
	if err := s.store.DeleteCognitiveProfile(ctx, ownerID); err != nil {
		slog.Error("profile purge failed", "owner_id", ownerID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable").SetInternal(err)
	}

	s.trail.Record(ctx, ownerID, "", "system", "memory purged at owner request")
	slog.Info("owner memory purged", "owner_id", ownerID)
	return c.NoContent(http.StatusNoContent)
}
