// Package server wires the conversation engine behind an HTTP API: session
// lifecycle, the SSE chat stream, the audio mailbox, memory purge, health,
// and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/confidant-ai/confidant/ai/audit"
	"github.com/confidant-ai/confidant/ai/chat"
	"github.com/confidant-ai/confidant/ai/embedding"
	"github.com/confidant-ai/confidant/ai/llm"
	"github.com/confidant-ai/confidant/ai/memory"
	"github.com/confidant-ai/confidant/ai/metrics"
	"github.com/confidant-ai/confidant/ai/prompt"
	"github.com/confidant-ai/confidant/ai/speech"
	"github.com/confidant-ai/confidant/ai/summary"
	"github.com/confidant-ai/confidant/internal/profile"
	"github.com/confidant-ai/confidant/store"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	janitorInterval    = time.Minute

	// Per-owner chat rate: sustained one message per two seconds, bursts of 3.
	chatRatePerSecond = 0.5
	chatRateBurst     = 3
)

// Server is the confidant HTTP server.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	store   *store.Store

	memory     *memory.Store
	summarizer *summary.Summarizer
	assembler  *prompt.Assembler
	chat       *chat.Manager
	sessions   *SessionManager
	mailbox    *AudioMailbox
	limiter    *ownerLimiter
	exporter   *metrics.PrometheusExporter
	trail      *audit.Trail
}

// NewServer assembles the full engine on top of an opened store.
func NewServer(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	llmService, err := llm.NewService(&llm.Config{
		Provider: instanceProfile.LLMProvider,
		Model:    instanceProfile.LLMModel,
		APIKey:   instanceProfile.LLMAPIKey,
		BaseURL:  instanceProfile.LLMBaseURL,
		Timeout:  instanceProfile.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm service: %w", err)
	}

	embedder, err := embedding.NewProvider(&embedding.Config{
		APIKey:     instanceProfile.EmbeddingAPIKey,
		BaseURL:    instanceProfile.EmbeddingBaseURL,
		Model:      instanceProfile.EmbeddingModel,
		Dimensions: instanceProfile.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}

	memoryStore := memory.New(storeInstance, embedder)
	summarizer := summary.NewSummarizer(memoryStore, storeInstance, llmService,
		instanceProfile.ProfileThreshold, instanceProfile.ProfileWindow)
	assembler := prompt.NewAssembler(instanceProfile.PromptBudget)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	mailbox := NewAudioMailbox()

	var sideChannel *speech.SideChannel
	if instanceProfile.SpeechEnabled {
		synth, err := speech.NewSynthesizer(&speech.Config{
			APIKey:  instanceProfile.SpeechAPIKey,
			BaseURL: instanceProfile.SpeechBaseURL,
			Model:   instanceProfile.SpeechModel,
		})
		if err != nil {
			slog.Warn("speech synthesizer unavailable, audio disabled", "error", err)
		} else {
			sideChannel = speech.NewSideChannel(synth, mailbox, true)
		}
	}

	var trail *audit.Trail
	if instanceProfile.AuditLogPath != "" {
		consumer, err := audit.NewFileConsumer(instanceProfile.AuditLogPath)
		if err != nil {
			slog.Warn("audit trail unavailable", "path", instanceProfile.AuditLogPath, "error", err)
		} else {
			trail = audit.NewTrail(consumer)
		}
	}

	chatManager := chat.NewManager(llmService, memoryStore, summarizer, trail, sideChannel, exporter,
		chat.Options{
			// Explicit zero in the profile means no retries.
			RetryBudget: &instanceProfile.RetryBudget,
			Timeout:     time.Duration(instanceProfile.LLMTimeout) * time.Second,
		})

	limiter := newOwnerLimiter(chatRatePerSecond, chatRateBurst)
	sessions := NewSessionManager(sessionIdleTimeout)
	sessions.SetExpireHook(func(sess *Session) {
		mailbox.Drop(sess.ID)
		limiter.forget(sess.OwnerID)
		slog.Info("session expired", "session_id", sess.ID, "owner_id", sess.OwnerID)
	})
	sessions.StartJanitor(ctx, janitorInterval)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:          e,
		profile:    instanceProfile,
		store:      storeInstance,
		memory:     memoryStore,
		summarizer: summarizer,
		assembler:  assembler,
		chat:       chatManager,
		sessions:   sessions,
		mailbox:    mailbox,
		limiter:    limiter,
		exporter:   exporter,
		trail:      trail,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.handleHealthz)
	s.e.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))

	api := s.e.Group("/api/v1")
	api.POST("/sessions", s.handleCreateSession)
	api.POST("/sessions/:id/chat", s.handleChat)
	api.POST("/sessions/:id/end", s.handleEndSession)
	api.PUT("/sessions/:id/audio", s.handleAudioToggle)
	api.GET("/sessions/:id/audio", s.handleFetchAudio)
	api.DELETE("/memory/:ownerID", s.handlePurgeMemory)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}

// Start begins serving. It returns immediately; serve errors other than a
// clean close are logged.
func (s *Server) Start(_ context.Context) error {
	go func() {
		var err error
		if s.profile.UNIXSock != "" {
			err = s.e.Start(fmt.Sprintf("unix:%s", s.profile.UNIXSock))
		} else {
			err = s.e.Start(fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port))
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the store and audit trail.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server gracefully", "error", err)
	}
	if err := s.trail.Close(); err != nil {
		slog.Error("failed to close audit trail", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}
