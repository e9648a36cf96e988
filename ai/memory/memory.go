// Package memory implements the episodic memory store: it embeds and
// persists conversation turns scoped to an owning identity and retrieves
// the most relevant past turns for a new query.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/confidant-ai/confidant/ai/embedding"
	"github.com/confidant-ai/confidant/store"
)

// ErrStoreUnavailable indicates the backing store (or the embedding backend
// feeding it) could not be reached. Callers must treat it as "memory not
// updated" and may continue the conversation uninterrupted.
var ErrStoreUnavailable = errors.New("memory store unavailable")

const (
	defaultRetrievalTimeout = 2 * time.Second
	defaultEmbedTimeout     = 5 * time.Second
	defaultRetrievalLimit   = 5
)

// TurnStore is the persistence surface the memory store needs.
// *store.Store satisfies it.
type TurnStore interface {
	CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error)
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
	CountTurns(ctx context.Context, ownerID string) (int, error)
	DeleteTurns(ctx context.Context, delete *store.DeleteTurn) error
	VectorSearchTurns(ctx context.Context, opts *store.TurnVectorSearchOptions) ([]*store.TurnWithScore, error)
}

// RecalledTurn is one retrieval result, ordered by decreasing similarity.
type RecalledTurn struct {
	Role      store.Role
	Content   string
	Score     float32
	CreatedTs int64
}

// Store owns Turn persistence and similarity search.
type Store struct {
	db               TurnStore
	embedder         embedding.Provider
	retrievalTimeout time.Duration
	embedTimeout     time.Duration
}

// New creates a memory Store on top of the persistence layer and an
// embedding provider.
func New(db TurnStore, embedder embedding.Provider) *Store {
	return &Store{
		db:               db,
		embedder:         embedder,
		retrievalTimeout: defaultRetrievalTimeout,
		embedTimeout:     defaultEmbedTimeout,
	}
}

// Append embeds content, persists the turn, and returns its UID.
// The embedding is computed once at write time and is immutable thereafter.
func (s *Store) Append(ctx context.Context, ownerID string, role store.Role, content string) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("invalid role: %s", role)
	}
	if content == "" {
		return "", errors.New("content cannot be empty")
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	vector, err := s.embedder.Embed(embedCtx, content)
	if err != nil {
		return "", fmt.Errorf("%w: embed content: %v", ErrStoreUnavailable, err)
	}

	turn := &store.Turn{
		UID:            shortuuid.New(),
		OwnerID:        ownerID,
		Role:           role,
		Content:        content,
		Embedding:      vector,
		EmbeddingModel: s.embedder.Model(),
		CreatedTs:      time.Now().UnixMilli(),
	}
	if _, err := s.db.CreateTurn(ctx, turn); err != nil {
		return "", fmt.Errorf("%w: persist turn: %v", ErrStoreUnavailable, err)
	}

	slog.Debug("memory: turn appended", "owner_id", ownerID, "role", role, "uid", turn.UID)
	return turn.UID, nil
}

// Retrieve returns up to k past turns most similar to query, restricted to
// the given owner. An owner with no history yields an empty slice, never an
// error.
func (s *Store) Retrieve(ctx context.Context, ownerID, query string, k int) ([]RecalledTurn, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if k <= 0 {
		k = defaultRetrievalLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.retrievalTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrStoreUnavailable, err)
	}

	scored, err := s.db.VectorSearchTurns(ctx, &store.TurnVectorSearchOptions{
		OwnerID: ownerID,
		Vector:  vector,
		Model:   s.embedder.Model(),
		Limit:   k,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrStoreUnavailable, err)
	}

	recalled := make([]RecalledTurn, 0, len(scored))
	for _, result := range scored {
		recalled = append(recalled, RecalledTurn{
			Role:      result.Turn.Role,
			Content:   result.Turn.Content,
			Score:     result.Score,
			CreatedTs: result.Turn.CreatedTs,
		})
	}
	return recalled, nil
}

// RecentTurns returns the owner's most recent n turns in chronological order.
func (s *Store) RecentTurns(ctx context.Context, ownerID string, n int) ([]*store.Turn, error) {
	if n <= 0 {
		return []*store.Turn{}, nil
	}
	turns, err := s.db.ListTurns(ctx, &store.FindTurn{
		OwnerID:   &ownerID,
		Limit:     n,
		OrderDesc: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list turns: %v", ErrStoreUnavailable, err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TurnCount returns the number of turns stored for an owner.
func (s *Store) TurnCount(ctx context.Context, ownerID string) (int, error) {
	count, err := s.db.CountTurns(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: count turns: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Purge deletes all turns for an owner. The delete is all-or-nothing.
func (s *Store) Purge(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	if err := s.db.DeleteTurns(ctx, &store.DeleteTurn{OwnerID: &ownerID}); err != nil {
		return fmt.Errorf("%w: purge turns: %v", ErrStoreUnavailable, err)
	}
	slog.Info("memory: owner history purged", "owner_id", ownerID)
	return nil
}
