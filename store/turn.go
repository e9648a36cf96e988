package store

import (
	"context"

	"github.com/pkg/errors"
)

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn represents one immutable conversation exchange unit.
// Corrections are modeled as new turns, never in-place edits.
type Turn struct {
	ID             int64
	UID            string
	OwnerID        string
	Role           Role
	Content        string
	Embedding      []float32
	EmbeddingModel string
	CreatedTs      int64
}

// FindTurn specifies the conditions for finding turns.
type FindTurn struct {
	ID      *int64
	OwnerID *string
	Role    *Role
	Limit   int
	Offset  int
	// OrderDesc returns newest turns first when set.
	OrderDesc bool
}

// DeleteTurn specifies the conditions for deleting turns.
type DeleteTurn struct {
	ID      *int64
	OwnerID *string
}

// TurnWithScore represents a vector search result with similarity score.
type TurnWithScore struct {
	Turn  *Turn
	Score float32 // Cosine similarity (0-1, higher is more similar)
}

// TurnVectorSearchOptions represents the options for turn vector search.
// OwnerID is mandatory: similarity search is always scoped to a single
// owner at the query layer, never filtered after the fact.
type TurnVectorSearchOptions struct {
	OwnerID  string
	Vector   []float32
	Model    string
	Limit    int
	MinScore float32
}

// Validate validates the TurnVectorSearchOptions.
func (o *TurnVectorSearchOptions) Validate() error {
	if o.OwnerID == "" {
		return errors.New("owner id cannot be empty")
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 5 // Default limit
	}
	if o.Limit > 100 {
		return errors.Errorf("limit too large (max 100): %d", o.Limit)
	}
	return nil
}

// CreateTurn persists a new turn with its embedding.
func (s *Store) CreateTurn(ctx context.Context, create *Turn) (*Turn, error) {
	return s.driver.CreateTurn(ctx, create)
}

// ListTurns lists turns matching the find conditions.
func (s *Store) ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error) {
	return s.driver.ListTurns(ctx, find)
}

// CountTurns counts the turns stored for an owner.
func (s *Store) CountTurns(ctx context.Context, ownerID string) (int, error) {
	return s.driver.CountTurns(ctx, ownerID)
}

// DeleteTurns deletes turns matching the delete conditions in one statement.
func (s *Store) DeleteTurns(ctx context.Context, delete *DeleteTurn) error {
	return s.driver.DeleteTurns(ctx, delete)
}

// VectorSearchTurns performs owner-scoped vector similarity search.
func (s *Store) VectorSearchTurns(ctx context.Context, opts *TurnVectorSearchOptions) ([]*TurnWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.VectorSearchTurns(ctx, opts)
}
