// Package store provides database access to all raw objects.
package store

import (
	"context"
	"database/sql"

	"github.com/confidant-ai/confidant/internal/profile"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Turn model related methods.
	CreateTurn(ctx context.Context, create *Turn) (*Turn, error)
	ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error)
	CountTurns(ctx context.Context, ownerID string) (int, error)
	DeleteTurns(ctx context.Context, delete *DeleteTurn) error
	VectorSearchTurns(ctx context.Context, opts *TurnVectorSearchOptions) ([]*TurnWithScore, error)

	// CognitiveProfile model related methods.
	UpsertCognitiveProfile(ctx context.Context, upsert *UpsertCognitiveProfile) (*CognitiveProfile, error)
	GetCognitiveProfile(ctx context.Context, ownerID string) (*CognitiveProfile, error)
	DeleteCognitiveProfile(ctx context.Context, ownerID string) error
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
