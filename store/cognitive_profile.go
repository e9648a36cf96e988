package store

import "context"

// CognitiveProfile is the bounded natural-language summary of an owner's
// long-run history. At most one profile exists per owner; regeneration
// always replaces the whole text atomically.
type CognitiveProfile struct {
	OwnerID     string
	ProfileText string
	UpdatedTs   int64
}

// UpsertCognitiveProfile specifies a whole-text profile replacement.
type UpsertCognitiveProfile struct {
	OwnerID     string
	ProfileText string
	UpdatedTs   int64
}

// UpsertCognitiveProfile atomically replaces the owner's profile text.
func (s *Store) UpsertCognitiveProfile(ctx context.Context, upsert *UpsertCognitiveProfile) (*CognitiveProfile, error) {
	return s.driver.UpsertCognitiveProfile(ctx, upsert)
}

// GetCognitiveProfile returns the owner's profile, or nil when the owner has
// no established profile yet. Callers must not treat nil as an empty string.
func (s *Store) GetCognitiveProfile(ctx context.Context, ownerID string) (*CognitiveProfile, error) {
	return s.driver.GetCognitiveProfile(ctx, ownerID)
}

// DeleteCognitiveProfile removes the owner's profile.
func (s *Store) DeleteCognitiveProfile(ctx context.Context, ownerID string) error {
	return s.driver.DeleteCognitiveProfile(ctx, ownerID)
}
