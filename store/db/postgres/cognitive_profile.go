package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/confidant-ai/confidant/store"
)

// UpsertCognitiveProfile atomically replaces the whole profile text.
func (d *DB) UpsertCognitiveProfile(ctx context.Context, upsert *store.UpsertCognitiveProfile) (*store.CognitiveProfile, error) {
	stmt := `
		INSERT INTO cognitive_profile (owner_id, profile_text, updated_ts)
		VALUES (` + placeholders(3) + `)
		ON CONFLICT (owner_id)
		DO UPDATE SET
			profile_text = EXCLUDED.profile_text,
			updated_ts = EXCLUDED.updated_ts
		RETURNING owner_id, profile_text, updated_ts
	`

	var profile store.CognitiveProfile
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerID,
		upsert.ProfileText,
		upsert.UpdatedTs,
	).Scan(&profile.OwnerID, &profile.ProfileText, &profile.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert cognitive profile")
	}

	return &profile, nil
}

// GetCognitiveProfile returns the owner's profile, or nil when not established.
func (d *DB) GetCognitiveProfile(ctx context.Context, ownerID string) (*store.CognitiveProfile, error) {
	query := `SELECT owner_id, profile_text, updated_ts FROM cognitive_profile WHERE owner_id = ` + placeholder(1)

	var profile store.CognitiveProfile
	err := d.db.QueryRowContext(ctx, query, ownerID).Scan(
		&profile.OwnerID,
		&profile.ProfileText,
		&profile.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get cognitive profile")
	}

	return &profile, nil
}

// DeleteCognitiveProfile removes the owner's profile.
func (d *DB) DeleteCognitiveProfile(ctx context.Context, ownerID string) error {
	stmt := `DELETE FROM cognitive_profile WHERE owner_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, ownerID); err != nil {
		return errors.Wrap(err, "failed to delete cognitive profile")
	}
	return nil
}
