package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/confidant-ai/confidant/store"
)

// CreateTurn persists a turn and its embedding in one row.
func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	stmt := `
		INSERT INTO turn (uid, owner_id, role, content, embedding, embedding_model, created_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id
	`

	vector := pgvector.NewVector(create.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.OwnerID,
		create.Role,
		create.Content,
		vector,
		create.EmbeddingModel,
		create.CreatedTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create turn")
	}

	return create, nil
}

// ListTurns lists turns matching the find conditions.
func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, *find.Role)
	}

	order := "ORDER BY created_ts ASC, id ASC"
	if find.OrderDesc {
		order = "ORDER BY created_ts DESC, id DESC"
	}

	query := `
		SELECT id, uid, owner_id, role, content, embedding, embedding_model, created_ts
		FROM turn
		WHERE ` + strings.Join(where, " AND ") + `
		` + order
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list turns")
	}
	defer rows.Close()

	list := []*store.Turn{}
	for rows.Next() {
		var turn store.Turn
		var vector pgvector.Vector
		if err := rows.Scan(
			&turn.ID,
			&turn.UID,
			&turn.OwnerID,
			&turn.Role,
			&turn.Content,
			&vector,
			&turn.EmbeddingModel,
			&turn.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		turn.Embedding = vector.Slice()
		list = append(list, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// CountTurns counts the turns stored for an owner.
func (d *DB) CountTurns(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turn WHERE owner_id = `+placeholder(1), ownerID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count turns")
	}
	return count, nil
}

// DeleteTurns deletes turns matching the delete conditions.
// The delete is a single statement, so an owner purge is all-or-nothing.
func (d *DB) DeleteTurns(ctx context.Context, delete *store.DeleteTurn) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *delete.OwnerID)
	}
	if len(where) == 0 {
		return errors.New("delete condition required")
	}

	stmt := `DELETE FROM turn WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete turns")
	}
	return nil
}

// VectorSearchTurns performs vector similarity search using pgvector.
// The owner filter lives in the SQL WHERE clause: rows from other owners
// can never enter the candidate set.
func (d *DB) VectorSearchTurns(ctx context.Context, opts *store.TurnVectorSearchOptions) ([]*store.TurnWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so ordering by distance ASC yields most similar first. Ties fall back
	// to the more recent turn.
	query := `
		SELECT
			id, uid, owner_id, role, content, embedding_model, created_ts,
			1 - (embedding <=> ` + placeholder(2) + `) AS score
		FROM turn
		WHERE owner_id = ` + placeholder(1) + `
			AND embedding IS NOT NULL
			AND embedding_model = ` + placeholder(3) + `
		ORDER BY embedding <=> ` + placeholder(4) + `, created_ts DESC
		LIMIT ` + placeholder(5)

	vector := pgvector.NewVector(opts.Vector)
	rows, err := d.db.QueryContext(ctx, query, opts.OwnerID, vector, opts.Model, vector, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search turns")
	}
	defer rows.Close()

	results := []*store.TurnWithScore{}
	for rows.Next() {
		var turn store.Turn
		var score float32
		if err := rows.Scan(
			&turn.ID,
			&turn.UID,
			&turn.OwnerID,
			&turn.Role,
			&turn.Content,
			&turn.EmbeddingModel,
			&turn.CreatedTs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn with score")
		}
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, &store.TurnWithScore{Turn: &turn, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
