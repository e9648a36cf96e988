package sqlite

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/confidant-ai/confidant/store"
)

// CreateTurn persists a turn with its embedding stored as a BLOB.
func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	vectorBLOB, err := float32ArrayToBLOB(create.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	stmt := `INSERT INTO turn (uid, owner_id, role, content, embedding, embedding_model, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err = d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.OwnerID,
		create.Role,
		create.Content,
		vectorBLOB,
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
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	if find.Role != nil {
		where, args = append(where, "role = ?"), append(args, *find.Role)
	}

	order := "ORDER BY created_ts ASC, id ASC"
	if find.OrderDesc {
		order = "ORDER BY created_ts DESC, id DESC"
	}

	query := `SELECT id, uid, owner_id, role, content, embedding, embedding_model, created_ts
		FROM turn
		WHERE ` + strings.Join(where, " AND ") + `
		` + order
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET ?"
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
		var vectorBLOB []byte
		if err := rows.Scan(
			&turn.ID,
			&turn.UID,
			&turn.OwnerID,
			&turn.Role,
			&turn.Content,
			&vectorBLOB,
			&turn.EmbeddingModel,
			&turn.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		turn.Embedding, err = blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}
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
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count turns")
	}
	return count, nil
}

// DeleteTurns deletes turns matching the delete conditions in one statement.
func (d *DB) DeleteTurns(ctx context.Context, delete *store.DeleteTurn) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *delete.OwnerID)
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

// VectorSearchTurns performs application-layer vector similarity search.
// Candidates are loaded owner-scoped from SQL, then ranked by cosine
// similarity with ties broken by more recent created_ts.
func (d *DB) VectorSearchTurns(ctx context.Context, opts *store.TurnVectorSearchOptions) ([]*store.TurnWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	query := `SELECT id, uid, owner_id, role, content, embedding, embedding_model, created_ts
		FROM turn
		WHERE owner_id = ? AND embedding IS NOT NULL AND embedding_model = ?`

	rows, err := d.db.QueryContext(ctx, query, opts.OwnerID, opts.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query turns for vector search")
	}
	defer rows.Close()

	results := []*store.TurnWithScore{}
	for rows.Next() {
		var turn store.Turn
		var vectorBLOB []byte
		if err := rows.Scan(
			&turn.ID,
			&turn.UID,
			&turn.OwnerID,
			&turn.Role,
			&turn.Content,
			&vectorBLOB,
			&turn.EmbeddingModel,
			&turn.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		embedding, err := blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}

		score := cosineSimilarity(opts.Vector, embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, &store.TurnWithScore{Turn: &turn, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Turn.CreatedTs > results[j].Turn.CreatedTs
	})
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}
