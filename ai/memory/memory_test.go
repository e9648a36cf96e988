package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confidant-ai/confidant/store"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return "fake-embed" }
func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }

type fakeTurnStore struct {
	created      []*store.Turn
	createErr    error
	listed       []*store.Turn
	searchResult []*store.TurnWithScore
	searchOpts   *store.TurnVectorSearchOptions
	deleted      *store.DeleteTurn
	count        int
}

func (f *fakeTurnStore) CreateTurn(_ context.Context, create *store.Turn) (*store.Turn, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, create)
	return create, nil
}

func (f *fakeTurnStore) ListTurns(_ context.Context, _ *store.FindTurn) ([]*store.Turn, error) {
	return f.listed, nil
}

func (f *fakeTurnStore) CountTurns(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

func (f *fakeTurnStore) DeleteTurns(_ context.Context, delete *store.DeleteTurn) error {
	f.deleted = delete
	return nil
}

func (f *fakeTurnStore) VectorSearchTurns(_ context.Context, opts *store.TurnVectorSearchOptions) ([]*store.TurnWithScore, error) {
	f.searchOpts = opts
	return f.searchResult, nil
}

func TestAppendValidation(t *testing.T) {
	s := New(&fakeTurnStore{}, &fakeEmbedder{vector: []float32{1, 0}})
	ctx := context.Background()

	_, err := s.Append(ctx, "", store.RoleUser, "hello")
	assert.Error(t, err)

	_, err = s.Append(ctx, "owner-1", store.Role("narrator"), "hello")
	assert.Error(t, err)

	_, err = s.Append(ctx, "owner-1", store.RoleUser, "")
	assert.Error(t, err)
}

func TestAppendPersistsEmbeddedTurn(t *testing.T) {
	db := &fakeTurnStore{}
	s := New(db, &fakeEmbedder{vector: []float32{0.5, 0.5}})

	uid, err := s.Append(context.Background(), "owner-1", store.RoleUser, "I adopted a cat")
	require.NoError(t, err)
	assert.NotEmpty(t, uid)

	require.Len(t, db.created, 1)
	turn := db.created[0]
	assert.Equal(t, "owner-1", turn.OwnerID)
	assert.Equal(t, store.RoleUser, turn.Role)
	assert.Equal(t, []float32{0.5, 0.5}, turn.Embedding)
	assert.Equal(t, "fake-embed", turn.EmbeddingModel)
	assert.NotZero(t, turn.CreatedTs)
}

func TestAppendEmbedFailureIsStoreUnavailable(t *testing.T) {
	s := New(&fakeTurnStore{}, &fakeEmbedder{err: errors.New("backend down")})

	_, err := s.Append(context.Background(), "owner-1", store.RoleUser, "hello")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAppendPersistFailureIsStoreUnavailable(t *testing.T) {
	db := &fakeTurnStore{createErr: errors.New("disk full")}
	s := New(db, &fakeEmbedder{vector: []float32{1}})

	_, err := s.Append(context.Background(), "owner-1", store.RoleUser, "hello")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRetrieveEmptyHistory(t *testing.T) {
	s := New(&fakeTurnStore{}, &fakeEmbedder{vector: []float32{1, 0}})

	recalled, err := s.Retrieve(context.Background(), "new-owner", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestRetrieveScopesToOwner(t *testing.T) {
	db := &fakeTurnStore{
		searchResult: []*store.TurnWithScore{
			{Turn: &store.Turn{OwnerID: "owner-1", Role: store.RoleUser, Content: "the cat"}, Score: 0.9},
		},
	}
	s := New(db, &fakeEmbedder{vector: []float32{1, 0}})

	recalled, err := s.Retrieve(context.Background(), "owner-1", "cats", 0)
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "the cat", recalled[0].Content)

	require.NotNil(t, db.searchOpts)
	assert.Equal(t, "owner-1", db.searchOpts.OwnerID)
	assert.Equal(t, "fake-embed", db.searchOpts.Model)
	assert.Equal(t, 5, db.searchOpts.Limit) // default k
}

func TestRetrieveRequiresOwner(t *testing.T) {
	s := New(&fakeTurnStore{}, &fakeEmbedder{vector: []float32{1}})
	_, err := s.Retrieve(context.Background(), "", "query", 5)
	assert.Error(t, err)
}

func TestRecentTurnsChronologicalOrder(t *testing.T) {
	db := &fakeTurnStore{
		// The driver returns newest first.
		listed: []*store.Turn{
			{Content: "third", CreatedTs: 3},
			{Content: "second", CreatedTs: 2},
			{Content: "first", CreatedTs: 1},
		},
	}
	s := New(db, &fakeEmbedder{vector: []float32{1}})

	turns, err := s.RecentTurns(context.Background(), "owner-1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "third", turns[2].Content)
}

func TestPurgeDeletesByOwner(t *testing.T) {
	db := &fakeTurnStore{}
	s := New(db, &fakeEmbedder{vector: []float32{1}})

	require.NoError(t, s.Purge(context.Background(), "owner-1"))
	require.NotNil(t, db.deleted)
	require.NotNil(t, db.deleted.OwnerID)
	assert.Equal(t, "owner-1", *db.deleted.OwnerID)
}
