package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("", NewLocalEmbedder(), nil)
	require.NoError(t, err)
	return store
}

func TestAddAndSearchRanksByMeaningOverlap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, CollectionFacts, "a", "the user is building a trading bot in rust", map[string]string{"domain": "coding"}))
	require.NoError(t, store.Add(ctx, CollectionFacts, "b", "the user drinks green tea every morning", map[string]string{"domain": "health"}))

	hits, err := store.Search(ctx, CollectionFacts, "rust trading bot progress", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "a", hits[0].ID)

	for _, hit := range hits {
		require.GreaterOrEqual(t, hit.Relevance, 0.0)
		require.LessOrEqual(t, hit.Relevance, 1.0)
	}
	if len(hits) == 2 {
		require.GreaterOrEqual(t, hits[0].Relevance, hits[1].Relevance)
	}
}

func TestSearchEmptyCollectionReturnsNoHits(t *testing.T) {
	store := newTestStore(t)
	hits, err := store.Search(context.Background(), CollectionMistakes, "anything", 5, nil)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestAddIsIdempotentOnID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, CollectionGraphNodes, "n1", "technology: rust", nil))
	require.NoError(t, store.Add(ctx, CollectionGraphNodes, "n1", "technology: rust | domain: coding", nil))
	require.Equal(t, 1, store.Count(CollectionGraphNodes))
}

func TestDeleteRemovesDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, CollectionInteractions, "i1", "User: hi\nAssistant: hello", nil))
	require.Equal(t, 1, store.Count(CollectionInteractions))
	require.NoError(t, store.Delete(ctx, CollectionInteractions, "i1"))
	require.Equal(t, 0, store.Count(CollectionInteractions))
}

func TestMetadataFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, CollectionFacts, "c1", "meeting notes from standup", map[string]string{"domain": "tasks"}))
	require.NoError(t, store.Add(ctx, CollectionFacts, "c2", "meeting notes from retro", map[string]string{"domain": "general"}))

	hits, err := store.Search(ctx, CollectionFacts, "meeting notes", 5, map[string]string{"domain": "tasks"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "c1", hits[0].ID)
}

func TestLocalEmbedderDeterministicAndNormalized(t *testing.T) {
	embedder := NewLocalEmbedder()
	a1, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	a2, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 1e-5)
}
