package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"psycho/internal/logging"
)

// Collection names used by the runtime.
const (
	CollectionInteractions = "interactions"
	CollectionFacts        = "facts"
	CollectionGraphNodes   = "graph_nodes"
	CollectionMistakes     = "mistakes"
)

// Hit is one similarity search result. Relevance maps cosine distance into
// [0, 1] as 1 - distance/2.
type Hit struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Distance  float64           `json:"distance"`
	Relevance float64           `json:"relevance"`
}

// Store is an embedding-indexed document store with named collections.
type Store struct {
	mu          sync.Mutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	embedder    Embedder
	logger      logging.Logger
}

// Open creates (or reopens) a persistent store under dir. An empty dir keeps
// everything in memory, used by tests.
func Open(dir string, embedder Embedder, logger logging.Logger) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(dir, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		embedder:    embedder,
		logger:      logging.OrNop(logger),
	}, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
	c, err := s.db.GetOrCreateCollection(name, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	s.collections[name] = c
	return c, nil
}

// Add upserts one document. Re-adding an existing id replaces it.
func (s *Store) Add(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	if id == "" || text == "" {
		return fmt.Errorf("vector add: id and text are required")
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	err = c.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("add document %s to %s: %w", id, collection, err)
	}
	return nil
}

// Search runs a similarity query over one collection. where filters on exact
// metadata matches and may be nil.
func (s *Store) Search(ctx context.Context, collection, query string, topK int, where map[string]string) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	results, err := c.Query(ctx, query, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		distance := 1 - float64(r.Similarity)
		hits = append(hits, Hit{
			ID:        r.ID,
			Text:      r.Content,
			Metadata:  r.Metadata,
			Distance:  distance,
			Relevance: clamp01(1 - distance/2),
		})
	}
	return hits, nil
}

// Delete removes documents by id.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// Count returns the document count of a collection.
func (s *Store) Count(collection string) int {
	c, err := s.collection(collection)
	if err != nil {
		return 0
	}
	return c.Count()
}

// Stats reports per-collection counts for the standard collections.
func (s *Store) Stats() map[string]int {
	stats := make(map[string]int, 4)
	for _, name := range []string{CollectionInteractions, CollectionFacts, CollectionGraphNodes, CollectionMistakes} {
		stats[name] = s.Count(name)
	}
	return stats
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
