// Package memory implements the vector memory store: CRUD plus
// nearest-neighbor search over content+vector+metadata records, with optional
// weak back-references to schedule entries.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/llm"
)

// RelatedKindSchedule labels back-references to schedule entries.
const RelatedKindSchedule = "schedule_entries"

var (
	// ErrDuplicateRef means a record already backs the related entity.
	ErrDuplicateRef = errors.New("a memory record already exists for this entity")
	// ErrNotFound mirrors db.ErrNotFound for callers that only import memory.
	ErrNotFound = db.ErrNotFound
)

// Ref is a weak back-reference to another persisted entity.
type Ref struct {
	Kind string
	ID   int64
}

type Store struct {
	db       *db.DB
	embedder llm.Embedder
}

func New(database *db.DB, embedder llm.Embedder) *Store {
	return &Store{db: database, embedder: embedder}
}

// Embed computes a vector for arbitrary text with the store's embedder, so
// callers can reuse one vector for both a search and a subsequent Add.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Add stores a new record, computing an embedding when none is supplied.
// At most one record may back a given related entity.
func (s *Store) Add(ctx context.Context, kind db.EmbeddingContext, content string, related *Ref, vector []float32) (*db.EmbeddingEntry, error) {
	if related != nil {
		_, err := s.db.FindEmbeddingByRelated(related.Kind, related.ID)
		if err == nil {
			return nil, fmt.Errorf("%s/%d: %w", related.Kind, related.ID, ErrDuplicateRef)
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	if vector == nil {
		v, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("embedding content: %w", err)
		}
		vector = v
	}

	entry := &db.EmbeddingEntry{
		Context: kind,
		Content: content,
		Vector:  vector,
	}
	if related != nil {
		entry.RelatedKind = related.Kind
		id := related.ID
		entry.RelatedID = &id
	}

	id, err := s.db.InsertEmbedding(entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id
	return entry, nil
}

// SearchOptions narrows and bounds a nearest-neighbor search.
type SearchOptions struct {
	Context      db.EmbeddingContext
	RelatedKind  string
	Limit        int
	IncludeStale bool
	After        time.Time
	Before       time.Time
}

// Search embeds the query text and ranks matching records by ascending
// distance. Filters apply before ranking; at most Limit results return.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]db.EmbeddingEntry, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.SearchVector(ctx, vector, opts)
}

// SearchVector is Search with a precomputed query vector.
func (s *Store) SearchVector(_ context.Context, vector []float32, opts SearchOptions) ([]db.EmbeddingEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 3
	}
	candidates, err := s.db.ListEmbeddingCandidates(db.EmbeddingFilter{
		Context:      opts.Context,
		RelatedKind:  opts.RelatedKind,
		IncludeStale: opts.IncludeStale,
		After:        opts.After,
		Before:       opts.Before,
	})
	if err != nil {
		return nil, err
	}

	distances := make([]float64, len(candidates))
	for i := range candidates {
		distances[i] = l2Distance(vector, candidates[i].Vector)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return distances[i] < distances[j]
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	return candidates, nil
}

// Update replaces a record's content and re-embeds it.
func (s *Store) Update(ctx context.Context, id int64, content string) (*db.EmbeddingEntry, error) {
	entry, err := s.db.GetEmbedding(id)
	if err != nil {
		return nil, err
	}
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("re-embedding content: %w", err)
	}
	entry.Content = content
	entry.Vector = vector
	if err := s.db.UpdateEmbedding(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove deletes a record and returns it. Callers are responsible for
// severing any back-reference they hold.
func (s *Store) Remove(_ context.Context, id int64) (*db.EmbeddingEntry, error) {
	entry, err := s.db.GetEmbedding(id)
	if err != nil {
		return nil, err
	}
	if err := s.db.DeleteEmbedding(id); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkStale flags a record stale so default searches skip it.
func (s *Store) MarkStale(_ context.Context, id int64) error {
	return s.db.MarkEmbeddingStale(id)
}

// FindByRelated is a point lookup by back-reference.
func (s *Store) FindByRelated(_ context.Context, kind string, id int64) (*db.EmbeddingEntry, error) {
	return s.db.FindEmbeddingByRelated(kind, id)
}

// l2Distance is the Euclidean distance between two vectors. Mismatched
// lengths rank last rather than erroring; they only occur if the embedding
// dimension was changed under an existing store.
func l2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
