package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/metrics"
)

// DefaultTopK is the number of neighbors returned when k <= 0.
const DefaultTopK = 5

// Index is the case retrieval index. A disabled Index answers every search
// with no matches and ignores additions.
type Index struct {
	store      VectorStore
	embedder   Embedder
	enabled    bool
	topK       int
	collection string
	backend    string
}

// IndexOptions configures NewIndex.
type IndexOptions struct {
	Enabled    bool
	TopK       int
	Collection string
	Backend    string
}

// NewIndex wires a store and an embedder. A nil store or embedder yields a
// disabled index.
func NewIndex(store VectorStore, embedder Embedder, opts IndexOptions) *Index {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Index{
		store:      store,
		embedder:   embedder,
		enabled:    opts.Enabled && store != nil && embedder != nil,
		topK:       opts.TopK,
		collection: opts.Collection,
		backend:    opts.Backend,
	}
}

// Enabled reports whether searches can return matches.
func (ix *Index) Enabled() bool {
	return ix != nil && ix.enabled
}

// Search embeds query once and returns up to k nearest cases together with
// the query embedding, which callers can reuse when adding the same text.
// A disabled or empty index returns (nil, nil, nil) without embedding.
func (ix *Index) Search(ctx context.Context, query string, filter Filter, k int) ([]Match, []float32, error) {
	if !ix.Enabled() {
		return nil, nil, nil
	}
	if k <= 0 {
		k = ix.topK
	}

	n, err := ix.store.Count(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("count cases: %w", err)
	}
	if n == 0 {
		log.Debug().Str("collection", ix.collection).Msg("Index empty, skipping search")
		return nil, nil, nil
	}

	start := time.Now()
	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := ix.store.Query(ctx, embedding, filter, k)
	metrics.New().
		Dimension("Backend", ix.backend).
		Duration("RAGSearchLatencyMs", start).
		Metric("RAGMatches", float64(len(matches)), metrics.UnitCount).
		Flush()
	if err != nil {
		return nil, embedding, fmt.Errorf("query cases: %w", err)
	}

	log.Debug().
		Int("matches", len(matches)).
		Int("k", k).
		Str("district", filter.District).
		Msg("Index search complete")
	return matches, embedding, nil
}

// Add appends a case, embedding its narrative unless an embedding is
// already attached. A disabled index ignores the call.
func (ix *Index) Add(ctx context.Context, hc HistoricalCase) error {
	if !ix.Enabled() {
		return nil
	}
	if hc.CaseID == "" {
		hc.CaseID = NewCaseID(hc.Metadata.StudentID, time.Now())
	}
	if len(hc.Embedding) == 0 {
		emb, err := ix.embedder.Embed(ctx, hc.NarrativeText)
		if err != nil {
			return fmt.Errorf("embed case %s: %w", hc.CaseID, err)
		}
		hc.Embedding = emb
	}

	if err := ix.store.Append(ctx, hc); err != nil {
		return fmt.Errorf("append case %s: %w", hc.CaseID, err)
	}
	log.Info().
		Str("caseId", hc.CaseID).
		Str("studentId", hc.Metadata.StudentID).
		Str("finalDecision", hc.Metadata.FinalDecision).
		Msg("Case added to index")
	return nil
}

// Stats reports index health. Store errors are reported in Stats.Error.
func (ix *Index) Stats(ctx context.Context) Stats {
	if ix == nil {
		return Stats{}
	}
	s := Stats{
		Enabled:    ix.enabled,
		Collection: ix.collection,
		Backend:    ix.backend,
	}
	if ix.store == nil {
		return s
	}
	s.Location = ix.store.Location()
	n, err := ix.store.Count(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Initialized = true
	s.Documents = n
	return s
}

// Close releases the underlying store.
func (ix *Index) Close() error {
	if ix == nil || ix.store == nil {
		return nil
	}
	return ix.store.Close()
}
