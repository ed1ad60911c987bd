package knowledge

import (
	"context"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

const (
	defaultSimilarityThreshold = 0.7

	// Fixed scores for the non-ranked search paths. Keyword matches are
	// treated as authoritative; tag and type lookups are categorical.
	keywordScore = 1.0
	tagScore     = 0.9
	typeScore    = 0.8
)

type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever performs semantic, keyword, and hybrid search over the store.
//
// Semantic search is a linear scan over every indexed embedding. That is fine
// at current corpus sizes; an ANN index can replace it behind the same
// methods. All failures degrade to an empty result list: callers must treat
// "no documents" as a normal outcome, never an exceptional one.
type Retriever struct {
	store     Store
	embedder  embedder
	threshold float64
	logger    *logging.Logger
	tracer    trace.Tracer
}

// NewRetriever creates a retriever over the given store and embedding client.
func NewRetriever(store Store, embedder embedder, threshold float64, logger *logging.Logger) *Retriever {
	if store == nil {
		panic("knowledge: store cannot be nil")
	}
	if embedder == nil {
		panic("knowledge: embedder cannot be nil")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = defaultSimilarityThreshold
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Retriever{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
		tracer:    otel.Tracer("atlasgrove.internal.knowledge.retriever"),
	}
}

// SemanticSearch embeds the query and ranks indexed documents by cosine
// similarity, keeping those at or above the threshold.
func (r *Retriever) SemanticSearch(ctx context.Context, query string, k int) []RelevantDocument {
	ctx, span := r.tracer.Start(ctx, "knowledge.semantic_search")
	defer span.End()

	if k <= 0 {
		k = 3
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		if err != nil {
			span.RecordError(err)
			r.logger.Error("failed to embed query", "error", err)
		}
		return nil
	}
	queryVec := vectors[0]

	docs, err := r.store.FindIndexed(ctx)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("failed to load indexed documents", "error", err)
		return nil
	}

	results := make([]RelevantDocument, 0, len(docs))
	for _, doc := range docs {
		score := cosineSimilarity(queryVec, doc.Embedding)
		if score < r.threshold {
			continue
		}
		results = append(results, RelevantDocument{Document: doc, Score: score})
	}

	sortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	span.SetAttributes(attribute.Int("knowledge.results", len(results)))
	return results
}

// KeywordSearch delegates to the store's text search. Matches carry a fixed
// score of 1.0.
func (r *Retriever) KeywordSearch(ctx context.Context, query string, k int) []RelevantDocument {
	ctx, span := r.tracer.Start(ctx, "knowledge.keyword_search")
	defer span.End()

	if k <= 0 {
		k = 3
	}

	docs, err := r.store.SearchKeyword(ctx, query, k)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("keyword search failed", "error", err)
		return nil
	}
	return withFixedScore(docs, keywordScore)
}

// HybridSearch unions semantic and keyword results by document id. On a
// duplicate id the semantic score wins since it is discriminative.
func (r *Retriever) HybridSearch(ctx context.Context, query string, k int) []RelevantDocument {
	ctx, span := r.tracer.Start(ctx, "knowledge.hybrid_search")
	defer span.End()

	if k <= 0 {
		k = 3
	}

	semantic := r.SemanticSearch(ctx, query, k)
	keyword := r.KeywordSearch(ctx, query, k)

	seen := make(map[string]struct{}, len(semantic))
	merged := make([]RelevantDocument, 0, len(semantic)+len(keyword))
	for _, res := range semantic {
		seen[res.Document.ID] = struct{}{}
		merged = append(merged, res)
	}
	for _, res := range keyword {
		if _, dup := seen[res.Document.ID]; dup {
			continue
		}
		merged = append(merged, res)
	}

	sortByScore(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	span.SetAttributes(attribute.Int("knowledge.results", len(merged)))
	return merged
}

// SearchByTag returns indexed documents carrying the tag, fixed score 0.9.
func (r *Retriever) SearchByTag(ctx context.Context, tag string, k int) []RelevantDocument {
	if k <= 0 {
		k = 3
	}
	docs, err := r.store.FindByTag(ctx, tag, k)
	if err != nil {
		r.logger.Error("tag search failed", "tag", tag, "error", err)
		return nil
	}
	return withFixedScore(docs, tagScore)
}

// SearchByType returns indexed documents of the type, fixed score 0.8.
func (r *Retriever) SearchByType(ctx context.Context, docType string, k int) []RelevantDocument {
	if k <= 0 {
		k = 3
	}
	docs, err := r.store.FindByType(ctx, docType, k)
	if err != nil {
		r.logger.Error("type search failed", "doc_type", docType, "error", err)
		return nil
	}
	return withFixedScore(docs, typeScore)
}

func withFixedScore(docs []Document, score float64) []RelevantDocument {
	results := make([]RelevantDocument, 0, len(docs))
	for _, doc := range docs {
		results = append(results, RelevantDocument{Document: doc, Score: score})
	}
	return results
}

// sortByScore orders by score descending; ties break by most recently
// indexed first.
func sortByScore(results []RelevantDocument) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Document.IndexedAt, results[j].Document.IndexedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
}

// cosineSimilarity returns 0 for zero-norm or mismatched vectors by
// definition, not as an error.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
