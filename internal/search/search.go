// Package search implements the Search & Activation component: keyword,
// semantic, and hybrid retrieval over memories, and the spreading
// activation algorithm used for contextual and graph-aware recall.
package search

import (
	"context"
	"sort"
	"time"

	"justmemory/internal/errs"
	"justmemory/internal/gateway"
	"justmemory/internal/memory"
	"justmemory/internal/store"
	"justmemory/internal/vectorstore"
)

// Mode selects which retrieval strategy a caller wants.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

const (
	defaultKFactor  = 4
	rrfK            = 60
	defaultKeywordW = 0.5
	defaultVectorW  = 0.5
	seedBoostFactor = 1.5
)

// Result is one ranked memory with the score that produced its rank.
type Result struct {
	Memory store.Memory
	Score  float64
}

// Service is the Search & Activation component.
type Service struct {
	db *store.Store
	vs *vectorstore.Store
	gw *gateway.Gateway
}

// New builds the Search & Activation component.
func New(db *store.Store, vs *vectorstore.Store, gw *gateway.Gateway) *Service {
	return &Service{db: db, vs: vs, gw: gw}
}

// Keyword runs the keyword search path: sanitized LIKE or FTS5 BM25,
// scoped to project or global, optionally filtered by minimum
// effective_confidence.
func (s *Service) Keyword(ctx context.Context, project, query string, limit int, minConfidence float64) ([]Result, error) {
	hits, err := s.db.KeywordSearch(ctx, project, query, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if minConfidence > 0 && memory.EffectiveConfidence(h.Memory, now) < minConfidence {
			continue
		}
		out = append(out, Result{Memory: h.Memory, Score: h.Score})
	}
	return out, nil
}

// Semantic embeds the query and runs k-NN against the Vector Store,
// dropping rows whose embedding is missing.
func (s *Service) Semantic(ctx context.Context, project, query string, limit int) ([]Result, error) {
	embedded := s.gw.Embed(ctx, query)
	if !embedded.Ok() {
		return nil, errs.New(errs.NotAvailable, "embedding gateway unavailable for semantic search")
	}
	k := limit * defaultKFactor
	if k < limit {
		k = limit
	}
	neighbors, err := s.vs.KNN(ctx, project, embedded.Value, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		m, err := s.db.GetMemory(ctx, n.MemoryID, project, false)
		if err != nil {
			continue
		}
		out = append(out, Result{Memory: m, Score: n.Similarity})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Hybrid runs keyword and semantic search and fuses them by Reciprocal
// Rank Fusion: score(m) = w_k/(K+rank_k(m)) + w_v/(K+rank_v(m)), K=60.
func (s *Service) Hybrid(ctx context.Context, project, query string, limit int, minConfidence float64) ([]Result, error) {
	kwResults, err := s.Keyword(ctx, project, query, limit*defaultKFactor, minConfidence)
	if err != nil {
		return nil, err
	}
	semResults, err := s.Semantic(ctx, project, query, limit*defaultKFactor)
	if err != nil {
		// Semantic unavailability degrades hybrid search to keyword-only
		// rather than failing the call outright.
		semResults = nil
	}
	return fuseRRF(kwResults, semResults, limit), nil
}

func fuseRRF(keyword, vector []Result, limit int) []Result {
	scores := make(map[string]float64)
	mem := make(map[string]store.Memory)
	for rank, r := range keyword {
		mem[r.Memory.ID] = r.Memory
		scores[r.Memory.ID] += defaultKeywordW / float64(rrfK+rank+1)
	}
	for rank, r := range vector {
		mem[r.Memory.ID] = r.Memory
		scores[r.Memory.ID] += defaultVectorW / float64(rrfK+rank+1)
	}
	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		out = append(out, Result{Memory: mem[id], Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search is the mode-dispatching entry point.
func (s *Service) Search(ctx context.Context, mode Mode, project, query string, limit int, minConfidence float64) ([]Result, error) {
	switch mode {
	case ModeKeyword:
		return s.Keyword(ctx, project, query, limit, minConfidence)
	case ModeSemantic:
		return s.Semantic(ctx, project, query, limit)
	case ModeHybrid, "":
		return s.Hybrid(ctx, project, query, limit, minConfidence)
	default:
		return nil, errs.New(errs.ValidationError, "unknown search mode %q", mode)
	}
}
