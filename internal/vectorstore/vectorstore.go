// Package vectorstore persists memory embeddings and answers
// nearest-neighbor queries against them. It is the single place that
// decides, per call, whether to use the sqlite-vec extension or an exact
// in-process scan — callers never see which backend served a given
// request.
package vectorstore

import (
	"context"

	"justmemory/internal/config"
	"justmemory/internal/errs"
	"justmemory/internal/logging"
	"justmemory/internal/store"
)

// Neighbor is a nearest-neighbor search hit.
type Neighbor struct {
	MemoryID   string
	Similarity float64 // 1 - cosine distance, in [-1, 1], higher is closer
}

// Store is the Vector Store component. It wraps the Storage Layer so all
// writes still go through the same bounded write queue.
type Store struct {
	db      *store.Store
	backend string // "auto", "sqlite-vec", or "exact"
	dim     int
}

// New constructs a Vector Store bound to db, using the backend selection
// and dimension from cfg. If the configured backend is sqlite-vec (or auto
// and sqlite-vec is available), the ANN index is created eagerly.
func New(ctx context.Context, db *store.Store, cfg *config.Config) (*Store, error) {
	vs := &Store{db: db, backend: cfg.Vector.Backend, dim: cfg.Embedding.Dimension()}
	if vs.usesVec() {
		if err := db.EnsureVecIndex(ctx, vs.dim); err != nil {
			logging.Get(logging.CategoryVector).Warn("failed to create sqlite-vec index, falling back to exact scan: %v", err)
		}
	}
	logging.Vector("vector store ready: backend=%s dim=%d vec_available=%v", vs.backend, vs.dim, db.VecAvailable())
	return vs, nil
}

// usesVec reports whether this call should attempt the sqlite-vec path.
func (vs *Store) usesVec() bool {
	switch vs.backend {
	case "sqlite-vec":
		return vs.db.VecAvailable()
	case "exact":
		return false
	default: // "auto"
		return vs.db.VecAvailable()
	}
}

// Upsert stores (or replaces) the embedding for a memory.
func (vs *Store) Upsert(ctx context.Context, memoryID, projectID string, embedding []float32) error {
	if len(embedding) != vs.dim {
		return errs.New(errs.ValidationError, "embedding has %d dimensions, expected %d", len(embedding), vs.dim)
	}
	if err := vs.db.UpsertVectorRow(ctx, memoryID, projectID, embedding); err != nil {
		return err
	}
	if vs.usesVec() {
		if err := vs.db.UpsertVecIndex(ctx, memoryID, embedding); err != nil {
			logging.Get(logging.CategoryVector).Warn("vec index upsert failed, row still durable via exact store: %v", err)
		}
	}
	return nil
}

// UpsertBatch stores embeddings for multiple memories. Not atomic across
// memories; a failure partway through leaves prior upserts committed.
func (vs *Store) UpsertBatch(ctx context.Context, items map[string]struct {
	ProjectID string
	Embedding []float32
}) error {
	for id, item := range items {
		if err := vs.Upsert(ctx, id, item.ProjectID, item.Embedding); err != nil {
			return errs.Wrap(errs.ValidationError, err, "upsert batch item %s", id)
		}
	}
	return nil
}

// Delete removes a memory's embedding from both the durable row and the ANN
// index, if present.
func (vs *Store) Delete(ctx context.Context, memoryID string) error {
	if vs.usesVec() {
		if err := vs.db.DeleteVecIndex(ctx, memoryID); err != nil {
			logging.Get(logging.CategoryVector).Warn("vec index delete failed: %v", err)
		}
	}
	return vs.db.DeleteVectorRow(ctx, memoryID)
}

// Count reports how many memories in project have an embedding.
func (vs *Store) Count(ctx context.Context, project string) (int, error) {
	return vs.db.CountVectorRows(ctx, project)
}

// KNN returns the k nearest memories to query within project, by cosine
// similarity. This call picks exactly one backend; it never mixes sqlite-vec
// and exact-scan results.
func (vs *Store) KNN(ctx context.Context, project string, query []float32, k int) ([]Neighbor, error) {
	if len(query) != vs.dim {
		return nil, errs.New(errs.ValidationError, "query has %d dimensions, expected %d", len(query), vs.dim)
	}
	if k <= 0 {
		k = 10
	}

	if vs.usesVec() {
		neighbors, err := vs.db.VecKNN(ctx, project, query, k)
		if err == nil {
			return toResults(neighbors), nil
		}
		logging.Get(logging.CategoryVector).Warn("sqlite-vec knn failed, falling back to exact scan: %v", err)
	}

	neighbors, err := vs.db.ExactKNN(ctx, project, query, k)
	if err != nil {
		return nil, err
	}
	return toResults(neighbors), nil
}

func toResults(ns []store.VectorNeighbor) []Neighbor {
	out := make([]Neighbor, len(ns))
	for i, n := range ns {
		out[i] = Neighbor{MemoryID: n.MemoryID, Similarity: 1 - n.Distance}
	}
	return out
}
