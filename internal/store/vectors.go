package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"justmemory/internal/errs"
)

// VectorNeighbor is one result of a nearest-neighbor search: a memory id and
// its cosine distance to the query vector (0 = identical direction).
type VectorNeighbor struct {
	MemoryID string
	Distance float64
}

// UpsertVectorRow writes or replaces the embedding for a memory in the flat
// `vectors` table, the durable source of truth regardless of which ANN
// backend (if any) is active.
func (s *Store) UpsertVectorRow(ctx context.Context, memoryID, projectID string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return errs.Wrap(errs.ValidationError, err, "marshal embedding")
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO vectors (memory_id, dims, embedding, project_id, created_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(memory_id) DO UPDATE SET dims = excluded.dims, embedding = excluded.embedding, project_id = excluded.project_id`,
			memoryID, len(embedding), string(data), projectID, now())
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "upsert vector row")
		}
		return nil
	})
}

// DeleteVectorRow removes the embedding row for a memory, if present.
func (s *Store) DeleteVectorRow(ctx context.Context, memoryID string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE memory_id = ?`, memoryID)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "delete vector row")
		}
		return nil
	})
}

// GetVectorRow fetches a memory's embedding, returning ok=false if absent.
func (s *Store) GetVectorRow(ctx context.Context, memoryID string) ([]float32, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM vectors WHERE memory_id = ?`, memoryID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.StorageBusy, err, "get vector row")
	}
	var vec []float32
	if err := json.Unmarshal([]byte(data), &vec); err != nil {
		return nil, false, errs.Wrap(errs.SchemaError, err, "decode embedding")
	}
	return vec, true, nil
}

// CountVectorRows reports how many memories in project have a stored
// embedding.
func (s *Store) CountVectorRows(ctx context.Context, project string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE project_id = ? OR project_id = ?`, project, GlobalProject).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.StorageBusy, err, "count vector rows")
	}
	return n, nil
}

// ExactKNN scans every embedding in project and returns the k closest to
// query by cosine distance. Used when sqlite-vec is unavailable, or when the
// caller's backend selection is "exact".
func (s *Store) ExactKNN(ctx context.Context, project string, query []float32, k int) ([]VectorNeighbor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, embedding FROM vectors WHERE project_id = ? OR project_id = ?`, project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "scan vectors for exact knn")
	}
	defer rows.Close()

	var all []VectorNeighbor
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(data), &vec); err != nil {
			continue
		}
		d, err := cosineDistance(query, vec)
		if err != nil {
			continue
		}
		all = append(all, VectorNeighbor{MemoryID: id, Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByDistance(all)
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// EnsureVecIndex creates the vec0 virtual table for dim dimensions if
// sqlite-vec is available. Safe to call repeatedly.
func (s *Store) EnsureVecIndex(ctx context.Context, dim int) error {
	if !s.vecAvailable {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d])`, dim)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return errs.Wrap(errs.SchemaError, err, "create vec index")
	}
	return nil
}

// UpsertVecIndex writes embedding into the sqlite-vec ANN index, keyed by
// the memory's rowid in `vectors` so it can be joined back.
func (s *Store) UpsertVecIndex(ctx context.Context, memoryID string, embedding []float32) error {
	if !s.vecAvailable {
		return nil
	}
	var rowid int64
	if err := s.db.QueryRowContext(ctx, `SELECT rowid FROM vectors WHERE memory_id = ?`, memoryID).Scan(&rowid); err != nil {
		return errs.Wrap(errs.StorageBusy, err, "resolve vector rowid")
	}
	blob := encodeFloat32Slice(embedding)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO vec_index (rowid, embedding) VALUES (?, ?)
			ON CONFLICT(rowid) DO UPDATE SET embedding = excluded.embedding`, rowid, blob)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "upsert vec index")
		}
		return nil
	})
}

// DeleteVecIndex removes a memory's entry from the sqlite-vec ANN index.
func (s *Store) DeleteVecIndex(ctx context.Context, memoryID string) error {
	if !s.vecAvailable {
		return nil
	}
	var rowid int64
	err := s.db.QueryRowContext(ctx, `SELECT rowid FROM vectors WHERE memory_id = ?`, memoryID).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.StorageBusy, err, "resolve vector rowid for delete")
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM vec_index WHERE rowid = ?`, rowid)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "delete vec index row")
		}
		return nil
	})
}

// VecKNN performs an ANN search against the sqlite-vec index and joins back
// to memory_id. Returns an error if sqlite-vec is not available; callers
// should fall back to ExactKNN in that case.
func (s *Store) VecKNN(ctx context.Context, project string, query []float32, k int) ([]VectorNeighbor, error) {
	if !s.vecAvailable {
		return nil, errs.New(errs.NotAvailable, "sqlite-vec not available")
	}
	blob := encodeFloat32Slice(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, vec_distance_cosine(vi.embedding, ?) AS dist
		FROM vec_index vi
		JOIN vectors v ON v.rowid = vi.rowid
		WHERE v.project_id = ? OR v.project_id = ?
		ORDER BY dist ASC LIMIT ?`, blob, project, GlobalProject, k)
	if err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "vec knn query")
	}
	defer rows.Close()

	var out []VectorNeighbor
	for rows.Next() {
		var n VectorNeighbor
		if err := rows.Scan(&n.MemoryID, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, an, bn float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		an += float64(a[i]) * float64(a[i])
		bn += float64(b[i]) * float64(b[i])
	}
	if an == 0 || bn == 0 {
		return 1, nil
	}
	cos := dot / (math.Sqrt(an) * math.Sqrt(bn))
	return 1 - cos, nil
}

func sortByDistance(ns []VectorNeighbor) {
	for i := 1; i < len(ns); i++ {
		for j := i; j > 0 && ns[j].Distance < ns[j-1].Distance; j-- {
			ns[j], ns[j-1] = ns[j-1], ns[j]
		}
	}
}
