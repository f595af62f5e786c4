package store

import (
	"context"
	"strings"

	"justmemory/internal/errs"
)

// KeywordHit is a ranked keyword match against memories.content.
type KeywordHit struct {
	Memory Memory
	Score  float64 // interpretable keyword score in [0,1], 1 = best match
}

// sanitizeLike escapes %, _, and \ in a user-supplied LIKE pattern fragment.
func sanitizeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// KeywordSearch finds memories whose content matches query, scoped to
// project or global. It applies no effective-confidence filter; callers
// filter the hits afterwards, since effective_confidence is a Memory Core
// concern. Uses FTS5 BM25 ranking when available, else case-insensitive
// LIKE.
func (s *Store) KeywordSearch(ctx context.Context, project, query string, limit int) ([]KeywordHit, error) {
	if s.ftsAvailable {
		return s.keywordSearchFTS(ctx, project, query, limit)
	}
	return s.keywordSearchLike(ctx, project, query, limit)
}

func (s *Store) keywordSearchFTS(ctx context.Context, project, query string, limit int) ([]KeywordHit, error) {
	ftsQuery := ftsMatchExpression(query)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumnsPrefixed("m")+`, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.deleted_at IS NULL AND (m.project_id = ? OR m.project_id = ?)
		ORDER BY rank LIMIT ?`, ftsQuery, project, GlobalProject, limit)
	if err != nil {
		// FTS query syntax errors degrade to LIKE rather than surfacing.
		return s.keywordSearchLike(ctx, project, query, limit)
	}
	defer rows.Close()

	var hits []KeywordHit
	var ranks []float64
	for rows.Next() {
		m, rank, err := scanMemoryWithRank(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageBusy, err, "scan fts hit")
		}
		hits = append(hits, KeywordHit{Memory: m})
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	normalizeBM25Scores(hits, ranks)
	return hits, nil
}

func (s *Store) keywordSearchLike(ctx context.Context, project, query string, limit int) ([]KeywordHit, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	pattern := "%" + sanitizeLike(strings.ToLower(strings.Join(terms, " "))) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE deleted_at IS NULL AND (project_id = ? OR project_id = ?) AND LOWER(content) LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC LIMIT ?`, project, GlobalProject, pattern, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "keyword search (like fallback)")
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, KeywordHit{Memory: m, Score: likeScore(m.Content, terms)})
	}
	return hits, rows.Err()
}

// likeScore gives an interpretable keyword score based on the fraction of
// query terms present in the content.
func likeScore(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			matched++
		}
	}
	if len(terms) == 0 {
		return 0
	}
	return float64(matched) / float64(len(terms))
}

// ftsMatchExpression builds a conservative FTS5 MATCH string (quoted OR
// terms) so punctuation in user content never trips query syntax.
func ftsMatchExpression(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func memoryColumnsPrefixed(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanMemoryWithRank(rows interface {
	Scan(dest ...any) error
}) (Memory, float64, error) {
	var m Memory
	var tags string
	var deletedAt any
	var rank float64
	// memoryColumnsPrefixed expands to 15 columns plus rank.
	dest := []any{&m.ID, &m.ProjectID, &m.Content, &m.Type, &tags, &m.Importance,
		&m.Confidence, &m.Strength, &m.AccessCount, &m.SourceCount, &m.ContradictionCount,
		&m.LastAccessed, &m.CreatedAt, &m.UpdatedAt, &deletedAt, &rank}
	if err := rows.Scan(dest...); err != nil {
		return m, 0, err
	}
	return m, rank, nil
}

// normalizeBM25Scores maps SQLite's bm25() (lower/more negative is better)
// onto an interpretable [0,1] score, best match first.
func normalizeBM25Scores(hits []KeywordHit, ranks []float64) {
	if len(hits) == 0 {
		return
	}
	min, max := ranks[0], ranks[0]
	for _, r := range ranks {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	spread := max - min
	for i := range hits {
		if spread == 0 {
			hits[i].Score = 1.0
			continue
		}
		// bm25 is negative-is-better; invert and normalize.
		hits[i].Score = (max - ranks[i]) / spread
	}
}
