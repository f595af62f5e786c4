// Package briefing implements the Briefing & Stats component: the
// session-start summary a caller pulls to reorient itself, aggregate
// counts over a project's memory graph, and lightweight keyword-based
// memory suggestions for a piece of context text.
package briefing

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"justmemory/internal/memory"
	"justmemory/internal/session"
	"justmemory/internal/store"
)

const (
	defaultCoreMemories      = 5
	defaultRecentMemories    = 5
	defaultRecentEntities    = 5
	maxObservationsPerEntity = 3
	observationTruncateLen   = 160

	minSuggestWordLength = 3
	defaultSuggestLimit  = 5
)

// Service is the Briefing & Stats component.
type Service struct {
	db      *store.Store
	session *session.Service
}

// New builds a Briefing & Stats component bound to db and session.
func New(db *store.Store, sess *session.Service) *Service {
	return &Service{db: db, session: sess}
}

// Briefing is the session-reorientation summary from spec Section 4.11.
type Briefing struct {
	Crashed        bool
	LastHeartbeat  string
	CurrentTask    *session.Task
	CoreMemories   []store.Memory
	RecentMemories []store.Memory
	RecentEntities []EntitySummary
	BriefingSeq    int64
}

// EntitySummary is a most-recently-updated entity with its observations
// truncated to at most three entries, each clipped to a fixed length.
type EntitySummary struct {
	Name         string
	EntityType   string
	Observations []string
}

// Briefing composes the reorientation summary for project.
func (s *Service) Briefing(ctx context.Context, project string) (Briefing, error) {
	var b Briefing

	crash := s.session.CheckCrash(ctx, project)
	b.Crashed = crash.Crashed
	if crash.Crashed {
		b.LastHeartbeat = crash.LastHeartbeat.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	if task, err := s.session.GetTask(ctx, project); err == nil {
		b.CurrentTask = &task
	}

	memories, err := s.db.AllMemoriesForProject(ctx, project)
	if err != nil {
		return Briefing{}, err
	}

	now := time.Now().UTC()
	core := append([]store.Memory(nil), memories...)
	sort.Slice(core, func(i, j int) bool {
		return memory.EffectiveConfidence(core[i], now) > memory.EffectiveConfidence(core[j], now)
	})
	b.CoreMemories = capMemories(core, defaultCoreMemories)

	recent := append([]store.Memory(nil), memories...)
	sort.Slice(recent, func(i, j int) bool { return recent[i].UpdatedAt.After(recent[j].UpdatedAt) })
	b.RecentMemories = capMemories(recent, defaultRecentMemories)

	entities, err := s.db.ListEntities(ctx, project)
	if err != nil {
		return Briefing{}, err
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].UpdatedAt.After(entities[j].UpdatedAt) })
	for i, e := range entities {
		if i >= defaultRecentEntities {
			break
		}
		b.RecentEntities = append(b.RecentEntities, EntitySummary{
			Name: e.Name, EntityType: e.EntityType, Observations: truncateObservations(e.Observations),
		})
	}

	seq, err := s.session.IncrementBriefingSeq(ctx, project)
	if err != nil {
		return Briefing{}, err
	}
	b.BriefingSeq = seq

	return b, nil
}

func capMemories(m []store.Memory, n int) []store.Memory {
	if len(m) > n {
		return m[:n]
	}
	return m
}

func truncateObservations(obs []string) []string {
	n := len(obs)
	if n > maxObservationsPerEntity {
		n = maxObservationsPerEntity
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		o := obs[i]
		if len(o) > observationTruncateLen {
			o = o[:observationTruncateLen] + "…"
		}
		out[i] = o
	}
	return out
}

// Stats is the project-level summary from spec Section 4.11.
type Stats struct {
	MemoriesTotal      int
	MemoriesNonDeleted int
	Entities           int
	EdgesTotal         int
	EdgesContradiction int
	AverageConfidence  float64
	ByType             map[string]int
}

// Stats computes aggregate counts for project, including rows in the
// global scope. An empty project reports across every project that owns
// at least one memory.
func (s *Service) Stats(ctx context.Context, project string) (Stats, error) {
	if project == "" {
		projects, err := s.db.ListDistinctProjects(ctx)
		if err != nil {
			return Stats{}, err
		}
		total := Stats{ByType: map[string]int{}}
		var confidenceSum float64
		for _, p := range projects {
			st, err := s.statsForProject(ctx, p)
			if err != nil {
				return Stats{}, err
			}
			total.MemoriesTotal += st.MemoriesTotal
			total.MemoriesNonDeleted += st.MemoriesNonDeleted
			total.Entities += st.Entities
			total.EdgesTotal += st.EdgesTotal
			total.EdgesContradiction += st.EdgesContradiction
			confidenceSum += st.AverageConfidence * float64(st.MemoriesNonDeleted)
			for t, n := range st.ByType {
				total.ByType[t] += n
			}
		}
		if total.MemoriesNonDeleted > 0 {
			total.AverageConfidence = confidenceSum / float64(total.MemoriesNonDeleted)
		}
		return total, nil
	}
	return s.statsForProject(ctx, project)
}

func (s *Service) statsForProject(ctx context.Context, project string) (Stats, error) {
	st := Stats{ByType: map[string]int{}}

	allIncludingDeleted, err := s.db.ListMemories(ctx, project, 0, true)
	if err != nil {
		return Stats{}, err
	}
	st.MemoriesTotal = len(allIncludingDeleted)

	var confidenceSum float64
	for _, m := range allIncludingDeleted {
		if m.DeletedAt != nil {
			continue
		}
		st.MemoriesNonDeleted++
		confidenceSum += m.Confidence
		st.ByType[m.Type]++
	}
	if st.MemoriesNonDeleted > 0 {
		st.AverageConfidence = confidenceSum / float64(st.MemoriesNonDeleted)
	}

	entities, err := s.db.ListEntities(ctx, project)
	if err != nil {
		return Stats{}, err
	}
	st.Entities = len(entities)

	edges, err := s.db.ListEdges(ctx, project)
	if err != nil {
		return Stats{}, err
	}
	st.EdgesTotal = len(edges)
	for _, e := range edges {
		if strings.HasPrefix(e.RelationType, "contradiction_") {
			st.EdgesContradiction++
		}
	}

	return st, nil
}

var wordPattern = regexp.MustCompile(`[a-zA-Z']+`)

var suggestStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true, "with": true,
	"from": true, "for": true, "have": true, "has": true, "had": true,
	"about": true, "into": true, "than": true, "then": true, "also": true,
}

// Suggestion is a keyword-matched memory surfaced by SuggestFromContext.
type Suggestion struct {
	Memory store.Memory
	Score  int
}

// SuggestFromContext extracts content words longer than minSuggestWordLength
// from text, runs a weighted keyword match against project's memories, and
// returns at most limit suggestions. Per spec Section 9's open question,
// this deliberately does not use embeddings: long-content-word overlap
// alone determines ranking, and output is empty when no word passes the
// length filter.
func (s *Service) SuggestFromContext(ctx context.Context, text, project string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	words := contentWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	memories, err := s.db.AllMemoriesForProject(ctx, project)
	if err != nil {
		return nil, err
	}

	var hits []Suggestion
	for _, m := range memories {
		lower := strings.ToLower(m.Content)
		score := 0
		for word := range words {
			if strings.Contains(lower, word) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, Suggestion{Memory: m, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.UpdatedAt.After(hits[j].Memory.UpdatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func contentWords(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= minSuggestWordLength {
			continue
		}
		if suggestStopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}
