package search

import (
	"context"
	"sort"
	"time"

	"justmemory/internal/logging"
	"justmemory/internal/store"
)

// ActivationParams configures a spreading activation run, per spec Section
// 4.7: decay factor δ∈(0,1], lateral-inhibition cap C>0, and a min
// activation ε below which spreading stops.
type ActivationParams struct {
	MaxHops        int
	Decay          float64
	InhibitionCap  float64
	MinActivation  float64
	AsOf           time.Time
	IncludeInvalid bool
}

// DefaultActivationParams matches the values the rest of the module uses
// when a caller doesn't override them.
func DefaultActivationParams() ActivationParams {
	return ActivationParams{
		MaxHops:       3,
		Decay:         0.6,
		InhibitionCap: 1.0,
		MinActivation: 0.05,
		AsOf:          time.Now().UTC(),
	}
}

// Activation is a memory's spread score and the hop depth at which it was
// first reached.
type Activation struct {
	MemoryID string
	Score    float64
	Depth    int
}

type frontierItem struct {
	id    string
	depth int
}

// Spread runs the spreading-activation algorithm from a set of seed memory
// ids. Lateral inhibition (the cap C) prevents activation concentrating on
// hub memories; path uniqueness (never re-entering a node already on the
// current path) prevents cycles from looping energy indefinitely.
func (s *Service) Spread(ctx context.Context, project string, seeds []string, p ActivationParams) ([]Activation, error) {
	activation := make(map[string]float64, len(seeds))
	depth := make(map[string]int, len(seeds))
	onPath := make(map[string]bool, len(seeds))
	frontier := make([]frontierItem, 0, len(seeds))

	for _, seed := range seeds {
		activation[seed] = 1.0
		depth[seed] = 0
		onPath[seed] = true
		frontier = append(frontier, frontierItem{id: seed, depth: 0})
	}

	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]

		if n.depth >= p.MaxHops {
			continue
		}
		if activation[n.id] < p.MinActivation {
			continue
		}

		neighbors, err := s.db.QueryEdges(ctx, n.id, project, store.DirectionBoth, p.IncludeInvalid)
		if err != nil {
			return nil, err
		}
		if len(neighbors) == 0 {
			continue
		}

		out := activation[n.id] * p.Decay
		perEdge := out / float64(max(1, len(neighbors)))

		for _, edge := range neighbors {
			v := edge.ToID
			if v == n.id {
				v = edge.FromID
			}
			if onPath[v] {
				continue
			}
			gain := perEdge * edge.Confidence
			if gain < p.MinActivation {
				continue
			}
			current := activation[v]
			next := current + gain
			if next > p.InhibitionCap {
				next = p.InhibitionCap
			}
			if next > current {
				activation[v] = next
				onPath[v] = true
				d := n.depth + 1
				if existing, ok := depth[v]; !ok || d < existing {
					depth[v] = d
				}
				frontier = append(frontier, frontierItem{id: v, depth: depth[v]})
			}
		}
	}

	out := make([]Activation, 0, len(activation))
	for id, score := range activation {
		out = append(out, Activation{MemoryID: id, Score: score, Depth: depth[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	logging.Get(logging.CategorySearch).Debug("spreading activation: %d seeds, %d reached within %d hops", len(seeds), len(out), p.MaxHops)
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Contextual seeds activation from keyword hits and boosts the seed
// memories' own activation by ×1.5 (clamped at 1) before returning the
// spread results hydrated into full Memory rows.
func (s *Service) Contextual(ctx context.Context, project, query string, limit int, p ActivationParams) ([]Result, error) {
	seeds, err := s.Keyword(ctx, project, query, limit, 0)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	seedIDs := make([]string, len(seeds))
	seedSet := make(map[string]bool, len(seeds))
	for i, r := range seeds {
		seedIDs[i] = r.Memory.ID
		seedSet[r.Memory.ID] = true
	}

	activations, err := s.Spread(ctx, project, seedIDs, p)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(activations))
	for _, a := range activations {
		score := a.Score
		if seedSet[a.MemoryID] {
			score *= seedBoostFactor
			if score > 1 {
				score = 1
			}
		}
		m, err := s.db.GetMemory(ctx, a.MemoryID, project, false)
		if err != nil {
			continue
		}
		out = append(out, Result{Memory: m, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
