package gateway

import "context"

// NLILabel is the classification emitted by an NLI check.
type NLILabel string

const (
	NLIEntailment    NLILabel = "entailment"
	NLINeutral       NLILabel = "neutral"
	NLIContradiction NLILabel = "contradiction"
)

// NLIVerdict is the result of classifying a premise/hypothesis pair.
type NLIVerdict struct {
	Label NLILabel
	Score float64
}

// Embedder produces a unit-norm vector of fixed dimension for a piece of
// text. Implementations prefix inputs with a domain tag ("query: ") to
// match the conventions of the underlying model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// NLI classifies a (premise, hypothesis) pair as entailment, neutral, or
// contradiction with a confidence score.
type NLI interface {
	Classify(ctx context.Context, premise, hypothesis string) (NLIVerdict, error)
	Name() string
}

// Summarizer condenses text, used for briefing generation.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
	Name() string
}

// HealthChecker is implemented by backends that can report availability
// without performing a full call.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
