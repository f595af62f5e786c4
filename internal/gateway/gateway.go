package gateway

import (
	"context"
	"sync"
	"time"

	"justmemory/internal/config"
	"justmemory/internal/logging"
)

// Gateway wires the three model capabilities together and enforces the
// pre-warm / lazy-load split: the embedder is constructed and health-checked
// at startup, while NLI and the summarizer are only constructed on first
// use. Every public call returns a Result rather than an error so that a
// slow or absent model degrades quality, never correctness.
type Gateway struct {
	cfg *config.Config

	embedder    Embedder
	embedderErr error

	nliOnce sync.Once
	nli     NLI
	nliErr  error

	sumOnce sync.Once
	summ    Summarizer
	summErr error
}

// New constructs a Gateway and eagerly warms the embedder. A failed
// embedder health check is logged and recorded rather than returned;
// subsequent Embed calls then surface NotAvailable.
func New(ctx context.Context, cfg *config.Config) *Gateway {
	g := &Gateway{cfg: cfg}

	emb := NewOllamaEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.Dimension())
	warmCtx, cancel := context.WithTimeout(ctx, cfg.EffectiveEmbedTimeout())
	defer cancel()
	if err := emb.HealthCheck(warmCtx); err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("embedder health check failed, embeddings will report not_available: %v", err)
		g.embedderErr = err
	} else {
		logging.Embedding("embedder pre-warmed: %s, dimensions=%d", emb.Name(), emb.Dimensions())
	}
	g.embedder = emb
	return g
}

// Dimensions returns the fixed embedding width this Gateway was built with.
func (g *Gateway) Dimensions() int {
	return g.cfg.Embedding.Dimension()
}

// Embed produces a unit-norm embedding for text, bounded by the effective
// embed timeout (capped in Claude-Desktop mode).
func (g *Gateway) Embed(ctx context.Context, text string) Result[[]float32] {
	if g.embedderErr != nil {
		return NotAvailable[[]float32]()
	}
	return callWithTimeout(ctx, g.cfg.EffectiveEmbedTimeout(), func(ctx context.Context) ([]float32, error) {
		return g.embedder.Embed(ctx, text)
	})
}

// EmbedBatch embeds multiple texts under a single timeout budget.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) Result[[][]float32] {
	if g.embedderErr != nil {
		return NotAvailable[[][]float32]()
	}
	return callWithTimeout(ctx, g.cfg.EffectiveEmbedTimeout(), func(ctx context.Context) ([][]float32, error) {
		return g.embedder.EmbedBatch(ctx, texts)
	})
}

// ClassifyNLI constructs the NLI backend on first use (lazy), then classifies
// the pair under the NLI timeout. If no NLIModel is configured the
// capability is permanently NotAvailable.
func (g *Gateway) ClassifyNLI(ctx context.Context, premise, hypothesis string) Result[NLIVerdict] {
	g.nliOnce.Do(func() {
		if g.cfg.Gateway.NLIModel == "" {
			g.nliErr = errNotConfigured
			return
		}
		backend := NewOllamaNLI(g.cfg.Embedding.Endpoint, g.cfg.Gateway.NLIModel)
		checkCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Gateway.NLITimeout)
		defer cancel()
		if err := backend.HealthCheck(checkCtx); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("nli health check failed: %v", err)
			g.nliErr = err
			return
		}
		g.nli = backend
		logging.Embedding("nli backend lazily initialized: %s", backend.Name())
	})
	if g.nliErr != nil {
		return NotAvailable[NLIVerdict]()
	}
	return callWithTimeout(ctx, g.cfg.Gateway.NLITimeout, func(ctx context.Context) (NLIVerdict, error) {
		return g.nli.Classify(ctx, premise, hypothesis)
	})
}

// Summarize constructs the summarizer backend on first use, then summarizes
// under the summarize timeout.
func (g *Gateway) Summarize(ctx context.Context, text string, maxWords int) Result[string] {
	g.sumOnce.Do(func() {
		if g.cfg.Gateway.SummarizerModel == "" {
			g.summErr = errNotConfigured
			return
		}
		backend := NewOllamaSummarizer(g.cfg.Embedding.Endpoint, g.cfg.Gateway.SummarizerModel)
		checkCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Gateway.SummarizeTimeout)
		defer cancel()
		if err := backend.HealthCheck(checkCtx); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("summarizer health check failed: %v", err)
			g.summErr = err
			return
		}
		g.summ = backend
		logging.Embedding("summarizer backend lazily initialized: %s", backend.Name())
	})
	if g.summErr != nil {
		return NotAvailable[string]()
	}
	return callWithTimeout(ctx, g.cfg.Gateway.SummarizeTimeout, func(ctx context.Context) (string, error) {
		return g.summ.Summarize(ctx, text, maxWords)
	})
}

var errNotConfigured = &notConfiguredError{}

type notConfiguredError struct{}

func (*notConfiguredError) Error() string { return "capability not configured" }

// callWithTimeout runs fn against a derived context bounded by timeout, and
// maps its outcome onto the Result variant: context deadline exceeded
// becomes Timeout, any other error becomes NotAvailable, success becomes
// Ready.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) Result[T] {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	select {
	case <-callCtx.Done():
		return TimedOut[T]()
	case o := <-done:
		if o.err != nil {
			if callCtx.Err() != nil {
				return TimedOut[T]()
			}
			return NotAvailable[T]()
		}
		return Ready(o.val)
	}
}
