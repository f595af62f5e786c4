package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"justmemory/internal/logging"
)

// queryPrefix is the domain tag prepended to embedder inputs to match the
// convention of instruction-tuned embedding models ("query: " / "passage: ").
const queryPrefix = "query: "

// OllamaEmbedder generates embeddings via a local Ollama server and
// re-normalizes them to the dimension selected at startup.
type OllamaEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaEmbedder constructs an embedder against an Ollama endpoint.
// dimensions is the dimension selected at startup (384 or 1024); the raw
// model output is projected to this length by truncation or zero-padding,
// then renormalized, so the Vector Store always sees a fixed-width vector
// regardless of which underlying model produced it.
func NewOllamaEmbedder(endpoint, model string, dimensions int) *OllamaEmbedder {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	return &OllamaEmbedder{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{},
	}
}

func (e *OllamaEmbedder) Name() string      { return fmt.Sprintf("ollama:%s", e.model) }
func (e *OllamaEmbedder) Dimensions() int   { return e.dimensions }

// HealthCheck performs a lightweight embed of a short probe string.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	_, err := e.raw(ctx, "ok")
	return err
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.raw(ctx, queryPrefix+text)
	if err != nil {
		return nil, err
	}
	return fitAndNormalize(vec, e.dimensions), nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *OllamaEmbedder) raw(ctx context.Context, prompt string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embedding, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// fitAndNormalize truncates or zero-pads v to length d and renormalizes to
// unit length.
func fitAndNormalize(v []float32, d int) []float32 {
	fitted := make([]float32, d)
	copy(fitted, v)

	var sumSq float64
	for _, x := range fitted {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return fitted
	}
	norm := math.Sqrt(sumSq)
	for i := range fitted {
		fitted[i] = float32(float64(fitted[i]) / norm)
	}
	return fitted
}

// OllamaNLI classifies entailment via Ollama's generate endpoint with a
// constrained zero-shot prompt.
type OllamaNLI struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaNLI constructs an NLI backend against an Ollama endpoint.
func NewOllamaNLI(endpoint, model string) *OllamaNLI {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaNLI{endpoint: endpoint, model: model, client: &http.Client{}}
}

func (n *OllamaNLI) Name() string { return fmt.Sprintf("ollama:%s", n.model) }

func (n *OllamaNLI) HealthCheck(ctx context.Context) error {
	_, err := n.generate(ctx, "reply with the single word: ok")
	return err
}

func (n *OllamaNLI) Classify(ctx context.Context, premise, hypothesis string) (NLIVerdict, error) {
	prompt := fmt.Sprintf(`Premise: %q
Hypothesis: %q
Classify the relationship as exactly one word (entailment, neutral, or contradiction), followed by a confidence between 0 and 1, separated by a space. Respond with nothing else.`, premise, hypothesis)

	reply, err := n.generate(ctx, prompt)
	if err != nil {
		return NLIVerdict{}, err
	}
	return parseNLIReply(reply), nil
}

func parseNLIReply(reply string) NLIVerdict {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(reply)))
	v := NLIVerdict{Label: NLINeutral, Score: 0}
	if len(fields) == 0 {
		return v
	}
	switch {
	case strings.HasPrefix(fields[0], "entail"):
		v.Label = NLIEntailment
	case strings.HasPrefix(fields[0], "contra"):
		v.Label = NLIContradiction
	default:
		v.Label = NLINeutral
	}
	if len(fields) > 1 {
		var score float64
		if _, err := fmt.Sscanf(fields[1], "%f", &score); err == nil {
			v.Score = score
		}
	}
	return v
}

// OllamaSummarizer condenses text via Ollama's generate endpoint.
type OllamaSummarizer struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaSummarizer constructs a summarizer backend against an Ollama endpoint.
func NewOllamaSummarizer(endpoint, model string) *OllamaSummarizer {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaSummarizer{endpoint: endpoint, model: model, client: &http.Client{}}
}

func (s *OllamaSummarizer) Name() string { return fmt.Sprintf("ollama:%s", s.model) }

func (s *OllamaSummarizer) HealthCheck(ctx context.Context) error {
	_, err := s.generate(ctx, "reply with the single word: ok")
	return err
}

func (s *OllamaSummarizer) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	prompt := fmt.Sprintf("Summarize the following in at most %d words, plain text, no preamble:\n\n%s", maxWords, text)
	return s.generate(ctx, prompt)
}

func (n *OllamaNLI) generate(ctx context.Context, prompt string) (string, error) {
	return ollamaGenerate(ctx, n.client, n.endpoint, n.model, prompt)
}

func (s *OllamaSummarizer) generate(ctx context.Context, prompt string) (string, error) {
	return ollamaGenerate(ctx, s.client, s.endpoint, s.model, prompt)
}

func ollamaGenerate(ctx context.Context, client *http.Client, endpoint, model, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama generate status %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	logging.EmbeddingDebug("ollama generate: model=%s prompt_len=%d reply_len=%d", model, len(prompt), len(out.Response))
	return out.Response, nil
}
