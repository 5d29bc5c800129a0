package vector

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"

	"psycho/internal/llm"
	"psycho/internal/logging"
)

// Embedder turns text into a vector. Implementations must be deterministic
// for identical input within one process lifetime.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const localEmbedderDim = 256

// LocalEmbedder is a deterministic hashed bag-of-tokens encoder. It is the
// offline fallback when the provider has no embedding endpoint; quality is
// modest but similarity of related texts is preserved well enough for
// retrieval to keep working.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder returns the offline embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dim: localEmbedderDim}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.dim
	if dim <= 0 {
		dim = localEmbedderDim
	}
	vec := make([]float32, dim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		vec[0] = 1
		return vec, nil
	}
	for _, token := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(dim))
		// Sign from a second hash bit reduces collision bias.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
		// Character bigrams give partial credit to near-identical tokens.
		for i := 0; i+2 <= len(token); i++ {
			g := fnv.New32a()
			_, _ = g.Write([]byte(token[i : i+2]))
			vec[int(g.Sum32()%uint32(dim))] += 0.25
		}
	}
	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// ProviderEmbedder embeds through the LLM client, falling back to the local
// encoder once the provider reports embeddings are unsupported.
type ProviderEmbedder struct {
	client   llm.Client
	fallback *LocalEmbedder
	logger   logging.Logger
	degraded bool
}

// NewProviderEmbedder wraps client with the offline fallback.
func NewProviderEmbedder(client llm.Client, logger logging.Logger) *ProviderEmbedder {
	return &ProviderEmbedder{
		client:   client,
		fallback: NewLocalEmbedder(),
		logger:   logging.OrNop(logger),
	}
}

func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.degraded && e.client != nil {
		vec, err := e.client.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec, nil
		}
		if errors.Is(err, llm.ErrNotSupported) {
			// Dimensions must stay consistent within a collection, so the
			// switch to the local encoder is permanent for this process.
			e.degraded = true
			e.logger.Info("provider has no embedding endpoint, using local encoder")
		} else if err != nil {
			e.logger.Debug("provider embed failed, using local encoder for this text: %v", err)
		}
	}
	return e.fallback.Embed(ctx, text)
}
