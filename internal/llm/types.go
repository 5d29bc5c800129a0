package llm

import (
	"context"
	"errors"
)

// Message roles as sent to providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of provider conversation input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries a completion or streaming call.
type Request struct {
	Messages    []Message
	System      string
	MaxTokens   int
	Temperature float64
}

// ImageRequest carries a vision call.
type ImageRequest struct {
	Image     []byte
	MediaType string
	Prompt    string
	System    string
	MaxTokens int
}

// Response is the provider-neutral completion result.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// TokenHandler receives streamed content chunks. Returning an error aborts
// stream consumption; whatever accumulated is still returned to the caller.
type TokenHandler func(token string) error

// ErrNotSupported marks optional capabilities a provider lacks
// (vision, embeddings). Callers degrade gracefully.
var ErrNotSupported = errors.New("llm: operation not supported by provider")

// Client is the narrow provider contract the runtime depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request, onToken TokenHandler) (*Response, error)
	CompleteWithImage(ctx context.Context, req ImageRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Defaults shared by providers.
const (
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	ExtractionMaxTokens   = 1500
	DefaultHTTPTimeoutSec = 120
)

func (r *Request) applyDefaults() {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
}
