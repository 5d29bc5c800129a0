package llm

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted in-memory client for tests. Responses are consumed in
// order; when the script runs out the last entry repeats.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	Requests  []Request
	ModelName string
	EmbedDim  int
}

// NewMock returns a mock that replies with the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses, ModelName: "mock", EmbedDim: 16}
}

// FailWith queues an error for the next call.
func (m *Mock) FailWith(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

func (m *Mock) next(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return m.responses[idx], nil
}

// Calls reports how many completion calls were made.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Model() string { return m.ModelName }

func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content:      content,
		Model:        m.ModelName,
		InputTokens:  len(req.Messages) * 10,
		OutputTokens: len(content) / 4,
		StopReason:   "end_turn",
	}, nil
}

func (m *Mock) Stream(ctx context.Context, req Request, onToken TokenHandler) (*Response, error) {
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	// Stream word by word so callers exercise accumulation.
	var sent strings.Builder
	for _, word := range strings.SplitAfter(content, " ") {
		if word == "" {
			continue
		}
		sent.WriteString(word)
		if onToken != nil {
			if err := onToken(word); err != nil {
				return &Response{Content: sent.String(), Model: m.ModelName}, err
			}
		}
	}
	return &Response{
		Content:      content,
		Model:        m.ModelName,
		OutputTokens: len(content) / 4,
		StopReason:   "end_turn",
	}, nil
}

func (m *Mock) CompleteWithImage(ctx context.Context, req ImageRequest) (string, error) {
	content, err := m.next(Request{System: req.System, Messages: []Message{{Role: RoleUser, Content: req.Prompt}}})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Embed returns a deterministic vector derived from the text so similarity
// is stable across calls.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := m.EmbedDim
	if dim <= 0 {
		dim = 16
	}
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r%13) / 13
	}
	return vec, nil
}
