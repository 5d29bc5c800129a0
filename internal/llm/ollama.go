package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"psycho/internal/errors"
	"psycho/internal/jsonx"
	"psycho/internal/logging"
)

// OllamaConfig configures the local Ollama client.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

type ollamaClient struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOllamaClient returns a Client backed by a local Ollama server.
func NewOllamaClient(cfg OllamaConfig, logger logging.Logger) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeoutSec * time.Second
	}
	return &ollamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (c *ollamaClient) chatMessages(req Request) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, ollamaChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

func (c *ollamaClient) post(ctx context.Context, path string, payload map[string]any) (*http.Response, error) {
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Transient(fmt.Errorf("ollama request: %w", err), 0)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if errors.RetryableStatus(resp.StatusCode) {
			return nil, errors.Transient(err, resp.StatusCode)
		}
		return nil, errors.Permanent(err, resp.StatusCode)
	}
	return resp, nil
}

func (c *ollamaClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req.applyDefaults()
	payload := map[string]any{
		"model":    c.model,
		"messages": c.chatMessages(req),
		"stream":   false,
		"options": map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp ollamaChatResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", apiResp.Error)
	}
	return &Response{
		Content:      apiResp.Message.Content,
		Model:        apiResp.Model,
		InputTokens:  apiResp.PromptEvalCount,
		OutputTokens: apiResp.EvalCount,
		StopReason:   apiResp.DoneReason,
	}, nil
}

func (c *ollamaClient) Stream(ctx context.Context, req Request, onToken TokenHandler) (*Response, error) {
	req.applyDefaults()
	payload := map[string]any{
		"model":    c.model,
		"messages": c.chatMessages(req),
		"stream":   true,
		"options": map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	result := &Response{Model: c.model}
	var content strings.Builder
	var handlerErr error

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaChatResponse
		if err := jsonx.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk: %v", err)
			continue
		}
		if chunk.Error != "" {
			handlerErr = fmt.Errorf("ollama error: %s", chunk.Error)
			break
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if handlerErr == nil && onToken != nil {
				if err := onToken(chunk.Message.Content); err != nil {
					handlerErr = err
					break
				}
			}
		}
		if chunk.Done {
			result.InputTokens = chunk.PromptEvalCount
			result.OutputTokens = chunk.EvalCount
			result.StopReason = chunk.DoneReason
			break
		}
	}
	if err := scanner.Err(); err != nil && handlerErr == nil {
		handlerErr = fmt.Errorf("read stream: %w", err)
	}

	result.Content = content.String()
	return result, handlerErr
}

func (c *ollamaClient) CompleteWithImage(ctx context.Context, req ImageRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("ollama: empty image")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	messages := []ollamaChatMessage{}
	if req.System != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaChatMessage{
		Role:    RoleUser,
		Content: req.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
	})
	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options":  map[string]any{"num_predict": maxTokens},
	}
	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp ollamaChatResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", apiResp.Error)
	}
	return apiResp.Message.Content, nil
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	model := c.embedModel
	if model == "" {
		model = c.model
	}
	payload := map[string]any{
		"model": model,
		"input": text,
	}
	resp, err := c.post(ctx, "/api/embed", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp ollamaEmbedResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("ollama embed error: %s", apiResp.Error)
	}
	if len(apiResp.Embeddings) == 0 || len(apiResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding")
	}
	return apiResp.Embeddings[0], nil
}
