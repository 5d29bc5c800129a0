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

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicAPIKeyHeaderKey  = "x-api-key"
	anthropicMessagesPath     = "/messages"
)

// AnthropicConfig configures the Anthropic messages client.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewAnthropicClient returns a Client backed by the Anthropic messages API.
func NewAnthropicClient(cfg AnthropicConfig, logger logging.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeoutSec * time.Second
	}
	return &anthropicClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}, nil
}

func (c *anthropicClient) Model() string { return c.model }

type anthropicContentBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *anthropicImageSrc `json:"source,omitempty"`
}

type anthropicImageSrc struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) payload(req Request, stream bool) map[string]any {
	req.applyDefaults()
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, anthropicMessage{
			Role:    msg.Role,
			Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
		})
	}
	payload := map[string]any{
		"model":       c.model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"messages":    messages,
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (c *anthropicClient) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + anthropicMessagesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(anthropicAPIKeyHeaderKey, c.apiKey)
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Transient(fmt.Errorf("anthropic request: %w", err), 0)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if errors.RetryableStatus(resp.StatusCode) {
			return nil, errors.Transient(err, resp.StatusCode)
		}
		return nil, errors.Permanent(err, resp.StatusCode)
	}
	return resp, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, c.payload(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp anthropicResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &Response{
		Content:      content.String(),
		Model:        apiResp.Model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		StopReason:   apiResp.StopReason,
	}, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Stream(ctx context.Context, req Request, onToken TokenHandler) (*Response, error) {
	resp, err := c.post(ctx, c.payload(req, true))
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
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var event anthropicStreamEvent
		if err := jsonx.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Debug("skipping malformed stream event: %v", err)
			continue
		}
		switch event.Type {
		case "message_start":
			if event.Message.Model != "" {
				result.Model = event.Message.Model
			}
			result.InputTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			content.WriteString(event.Delta.Text)
			if handlerErr == nil && onToken != nil {
				if err := onToken(event.Delta.Text); err != nil {
					handlerErr = err
				}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				result.StopReason = event.Delta.StopReason
			}
			if event.Usage.OutputTokens > 0 {
				result.OutputTokens = event.Usage.OutputTokens
			}
		}
		if handlerErr != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil && handlerErr == nil {
		handlerErr = fmt.Errorf("read stream: %w", err)
	}

	result.Content = content.String()
	return result, handlerErr
}

func (c *anthropicClient) CompleteWithImage(ctx context.Context, req ImageRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("anthropic: empty image")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages": []anthropicMessage{{
			Role: RoleUser,
			Content: []anthropicContentBlock{
				{Type: "image", Source: &anthropicImageSrc{
					Type:      "base64",
					MediaType: req.MediaType,
					Data:      base64.StdEncoding.EncodeToString(req.Image),
				}},
				{Type: "text", Text: req.Prompt},
			},
		}},
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp anthropicResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

// Embed is not available on the messages API; the vector layer falls back to
// the local embedder.
func (c *anthropicClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrNotSupported
}
