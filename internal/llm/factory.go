package llm

import (
	"fmt"

	"psycho/internal/config"
	"psycho/internal/errors"
	"psycho/internal/logging"
)

// New builds the configured provider client wrapped with retries.
func New(cfg *config.Config, logger logging.Logger) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		}, logger)
	case config.ProviderOllama:
		client, err = NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.OllamaBaseURL,
			Model:      cfg.OllamaModel,
			EmbedModel: cfg.OllamaEmbedModel,
		}, logger)
	case config.ProviderMock:
		return NewMock("ok"), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(client, errors.DefaultRetryConfig(), logger), nil
}
