package main

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"psycho/internal/config"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	printBanner()
	fmt.Println(bold("  Let's configure PsychoPortal."))
	fmt.Println(dim("  Settings are written to " + config.FilePath() + "; environment variables override them."))
	fmt.Println()

	values := map[string]string{}

	providerSelect := promptui.Select{
		Label: "LLM provider",
		Items: []string{config.ProviderAnthropic, config.ProviderOllama},
	}
	_, provider, err := providerSelect.Run()
	if err != nil {
		return err
	}
	values["llm_provider"] = provider

	switch provider {
	case config.ProviderAnthropic:
		key, err := (&promptui.Prompt{
			Label: "Anthropic API key",
			Mask:  '*',
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("api key is required")
				}
				return nil
			},
		}).Run()
		if err != nil {
			return err
		}
		values["anthropic_api_key"] = strings.TrimSpace(key)

		model, err := (&promptui.Prompt{
			Label:   "Model",
			Default: "claude-haiku-4-5-20251001",
		}).Run()
		if err != nil {
			return err
		}
		values["anthropic_model"] = strings.TrimSpace(model)

	case config.ProviderOllama:
		baseURL, err := (&promptui.Prompt{
			Label:   "Ollama base URL",
			Default: "http://localhost:11434",
		}).Run()
		if err != nil {
			return err
		}
		values["ollama_base_url"] = strings.TrimRight(strings.TrimSpace(baseURL), "/")

		model, err := (&promptui.Prompt{
			Label:   "Chat model",
			Default: "llama3.2",
		}).Run()
		if err != nil {
			return err
		}
		values["ollama_model"] = strings.TrimSpace(model)

		embedModel, err := (&promptui.Prompt{
			Label:   "Embedding model",
			Default: "nomic-embed-text",
		}).Run()
		if err != nil {
			return err
		}
		values["ollama_embed_model"] = strings.TrimSpace(embedModel)
	}

	braveKey, err := (&promptui.Prompt{
		Label:   "Brave Search API key (empty to disable web search)",
		Default: "",
	}).Run()
	if err != nil {
		return err
	}
	if key := strings.TrimSpace(braveKey); key != "" {
		values["brave_api_key"] = key
		values["web_search_enabled"] = "true"
	}

	if err := config.SaveEnvFile(config.FilePath(), values); err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(okText("  Configuration saved."))
	printSystem(`Run "psycho chat" to start talking.`)
	return nil
}
