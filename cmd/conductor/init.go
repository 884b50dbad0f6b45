package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"conductor/internal/infra/backend"
	"conductor/internal/shared/config"
)

var providerDefaults = map[string]struct{ model, keyEnv string }{
	backend.ProviderOpenAI:    {model: "gpt-4o-mini", keyEnv: "OPENAI_API_KEY"},
	backend.ProviderAnthropic: {model: "claude-3-5-haiku-latest", keyEnv: "ANTHROPIC_API_KEY"},
	backend.ProviderMock:      {model: "mock"},
}

func newInitCommand(root *rootOptions) *cobra.Command {
	var (
		output string
		yes    bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter conductor.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.configPath
			}
			if output == "" {
				output = config.ConfigName + ".yaml"
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			cfg := config.Default()
			if !yes && isTTY() {
				b, epsilon, err := promptBackend()
				if err != nil {
					return err
				}
				cfg.Backends = []config.BackendConfig{b}
				cfg.Selector.Epsilon = epsilon
			}
			if err := config.Save(cfg, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", green("✓"), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the config")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func promptBackend() (config.BackendConfig, float64, error) {
	sel := promptui.Select{
		Label: "Backend provider",
		Items: []string{backend.ProviderOpenAI, backend.ProviderAnthropic, backend.ProviderMock},
	}
	_, provider, err := sel.Run()
	if err != nil {
		return config.BackendConfig{}, 0, err
	}
	defaults := providerDefaults[provider]

	name, err := (&promptui.Prompt{Label: "Backend name", Default: provider, Validate: notBlank}).Run()
	if err != nil {
		return config.BackendConfig{}, 0, err
	}
	model, err := (&promptui.Prompt{Label: "Model", Default: defaults.model, Validate: notBlank}).Run()
	if err != nil {
		return config.BackendConfig{}, 0, err
	}
	keyEnv := ""
	if provider != backend.ProviderMock {
		keyEnv, err = (&promptui.Prompt{Label: "API key environment variable", Default: defaults.keyEnv, Validate: notBlank}).Run()
		if err != nil {
			return config.BackendConfig{}, 0, err
		}
	}
	epsilonRaw, err := (&promptui.Prompt{Label: "Exploration rate (0-1)", Default: "0.2", Validate: validateUnit}).Run()
	if err != nil {
		return config.BackendConfig{}, 0, err
	}
	epsilon, _ := strconv.ParseFloat(epsilonRaw, 64)

	return config.BackendConfig{
		Name:      strings.TrimSpace(name),
		Provider:  provider,
		Model:     strings.TrimSpace(model),
		APIKeyEnv: strings.TrimSpace(keyEnv),
	}, epsilon, nil
}

func notBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("value is required")
	}
	return nil
}

func validateUnit(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}
