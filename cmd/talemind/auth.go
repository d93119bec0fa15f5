package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/azyu/talemind/internal/app"
	"github.com/azyu/talemind/internal/styles"
	"github.com/azyu/talemind/pkg/types"
)

// providerLabels names the supported providers in display order.
var providerLabels = []struct {
	name  string
	label string
}{
	{"openai", "OpenAI"},
	{"gemini", "Google Gemini"},
	{"local", "Local (OpenAI compatible)"},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Configure LLM provider credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")
		remove, _ := cmd.Flags().GetString("remove")
		provider, _ := cmd.Flags().GetString("provider")

		cm, err := app.NewConfigManager()
		if err != nil {
			return err
		}
		switch {
		case list:
			return listProviders(cm)
		case remove != "":
			return removeProvider(cm, remove)
		case provider != "":
			return setupProvider(cm, provider)
		}

		var name string
		options := make([]huh.Option[string], len(providerLabels))
		for i, p := range providerLabels {
			options[i] = huh.NewOption(p.label, p.name)
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Select provider to configure").
					Options(options...).
					Value(&name),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("provider selection failed: %w", err)
		}
		return setupProvider(cm, name)
	},
}

func listProviders(cm *app.ConfigManager) error {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	names := make([]string, 0, len(config.Providers))
	for name := range config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Println("No providers configured. Run 'talemind auth' to add one.")
		return nil
	}

	fmt.Println(styles.Header.Render("Configured providers"))
	for _, name := range names {
		p := config.Providers[name]
		title := name
		if config.Defaults.Provider == name {
			title += " (default)"
		}
		fmt.Println("  " + styles.Title.Render(title))
		if p.APIKey != "" {
			fmt.Println("    " + styles.KV("API key", maskAPIKey(p.APIKey)))
		}
		if p.DefaultModel != "" {
			fmt.Println("    " + styles.KV("model", p.DefaultModel))
		}
		if p.BaseURL != "" {
			fmt.Println("    " + styles.KV("base URL", p.BaseURL))
		}
	}
	return nil
}

// maskAPIKey keeps the first and last four characters of longer keys.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func removeProvider(cm *app.ConfigManager, name string) error {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if _, ok := config.Providers[name]; !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	delete(config.Providers, name)

	if config.Defaults.Provider == name {
		config.Defaults.Provider = nextDefault(config.Providers)
	}
	if err := cm.SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println(styles.SuccessText.Render(fmt.Sprintf("Provider %q removed.", name)))
	return nil
}

// nextDefault picks the first remaining provider by name.
func nextDefault(providers map[string]*types.ProviderConfig) string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func setupProvider(cm *app.ConfigManager, name string) error {
	config, err := cm.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	p := config.Providers[name]
	if p == nil {
		p = &types.ProviderConfig{}
	}

	switch name {
	case "openai":
		err = providerForm(p, "OpenAI API Key", "sk-...", []huh.Option[string]{
			huh.NewOption("GPT-4o (recommended)", "gpt-4o"),
			huh.NewOption("GPT-4o Mini", "gpt-4o-mini"),
			huh.NewOption("GPT-4.1", "gpt-4.1"),
		})
	case "gemini":
		err = providerForm(p, "Gemini API Key", "Get from ai.google.dev", []huh.Option[string]{
			huh.NewOption("Gemini 2.5 Flash (recommended)", "gemini-2.5-flash"),
			huh.NewOption("Gemini 2.5 Pro", "gemini-2.5-pro"),
			huh.NewOption("Gemini 2.0 Flash", "gemini-2.0-flash"),
		})
	case "local":
		err = localForm(p)
	default:
		return fmt.Errorf("unknown provider: %s (supported: openai, gemini, local)", name)
	}
	if err != nil {
		return err
	}
	if config.Providers == nil {
		config.Providers = make(map[string]*types.ProviderConfig)
	}
	config.Providers[name] = p

	setDefault := config.Defaults.Provider == "" || config.Defaults.Provider == name
	if !setDefault {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Set as default provider?").
					Value(&setDefault),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("default selection failed: %w", err)
		}
	}
	if setDefault {
		config.Defaults.Provider = name
	}

	if err := cm.SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println(styles.SuccessText.Render(fmt.Sprintf("✓ %s configured", name)))
	return nil
}

func providerForm(p *types.ProviderConfig, keyTitle, placeholder string, models []huh.Option[string]) error {
	var apiKey, model string
	if p.APIKey != "" {
		keyTitle += " (current: " + maskAPIKey(p.APIKey) + ")"
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(keyTitle).
				Placeholder(placeholder).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewSelect[string]().
				Title("Default model").
				Options(models...).
				Value(&model),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("provider setup failed: %w", err)
	}
	if apiKey != "" {
		p.APIKey = apiKey
	}
	if model != "" {
		p.DefaultModel = model
	}
	return nil
}

func localForm(p *types.ProviderConfig) error {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = app.DefaultLocalBaseURL
	}
	model := p.DefaultModel
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Value(&baseURL),
			huh.NewInput().
				Title("Model name").
				Placeholder("llama3.1").
				Value(&model),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("local setup failed: %w", err)
	}
	p.BaseURL = baseURL
	p.DefaultModel = model
	return nil
}

func init() {
	authCmd.Flags().BoolP("list", "l", false, "List configured providers")
	authCmd.Flags().StringP("remove", "r", "", "Remove a provider configuration")
	authCmd.Flags().StringP("provider", "p", "", "Configure a specific provider")
}
