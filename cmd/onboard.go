package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/relaymesh/callbridge/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Long: "Asks for the platform endpoints and writes a config file.\n" +
			"API keys are never written to disk; export them as environment variables:\n" +
			"  CALLBRIDGE_DIALER_API_KEY, CALLBRIDGE_AGENT_API_KEY, CALLBRIDGE_MESSAGING_API_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

func runOnboard(path string) error {
	cfg := config.Default()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Campaign platform API URL").
				Placeholder("https://dialer.example.com/api").
				Value(&cfg.Dialer.BaseURL),
			huh.NewInput().
				Title("Agent platform WebSocket URL").
				Placeholder("wss://agents.example.com").
				Value(&cfg.AgentLink.WSBaseURL),
			huh.NewInput().
				Title("Default agent ID (for inbound messages with no prior conversation)").
				Value(&cfg.AgentLink.DefaultAgentID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Messaging gateway API URL").
				Placeholder("https://messages.example.com/api").
				Value(&cfg.Messaging.BaseURL),
			huh.NewInput().
				Title("Sending identity (phone number or sender ID)").
				Value(&cfg.Messaging.Sender),
			huh.NewInput().
				Title("Webhook listen address").
				Value(&cfg.Messaging.WebhookAddr),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard cancelled: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Export your API keys and start the service with: callbridge")
	return nil
}
