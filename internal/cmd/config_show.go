package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/relaybot/relaybot/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal-secrets")
		if !reveal {
			redactSecrets(cfg)
		}

		payload, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		if source := viper.ConfigFileUsed(); source != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", source)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# source: defaults and environment")
		}
		_, err = cmd.OutOrStdout().Write(payload)
		return err
	},
}

func redactSecrets(cfg *config.Config) {
	for _, secret := range []*string{
		&cfg.Telegram.Token,
		&cfg.AI.APIKey,
		&cfg.Store.AuthToken,
		&cfg.Store.Redis.Password,
	} {
		if strings.TrimSpace(*secret) != "" {
			*secret = redacted
		}
	}
}

func init() {
	configShowCmd.Flags().Bool("reveal-secrets", false, "Print tokens and keys in clear text")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
