package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/internal/core/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or reset persisted rate limit windows",
}

func addWindowQueryFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("all", false, "Select every window")
	cmd.Flags().String("subject", "", "Select windows of one subject id")
	cmd.Flags().String("category", "", "Select windows of one category (messages, downloads, broadcasts)")
}

func windowQueryFromFlags(cmd *cobra.Command) store.WindowQuery {
	all, _ := cmd.Flags().GetBool("all")
	subject, _ := cmd.Flags().GetString("subject")
	category, _ := cmd.Flags().GetString("category")
	return store.WindowQuery{
		All:      all,
		Subject:  strings.TrimSpace(subject),
		Category: strings.TrimSpace(category),
	}
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
