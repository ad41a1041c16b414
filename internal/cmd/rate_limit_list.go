package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/internal/core/store"
	"github.com/relaybot/relaybot/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted rate limit windows",
	Long: `List persisted rate limit windows.

Without a selector every window is listed. Timestamps are the admitted
actions still on record; expired entries are pruned the next time the bot
admits an action for that subject.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		kv, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer kv.Close() // nolint:errcheck // best-effort cleanup

		query := windowQueryFromFlags(cmd)
		if query.Subject == "" && query.Category == "" {
			query.All = true
		}

		windows, err := store.NewCounters(kv).List(cmd.Context(), query)
		if err != nil {
			return err
		}

		return withSink(cmd, "rate-limit.list", format, func(w io.Writer) error {
			if len(windows) == 0 && format == output.FormatTable {
				lines := []string{"Rate Limits", "", "(no stored rate limit windows)"}
				_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
				return err
			}

			rendered, err := output.NewFormatter(format).FormatWindows(windows)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, rendered)
			return err
		})
	},
}

func init() {
	addWindowQueryFlags(rateLimitListCmd)
	addOutputFlags(rateLimitListCmd)
}
