package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/internal/core/store"
	"github.com/relaybot/relaybot/internal/output"
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete persisted rate limit windows",
	Long: `Delete persisted rate limit windows selected by --all, --subject or
--category. Stop the bot first: a running bot rewrites the windows it holds
in memory on its next admission.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := windowQueryFromFlags(cmd)
		if err := query.Validate(); err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		kv, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer kv.Close() // nolint:errcheck // best-effort cleanup

		counters := store.NewCounters(kv)
		matched, err := counters.Count(cmd.Context(), query)
		if err != nil && !errors.Is(err, store.ErrCorrupt) {
			return err
		}

		return withSink(cmd, "rate-limit.reset", format, func(w io.Writer) error {
			if dryRun {
				return writeRateLimitResetResult(format, w, matched, 0, true)
			}
			deleted, err := counters.Reset(cmd.Context(), query)
			if err != nil {
				return err
			}
			return writeRateLimitResetResult(format, w, matched, deleted, false)
		})
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d rate limit window(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d rate limit window(s)\n", deleted, matched)
	return err
}

func init() {
	addWindowQueryFlags(rateLimitResetCmd)
	addOutputFlags(rateLimitResetCmd)
	rateLimitResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
}
