package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/internal/core/store"
	"github.com/relaybot/relaybot/internal/output"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Inspect the known subjects directory",
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects the bot has seen, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		kv, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer kv.Close() // nolint:errcheck // best-effort cleanup

		directory := store.NewSubjects(kv)
		profiles, err := directory.List(cmd.Context())
		if err != nil {
			return err
		}
		sort.SliceStable(profiles, func(i, j int) bool {
			return profiles[i].LastActivity.After(profiles[j].LastActivity)
		})
		if limit > 0 && len(profiles) > limit {
			profiles = profiles[:limit]
		}

		return withSink(cmd, "subjects.list", format, func(w io.Writer) error {
			rendered, err := output.NewFormatter(format).FormatSubjects(profiles)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, rendered); err != nil {
				return err
			}

			if format != output.FormatTable {
				return nil
			}
			stats, err := directory.Stats(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "Users: %d  Messages: %d  Active today: %d\n",
				stats.TotalSubjects, stats.TotalMessages, stats.ActiveToday)
			return err
		})
	},
}

func init() {
	addOutputFlags(subjectsListCmd)
	subjectsListCmd.Flags().Int("limit", 0, "Show at most this many subjects (0 for all)")
	subjectsCmd.AddCommand(subjectsListCmd)
	rootCmd.AddCommand(subjectsCmd)
}
