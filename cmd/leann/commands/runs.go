package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/store"
)

// NewRunsCmd constructs the `leann runs` command, which lists recent
// indexing passes from the run history database.
func NewRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent indexing passes",
		Long: `Print the most recent indexing passes, newest first, as JSON.

History lives in <LEANN_DATA_DIR>/index.db unless LEANN_HISTORY_DB points
elsewhere.

Examples:
  leann runs
  leann runs --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if limit <= 0 {
				return fmt.Errorf("runs: --limit must be positive, got %d", limit)
			}

			rs := openRunStore(log)
			if rs == nil {
				return fmt.Errorf("runs: run history is unavailable")
			}
			defer func() { _ = rs.Close() }()

			runs, err := rs.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			if runs == nil {
				runs = []store.Run{}
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}
