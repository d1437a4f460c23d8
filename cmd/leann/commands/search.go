package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/rag"
)

// NewSearchCmd constructs the `leann search` command, which prints the
// ranked chunks for a query as JSON.
func NewSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed documents",
		Long: `Embed the query and print the closest chunks as a JSON array of
{id, title, content, score, metadata}, best match first.

Examples:
  leann search "retention policy"
  leann search --limit 3 "how are backups scheduled?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer b.Close()

			svc, err := b.service()
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			results, err := svc.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if results == nil {
				results = []rag.SearchResult{}
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", rag.DefaultLimit, "Maximum number of results")

	return cmd
}
