package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/logging"
	"github.com/54b3r/leann-go/internal/rag"
)

// NewAskCmd constructs the `leann ask` command, which prints the text of the
// best matching chunks as a short answer.
func NewAskCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Long: `Search for the question and print the concatenated text of the matching
chunks, truncated to 500 characters. No language model is involved.

Examples:
  leann ask "what is the refund window?"
  leann ask --limit 2 "who approves access requests?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer b.Close()

			svc, err := b.service()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			answer, err := svc.Ask(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), answer.Answer)
			return err
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", rag.DefaultLimit, "Maximum number of chunks to draw the answer from")

	return cmd
}
