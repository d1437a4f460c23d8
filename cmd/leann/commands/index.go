package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/logging"
)

// NewIndexCmd constructs the `leann index` command, which runs one indexing
// pass over a documents directory and prints the pass summary.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Index a documents directory into the vector store",
		Long: `Walk a directory recursively, extract text from .pdf, .docx, .txt and .md
files, split it into overlapping word chunks and upsert them into the vector
store. Chunk ids are deterministic, so re-running replaces earlier points
instead of duplicating them.

The directory defaults to LEANN_DOCUMENTS_DIR (/app/documents).

Examples:
  leann index
  leann index ./docs
  CHUNK_SIZE=500 CHUNK_OVERLAP=50 leann index ./docs`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			dir := documentsDir()
			if len(args) == 1 {
				dir = args[0]
			}

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer b.Close()

			runs := openRunStore(log)
			if runs != nil {
				defer func() { _ = runs.Close() }()
			}

			pipeline, err := b.pipeline(runs, nil)
			if err != nil {
				return fmt.Errorf("index: failed to create pipeline: %w", err)
			}

			res, err := pipeline.Index(ctx, dir)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), struct {
				Dir        string `json:"dir"`
				Files      int    `json:"files"`
				Skipped    int    `json:"skipped"`
				Failed     int    `json:"failed"`
				Chunks     int    `json:"chunks"`
				DurationMS int64  `json:"duration_ms"`
			}{dir, res.Files, res.Skipped, res.Failed, res.Chunks, res.Duration.Milliseconds()})
		},
	}

	return cmd
}
