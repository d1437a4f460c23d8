// Package commands defines all Cobra CLI commands for the leann binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/leann-go/internal/audit"
	"github.com/54b3r/leann-go/internal/config"
	"github.com/54b3r/leann-go/internal/logging"
)

// configPath holds the --config flag value for config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leann",
		Short: "Semantic search over a local documents directory",
		Long: `leann indexes a directory of PDF, DOCX, Markdown and text files into a
vector store and answers search and ask queries against it.

Settings come from environment variables, an optional .env file in the
working directory, or a YAML/TOML config file (~/.leann/config.yaml).
See 'leann --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first, then the config file; neither overrides set env vars.
			if err := config.LoadDotEnv(".env", log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML or TOML config file (default: ~/.leann/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIndexCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewRunsCmd(),
		NewVersionCmd(),
	)

	return root
}
