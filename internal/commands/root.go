package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docledger/docledger/internal/buildinfo"
	"github.com/docledger/docledger/internal/config"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/workspace"
)

type globalFlags struct {
	dir       string
	logLevel  string
	logFormat string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "docledger",
		Short:   "Turn invoices and receipts into cost and revenue ledgers",
		Version: versionString(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides docledger.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text or json (overrides docledger.yaml)")

	rootCmd.AddCommand(
		newInitCommand(g),
		newIngestCommand(g),
		newLedgerCommand(g),
		newServeCommand(g),
		newVersionCommand(),
	)

	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
}

// openWorkspace loads the workspace and installs its logging settings. Flags
// take precedence over the file.
func (g *globalFlags) openWorkspace() (*workspace.Workspace, error) {
	level, format := g.logLevel, g.logFormat
	if cfg, err := config.Load(filepath.Join(g.dir, config.FileName)); err == nil {
		if level == "" {
			level = cfg.Logging.Level
		}
		if format == "" {
			format = cfg.Logging.Format
		}
	}
	if err := logging.Init(os.Stderr, level, format); err != nil {
		return nil, err
	}
	return workspace.Open(g.dir, workspace.WithLogger(logging.New("workspace")))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docledger %s\n", versionString())
		},
	}
}
