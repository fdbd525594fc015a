package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docledger/docledger/internal/batchlog"
	"github.com/docledger/docledger/internal/config"
	"github.com/docledger/docledger/internal/gitops"
	"github.com/docledger/docledger/internal/inbox"
	"github.com/docledger/docledger/internal/ledger"
)

func newInitCommand(g *globalFlags) *cobra.Command {
	var name string
	var base, foreign string
	var noGit bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new docledger workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := g.dir
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			cfg := config.Default(name)
			if base != "" {
				cfg.Currency.Base = base
			}
			if foreign != "" {
				cfg.Currency.Foreign = foreign
			}
			return runInit(cmd.OutOrStdout(), absDir, cfg, !noGit)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&base, "base-currency", "", "currency the ledgers are kept in")
	cmd.Flags().StringVar(&foreign, "foreign-currency", "", "foreign currency converted on ingestion")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "do not create a git repository")

	return cmd
}

func runInit(out io.Writer, dir string, cfg *config.Config, withGit bool) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	dirs := []string{
		inbox.Dir,
		inbox.ProcessedDir,
		filepath.Dir(batchlog.File),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := ledger.Open(dir).Init(); err != nil {
		return fmt.Errorf("creating ledgers: %w", err)
	}

	// Source documents stay out of history; the ledgers and batch log are
	// the record.
	gitignore := inbox.Dir + "/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	if !withGit {
		fmt.Fprintf(out, "Initialized docledger workspace at %s\n", dir)
		return nil
	}

	if err := gitops.Init(dir); err != nil {
		return fmt.Errorf("git init: %w", err)
	}

	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(dir, "init: Initialize "+cfg.Business.Name, author)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(out, "Initialized docledger workspace at %s (%s)\n", dir, hash)
	return nil
}
