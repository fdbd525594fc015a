package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/server"
)

func newServeCommand(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve batch submission and ledger queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Prepare(ctx); err != nil {
				return err
			}

			if addr == "" {
				addr = w.Config.Server.ListenAddr
			}
			return server.New(w, logging.New("server")).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.listen_addr)")
	return cmd
}
