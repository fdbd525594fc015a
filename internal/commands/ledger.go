package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docledger/docledger/internal/ledger"
	"github.com/docledger/docledger/internal/model"
)

func newLedgerCommand(g *globalFlags) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit the ledgers",
	}
	ledgerCmd.AddCommand(
		newLedgerShowCommand(g),
		newLedgerSummaryCommand(g),
		newLedgerEditCommand(g),
		newLedgerDeleteCommand(g),
		newLedgerReplaceCommand(g),
		newLedgerExportCommand(g),
	)
	return ledgerCmd
}

func newLedgerShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <direction>",
		Short: "Print the rows of a ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			rows, err := w.Rows(d)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "The %s ledger is empty.\n", d)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ROW\tDATE\tNUMBER\tCOUNTERPARTY\tTOTAL\tCURRENCY\tVALIDATION\tSOURCE")
			for i, r := range rows {
				fields := ledger.Fields(r)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					i+1, fields["Date"], r.DocumentNumber, r.Counterparty,
					fields["Total"], r.Currency, r.Verdict, r.SourceName)
			}
			return tw.Flush()
		},
	}
}

func newLedgerSummaryCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print totals for both ledgers and the net result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			t, err := w.Summary()
			if err != nil {
				return err
			}
			base := w.Config.Currency.Base
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "LEDGER\tROWS\tFLAGGED\tTOTAL\t")
			fmt.Fprintf(tw, "cost\t%d\t%d\t%s %s\t\n", t.Cost.Rows, t.Cost.Flagged, t.Cost.Total.StringFixed(2), base)
			fmt.Fprintf(tw, "revenue\t%d\t%d\t%s %s\t\n", t.Revenue.Rows, t.Revenue.Flagged, t.Revenue.Total.StringFixed(2), base)
			fmt.Fprintf(tw, "net\t\t\t%s %s\t\n", t.Net.StringFixed(2), base)
			return tw.Flush()
		},
	}
}

func newLedgerEditCommand(g *globalFlags) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "edit <direction> <row>",
		Short: "Change cells of one ledger row",
		Example: `  docledger ledger edit cost 3 --set Total=1150.00 --set Validation=OK
  docledger ledger edit revenue 1 --set "Document Number=INV-0042"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			i, err := parseRow(args[1])
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				return fmt.Errorf("nothing to change (use --set Column=value)")
			}
			updates := make(map[string]string, len(sets))
			for _, s := range sets {
				col, value, ok := strings.Cut(s, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q (want Column=value)", s)
				}
				updates[col] = value
			}

			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			rows, err := w.Rows(d)
			if err != nil {
				return err
			}
			rows, err = ledger.Edit(rows, i, updates)
			if err != nil {
				return err
			}
			if err := w.Replace(d, rows, fmt.Sprintf("ledger: edit %s row %d", d, i+1)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s row %d\n", d, i+1)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Column=value to write (repeatable)")
	return cmd
}

func newLedgerDeleteCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <direction> <row>",
		Short: "Remove one ledger row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			i, err := parseRow(args[1])
			if err != nil {
				return err
			}

			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			rows, err := w.Rows(d)
			if err != nil {
				return err
			}
			removed := rows
			rows, err = ledger.Delete(rows, i)
			if err != nil {
				return err
			}
			if err := w.Replace(d, rows, fmt.Sprintf("ledger: delete %s row %d", d, i+1)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s row %d (%s)\n", d, i+1, removed[i].DocumentNumber)
			return nil
		},
	}
}

func newLedgerReplaceCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <direction> <file.csv>",
		Short: "Overwrite a ledger from an edited CSV export",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			rows, err := ledger.ReadRows(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}

			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Replace(d, rows, fmt.Sprintf("ledger: replace %s (%d rows)", d, len(rows))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replaced %s ledger with %d rows\n", d, len(rows))
			return nil
		},
	}
}

func newLedgerExportCommand(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <direction>",
		Short: "Write a ledger as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			w, err := g.openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			rows, err := w.Rows(d)
			if err != nil {
				return err
			}
			data, err := ledger.EncodeRows(rows, true)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write instead of stdout")
	return cmd
}

// parseRow converts a 1-based row number to an index.
func parseRow(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid row %q (rows are numbered from 1)", s)
	}
	return n - 1, nil
}
