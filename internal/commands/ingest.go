package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docledger/docledger/internal/inbox"
	"github.com/docledger/docledger/internal/ingest"
	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

type ingestFlags struct {
	fromInbox       bool
	gcsURL          string
	allowDuplicates bool
}

func newIngestCommand(g *globalFlags) *cobra.Command {
	f := &ingestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest <direction> [files...]",
		Short: "Extract documents into the cost or revenue ledger",
		Long: `Extract a batch of invoices or receipts into a ledger.

Direction is cost (vendor documents) or revenue (client documents). Documents
come from the listed files, the workspace inbox (--inbox) or a Cloud Storage
prefix (--gcs gs://bucket/prefix/). Inbox files that were accepted or skipped
as duplicates are moved to inbox/processed/.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDirection(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, cmd.OutOrStdout(), g, f, d, args[1:])
		},
	}

	cmd.Flags().BoolVar(&f.fromInbox, "inbox", false, "ingest every supported file in inbox/")
	cmd.Flags().StringVar(&f.gcsURL, "gcs", "", "ingest documents under a gs://bucket/prefix/")
	cmd.Flags().BoolVar(&f.allowDuplicates, "allow-duplicates", false, "accept documents already in the ledger, flagged DUPLICATE")

	return cmd
}

func runIngest(ctx context.Context, out io.Writer, g *globalFlags, f *ingestFlags, d model.Direction, files []string) error {
	w, err := g.openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	// Configuration problems stop the command before any document is read.
	if err := w.Prepare(ctx); err != nil {
		return err
	}

	docs, err := inbox.LoadAll(files)
	if err != nil {
		return err
	}

	var inboxFiles []string
	if f.fromInbox {
		scanned, err := inbox.Scan(w.Root)
		if err != nil {
			return err
		}
		for _, fi := range scanned {
			doc, err := inbox.Load(fi.Path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			inboxFiles = append(inboxFiles, fi.Name)
		}
	}
	inboxStart := len(docs) - len(inboxFiles)

	if f.gcsURL != "" {
		src, err := inbox.NewGCSSource(ctx, f.gcsURL, logging.New("gcs"))
		if err != nil {
			return err
		}
		remote, err := src.Documents(ctx)
		src.Close()
		if err != nil {
			return err
		}
		docs = append(docs, remote...)
	}

	if len(docs) == 0 {
		return errors.New("no documents to ingest (pass files, --inbox or --gcs)")
	}

	report, runErr := w.Ingest(ctx, ingest.Batch{
		Direction:       d,
		Documents:       docs,
		AllowDuplicates: f.allowDuplicates,
	})
	if report == nil {
		return runErr
	}

	printReport(out, report)

	for i, name := range inboxFiles {
		o := report.Outcomes[inboxStart+i]
		if o.State == model.StateFailed {
			continue
		}
		if _, err := inbox.MarkProcessed(w.Root, name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	return runErr
}

func printReport(out io.Writer, r *model.Report) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDOCUMENT\tSTATE\tVERDICT\tDETAIL")
	for _, o := range r.Outcomes {
		verdict := "-"
		if o.Row != nil {
			verdict = string(o.Row.Verdict)
		}
		detail := o.Reason
		if detail == "" && o.Row != nil {
			detail = fmt.Sprintf("%s %s %s", o.Row.DocumentNumber, o.Row.Counterparty, o.Row.Total.StringFixed(2))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.Index+1, o.SourceName, o.State, verdict, detail)
	}
	tw.Flush()

	fmt.Fprintf(out, "\nBatch %s (%s): %d accepted, %d skipped, %d failed, %d flagged for review\n",
		r.BatchID, r.Direction, len(r.Accepted()), len(r.Skipped()), len(r.Failed()), len(r.Flagged()))
}
