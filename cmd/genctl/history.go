package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"genbot/internal/domain"
	"genbot/pkg/zip"
)

var (
	historyLimit int
	historyOut   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect finished generations",
}

var historyListCmd = &cobra.Command{
	Use:   "list USER_ID",
	Short: "List a user's finished generations, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		records, err := rt.History.ListByUser(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPLETED\tJOB\tMODEL\tOUTCOME\tCHARGED\tERROR")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				rec.CompletedAt.Format(time.RFC3339), rec.JobID, rec.ModelID, rec.Outcome, rec.Charged, rec.ErrorKind)
		}
		return tw.Flush()
	},
}

var historyExportCmd = &cobra.Command{
	Use:     "export USER_ID",
	Short:   "Write a user's history and result links to a zip archive",
	Example: "  genctl history export 42 --out 42-history.zip",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		records, err := rt.History.ListByUser(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		data, err := exportArchive(records, time.Now().UTC())
		if err != nil {
			return err
		}
		out := historyOut
		if out == "" {
			out = args[0] + "-history.zip"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(records), out)
		return nil
	},
}

// exportArchive bundles the records as JSON plus a plain list of result URLs.
func exportArchive(records []domain.JobHistoryRecord, now time.Time) ([]byte, error) {
	doc, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	var urls strings.Builder
	for _, rec := range records {
		for _, u := range rec.ResultURLs {
			fmt.Fprintf(&urls, "%s\t%s\n", rec.JobID, u)
		}
	}
	return zip.Archive([]zip.Entry{
		{Name: "history.json", Modified: now, Data: doc},
		{Name: "result_urls.tsv", Modified: now, Data: []byte(urls.String())},
	})
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 50, "maximum records (1-500)")
	historyExportCmd.Flags().StringVar(&historyOut, "out", "", "archive path (default USER_ID-history.zip)")
	historyCmd.AddCommand(historyListCmd, historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}
