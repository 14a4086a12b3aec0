package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/ledger"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [upload-id]",
		Short: "List recent publish attempts, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", 20, "number of attempts to list")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openHistory(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("upload %s: %w", args[0], err)
		}

		if cc.Flags.JSON {
			return printJSON(rec)
		}

		printHistoryTable([]ledger.Record{*rec})

		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")

	recs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if recs == nil {
			recs = []ledger.Record{}
		}

		return printJSON(recs)
	}

	if len(recs) == 0 {
		fmt.Println("No uploads recorded.")
		return nil
	}

	printHistoryTable(recs)

	return nil
}

func printHistoryTable(recs []ledger.Record) {
	rows := make([][]string, 0, len(recs))

	for i := range recs {
		rows = append(rows, historyRow(&recs[i]))
	}

	printTable(os.Stdout, []string{"STARTED", "STATUS", "PROGRESS", "FILE", "VIDEO", "ID"}, rows)
}

func historyRow(rec *ledger.Record) []string {
	video := rec.VideoID
	if video == "" {
		video = "-"
	}

	return []string{
		formatTime(rec.StartedAt),
		rec.Status,
		formatProgress(rec.Acknowledged, rec.Total),
		rec.FileName,
		video,
		rec.ID,
	}
}
