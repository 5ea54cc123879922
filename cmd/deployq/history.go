package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/VsevolodSauta/jobqueue"
	"github.com/spf13/cobra"
)

var (
	historyJournal string
	historyQueue   string
)

var historyCmd = &cobra.Command{
	Use:   "history [ID]",
	Short: "Show recorded executions",
	Long: `History prints the executions recorded in a Badger journal.

With an ID it prints that execution only. Otherwise it lists every record
(or the records of --queue) followed by per-status totals.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyJournal, "journal", "", "Journal directory (default is $JOBQUEUE_JOURNAL_PATH)")
	historyCmd.Flags().StringVarP(&historyQueue, "queue", "q", "", "Only show records of this queue")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := historyJournal
	if path == "" {
		path = cfg.JournalPath
	}
	if path == "" {
		return fmt.Errorf("no journal: set --journal or %sJOURNAL_PATH", jobqueue.EnvPrefix)
	}
	// Opening a missing directory would create an empty journal.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("journal %s: %w", path, err)
	}

	journal, err := openJournal(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid execution ID %q: %w", args[0], err)
		}
		rec, err := journal.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		printRecordHeader(out)
		printRecord(out, rec)
		return nil
	}

	records, err := journal.ListRecords(ctx, jobqueue.QueueKey(historyQueue))
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	var queues []jobqueue.QueueKey
	if historyQueue != "" {
		queues = []jobqueue.QueueKey{jobqueue.QueueKey(historyQueue)}
	}
	stats, err := journal.GetStats(ctx, queues)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	printRecordHeader(out)
	for _, rec := range records {
		printRecord(out, rec)
	}
	fmt.Fprintf(out, "\ntotal=%d queued=%d running=%d finished=%d cancelled=%d dropped=%d\n",
		stats.TotalRecords, stats.QueuedRecords, stats.RunningRecords,
		stats.Finished, stats.Cancelled, stats.Dropped)
	return nil
}

func printRecordHeader(w io.Writer) {
	fmt.Fprintln(w, "ID\tQUEUE\tSTATUS\tENQUEUED\tSTARTED\tFINALIZED")
}

func printRecord(w io.Writer, rec *jobqueue.ExecutionRecord) {
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
		rec.ID, rec.Queue, rec.Status,
		formatTime(&rec.EnqueuedAt), formatTime(rec.StartedAt), formatTime(rec.FinalizedAt))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
