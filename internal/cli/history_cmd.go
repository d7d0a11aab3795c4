package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"imagetool/internal/journal"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	ConfigPath string
	Search     string // words that must all appear in the prompt
	Limit      int
	JSON       bool
}

// RunHistory lists journaled invocations, newest first.
// Returns exit code (0 for success, 1 for error).
func RunHistory(ctx context.Context, opts HistoryOptions, stdout, stderr io.Writer) int {
	cfg, err := configLoadOrDefault(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Journal.URL == "" {
		fmt.Fprintln(stderr, "Error: the journal is disabled. Set journal.url, e.g.")
		fmt.Fprintln(stderr, "  imagetool config set journal.url file:imagetool-journal.db")
		return 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, err := journalOpen(ctx, cfg.Journal.URL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	var entries []journal.Entry
	if opts.Search != "" {
		entries, err = store.Search(ctx, opts.Search, opts.Limit)
	} else {
		entries, err = store.Recent(ctx, opts.Limit)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.JSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Fprintln(stdout, string(out))
		return 0
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No invocations recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tOP\tSTATUS\tTIME\tOUTPUT\tPROMPT")
	for _, e := range entries {
		output := e.OutputPath
		if e.Status == journal.StatusError {
			output = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Operation, e.Status,
			e.Duration.Duration().Round(100*time.Millisecond), truncate(output, 60), truncate(e.Prompt, 50))
	}
	tw.Flush()
	return 0
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
