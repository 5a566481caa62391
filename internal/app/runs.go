package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/db"
)

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	runUUID := fs.String("run", "", "Print the stored feed of this run UUID")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "runs does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	if id := strings.TrimSpace(*runUUID); id != "" {
		feed, err := pool.GetRunFeed(ctx, id)
		if err != nil {
			if db.IsNoRows(err) {
				fmt.Fprintf(os.Stderr, "Run %s not found\n", id)
				return 1
			}
			fmt.Fprintf(os.Stderr, "Failed to load run: %v\n", err)
			return 1
		}
		if outputFormat == outputFormatTable {
			err = writeFeedTable(*feed)
		} else {
			err = printJSON(feed)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render feed: %v\n", err)
			return 1
		}
		return 0
	}

	runs, err := pool.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query runs: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeRunSummaryTable(runs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func writeRunSummaryTable(items []db.RunSummary) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.RunUUID,
			formatUTCTimestamp(item.LastUpdate),
			fmt.Sprintf("%d", item.TotalPosts),
			fmt.Sprintf("%d", item.UniquePosts),
			fmt.Sprintf("%d", item.AdPostsFiltered),
			fmt.Sprintf("%d", item.PostsCount),
			item.Clustering,
			item.TopicDetection,
		})
	}

	return writeTable(
		[]string{"run_uuid", "last_update", "total", "unique", "ads_filtered", "posts", "clustering", "topics"},
		rows,
	)
}
