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
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/telegram"
)

func runChannels(args []string) int {
	if len(args) == 0 {
		printChannelsUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printChannelsUsage()
		return 0
	case "list":
		return runChannelsList(args[1:])
	case "add":
		return runChannelsAdd(args[1:])
	case "remove":
		return runChannelsRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown channels action: %s\n\n", args[0])
		printChannelsUsage()
		return 2
	}
}

func printChannelsUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  curator channels list [--all] [--format table|json]")
	fmt.Fprintln(os.Stderr, "  curator channels add <channel>...")
	fmt.Fprintln(os.Stderr, "  curator channels remove <channel>...")
}

func runChannelsList(args []string) int {
	fs := flag.NewFlagSet("channels list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	all := fs.Bool("all", false, "Include inactive channels")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	channels, err := pool.ListChannels(ctx, *all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query channels: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(channels); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}
	if err := writeChannelTable(channels); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func runChannelsAdd(args []string) int {
	fs := flag.NewFlagSet("channels add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	baseURL := fs.String("base-url", telegram.DefaultBaseURL, "Base URL used to build channel links")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	names := channelArgs(fs.Args())
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "channels add requires at least one channel name")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	now := globaltime.UTC()
	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	for _, name := range names {
		record, err := pool.UpsertChannel(ctx, name, base+"/"+name, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to add %s: %v\n", name, err)
			return 1
		}
		fmt.Printf("added channel=%s active=%t\n", record.Name, record.IsActive)
	}
	return 0
}

func runChannelsRemove(args []string) int {
	fs := flag.NewFlagSet("channels remove", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	names := channelArgs(fs.Args())
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "channels remove requires at least one channel name")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	missing := 0
	now := globaltime.UTC()
	for _, name := range names {
		removed, err := pool.DeactivateChannel(ctx, name, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to remove %s: %v\n", name, err)
			return 1
		}
		if !removed {
			missing++
			fmt.Fprintf(os.Stderr, "channel %s is not tracked\n", name)
			continue
		}
		fmt.Printf("removed channel=%s\n", name)
	}
	if missing > 0 {
		return 1
	}
	return 0
}

func channelArgs(args []string) []string {
	names := make([]string, 0, len(args))
	seen := make(map[string]struct{}, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			name := telegram.NormalizeChannel(part)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func writeChannelTable(items []db.ChannelRecord) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.Name,
			fmt.Sprintf("%t", item.IsActive),
			fmt.Sprintf("%d", item.Subscribers),
			fmt.Sprintf("%.1f", item.PostFrequencyPerDay),
			fmt.Sprintf("%.2f", item.HasLinksRatio),
			fmt.Sprintf("%.0f", item.AverageViews),
			formatUTCTimestampPtr(item.LastScrapedAt),
		})
	}
	return writeTable(
		[]string{"channel", "active", "subscribers", "posts_per_day", "links_ratio", "avg_views", "last_scraped_at"},
		rows,
	)
}
