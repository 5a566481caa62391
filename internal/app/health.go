package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curator/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Health check timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "health does not accept positional arguments")
		return 2
	}

	cfg, logger, ok := setupCommand(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := false
	database := "disabled"
	if cfg.HasDatabase() {
		pool, err := openPool(cfg, *timeout)
		if err == nil {
			err = pool.Ping(ctx)
			_ = pool.Close()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Database check failed: %v\n", err)
			database = "unreachable"
			failed = true
		} else {
			database = "ok"
		}
	}

	embed := "disabled"
	if provider := newProvider(cfg, logger, nil); provider != nil {
		vectors, err := provider.Embed(ctx, []string{"health check"})
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "Embedding check failed: %v\n", err)
			embed = "unreachable"
			failed = true
		case len(vectors) != 1 || len(vectors[0]) == 0:
			fmt.Fprintln(os.Stderr, "Embedding check failed: provider returned no vector")
			embed = "unreachable"
			failed = true
		default:
			embed = fmt.Sprintf("ok dims=%d", len(vectors[0]))
		}
	}

	fmt.Printf("health database=%s embedding=%s\n", database, embed)
	if failed {
		return 1
	}
	return 0
}
