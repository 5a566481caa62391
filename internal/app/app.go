package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "collect":
		return runCollect(args[1:])
	case "curate":
		return runCurate(args[1:])
	case "run", "run-once":
		return runOnce(args[1:])
	case "serve":
		return runServe(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "channels":
		return runChannels(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "curator CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  curator <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database and embedding provider connectivity")
	fmt.Fprintln(os.Stderr, "  validate    Validate post batch JSON files against the batch schema")
	fmt.Fprintln(os.Stderr, "  collect     Scrape channel previews into a post batch")
	fmt.Fprintln(os.Stderr, "  curate      Curate a post batch into a ranked feed")
	fmt.Fprintln(os.Stderr, "  run         Run collect + curate in sequence")
	fmt.Fprintln(os.Stderr, "  run-once    Alias for run")
	fmt.Fprintln(os.Stderr, "  serve       Start Echo API server")
	fmt.Fprintln(os.Stderr, "  runs        List stored curation runs or print one feed")
	fmt.Fprintln(os.Stderr, "  channels    Manage tracked channels (list, add, remove)")
	fmt.Fprintln(os.Stderr, "  hash-token  Hash an API token for CURATOR_API_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"curator <command> -h\" for command-specific flags.")
}
