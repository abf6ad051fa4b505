package magictunneld

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Run parses flags and executes the selected command.
func Run(args []string) {
	cfgPath := extractConfigPath(args)

	opts := &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	opts.Init(first)

	// Handle version early to avoid command requirement error from parser.
	if hasVersionFlag(args) {
		fmt.Println(Version())
		os.Exit(0)
	}

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatalf("%v", err)
	}

	if opts.Version {
		fmt.Println(Version())
		os.Exit(0)
	}

	if opts.Config == "" {
		opts.Config = cfgPath
	}
	if opts.Serve != nil && opts.Serve.Config == "" {
		opts.Serve.Config = opts.Config
	}
	if opts.Lint != nil && opts.Lint.Config == "" {
		opts.Lint.Config = opts.Config
	}
}

// extractConfigPath scans raw args for -f/--config before full parsing, so
// both the root flag and a sub-command-less invocation can resolve it.
func extractConfigPath(args []string) string {
	for i, a := range args {
		switch a {
		case "-f", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		default:
			if strings.HasPrefix(a, "--config=") {
				return strings.TrimPrefix(a, "--config=")
			}
		}
	}
	return ""
}

// hasVersionFlag returns true if args contain a global version flag.
func hasVersionFlag(args []string) bool {
	for _, a := range args {
		if a == "-v" || a == "--version" {
			return true
		}
	}
	return false
}

// RunWithCommands is kept for symmetry with the rest of the CLI surface.
func RunWithCommands(args []string) {
	Run(args)
}
