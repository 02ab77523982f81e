// Luminary is a local-first personal agent runtime.
//
// It answers chat turns with a tool-using LLM loop, runs routines and
// direct tool calls as background jobs, fires cron schedules, and keeps
// a consolidating memory of notes. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	luminary init [dir]                Create a data directory and example config
//	luminary serve                     Start the API, scheduler and maintenance loops
//	luminary ask <message>             Run one chat turn and print the reply
//	luminary job run <routineId>       Run a routine job in the foreground
//	luminary job tool <name> [json]    Run one tool as a job in the foreground
//	luminary maintenance               Run one memory maintenance pass
//	luminary version                   Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/luminary/internal/buildinfo"
	"github.com/nugget/luminary/internal/config"
)

// main is intentionally minimal. It constructs the OS-level environment
// and delegates to [run], keeping os.Exit and os.Args out of the
// application logic so the whole lifecycle can be driven from tests.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	userID     string
	outputFmt  string
}

// run is the real entry point. Arguments are parsed by hand because the
// flag package's globals get in the way of calling run from parallel
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var (
		opts    options
		command string
		cmdArgs []string
	)

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, a)
		case a == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(a, "-config="):
			opts.configPath = strings.TrimPrefix(a, "-config=")
		case a == "-user" && i+1 < len(args):
			opts.userID = args[i+1]
			i++
		case strings.HasPrefix(a, "-user="):
			opts.userID = strings.TrimPrefix(a, "-user=")
		case (a == "-o" || a == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(a, "-o="):
			opts.outputFmt = strings.TrimPrefix(a, "-o=")
		case a == "-h" || a == "-help" || a == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(a, "-"):
			command = a
		default:
			return fmt.Errorf("unknown flag: %s", a)
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: luminary ask <message>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "job":
		return runJob(ctx, stdout, stderr, opts, cmdArgs)
	case "maintenance":
		return runMaintenance(ctx, stdout, stderr, opts)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Luminary - local-first personal agent runtime")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: luminary [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]               Create a data directory and example config (default: .)")
	fmt.Fprintln(w, "  serve                    Start the API server, scheduler and maintenance loop")
	fmt.Fprintln(w, "  ask <message>            Run one chat turn and print the reply")
	fmt.Fprintln(w, "  job run <routineId>      Run a routine as a job and print the result")
	fmt.Fprintln(w, "  job tool <name> [json]   Run a single tool as a job and print the result")
	fmt.Fprintln(w, "  maintenance              Run one memory maintenance pass")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -user <id>        Act as this user (default: default_user.id)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/luminary/config.yaml, /etc/luminary/config.yaml")
	return nil
}

// loadConfig locates and parses the configuration. An explicit path must
// exist; without one, a missing file means built-in defaults plus
// environment credentials. The returned path is empty for defaults.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger builds the process logger from config. Logs go to w so that
// command output on stdout stays clean when w is stderr.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}
