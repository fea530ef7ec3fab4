// Command mytimer-log views and analyzes mytimer protocol log files.
//
// Log files are written by mytimerd when started with -protocol-log.
//
// Usage:
//
//	mytimer-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View log file in human-readable format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# Follow one timer through the registry and the wire
//	mytimer-log view -timer tea mytimerd.cbor
//
//	# View only registry events
//	mytimer-log view -layer registry mytimerd.cbor
//
//	# Keep the events of one client process
//	mytimer-log filter -owner 4242 -o client.cbor mytimerd.cbor
//
//	# Show statistics
//	mytimer-log stats mytimerd.cbor
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mytimer/mytimer-go/cmd/mytimer-log/commands"
	"github.com/mytimer/mytimer-go/pkg/log"
)

type command struct {
	synopsis string
	args     string
	// flags registers the command's flags; run sees their parsed values.
	flags func(fs *flag.FlagSet)
	run   func(fs *flag.FlagSet, path string, stdout io.Writer) error
}

var errUsage = errors.New("usage")

func commandTable() map[string]*command {
	return map[string]*command{
		"view":   viewCommand(),
		"filter": filterCommand(),
		"stats": {
			synopsis: "Show statistics about the log file",
			args:     "<file.cbor>",
			flags:    func(*flag.FlagSet) {},
			run: func(_ *flag.FlagSet, path string, stdout io.Writer) error {
				return commands.RunStats(path, stdout)
			},
		},
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `mytimer-log - mytimer Protocol Log Analyzer

Usage:
  mytimer-log <command> [flags] <file.cbor>

Commands:
`)
	for _, name := range []string{"view", "filter", "stats"} {
		fmt.Fprintf(w, "  %-8s %s\n", name, commandTable()[name].synopsis)
	}
	fmt.Fprint(w, "\nUse \"mytimer-log <command> -help\" for more information about a command.\n")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return 0
	}
	cmd, ok := commandTable()[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		usage(stderr)
		return 1
	}

	name := args[0]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "mytimer-log %s - %s\n\nUsage:\n  mytimer-log %s %s\n\nFlags:\n", name, cmd.synopsis, name, cmd.args)
		fs.PrintDefaults()
	}
	cmd.flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one log file path required")
		fs.Usage()
		return 1
	}

	if err := cmd.run(fs, fs.Arg(0), stdout); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

const (
	layerHelp     = "Filter by layer (transport, wire, service, registry)"
	directionHelp = "Filter by direction (in, out)"
	categoryHelp  = "Filter by category (message, control, state, error, timer)"
	timerHelp     = "Filter by timer message"
)

func viewCommand() *command {
	var layer, direction, category, timer string
	return &command{
		synopsis: "View log file in human-readable format",
		args:     "[flags] <file.cbor>",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&layer, "layer", "", layerHelp)
			fs.StringVar(&direction, "direction", "", directionHelp)
			fs.StringVar(&category, "category", "", categoryHelp)
			fs.StringVar(&timer, "timer", "", timerHelp)
		},
		run: func(_ *flag.FlagSet, path string, stdout io.Writer) error {
			filter := commands.ViewFilter{Timer: timer}
			var err error
			if filter.Layer, err = optional(layer, commands.ParseLayerFlag); err != nil {
				return err
			}
			if filter.Direction, err = optional(direction, commands.ParseDirectionFlag); err != nil {
				return err
			}
			if filter.Category, err = optional(category, commands.ParseCategoryFlag); err != nil {
				return err
			}
			return commands.RunView(path, filter, stdout)
		},
	}
}

// optional parses a flag value, returning nil for an unset flag.
func optional[T log.Layer | log.Direction | log.Category](s string, parse func(string) (T, error)) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func filterCommand() *command {
	var opts commands.FilterOptions
	return &command{
		synopsis: "Filter log file and write to new file",
		args:     "[flags] <file.cbor>",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&opts.Output, "o", "", "Output file (required)")
			fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
			fs.IntVar(&opts.OwnerID, "owner", 0, "Filter by client process ID")
			fs.StringVar(&opts.Timer, "timer", "", timerHelp)
			fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
			fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
			fs.StringVar(&opts.Layer, "layer", "", layerHelp)
			fs.StringVar(&opts.Direction, "direction", "", directionHelp)
			fs.StringVar(&opts.Category, "category", "", categoryHelp)
		},
		run: func(fs *flag.FlagSet, path string, stdout io.Writer) error {
			if opts.Output == "" {
				fmt.Fprintln(fs.Output(), "Error: output file (-o) required")
				return errUsage
			}
			n, err := commands.RunFilter(path, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Filtered %d events to %s\n", n, opts.Output)
			return nil
		},
	}
}
