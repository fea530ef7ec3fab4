package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mytimer/mytimer-go/pkg/client"
	"github.com/mytimer/mytimer-go/pkg/command"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// shell is the interactive ktimer mode. Timers registered here do not
// block; fire and cancel notices are printed as they arrive.
type shell struct {
	c  *client.Client
	rl *readline.Instance
}

func newShell(c *client.Client) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ktimer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("list"),
			readline.PcItem("set"),
			readline.PcItem("max"),
			readline.PcItem("cancel"),
			readline.PcItem("report"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{c: c, rl: rl}, nil
}

// Run reads commands until quit, EOF or ctx ends.
func (s *shell) Run(ctx context.Context) {
	defer s.rl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := s.c.Subscribe(ctx); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "subscribe: %v\n", err)
	}
	go s.printNotifications(ctx)
	go func() {
		// Readline blocks on the terminal; closing it ends Run
		<-ctx.Done()
		s.rl.Close()
	}()

	printHelp(s.rl.Stdout())
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		if quit := runLine(ctx, s.c, line, s.rl.Stdout()); quit {
			return
		}
	}
}

func (s *shell) printNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.c.Done():
			fmt.Fprintln(s.rl.Stderr(), "connection to the service lost")
			s.rl.Close()
			return
		case n, ok := <-s.c.Notifications():
			if !ok {
				return
			}
			switch n.Kind {
			case wire.EventFired:
				fmt.Fprintf(s.rl.Stdout(), "timer %s fired\n", n.Message)
			case wire.EventCancelled:
				fmt.Fprintf(s.rl.Stdout(), "timer %s was cancelled\n", n.Message)
			}
		}
	}
}

// runLine executes one shell command and reports whether the shell
// should exit.
func runLine(ctx context.Context, c *client.Client, line string, w io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		printHelp(w)
	case "list", "ls", "l":
		err = list(ctx, c, w)
	case "report":
		err = report(ctx, c, w)
	case "set", "s":
		err = shellSet(ctx, c, args, w)
	case "max", "m":
		if len(args) != 1 {
			err = errors.New("usage: max COUNT")
			break
		}
		var n uint32
		if n, err = parseCount(args[0]); err == nil {
			err = setCapacity(ctx, c, n)
		}
	case "cancel", "reset", "r":
		var n int
		if n, err = c.CancelAll(ctx); err == nil {
			fmt.Fprintf(w, "cancelled %d timer(s)\n", n)
		}
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return false
}

// shellSet registers a timer without waiting. The message is the rest of
// the line, so it may contain spaces.
func shellSet(ctx context.Context, c *client.Client, args []string, w io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: set SECONDS MESSAGE")
	}
	seconds, err := parseCount(args[0])
	if err != nil {
		return err
	}
	message := strings.Join(args[1:], " ")
	if err := command.ValidateMessage(message); err != nil {
		return err
	}

	outcome, err := c.Register(ctx, seconds, message)
	switch {
	case client.IsStatus(err, wire.StatusCapacityExceeded):
		fmt.Fprintln(w, "Cannot add another timer!")
	case err != nil:
		return err
	case outcome == wire.WriteUpdated:
		fmt.Fprintf(w, "The timer %s was updated!\n", message)
	default:
		fmt.Fprintf(w, "timer %s set for %d s\n", message, seconds)
	}
	return nil
}

func report(ctx context.Context, c *client.Client, w io.Writer) error {
	res, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(w, res.Text)
	fmt.Fprintf(w, "%d/%d timers live\n", len(res.Timers), res.Capacity)
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
ktimer Commands:
  list                  - List live timers
  report                - Show the full service report
  set <seconds> <msg>   - Register or update a timer
  max <count>           - Set the maximum number of live timers
  cancel                - Cancel every live timer
  help                  - Show this help
  quit                  - Exit`)
}
