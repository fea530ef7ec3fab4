// Command ktimer is the command-line client of the mytimer service.
//
// Usage:
//
//	ktimer [connection flags] -l
//	ktimer [connection flags] -s SECONDS MESSAGE
//	ktimer [connection flags] -m COUNT
//	ktimer [connection flags] -r
//	ktimer [connection flags] -i
//
// Actions:
//
//	-l            List live timers as "message seconds" lines
//	-s N MSG      Register a timer for MSG that fires in N seconds and wait
//	              for it. Re-registering a live MSG updates its deadline.
//	-m N          Allow at most N simultaneously live timers
//	-r            Cancel every live timer
//	-i            Interactive shell
//
// Connection flags:
//
//	-socket path  Unix socket of the service (default /tmp/mytimer.sock)
//	-network net  unix or tcp
//	-addr h:p     TCP address of the service
//	-discover     Find the service over mDNS
//	-timeout d    Per-request timeout
//	-wait d       Retry connecting for up to d while the service starts
//
// Exit status is 0 on success, 1 when the service cannot be reached or
// fails a request, and 2 on invalid use.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mytimer/mytimer-go/pkg/client"
	"github.com/mytimer/mytimer-go/pkg/command"
	"github.com/mytimer/mytimer-go/pkg/discovery"
	"github.com/mytimer/mytimer-go/pkg/transport"
	"github.com/mytimer/mytimer-go/pkg/version"
)

// Exit codes.
const (
	exitOK          = 0
	exitUnavailable = 1
	exitUsage       = 2

	// exitInterrupted is reported when a wait is ended by a signal.
	exitInterrupted = 130
)

var errUsage = errors.New("ERROR: INVALID USE")

type action uint8

const (
	actionList action = iota + 1
	actionRegister
	actionCapacity
	actionCancel
	actionShell
)

// invocation is a parsed command line.
type invocation struct {
	action   action
	seconds  uint32
	capacity uint32
	message  string

	network  string
	address  string
	discover bool
	timeout  time.Duration
	wait     time.Duration
	version  bool
}

func newFlagSet(inv *invocation, output io.Writer) (*flag.FlagSet, *actionFlags) {
	fs := flag.NewFlagSet("ktimer", flag.ContinueOnError)
	fs.SetOutput(output)

	af := &actionFlags{}
	fs.BoolVar(&af.list, "l", false, "List live timers")
	fs.StringVar(&af.register, "s", "", "Register a timer: -s SECONDS MESSAGE")
	fs.StringVar(&af.capacity, "m", "", "Set the maximum number of live timers")
	fs.BoolVar(&af.cancel, "r", false, "Cancel every live timer")
	fs.BoolVar(&af.shell, "i", false, "Interactive shell")

	fs.StringVar(&af.socket, "socket", transport.DefaultSocketPath, "Unix socket of the service")
	fs.StringVar(&inv.network, "network", transport.NetworkUnix, "Service network: unix or tcp")
	fs.StringVar(&af.addr, "addr", "", "TCP address of the service (default localhost:7117)")
	fs.BoolVar(&inv.discover, "discover", false, "Find the service over mDNS")
	fs.DurationVar(&inv.timeout, "timeout", client.DefaultRequestTimeout, "Per-request timeout")
	fs.DurationVar(&inv.wait, "wait", 0, "Keep retrying this long while the service is not up")
	fs.BoolVar(&inv.version, "version", false, "Print version and exit")
	return fs, af
}

type actionFlags struct {
	list     bool
	register string
	capacity string
	cancel   bool
	shell    bool
	socket   string
	addr     string
}

// parseArgs parses the command line. Exactly one action is required;
// -version needs none.
func parseArgs(args []string, output io.Writer) (*invocation, error) {
	inv := &invocation{}
	fs, af := newFlagSet(inv, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if inv.version {
		return inv, nil
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	actions := 0
	for _, name := range []string{"l", "s", "m", "r", "i"} {
		if set[name] {
			actions++
		}
	}
	if actions != 1 {
		return nil, errUsage
	}

	wantArgs := 0
	switch {
	case af.list:
		inv.action = actionList
	case af.cancel:
		inv.action = actionCancel
	case af.shell:
		inv.action = actionShell
	case set["m"]:
		n, err := parseCount(af.capacity)
		if err != nil {
			return nil, err
		}
		inv.action = actionCapacity
		inv.capacity = n
	case set["s"]:
		n, err := parseCount(af.register)
		if err != nil {
			return nil, err
		}
		inv.action = actionRegister
		inv.seconds = n
		wantArgs = 1
	default:
		// -l=false and friends
		return nil, errUsage
	}
	if fs.NArg() != wantArgs {
		return nil, errUsage
	}
	if inv.action == actionRegister {
		inv.message = fs.Arg(0)
		if err := command.ValidateMessage(inv.message); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
	}

	switch inv.network {
	case transport.NetworkUnix:
		inv.address = af.socket
	case transport.NetworkTCP:
		inv.address = af.addr
		if inv.address == "" {
			inv.address = net.JoinHostPort("localhost", strconv.Itoa(transport.DefaultPort))
		}
	default:
		return nil, fmt.Errorf("%w: unknown network %q", errUsage, inv.network)
	}
	return inv, nil
}

// parseCount accepts decimal digits only.
func parseCount(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a count", errUsage, s)
	}
	return uint32(n), nil
}

func main() {
	inv, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(exitOK)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	if inv.version {
		fmt.Println(version.Banner("ktimer"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, inv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes inv and returns the exit code.
func run(ctx context.Context, inv *invocation, stdout, stderr io.Writer) int {
	if inv.discover {
		svc, err := discovery.NewBrowser(discovery.BrowserConfig{}).Find(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "mytimer service not found: %v\n", err)
			return exitUnavailable
		}
		inv.network = transport.NetworkTCP
		inv.address = svc.Address()
	}

	c, err := dial(ctx, inv)
	if err != nil {
		fmt.Fprintf(stderr, "mytimer service is not running: %v\n", err)
		return exitUnavailable
	}
	defer c.Close()

	if inv.action == actionShell {
		sh, err := newShell(c)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitUnavailable
		}
		sh.Run(ctx)
		return exitOK
	}

	err = execute(ctx, c, inv, stdout)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return exitInterrupted
	default:
		fmt.Fprintln(stderr, err)
		return exitUnavailable
	}
}

func dial(ctx context.Context, inv *invocation) (*client.Client, error) {
	cfg := client.Config{
		Network:        inv.network,
		Address:        inv.address,
		RequestTimeout: inv.timeout,
	}
	if inv.wait <= 0 {
		return client.Dial(ctx, cfg)
	}
	ctx, cancel := context.WithTimeout(ctx, inv.wait)
	defer cancel()
	return client.DialRetry(ctx, cfg, client.BackoffConfig{})
}

// execute performs a single non-interactive action.
func execute(ctx context.Context, c *client.Client, inv *invocation, stdout io.Writer) error {
	switch inv.action {
	case actionList:
		return list(ctx, c, stdout)
	case actionRegister:
		return registerAndWait(ctx, c, inv.seconds, inv.message, stdout)
	case actionCapacity:
		return setCapacity(ctx, c, inv.capacity)
	case actionCancel:
		_, err := c.CancelAll(ctx)
		return err
	default:
		return errUsage
	}
}
