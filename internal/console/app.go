// Package console is the command line client of the dish API. Every run is one page load:
// the session file is read once, protected commands go through the auth gate, and the
// navigation to login is a message plus ExitLoginRequired.
package console

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/2beens/dishexplorer/internal/dishapi"
	"github.com/2beens/dishexplorer/internal/gate"
	"github.com/2beens/dishexplorer/internal/session"

	log "github.com/sirupsen/logrus"
)

const (
	ExitOK            = 0
	ExitError         = 1
	ExitLoginRequired = 2
)

const LoginRequiredMessage = `not logged in: run "dishctl login"`

type command struct {
	usage     string
	protected bool
	run       func(ctx context.Context, a *App, args []string) error
}

const (
	usageLogin    = "login -email <email> -password <password>"
	usageRegister = "register -name <name> -email <email> -password <password>"
	usageList     = "list [-page n] [-limit n] [-diet d] [-course c] [-state s] [-region r] [-flavor f] [-sort field] [-order asc|desc]"
)

var commands = map[string]command{
	"login":    {usage: usageLogin, run: runLogin},
	"register": {usage: usageRegister, run: runRegister},
	"logout":   {usage: "logout", run: runLogout},
	"whoami":   {usage: "whoami", protected: true, run: runWhoami},
	"list":     {usage: usageList, protected: true, run: runList},
	"show":     {usage: "show <dish name>", protected: true, run: runShow},
	"search":   {usage: "search <query>", protected: true, run: runSearch},
	"suggest":  {usage: "suggest <ingredient>...", protected: true, run: runSuggest},
}

type App struct {
	api    *dishapi.Client
	store  *session.Store
	gate   *gate.Gate
	out    io.Writer
	errOut io.Writer
}

// NewApp builds the client for one run. api must not be bound to a session; the app binds it
// to the session read from backend.
func NewApp(api *dishapi.Client, backend session.Backend, out, errOut io.Writer) *App {
	a := &App{
		store:  session.NewStore(backend),
		out:    out,
		errOut: errOut,
	}
	a.api = api.ForSession(a.store)
	a.gate = gate.New(gate.NavigatorFunc(func(string) {
		fmt.Fprintln(a.errOut, LoginRequiredMessage)
	}))
	return a
}

func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		a.usage()
		return ExitError
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.errOut, "unknown command: %s\n", args[0])
		a.usage()
		return ExitError
	}

	if cmd.protected {
		a.gate.Watch(a.store)
	}
	if err := a.store.Initialize(ctx); err != nil {
		log.Errorf("read session: %s", err)
	}
	if cmd.protected && !a.gate.Allowed() {
		return ExitLoginRequired
	}

	err := cmd.run(ctx, a, args[1:])
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, dishapi.ErrUnauthorized):
		// the session is gone and the gate has told the user to log in again
		return ExitLoginRequired
	case errors.Is(err, flag.ErrHelp):
		return ExitError
	default:
		fmt.Fprintf(a.errOut, "error: %s\n", err)
		return ExitError
	}
}

func (a *App) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: dishctl [-config path] [-env env] [-session file] <command>\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s\n", commands[name].usage)
	}
	fmt.Fprint(a.errOut, b.String())
}

// flagSet must not read commands: the command funcs calling it are part of its initializer.
func (a *App) flagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.Usage = func() {
		fmt.Fprintf(a.errOut, "usage: dishctl %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}
