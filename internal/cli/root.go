// Package cli implements taskctl, the terminal client for the taskboard API.
//
// Every command that touches tasks goes through the same optimistic cache and
// board controller a graphical client would use, backed by the HTTP client.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/TWRT/taskboard/internal/board"
	"github.com/TWRT/taskboard/internal/cache"
	"github.com/TWRT/taskboard/internal/client/taskboard"
	"github.com/TWRT/taskboard/internal/config"
)

// App carries the streams and settings shared by every command.
type App struct {
	Out io.Writer
	Err io.Writer
	Now func() time.Time

	logger     *slog.Logger
	configFile string
	serverURL  string
	output     string
	verbose    bool
	cfg        *config.Client
}

func NewApp(out, errOut io.Writer) *App {
	return &App{Out: out, Err: errOut, Now: time.Now}
}

// Execute runs taskctl with the process arguments.
func Execute(ctx context.Context) error {
	return NewApp(os.Stdout, os.Stderr).RootCommand().ExecuteContext(ctx)
}

func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "Manage your taskboard from the terminal",
		Long: `taskctl talks to a taskboard server. It shows your tasks as a board or
as a list, and lets you add, edit, move and delete them.

Changes appear locally first and are rolled back if the server rejects them.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./taskboard.yaml)")
	flags.StringVar(&a.serverURL, "server", "", "server URL (overrides config and saved session)")
	flags.StringVarP(&a.output, "output", "o", "", "output format: table, json or yaml (default table on a terminal, json otherwise)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log remote calls")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.showCmd(),
		a.boardCmd(),
		a.listCmd(),
		a.getCmd(),
		a.addCmd(),
		a.editCmd(),
		a.moveCmd(),
		a.statusCmd(),
		a.rmCmd(),
		a.prefsCmd(),
		a.themeCmd(),
		a.viewCmd(),
	)
	return root
}

func (a *App) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.output == "" {
		a.output = cfg.Output
	}
	if a.output == "" {
		a.output = OutputJSON
		if a.isTerminal() {
			a.output = OutputTable
		}
	}
	if err := validOutput(a.output); err != nil {
		return err
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *App) isTerminal() bool {
	f, ok := a.Out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// server picks the URL to talk to: the --server flag, then the server the
// session was created against, then config.
func (a *App) server(s session) string {
	if a.serverURL != "" {
		return a.serverURL
	}
	if s.Server != "" {
		return s.Server
	}
	return a.cfg.ServerURL
}

// workspace is an authenticated client with a cache and controller over the
// signed-in user's tasks.
type workspace struct {
	client *taskboard.Client
	cache  *cache.Cache
	ctrl   *board.Controller
	key    cache.QueryKey
}

func (a *App) connect() (*taskboard.Client, session, error) {
	s, err := readSession(a.cfg.TokenFile)
	if err != nil {
		return nil, session{}, err
	}
	return taskboard.NewClient(a.server(s), s.Token), s, nil
}

// open connects and, when fetch is set, loads the task list into the cache.
func (a *App) open(ctx context.Context, fetch bool) (*workspace, error) {
	client, s, err := a.connect()
	if err != nil {
		return nil, err
	}

	c := cache.New(client, cache.WithLogger(a.logger), cache.WithClock(a.Now))
	key := cache.QueryKey{UID: s.UID}
	if fetch {
		if _, err := c.Fetch(ctx, key); err != nil {
			return nil, err
		}
	}
	return &workspace{client: client, cache: c, ctrl: board.NewController(c, key), key: key}, nil
}

// emit prints v in the selected machine format, or calls table otherwise.
func (a *App) emit(v any, table func() string) error {
	ok, err := encode(a.Out, a.output, v)
	if ok || err != nil {
		return err
	}
	_, err = fmt.Fprint(a.Out, table())
	return err
}
