package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/engine"
	"github.com/yndnr/farmsync-go/internal/infra/buildinfo"
)

// AppOption customizes App, mainly for tests.
type AppOption func(*appOptions)

type appOptions struct {
	deps   engine.Deps
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// WithEngineDeps injects engine collaborators such as a remote.
func WithEngineDeps(d engine.Deps) AppOption {
	return func(o *appOptions) {
		o.deps = d
	}
}

// WithIO replaces the standard streams.
func WithIO(in io.Reader, out, errw io.Writer) AppOption {
	return func(o *appOptions) {
		o.stdin = in
		o.stdout = out
		o.stderr = errw
	}
}

// App creates the CLI application.
func App(opts ...AppOption) *cli.App {
	o := appOptions{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	return &cli.App{
		Name:      "farmsync",
		Usage:     "offline-first farmer data on this device",
		Version:   buildinfo.String(),
		Flags:     globalFlags(),
		Reader:    o.stdin,
		Writer:    o.stdout,
		ErrWriter: o.stderr,
		Metadata:  map[string]any{},
		Commands: []*cli.Command{
			LoginCommand(),
			LogoutCommand(),
			WhoamiCommand(),
			SyncCommand(),
			StatusCommand(),
			RecordsCommand(),
			BackupCommand(),
			DBCommand(),
			ConfigCommand(),
			AgentCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			rt, err := newRuntime(c, o)
			if err != nil {
				return err
			}
			c.App.Metadata[runtimeKey] = rt
			return nil
		},
		After: func(c *cli.Context) error {
			if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
				return rt.Close()
			}
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file (default: user config dir)",
			EnvVars: []string{"FARMSYNC_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:  "set",
			Usage: "override a configuration key, e.g. --set sync.page_size=50",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show more columns",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "log debug output to stderr",
		},
	}
}

// PrintError prints an error message to w.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
