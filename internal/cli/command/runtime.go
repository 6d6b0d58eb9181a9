package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/agent/config"
	"github.com/yndnr/farmsync-go/internal/cli/output"
	"github.com/yndnr/farmsync-go/internal/engine"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
)

const runtimeKey = "runtime"

// Runtime carries the state shared by the commands of one invocation.
type Runtime struct {
	opts appOptions

	configPath string
	overrides  map[string]any
	verbose    bool
	format     output.Format
	wide       bool

	// daemon keeps the configured log level instead of quieting info logs.
	daemon bool

	cfgOnce sync.Once
	cfg     *config.Config
	cfgErr  error

	logger *slog.Logger
	eng    *engine.Engine
}

func newRuntime(c *cli.Context, o appOptions) (*Runtime, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(c.StringSlice("set"))
	if err != nil {
		return nil, err
	}
	return &Runtime{
		opts:       o,
		configPath: c.String("config"),
		overrides:  overrides,
		verbose:    c.Bool("verbose"),
		format:     format,
		wide:       c.Bool("wide"),
	}, nil
}

func parseOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", p)
		}
		m[k] = v
	}
	return m, nil
}

func runtimeFrom(c *cli.Context) *Runtime {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		panic("command: runtime not initialized")
	}
	return rt
}

// Config loads the configuration once.
func (r *Runtime) Config() (*config.Config, error) {
	r.cfgOnce.Do(func() {
		r.cfg, r.cfgErr = config.Load(r.configPath, r.overrides)
	})
	return r.cfg, r.cfgErr
}

// Logger returns the process logger. Interactive commands only log
// warnings unless --verbose is set.
func (r *Runtime) Logger() (*slog.Logger, error) {
	if r.logger != nil {
		return r.logger, nil
	}
	if r.opts.deps.Logger != nil {
		r.logger = r.opts.deps.Logger
		return r.logger, nil
	}
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}

	lc := cfg.Log
	lc.Output = r.opts.stderr
	if !r.daemon {
		lc.Format = "text"
		if lvl, _ := logger.ParseLevel(lc.Level); lvl < slog.LevelWarn {
			lc.Level = "warn"
		}
	}
	if r.verbose {
		lc.Level = "debug"
	}
	l, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	r.logger = l
	return l, nil
}

// Engine opens the database, binds the tenant and resumes the session.
func (r *Runtime) Engine(ctx context.Context) (*engine.Engine, error) {
	if r.eng != nil {
		return r.eng, nil
	}
	eng, err := r.openEngine(nil)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Boot(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	r.eng = eng
	return eng, nil
}

func (r *Runtime) openEngine(metrics *metric.Registry) (*engine.Engine, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	l, err := r.Logger()
	if err != nil {
		return nil, err
	}
	deps := r.opts.deps
	deps.Logger = l
	if metrics != nil {
		deps.Metrics = metrics
	}
	return engine.New(cfg, deps)
}

// Print writes data in the selected format.
func (r *Runtime) Print(data any) error {
	return output.NewFormatter(r.format, r.wide).Format(r.opts.stdout, data)
}

// Stdout returns the output stream.
func (r *Runtime) Stdout() io.Writer { return r.opts.stdout }

// Stderr returns the diagnostic stream.
func (r *Runtime) Stderr() io.Writer { return r.opts.stderr }

// Stdin returns the input stream.
func (r *Runtime) Stdin() io.Reader { return r.opts.stdin }

// Interactive reports whether human-oriented decorations should be drawn.
func (r *Runtime) Interactive() bool {
	return r.format == output.FormatTable
}

// Close releases the engine.
func (r *Runtime) Close() error {
	if r.eng == nil {
		return nil
	}
	err := r.eng.Close()
	r.eng = nil
	return err
}
