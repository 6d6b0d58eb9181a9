package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/farmsync-go/internal/agent/config"
	"github.com/yndnr/farmsync-go/internal/engine"
	"github.com/yndnr/farmsync-go/internal/infra/buildinfo"
	"github.com/yndnr/farmsync-go/internal/infra/confloader"
	"github.com/yndnr/farmsync-go/internal/infra/shutdown"
	"github.com/yndnr/farmsync-go/internal/telemetry/logger"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
)

// reloadSettle is how long the config file must stay quiet before it is
// reloaded.
const reloadSettle = 500 * time.Millisecond

// AgentCommand returns the agent command.
func AgentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Run in the foreground: background sync, reconnect handling, metrics and config reload",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "listen address of /metrics, empty to disable (default: agent.metrics_addr)",
			},
		},
		Action: runAgent,
	}
}

func runAgent(c *cli.Context) error {
	rt := runtimeFrom(c)
	rt.daemon = true

	cfg, err := rt.Config()
	if err != nil {
		return err
	}
	log, err := rt.Logger()
	if err != nil {
		return err
	}

	registry := metric.NewRegistry()
	eng, err := rt.openEngine(registry)
	if err != nil {
		return err
	}
	rt.eng = eng

	sess, err := eng.Boot(c.Context)
	if err != nil {
		return err
	}
	log.Info("agent starting",
		"version", buildinfo.String(),
		"tenant_id", cfg.Tenant.ID,
		"remote", cfg.Remote.BaseURL,
		"session_resumed", sess != nil)

	addr := cfg.Agent.MetricsAddr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	var (
		srv *http.Server
		ln  net.Listener
	)
	if addr != "" {
		if srv, ln, err = metricsServer(addr, registry); err != nil {
			return err
		}
		log.Info("metrics listening", "addr", ln.Addr().String())
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sd := shutdown.NewHandler(cfg.Agent.ShutdownTimeout, shutdown.WithLogger(log))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.RunSyncLoop(gctx) })
	g.Go(func() error { return eng.WatchClientCert(gctx) })

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		sd.OnShutdown("metrics", srv.Shutdown)
	}

	if path := rt.configPath; path != "" || fileExists(config.DefaultPath()) {
		if path == "" {
			path = config.DefaultPath()
		}
		g.Go(func() error {
			return confloader.WatchFile(gctx, path, reloadSettle, log, func() {
				reload(gctx, rt, eng, path, log)
			})
		})
	}

	sd.OnShutdown("workers", func(context.Context) error {
		cancel()
		return nil
	})
	g.Go(func() error { return sd.Wait(gctx) })

	err = g.Wait()
	log.Info("agent stopped")
	return err
}

func metricsServer(addr string, registry *metric.Registry) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, ln, nil
}

// reload applies the settings that can change without a restart: the log
// level and the tenant.
func reload(ctx context.Context, rt *Runtime, eng *engine.Engine, path string, log *slog.Logger) {
	next, err := config.Load(path, rt.overrides)
	if err != nil {
		log.Warn("config reload rejected, keeping current settings", "error", err)
		return
	}

	if !rt.verbose {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			log.Warn("invalid log level on reload", "error", err)
		}
	}

	cur := eng.Tenant()
	if next.Tenant != cur {
		log.Info("tenant changed by config reload", "from", cur.ID, "to", next.Tenant.ID)
		if err := eng.SwitchTenant(ctx, next.Tenant.ID, next.Tenant.Domain); err != nil {
			log.Error("tenant switch failed", "error", err)
			return
		}
	}
	log.Info("config reloaded", "path", path, "level", logger.Level())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
