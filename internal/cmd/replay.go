package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/scenario"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scripted session against the engine",
	Long: `Replay a YAML scenario: create a session, run each step as the named
participant, and check every step against its expected outcome.

The engine is built from the current configuration, so store, broadcast,
and conflict settings behave as they would in a server. Steps without an
expect key must succeed; steps with one must fail with that error.

With --watch the scenario is replayed every time the file is saved, each
run in a fresh session.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayWatch       bool
	replayEvents      bool
	replayFormat      string
	replayMetricsAddr string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVarP(&replayWatch, "watch", "w", false, "replay again whenever the scenario file changes")
	replayCmd.Flags().BoolVar(&replayEvents, "events", false, "print every broadcast notification")
	replayCmd.Flags().StringVarP(&replayFormat, "output", "o", "text", "output format: text or yaml")
	replayCmd.Flags().StringVar(&replayMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFormat != "text" && replayFormat != "yaml" {
		return fmt.Errorf("unknown output format %q (want text or yaml)", replayFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, workDir())
	if err != nil {
		return err
	}
	defer rt.Close()

	p := newPrinter(cmd.OutOrStdout())
	if replayEvents {
		rt.bus.SubscribeAll(func(e event.Event) {
			if m, ok := e.(event.Message); ok {
				p.line("    %s %s", p.muted("»"), m.Type)
			}
		})
	}

	path := args[0]
	replayOnce := func(ctx context.Context) error {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		res, runErr := scenario.NewRunner(rt.engine, rt.logger).Run(ctx, sc)
		if res != nil {
			// Scenarios may turn auto-save off; keep the final state either way.
			if err := rt.engine.Save(ctx, res.SessionID); err != nil {
				rt.logger.WithSession(res.SessionID).Warn("failed to persist session", "error", err.Error())
			}
			if err := report(p, res, replayFormat); err != nil {
				return err
			}
		}
		return runErr
	}

	if !replayWatch {
		return replayOnce(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if replayMetricsAddr != "" {
		if rt.registry == nil {
			return errors.New("--metrics-addr needs metrics.enabled")
		}
		srv := &http.Server{
			Addr:              replayMetricsAddr,
			Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("metrics server failed", "addr", replayMetricsAddr, "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rerun := func() {
		if err := replayOnce(ctx); err != nil {
			p.line("%s %v", p.fail("replay failed:"), err)
		}
		p.line("%s", p.muted("watching "+path+" (ctrl-c to stop)"))
	}

	w, err := newFileWatcher(path, rerun, rt.logger)
	if err != nil {
		return err
	}
	rerun()
	if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func report(p *printer, res *scenario.Result, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(p.w)
		defer enc.Close()
		return enc.Encode(res)
	}

	name := res.Name
	if name == "" {
		name = "scenario"
	}
	p.header("%s (session %s)", name, res.SessionID)
	for _, st := range res.Steps {
		target := ""
		if st.Path != "" {
			target = " " + st.Path
		}
		outcome := p.ok("ok")
		if st.Error != "" {
			outcome = p.fail(st.Error)
		}
		if st.Version > 0 {
			outcome += p.muted(fmt.Sprintf(" v%d", st.Version))
		}
		p.line("  %3d  %-6s %s%s  %s", st.Index, st.As, st.Action, target, outcome)
	}

	if len(res.Files) > 0 {
		p.header("files")
		for _, f := range res.Files {
			p.line("  %s v%d (%d bytes)", f.Path, f.Version, len(f.Content))
		}
	}
	if len(res.Conflicts) > 0 {
		p.header("conflicts")
		for _, c := range res.Conflicts {
			outcome := ""
			if c.Resolution != nil {
				outcome = " " + string(c.Resolution.Outcome)
			}
			p.line("  %s %s by %s: %s%s", c.ID, c.Kind, c.SubmittedBy, c.Status, outcome)
		}
	}
	return nil
}
