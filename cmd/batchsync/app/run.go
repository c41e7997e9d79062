package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/batchsync/pkg/activitylog"
	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/Sternrassler/batchsync/pkg/status"
	"github.com/Sternrassler/batchsync/pkg/transport"
	"github.com/spf13/cobra"
)

// clearAbortTimeout bounds clearing a stale remote abort flag before a run.
const clearAbortTimeout = 2 * time.Second

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <handler>",
		Short: "Run a handler session to completion",
		Long: `Run one session of a handler: request batches one after another, carrying the
cursor forward, until the handler reports no more work.

The first interrupt aborts the session once the batch in flight has finished.
A second interrupt cancels the batch in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runSession,
	}

	flags := cmd.Flags()
	flags.String("server", "", "Batch server URL (default: run handlers in-process)")
	flags.StringSlice("scope", nil, "Caller scopes (default: client.scopes)")
	flags.StringArray("option", nil, "Handler option as key=value (repeatable)")
	flags.String("export-log", "", "Write the activity log to this file when the session ends")
	flags.Bool("quiet", false, "Only print the final summary")

	a.bindFlags(flags, map[string]string{
		"client.server_url": "server",
		"client.scopes":     "scope",
	})

	return cmd
}

func (a *app) runSession(cmd *cobra.Command, args []string) error {
	handlerID := args[0]
	out := cmd.OutOrStdout()

	rawOptions, err := cmd.Flags().GetStringArray("option")
	if err != nil {
		return err
	}
	opts, err := parseOptions(rawOptions)
	if err != nil {
		return err
	}
	exportPath, _ := cmd.Flags().GetString("export-log")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tr, err := a.newTransport()
	if err != nil {
		return err
	}

	rdb, err := a.connectRedis(ctx)
	if err != nil {
		return err
	}

	memLog := activitylog.New(a.cfg.ActivityLog.Capacity)
	sinks := activitylog.Multi{memLog}
	observers := session.Observers{}
	if !quiet {
		observers = append(observers, &progressPrinter{out: out})
	}

	logger := a.logger
	cfg := session.Config{Logger: &logger}

	if rdb != nil {
		defer rdb.Close()
		sinks = append(sinks, activitylog.NewRedisStore(rdb,
			activitylog.RedisKey(handlerID), a.cfg.ActivityLog.Capacity, a.cfg.ActivityLog.RedisTTL))

		tracker := status.NewTracker(rdb, a.cfg.Redis.StatusTTL, a.logger)
		clearCtx, clearCancel := context.WithTimeout(ctx, clearAbortTimeout)
		if err := tracker.ClearAbort(clearCtx, handlerID); err != nil {
			a.logger.Warn().Err(err).Str("handler", handlerID).Msg("Failed to clear stale abort flag")
		}
		clearCancel()

		observers = append(observers, status.NewObserver(tracker))
		cfg.AbortSource = tracker
	}

	cfg.Log = activitylog.NewPaced(sinks, a.cfg.ActivityLog.PaceInterval)
	cfg.Observer = observers

	orch := session.NewOrchestrator(tr, cfg)
	s, err := orch.Start(handlerID, batch.Scopes(a.cfg.Client.Scopes), opts)
	if err != nil {
		return err
	}

	stopSignals := handleInterrupts(s, cancel, cmd.ErrOrStderr())
	defer stopSignals()

	stats, runErr := s.Run(ctx)
	if errors.Is(runErr, session.ErrAlreadyRun) {
		// Interrupted before the first request
		runErr = nil
	}
	fmt.Fprintln(out, stats.Message)

	if exportPath != "" {
		if err := os.WriteFile(exportPath, []byte(memLog.Export()), 0o644); err != nil {
			return fmt.Errorf("export activity log: %w", err)
		}
	}
	return runErr
}

// newTransport returns the HTTP transport when a server URL is configured and
// the in-process transport otherwise.
func (a *app) newTransport() (session.Transport, error) {
	if a.cfg.Client.ServerURL == "" {
		reg, err := a.newRegistry()
		if err != nil {
			return nil, err
		}
		return transport.NewLocal(reg, a.newExecutor()), nil
	}

	httpCfg := transport.DefaultHTTPConfig(a.cfg.Client.ServerURL)
	httpCfg.Timeout = a.cfg.Client.Timeout
	httpCfg.UserAgent = "batchsync/" + Version
	httpCfg.Retry = transport.RetryConfig{
		MaxAttempts:       a.cfg.Client.MaxAttempts,
		InitialBackoff:    a.cfg.Client.InitialBackoff,
		MaxBackoff:        a.cfg.Client.MaxBackoff,
		BackoffMultiplier: 2,
	}
	return transport.NewHTTP(httpCfg)
}

// handleInterrupts aborts s on the first interrupt and cancels the run on the
// second. The returned func stops listening.
func handleInterrupts(s *session.Session, cancel context.CancelFunc, w io.Writer) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		aborted := false
		for {
			select {
			case <-sigCh:
				if !aborted && s.Abort() {
					aborted = true
					fmt.Fprintln(w, "Aborting after the current batch, interrupt again to cancel it.")
					continue
				}
				cancel()
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// parseOptions turns key=value pairs into handler options. Values stay
// strings; handlers convert them.
func parseOptions(pairs []string) (batch.Options, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	opts := make(batch.Options, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q (want key=value)", pair)
		}
		opts[key] = value
	}
	return opts, nil
}

// progressPrinter writes one line per progress event.
type progressPrinter struct {
	out io.Writer
}

func (p *progressPrinter) OnProgress(e session.Event) {
	if e.Done {
		return
	}
	fmt.Fprintf(p.out, "batch %d: %d%% (%d processed, %d failed) ETA %s\n",
		e.Batch, e.Percent, e.Processed, e.Failed, e.ETAText)
}

func (p *progressPrinter) OnFinish(session.Stats, error) {}
