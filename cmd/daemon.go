package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tasktrack/internal/api"
	"github.com/joescharf/tasktrack/internal/daemon"
	"github.com/joescharf/tasktrack/internal/notify"
	"github.com/joescharf/tasktrack/internal/session"
	"github.com/joescharf/tasktrack/internal/watch"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or control the tracking daemon",
	Long: `The daemon owns every session: it starts tasks on directory visits,
stops them when idle, and stops everything when it exits.`,
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonRunRun(cmd.Context())
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonStartRun()
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon, stopping all running tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonStopRun()
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonStatusRun()
	},
}

var daemonDetached bool

func init() {
	daemonRunCmd.Flags().BoolVar(&daemonDetached, "detached", false, "Log notifications only (set by daemon start)")
	_ = daemonRunCmd.Flags().MarkHidden("detached")
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// engineOptions reads the tracking configuration.
func engineOptions() (session.Options, error) {
	granularity, err := time.ParseDuration(viper.GetString("tracking.granularity"))
	if err != nil || granularity <= 0 {
		return session.Options{}, fmt.Errorf("invalid tracking.granularity %q", viper.GetString("tracking.granularity"))
	}
	timeout, err := time.ParseDuration(viper.GetString("task.timeout"))
	if err != nil || timeout <= 0 {
		return session.Options{}, fmt.Errorf("invalid task.timeout %q", viper.GetString("task.timeout"))
	}
	return session.Options{
		Granularity:    granularity,
		Exclusive:      viper.GetBool("tracking.exclusive"),
		CommandTimeout: timeout,
	}, nil
}

func newDaemonLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// daemonNotifier reports transitions to the log, and to the terminal as well
// when the daemon runs in the foreground.
func daemonNotifier(detached bool, logger *slog.Logger) notify.Notifier {
	logged := &notify.LogNotifier{Logger: logger}
	if detached {
		return logged
	}
	return notify.Multi(&notify.UINotifier{UI: ui}, logged)
}

func daemonRunRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := engineOptions()
	if err != nil {
		return err
	}

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	logger := newDaemonLogger(os.Stderr)
	slog.SetDefault(logger)
	opts.Notifier = daemonNotifier(daemonDetached, logger)

	client, err := newTaskClient()
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(false)
	if err != nil {
		return err
	}

	var lister api.Lister
	if viper.GetBool("journal.enabled") {
		j, err := getJournal()
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
		opts.Journal = j
		lister = j
	}

	var (
		engine  *session.Engine
		watcher *watch.Watcher
	)
	if viper.GetBool("tracking.watch_files") {
		watcher, err = watch.New(func(consumer string) { engine.Activity(consumer) })
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		opts.Watcher = watcher
	}
	engine = session.NewEngine(session.NewStore(), session.NewPipelineResolver(pipeline), client, opts)

	ln, err := api.Listen(socketPath())
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(socketPath()) }()

	ctx, stop := signal.NotifyContext(ctx, daemon.ShutdownSignals()...)
	defer stop()

	if watcher != nil {
		watcher.Start()
	}

	logger.Info("daemon started",
		"pid", os.Getpid(),
		"socket", socketPath(),
		"granularity", opts.Granularity,
		"exclusive", opts.Exclusive,
	)

	srv := api.NewServer(engine, lister, buildVersion)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	runErr := engine.Run(ctx)
	stop()
	if err := <-serveErr; err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("daemon stopped")
	return runErr
}

func daemonStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"daemon", "run", "--detached"}
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if dryRun {
		ui.DryRunMsg("Would start %s %v (log: %s)", exe, args, daemonLogPath())
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	pid, err := daemon.Spawn(exe, args, daemonLogPath())
	if err != nil {
		return err
	}

	client := newAPIClient()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Health(context.Background()); err == nil {
			ui.Success("Daemon started (PID %d)", pid)
			ui.VerboseLog("Log: %s", daemonLogPath())
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not become ready; see %s", pid, daemonLogPath())
}

func daemonStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("daemon not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop daemon (PID %d)", pid)
		return nil
	}

	if err := daemon.Stop(pf, 30*time.Second); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return fmt.Errorf("daemon not running")
		}
		return err
	}
	ui.Success("Daemon stopped (PID %d)", pid)
	return nil
}

func daemonStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Daemon: %s", "not running")
		return nil
	}

	h, err := newAPIClient().Health(context.Background())
	if err != nil {
		ui.Warning("Daemon process %d is alive but not answering: %v", pid, err)
		return nil
	}
	ui.Success("Daemon running (PID %d, version %s)", h.PID, h.Version)
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "socket", socketPath())
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "uptime", time.Since(h.StartedAt).Round(time.Second))
	fmt.Fprintf(ui.Out, "  %-10s %d (%d running)\n", "sessions", h.Sessions, h.Running)
	return nil
}
