package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tasktrack/internal/api"
	"github.com/joescharf/tasktrack/internal/daemon"
	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/output"
	"github.com/joescharf/tasktrack/internal/proc"
	"github.com/joescharf/tasktrack/internal/resolve"
	"github.com/joescharf/tasktrack/internal/taskwarrior"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui          *output.UI
	dataJournal journal.Journal

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tasktrack",
	Short: "Directory-scoped Taskwarrior time tracking",
	Long: `tasktrack starts and stops Taskwarrior tasks as you move between directories.

A .tasktrack.yaml file names the task for a directory tree, either by UUID or
by a description composed from text and command output. A background daemon
starts the task when a shell enters the tree and stops it after a period
without activity.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tasktrack/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TASKTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default under stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "tasktrack.db"))
	viper.SetDefault("socket_path", filepath.Join(stateDir, "tasktrack.sock"))
	viper.SetDefault("task.bin", "task")
	viper.SetDefault("task.env_file", "")
	viper.SetDefault("task.timeout", "30s")
	viper.SetDefault("tracking.granularity", "10m")
	viper.SetDefault("tracking.exclusive", false)
	viper.SetDefault("tracking.watch_files", true)
	viper.SetDefault("journal.enabled", true)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The journal is opened lazily, only by commands that need it.
}

// getJournal returns the shared journal, initializing it on first call.
func getJournal() (journal.Journal, error) {
	if dataJournal != nil {
		return dataJournal, nil
	}

	dbPath := viper.GetString("db_path")
	j, err := journal.NewSQLiteJournal(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := j.Migrate(context.Background()); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	dataJournal = j
	return dataJournal, nil
}

// newTaskClient builds the Taskwarrior client from config, replaceable in tests.
var newTaskClient = func() (*taskwarrior.Client, error) {
	env, err := taskwarrior.LoadEnv(viper.GetString("task.env_file"))
	if err != nil {
		return nil, err
	}
	return taskwarrior.NewClient(viper.GetString("task.bin"), env, proc.NewExecRunner()), nil
}

// helperRunner runs descriptor helper commands, replaceable in tests.
var helperRunner proc.Runner = proc.NewExecRunner()

// newPipeline builds a resolution pipeline over the Taskwarrior client.
func newPipeline(dry bool) (*resolve.Resolver, error) {
	client, err := newTaskClient()
	if err != nil {
		return nil, err
	}
	r := resolve.New(client, helperRunner)
	r.DryRun = dry
	return r, nil
}

func socketPath() string {
	return viper.GetString("socket_path")
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "tasktrack.pid"))
}

func daemonLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "tasktrack.log")
}

// newAPIClient returns a daemon client, replaceable in tests.
var newAPIClient = func() *api.Client {
	return api.NewClient(socketPath())
}
