package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tasktrack"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage tasktrack configuration.

Running bare 'tasktrack config' is the same as 'tasktrack config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# tasktrack configuration
# See: tasktrack config show (for effective values and sources)

# State directory for the PID file, log and socket (default: ~/.config/tasktrack)
# state_dir: {{ .StateDir }}

# SQLite journal of task starts and stops (default: <state_dir>/tasktrack.db)
# db_path: {{ .DBPath }}

# Unix socket the daemon listens on (default: <state_dir>/tasktrack.sock)
# socket_path: {{ .SocketPath }}

# Taskwarrior
task:
  # Taskwarrior binary (default: "task")
  bin: "{{ .TaskBin }}"

  # Optional dotenv file with TASKRC/TASKDATA for every task invocation
  env_file: "{{ .TaskEnvFile }}"

  # Timeout for a single task command (default: 30s)
  timeout: "{{ .TaskTimeout }}"

# Session tracking
tracking:
  # Idle time before a running task is stopped (default: 10m)
  granularity: "{{ .Granularity }}"

  # Run at most one task at a time (default: false)
  exclusive: {{ .Exclusive }}

  # Treat file writes under a tracked directory as activity (default: true)
  watch_files: {{ .WatchFiles }}

# Journal
journal:
  # Record starts and stops for 'tasktrack report' (default: true)
  enabled: {{ .JournalEnabled }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	SocketPath     string
	TaskBin        string
	TaskEnvFile    string
	TaskTimeout    string
	Granularity    string
	Exclusive      bool
	WatchFiles     bool
	JournalEnabled bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		SocketPath:     viper.GetString("socket_path"),
		TaskBin:        viper.GetString("task.bin"),
		TaskEnvFile:    viper.GetString("task.env_file"),
		TaskTimeout:    viper.GetString("task.timeout"),
		Granularity:    viper.GetString("tracking.granularity"),
		Exclusive:      viper.GetBool("tracking.exclusive"),
		WatchFiles:     viper.GetBool("tracking.watch_files"),
		JournalEnabled: viper.GetBool("journal.enabled"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "TASKTRACK_STATE_DIR"},
	{Key: "db_path", EnvVar: "TASKTRACK_DB_PATH"},
	{Key: "socket_path", EnvVar: "TASKTRACK_SOCKET_PATH"},
	{Key: "task.bin", EnvVar: "TASKTRACK_TASK_BIN"},
	{Key: "task.env_file", EnvVar: "TASKTRACK_TASK_ENV_FILE"},
	{Key: "task.timeout", EnvVar: "TASKTRACK_TASK_TIMEOUT"},
	{Key: "tracking.granularity", EnvVar: "TASKTRACK_TRACKING_GRANULARITY"},
	{Key: "tracking.exclusive", EnvVar: "TASKTRACK_TRACKING_EXCLUSIVE"},
	{Key: "tracking.watch_files", EnvVar: "TASKTRACK_TRACKING_WATCH_FILES"},
	{Key: "journal.enabled", EnvVar: "TASKTRACK_JOURNAL_ENABLED"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'tasktrack config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
