package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hookCmd = &cobra.Command{
	Use:       "hook <bash|zsh|fish>",
	Short:     "Print a shell hook that reports directory changes",
	ValidArgs: []string{"bash", "zsh", "fish"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Long: `Print a snippet that runs 'tasktrack visit' whenever the shell changes
directory. Each shell reports as its own consumer. Add it to your shell rc:

  eval "$(tasktrack hook zsh)"     # ~/.zshrc
  eval "$(tasktrack hook bash)"    # ~/.bashrc
  tasktrack hook fish | source     # ~/.config/fish/config.fish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hookRun(args[0])
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

const bashHook = `_tasktrack_hook() {
  if [ "$PWD" != "$_TASKTRACK_LAST" ]; then
    _TASKTRACK_LAST="$PWD"
    (tasktrack visit "$PWD" --consumer "shell-$$" --quiet &)
  fi
}
case ";${PROMPT_COMMAND};" in
  *";_tasktrack_hook;"*) ;;
  *) PROMPT_COMMAND="_tasktrack_hook${PROMPT_COMMAND:+;$PROMPT_COMMAND}" ;;
esac
`

const zshHook = `_tasktrack_hook() {
  (tasktrack visit "$PWD" --consumer "shell-$$" --quiet &)
}
autoload -Uz add-zsh-hook
add-zsh-hook chpwd _tasktrack_hook
_tasktrack_hook
`

const fishHook = `function _tasktrack_hook --on-variable PWD
  tasktrack visit "$PWD" --consumer "shell-$fish_pid" --quiet &
  disown
end
_tasktrack_hook
`

func hookRun(shell string) error {
	switch shell {
	case "bash":
		fmt.Fprint(ui.Out, bashHook)
	case "zsh":
		fmt.Fprint(ui.Out, zshHook)
	case "fish":
		fmt.Fprint(ui.Out, fishHook)
	default:
		return fmt.Errorf("unsupported shell: %s (use: bash, zsh, fish)", shell)
	}
	return nil
}
