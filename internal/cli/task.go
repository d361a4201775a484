package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and control the background tasks",
	Long: `Inspect and control the background tasks.

Known task IDs:
  openbao_token_renew   renew the OpenBao token
  openbao_lease_renew   renew leases under lease_prefixes
  nomad_job_poll        poll Nomad job statuses and raise alerts`,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks and their schedules",
	RunE:  runTaskList,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run a task once, now",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRun,
}

var taskEnableCmd = &cobra.Command{
	Use:   "enable <task-id>",
	Short: "Enable a task's schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(args[0], true)
	},
}

var taskDisableCmd = &cobra.Command{
	Use:   "disable <task-id>",
	Short: "Disable a task's schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(args[0], false)
	},
}

func init() {
	taskCmd.AddCommand(taskDisableCmd)
	taskCmd.AddCommand(taskEnableCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRunCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	for _, id := range []string{config.TaskTokenRenew, config.TaskLeaseRenew, config.TaskJobPoll} {
		task := settings.Task(id)
		state := styleLabel.Render("disabled")
		if task.Enabled {
			state = styleSuccess.Render("enabled")
		}
		fmt.Printf("%-24s %s  every %s\n", styleValue.Render(id), state, task.Interval())
	}
	return nil
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withDaemon(io.Discard, func(d *daemon.Daemon) error {
		if err := d.TriggerTask(id); err != nil {
			return err
		}

		// The trigger is asynchronous; wait for the run to finish.
		deadline := time.Now().Add(2 * time.Minute)
		for time.Now().Before(deadline) {
			for _, task := range d.Tasks() {
				if task.ID != id || task.LastRunAt.IsZero() {
					continue
				}
				if task.LastError != "" {
					return fmt.Errorf("task %s: %s", id, task.LastError)
				}
				fmt.Printf("Task %s ran at %s.\n", id, task.LastRunAt.Format(time.TimeOnly))
				return nil
			}
			time.Sleep(50 * time.Millisecond)
		}
		return fmt.Errorf("task %s did not finish within timeout", id)
	})
}

func setTaskEnabled(id string, enabled bool) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if _, ok := config.NewSettings().Tasks[id]; !ok {
		return fmt.Errorf("unknown task %q", id)
	}

	if settings.Tasks == nil {
		settings.Tasks = make(map[string]config.TaskSettings)
	}
	task := settings.Task(id)
	task.Enabled = enabled
	settings.Tasks[id] = task

	if err := config.SaveSettings(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	// A running opstrayd picks the change up through its settings watcher.
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Printf("Task %s %s.\n", id, verb)
	return nil
}
