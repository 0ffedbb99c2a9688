package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
)

var stopKillChrome bool

// stopWait bounds how long stop waits for the daemon to exit.
const stopWait = 15 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running session",
	Long:  "Asks the daemon to finish the session: telemetry is flushed to session.json and the session files are removed.",
	RunE:  runStop,
}

func init() {
	stopCmd.Flags().BoolVar(&stopKillChrome, "kill-chrome", false, "Also terminate Chrome")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}

	if _, err := call(ipc.CmdStopSession, ipc.StopSessionParams{KillChrome: stopKillChrome}); err != nil {
		return err
	}

	// The daemon removes its socket as the last shutdown step.
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(dir.DaemonSocket()); os.IsNotExist(err) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if JSONOutput {
		return printJSON(map[string]any{
			"ok":     true,
			"output": dir.Output(),
		})
	}
	heading("Session stopped")
	fmt.Printf("  Telemetry written to %s\n", dir.Output())
	return nil
}
