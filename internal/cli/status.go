package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Long:  "Reports the running session's target, elapsed time, and telemetry counts. Falls back to the session metadata file when the daemon is unreachable.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := call(ipc.CmdStatus, nil)
	if err == nil {
		var status ipc.StatusData
		if derr := resp.DecodeData(&status); derr != nil {
			return derr
		}
		return printStatus(status)
	}

	// Daemon unreachable: a metadata file may still describe a session
	// whose daemon died, or one running on another transport.
	dir, derr := sessionDir()
	if derr != nil {
		return derr
	}
	meta, merr := dir.ReadMeta()
	if merr != nil {
		if JSONOutput {
			return printJSON(map[string]any{"running": false})
		}
		fmt.Println("No active session")
		return nil
	}

	alive := session.PIDAlive(meta.BdgPid)
	if JSONOutput {
		return printJSON(map[string]any{
			"running":   alive,
			"stale":     !alive,
			"pid":       meta.BdgPid,
			"port":      meta.Port,
			"targetId":  meta.TargetID,
			"startTime": meta.StartTime,
			"telemetry": meta.ActiveTelemetry,
		})
	}

	if alive {
		heading("Session running (daemon unreachable)")
	} else {
		heading("Stale session files found")
		fmt.Println("  Run 'bdg cleanup' to remove them.")
	}
	fmt.Printf("  PID: %d\n  Port: %d\n  Started: %s\n", meta.BdgPid, meta.Port, meta.StartTime.Format(time.RFC3339))
	return nil
}

func printStatus(status ipc.StatusData) error {
	if JSONOutput {
		return printJSON(status)
	}

	heading("Session running")
	fmt.Printf("  URL: %s\n", status.TargetURL)
	if status.TargetTitle != "" {
		fmt.Printf("  Title: %s\n", status.TargetTitle)
	}
	fmt.Printf("  Elapsed: %s\n", (time.Duration(status.ElapsedMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("  Telemetry: %v\n", status.ActiveTelemetry)
	fmt.Printf("  Network: %d requests", status.NetworkCount)
	if status.LastNetworkAt > 0 {
		fmt.Printf(" (last %s ago)", sinceMs(status.LastNetworkAt))
	}
	fmt.Println()
	fmt.Printf("  Console: %d messages", status.ConsoleCount)
	if status.LastConsoleAt > 0 {
		fmt.Printf(" (last %s ago)", sinceMs(status.LastConsoleAt))
	}
	fmt.Println()
	return nil
}

func sinceMs(unixMs int64) time.Duration {
	return time.Since(time.UnixMilli(unixMs)).Round(time.Second)
}
