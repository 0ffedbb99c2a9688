package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale session files",
	Long:  "Removes lock, PID, and metadata files left behind by a crashed session and kills orphaned processes. A live session is never touched.",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}

	res, err := session.Cleanup(dir, newLogger())
	if err != nil {
		if errors.Is(err, session.ErrLockHeld) {
			return errWithCode(ExitResourceBusy, "a session is running; stop it with 'bdg stop'")
		}
		return err
	}

	if JSONOutput {
		return printJSON(map[string]any{
			"cleaned":      res.Cleaned,
			"killedWorker": res.KilledWorker,
			"killedChrome": res.KilledChrome,
		})
	}

	switch {
	case res.Cleaned:
		fmt.Println("Stale session files removed")
	default:
		fmt.Println("Nothing to clean")
	}
	if res.KilledWorker {
		fmt.Println("Killed orphaned worker process")
	}
	if res.KilledChrome {
		fmt.Println("Terminated leftover Chrome process")
	}
	return nil
}
