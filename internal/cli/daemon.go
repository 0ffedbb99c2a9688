package cli

import (
	"github.com/spf13/cobra"
)

// daemonOpts mirrors startOpts for the hidden process entry point.
var (
	daemonOpts startFlags
	daemonURL  string
)

// daemonCmd is the hidden entry point 'bdg start' re-executes itself
// with. It runs the session daemon in the foreground of the detached
// process.
var daemonCmd = &cobra.Command{
	Use:    "__daemon",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonCmd,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonURL, "url", "", "Target URL")
	registerStartFlags(daemonCmd, &daemonOpts)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	target, err := normalizeURL(daemonURL)
	if err != nil {
		return err
	}
	return runDaemonProcess(target, &daemonOpts)
}
