package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	tailLastN    int
	tailFollow   bool
	tailInterval time.Duration
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the newest telemetry, optionally following",
	Long:  "Like peek, but with -f keeps polling the daemon and prints only items that arrived since the previous poll.",
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().IntVarP(&tailLastN, "last", "n", 20, "Number of items per kind (max 100)")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Keep polling for new items until interrupted")
	tailCmd.Flags().DurationVar(&tailInterval, "interval", time.Second, "Poll interval with --follow")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	data, err := fetchPeek(tailLastN, 0)
	if err != nil {
		return err
	}

	if !tailFollow {
		if JSONOutput {
			return printJSON(data)
		}
		printPeek(data)
		return nil
	}

	printPeek(data)
	seenNetwork := data.NetworkTotal
	seenConsole := data.ConsoleTotal

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(tailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
		}

		data, err := fetchPeek(100, 0)
		if err != nil {
			// The session likely ended; stop following.
			return err
		}

		for i, req := range data.Network {
			if data.NetworkTotal-len(data.Network)+i >= seenNetwork {
				printNetworkLine(req)
			}
		}
		for i, msg := range data.Console {
			if data.ConsoleTotal-len(data.Console)+i >= seenConsole {
				printConsoleLine(msg)
			}
		}
		seenNetwork = data.NetworkTotal
		seenConsole = data.ConsoleTotal
	}
}
