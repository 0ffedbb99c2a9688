package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
)

var (
	peekLastN  int
	peekOffset int
)

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Show recent telemetry",
	Long:  "Returns the most recent network requests and console messages from the running session without ending it.",
	RunE:  runPeek,
}

func init() {
	peekCmd.Flags().IntVarP(&peekLastN, "last", "n", 20, "Number of items per kind (max 100)")
	peekCmd.Flags().IntVar(&peekOffset, "offset", 0, "Skip this many items from the end")
	rootCmd.AddCommand(peekCmd)
}

func runPeek(cmd *cobra.Command, args []string) error {
	data, err := fetchPeek(peekLastN, peekOffset)
	if err != nil {
		return err
	}

	if JSONOutput {
		return printJSON(data)
	}
	printPeek(data)
	return nil
}

func fetchPeek(lastN, offset int) (ipc.PeekData, error) {
	resp, err := call(ipc.CmdPeek, ipc.PeekParams{LastN: lastN, Offset: offset})
	if err != nil {
		return ipc.PeekData{}, err
	}
	var data ipc.PeekData
	if err := resp.DecodeData(&data); err != nil {
		return ipc.PeekData{}, err
	}
	return data, nil
}

func printPeek(data ipc.PeekData) {
	heading("Network (%d of %d)", len(data.Network), data.NetworkTotal)
	for _, req := range data.Network {
		printNetworkLine(req)
	}
	if len(data.Network) == 0 {
		fmt.Println("  (none)")
	}

	heading("Console (%d of %d)", len(data.Console), data.ConsoleTotal)
	for _, msg := range data.Console {
		printConsoleLine(msg)
	}
	if len(data.Console) == 0 {
		fmt.Println("  (none)")
	}
}

func printNetworkLine(req ipc.NetworkRequest) {
	status := fmt.Sprintf("%d", req.Status)
	if req.Failed {
		status = "FAIL"
	}
	fmt.Printf("  %s  %-4s %-6s %s\n",
		time.UnixMilli(req.Timestamp).Format("15:04:05"),
		status, req.Method, truncate(req.URL, 100))
}

func printConsoleLine(msg ipc.ConsoleMessage) {
	fmt.Printf("  %s  %-7s %s\n",
		time.UnixMilli(msg.Timestamp).Format("15:04:05"),
		msg.Type, truncate(strings.ReplaceAll(msg.Text, "\n", " "), 140))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
