package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
)

var detailsCmd = &cobra.Command{
	Use:   "details <network|console> <id>",
	Short: "Show one telemetry item in full",
	Long:  "For network items the id is the CDP requestId; for console items it is the integer position reported by peek.",
	Args:  cobra.ExactArgs(2),
	RunE:  runDetails,
}

func init() {
	rootCmd.AddCommand(detailsCmd)
}

func runDetails(cmd *cobra.Command, args []string) error {
	itemType := args[0]
	if itemType != "network" && itemType != "console" {
		return errWithCode(ExitInvalidArguments, "item type must be 'network' or 'console', got %q", itemType)
	}

	resp, err := call(ipc.CmdDetails, ipc.DetailsParams{ItemType: itemType, ID: args[1]})
	if err != nil {
		return err
	}

	if itemType == "network" {
		var rec ipc.NetworkRequest
		if err := resp.DecodeData(&rec); err != nil {
			return err
		}
		if JSONOutput {
			return printJSON(rec)
		}
		heading("%s %s", rec.Method, rec.URL)
		fmt.Printf("  Status: %d\n  MIME: %s\n", rec.Status, rec.MimeType)
		printHeaderBlock("Request headers", rec.RequestHeaders)
		printHeaderBlock("Response headers", rec.ResponseHeaders)
		if rec.RequestBody != "" {
			heading("Request body")
			fmt.Println(rec.RequestBody)
		}
		if rec.ResponseBody != "" {
			heading("Response body")
			fmt.Println(rec.ResponseBody)
		}
		return nil
	}

	var msg ipc.ConsoleMessage
	if err := resp.DecodeData(&msg); err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(msg)
	}
	heading("console.%s", msg.Type)
	fmt.Println(msg.Text)
	return nil
}

func printHeaderBlock(title string, headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	heading(title)
	for k, v := range headers {
		fmt.Printf("  %s: %s\n", k, v)
	}
}
