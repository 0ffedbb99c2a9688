package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
)

var cdpCmd = &cobra.Command{
	Use:   "cdp <method> [params-json]",
	Short: "Forward a raw CDP command to the session tab",
	Long:  "Method names are matched case-insensitively against the bundled protocol schema, e.g. 'page.navigate' sends Page.navigate.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCDP,
}

func init() {
	rootCmd.AddCommand(cdpCmd)
}

func runCDP(cmd *cobra.Command, args []string) error {
	params := ipc.CDPCallParams{Method: args[0]}
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return errWithCode(ExitInvalidArguments, "params must be valid JSON")
		}
		params.Params = json.RawMessage(args[1])
	}

	resp, err := call(ipc.CmdCDPCall, params)
	if err != nil {
		return err
	}

	var data ipc.CDPCallData
	if err := resp.DecodeData(&data); err != nil {
		return err
	}

	if JSONOutput {
		return printJSON(data)
	}

	var pretty any
	if err := json.Unmarshal(data.Result, &pretty); err != nil {
		fmt.Println(string(data.Result))
		return nil
	}
	return printJSON(pretty)
}
