package cli

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
)

var domCmd = &cobra.Command{
	Use:   "dom",
	Short: "Inspect the live DOM",
}

var domQueryCmd = &cobra.Command{
	Use:   "query <selector>",
	Short: "List elements matching a CSS selector",
	Long:  "Matches are cached in the daemon; dom get and dom highlight accept --index to address them.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDOMQuery,
}

var (
	domIndex    int
	domSelector string
)

var domGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print one element's outer HTML",
	RunE:  runDOMGet,
}

var domHighlightCmd = &cobra.Command{
	Use:   "highlight",
	Short: "Highlight one element in the browser",
	RunE:  runDOMHighlight,
}

var (
	screenshotOut      string
	screenshotFormat   string
	screenshotQuality  int
	screenshotFullPage bool
)

var domScreenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture the page as an image",
	RunE:  runDOMScreenshot,
}

func init() {
	for _, cmd := range []*cobra.Command{domGetCmd, domHighlightCmd} {
		cmd.Flags().StringVar(&domSelector, "selector", "", "CSS selector")
		cmd.Flags().IntVar(&domIndex, "index", -1, "Index into the last dom query")
	}
	domScreenshotCmd.Flags().StringVarP(&screenshotOut, "output", "o", "", "Write the image to this file instead of stdout")
	domScreenshotCmd.Flags().StringVar(&screenshotFormat, "format", "png", "Image format: png or jpeg")
	domScreenshotCmd.Flags().IntVar(&screenshotQuality, "quality", 0, "JPEG quality 1-100")
	domScreenshotCmd.Flags().BoolVar(&screenshotFullPage, "full-page", false, "Capture beyond the viewport")

	domCmd.AddCommand(domQueryCmd, domGetCmd, domHighlightCmd, domScreenshotCmd)
	rootCmd.AddCommand(domCmd)
}

func runDOMQuery(cmd *cobra.Command, args []string) error {
	resp, err := call(ipc.CmdDOMQuery, ipc.DOMQueryParams{Selector: args[0]})
	if err != nil {
		return err
	}

	var data ipc.DOMQueryData
	if err := resp.DecodeData(&data); err != nil {
		return err
	}

	if JSONOutput {
		return printJSON(data)
	}
	heading("%d elements match %q", data.Count, data.Selector)
	for _, node := range data.Nodes {
		fmt.Printf("  [%d] %s\n", node.Index, truncate(node.OuterHTML, 120))
	}
	return nil
}

// nodeRef validates the selector/index pair shared by get and highlight.
func nodeRef() (string, int, error) {
	if domSelector == "" && domIndex < 0 {
		return "", 0, errWithCode(ExitInvalidArguments, "either --selector or --index is required")
	}
	return domSelector, domIndex, nil
}

func runDOMGet(cmd *cobra.Command, args []string) error {
	selector, index, err := nodeRef()
	if err != nil {
		return err
	}

	resp, err := call(ipc.CmdDOMGet, ipc.DOMGetParams{Selector: selector, Index: index})
	if err != nil {
		return err
	}

	var data ipc.DOMGetData
	if err := resp.DecodeData(&data); err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(data)
	}
	fmt.Println(data.OuterHTML)
	return nil
}

func runDOMHighlight(cmd *cobra.Command, args []string) error {
	selector, index, err := nodeRef()
	if err != nil {
		return err
	}

	if _, err := call(ipc.CmdDOMHighlight, ipc.DOMHighlightParams{Selector: selector, Index: index}); err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(map[string]bool{"ok": true})
	}
	fmt.Println("Highlighted")
	return nil
}

func runDOMScreenshot(cmd *cobra.Command, args []string) error {
	resp, err := call(ipc.CmdDOMScreenshot, ipc.DOMScreenshotParams{
		Format:   screenshotFormat,
		Quality:  screenshotQuality,
		FullPage: screenshotFullPage,
	})
	if err != nil {
		return err
	}

	var data ipc.DOMScreenshotData
	if err := resp.DecodeData(&data); err != nil {
		return err
	}

	if screenshotOut == "" {
		if JSONOutput {
			return printJSON(data)
		}
		fmt.Println(data.Data)
		return nil
	}

	img, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return fmt.Errorf("decode image data: %w", err)
	}
	if err := os.WriteFile(screenshotOut, img, 0644); err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(map[string]string{"file": screenshotOut, "format": data.Format})
	}
	fmt.Printf("Saved %s\n", screenshotOut)
	return nil
}
