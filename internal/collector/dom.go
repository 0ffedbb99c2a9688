package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/ipc"
)

// snapshotCallTimeout bounds each CDP call during the snapshot.
const snapshotCallTimeout = 5 * time.Second

// SnapshotDOM captures the serialized document during shutdown. Every
// step degrades gracefully: a failed call yields an empty field, never
// an error.
func SnapshotDOM(ctx context.Context, client Commander, pageURL string, log logrus.FieldLogger) ipc.DOMSnapshot {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("collector", "dom")

	snap := ipc.DOMSnapshot{URL: pageURL}

	call := func(method string, params interface{}) (json.RawMessage, bool) {
		callCtx, cancel := context.WithTimeout(ctx, snapshotCallTimeout)
		defer cancel()
		result, err := client.SendContext(callCtx, method, params)
		if err != nil {
			log.WithError(err).WithField("method", method).Debug("snapshot call failed")
			return nil, false
		}
		return result, true
	}

	call("Page.enable", nil)
	call("DOM.enable", nil)

	var rootID int
	if result, ok := call("DOM.getDocument", map[string]any{"depth": -1}); ok {
		var doc struct {
			Root struct {
				NodeID      int    `json:"nodeId"`
				DocumentURL string `json:"documentURL"`
			} `json:"root"`
		}
		if err := json.Unmarshal(result, &doc); err == nil {
			rootID = doc.Root.NodeID
			if doc.Root.DocumentURL != "" {
				snap.URL = doc.Root.DocumentURL
			}
		}
	}

	if rootID != 0 {
		if result, ok := call("DOM.getOuterHTML", map[string]any{"nodeId": rootID}); ok {
			var html struct {
				OuterHTML string `json:"outerHTML"`
			}
			if err := json.Unmarshal(result, &html); err == nil {
				snap.OuterHTML = html.OuterHTML
			}
		}
	}

	// Frame tree fills in the URL when getDocument could not.
	if snap.URL == "" {
		if result, ok := call("Page.getFrameTree", nil); ok {
			var tree struct {
				FrameTree struct {
					Frame struct {
						URL string `json:"url"`
					} `json:"frame"`
				} `json:"frameTree"`
			}
			if err := json.Unmarshal(result, &tree); err == nil {
				snap.URL = tree.FrameTree.Frame.URL
			}
		}
	}

	if result, ok := call("Runtime.evaluate", map[string]any{
		"expression":    "document.title",
		"returnByValue": true,
	}); ok {
		var eval struct {
			Result struct {
				Value string `json:"value"`
			} `json:"result"`
		}
		if err := json.Unmarshal(result, &eval); err == nil {
			snap.Title = eval.Result.Value
		}
	}

	return snap
}
