package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/cdp"
	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/schema"
	"github.com/bdgtools/bdg/internal/store"
)

const (
	// defaultPeekN is the peek window when the client does not ask for one.
	defaultPeekN = 20
	// maxPeekN caps the peek window.
	maxPeekN = 100
	// maxQueryNodes bounds how many matches a dom_query serializes.
	maxQueryNodes = 10
)

// CDPClient is the slice of the CDP client command handlers need.
// Send applies the client's command timeout internally.
type CDPClient interface {
	Send(method string, params interface{}) (json.RawMessage, error)
}

// handlerSet binds command handlers to daemon state.
type handlerSet struct {
	store   *store.Store
	cdp     CDPClient
	version string
	log     logrus.FieldLogger

	// stop triggers daemon shutdown; invoked asynchronously so the
	// stop_session response reaches the client first.
	stop func(killChrome bool)

	queryMu   sync.Mutex
	lastQuery struct {
		selector string
		nodeIDs  []int64
	}
}

// register wires every command into the registry.
func (h *handlerSet) register(r *Registry) {
	r.Register(ipc.CmdHandshake, h.handshake)
	r.Register(ipc.CmdStatus, h.status)
	r.Register(ipc.CmdPeek, h.peek)
	r.Register(ipc.CmdDetails, h.details)
	r.Register(ipc.CmdStartSession, h.startSession)
	r.Register(ipc.CmdStopSession, h.stopSession)
	r.Register(ipc.CmdCDPCall, h.cdpCall)
	r.Register(ipc.CmdDOMQuery, h.domQuery)
	r.Register(ipc.CmdDOMGet, h.domGet)
	r.Register(ipc.CmdDOMHighlight, h.domHighlight)
	r.Register(ipc.CmdDOMScreenshot, h.domScreenshot)
}

func (h *handlerSet) handshake(req ipc.Request) ipc.Response {
	return ipc.SuccessResponse(req, ipc.HandshakeData{
		Version: h.version,
		PID:     os.Getpid(),
	})
}

func (h *handlerSet) status(req ipc.Request) ipc.Response {
	return ipc.SuccessResponse(req, h.store.Status())
}

func (h *handlerSet) peek(req ipc.Request) ipc.Response {
	var params ipc.PeekParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid peek parameters")
	}

	n := params.LastN
	if n <= 0 {
		n = defaultPeekN
	}
	if n > maxPeekN {
		n = maxPeekN
	}
	if params.Offset < 0 {
		return ipc.ErrorResponse(req, "offset must not be negative")
	}

	return ipc.SuccessResponse(req, h.store.Peek(n, params.Offset))
}

func (h *handlerSet) details(req ipc.Request) ipc.Response {
	var params ipc.DetailsParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid details parameters")
	}

	switch params.ItemType {
	case "network":
		rec, ok := h.store.FindNetwork(params.ID)
		if !ok {
			return ipc.ErrorResponse(req, fmt.Sprintf("network request %q not found", params.ID))
		}
		return ipc.SuccessResponse(req, rec)
	case "console":
		index, err := strconv.Atoi(params.ID)
		if err != nil {
			return ipc.ErrorResponse(req, "console id must be an integer index")
		}
		msg, ok := h.store.ConsoleAt(index)
		if !ok {
			return ipc.ErrorResponse(req, fmt.Sprintf("console message %d not found", index))
		}
		return ipc.SuccessResponse(req, msg)
	default:
		return ipc.ErrorResponse(req, fmt.Sprintf("unknown item type %q", params.ItemType))
	}
}

// startSession against a live daemon always fails: this process is the
// session.
func (h *handlerSet) startSession(req ipc.Request) ipc.Response {
	return ipc.CodedErrorResponse(req, ipc.CodeSessionAlreadyRunning, "a session is already running")
}

func (h *handlerSet) stopSession(req ipc.Request) ipc.Response {
	var params ipc.StopSessionParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid stop parameters")
	}

	h.log.WithField("killChrome", params.KillChrome).Info("stop requested")
	go h.stop(params.KillChrome)

	return ipc.SuccessResponse(req, map[string]string{"state": "stopping"})
}

func (h *handlerSet) cdpCall(req ipc.Request) ipc.Response {
	var params ipc.CDPCallParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid cdp parameters")
	}

	method, ok := schema.Normalize(params.Method)
	if !ok {
		return ipc.ErrorResponse(req, fmt.Sprintf("method not found: %s", params.Method))
	}

	var args interface{}
	if len(params.Params) > 0 {
		args = params.Params
	}

	result, err := h.cdp.Send(method, args)
	if err != nil {
		if errors.Is(err, cdp.ErrCommandTimeout) {
			return ipc.CodedErrorResponse(req, ipc.CodeCDPTimeout, err.Error())
		}
		return ipc.ErrorResponse(req, err.Error())
	}
	return ipc.SuccessResponse(req, ipc.CDPCallData{Result: result})
}

func (h *handlerSet) domQuery(req ipc.Request) ipc.Response {
	var params ipc.DOMQueryParams
	if err := req.Decode(&params); err != nil || params.Selector == "" {
		return ipc.ErrorResponse(req, "selector is required")
	}

	rootID, err := h.documentRoot()
	if err != nil {
		return h.cdpError(req, err)
	}

	result, err := h.cdp.Send("DOM.querySelectorAll", map[string]any{
		"nodeId":   rootID,
		"selector": params.Selector,
	})
	if err != nil {
		return h.cdpError(req, err)
	}

	var matches struct {
		NodeIDs []int64 `json:"nodeIds"`
	}
	if err := json.Unmarshal(result, &matches); err != nil {
		return ipc.ErrorResponse(req, "bad querySelectorAll result")
	}

	h.queryMu.Lock()
	h.lastQuery.selector = params.Selector
	h.lastQuery.nodeIDs = matches.NodeIDs
	h.queryMu.Unlock()

	data := ipc.DOMQueryData{
		Selector: params.Selector,
		Count:    len(matches.NodeIDs),
		Nodes:    []ipc.DOMNode{},
	}
	for i, nodeID := range matches.NodeIDs {
		if i >= maxQueryNodes {
			break
		}
		node := ipc.DOMNode{Index: i, NodeID: nodeID}
		if html, err := h.outerHTML(nodeID); err == nil {
			node.OuterHTML = html
		}
		data.Nodes = append(data.Nodes, node)
	}
	return ipc.SuccessResponse(req, data)
}

func (h *handlerSet) domGet(req ipc.Request) ipc.Response {
	var params ipc.DOMGetParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid dom parameters")
	}

	nodeID, resp := h.resolveNode(req, params.Selector, params.Index)
	if resp != nil {
		return *resp
	}

	html, err := h.outerHTML(nodeID)
	if err != nil {
		return h.cdpError(req, err)
	}
	return ipc.SuccessResponse(req, ipc.DOMGetData{NodeID: nodeID, OuterHTML: html})
}

func (h *handlerSet) domHighlight(req ipc.Request) ipc.Response {
	var params ipc.DOMHighlightParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid dom parameters")
	}

	nodeID, resp := h.resolveNode(req, params.Selector, params.Index)
	if resp != nil {
		return *resp
	}

	// Overlay.enable is required once per session; repeating it is harmless.
	if _, err := h.cdp.Send("Overlay.enable", nil); err != nil {
		return h.cdpError(req, err)
	}
	_, err := h.cdp.Send("Overlay.highlightNode", map[string]any{
		"nodeId": nodeID,
		"highlightConfig": map[string]any{
			"showInfo":     true,
			"contentColor": map[string]any{"r": 111, "g": 168, "b": 220, "a": 0.66},
		},
	})
	if err != nil {
		return h.cdpError(req, err)
	}
	return ipc.SuccessResponse(req, map[string]int64{"nodeId": nodeID})
}

func (h *handlerSet) domScreenshot(req ipc.Request) ipc.Response {
	var params ipc.DOMScreenshotParams
	if err := req.Decode(&params); err != nil {
		return ipc.ErrorResponse(req, "invalid screenshot parameters")
	}

	format := params.Format
	if format == "" {
		format = "png"
	}

	args := map[string]any{"format": format}
	if format == "jpeg" && params.Quality > 0 {
		args["quality"] = params.Quality
	}
	if params.FullPage {
		args["captureBeyondViewport"] = true
	}

	result, err := h.cdp.Send("Page.captureScreenshot", args)
	if err != nil {
		return h.cdpError(req, err)
	}

	var shot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &shot); err != nil {
		return ipc.ErrorResponse(req, "bad captureScreenshot result")
	}
	return ipc.SuccessResponse(req, ipc.DOMScreenshotData{Data: shot.Data, Format: format})
}

// resolveNode finds a node id by selector, or by index into the last
// dom_query. The second return value is non-nil on failure.
func (h *handlerSet) resolveNode(req ipc.Request, selector string, index int) (int64, *ipc.Response) {
	if selector != "" {
		rootID, err := h.documentRoot()
		if err != nil {
			resp := h.cdpError(req, err)
			return 0, &resp
		}
		result, err := h.cdp.Send("DOM.querySelector", map[string]any{
			"nodeId":   rootID,
			"selector": selector,
		})
		if err != nil {
			resp := h.cdpError(req, err)
			return 0, &resp
		}
		var match struct {
			NodeID int64 `json:"nodeId"`
		}
		if err := json.Unmarshal(result, &match); err != nil || match.NodeID == 0 {
			resp := ipc.ErrorResponse(req, fmt.Sprintf("no element matches %q", selector))
			return 0, &resp
		}
		return match.NodeID, nil
	}

	h.queryMu.Lock()
	defer h.queryMu.Unlock()
	if index < 0 || index >= len(h.lastQuery.nodeIDs) {
		resp := ipc.ErrorResponse(req, fmt.Sprintf("index %d out of range for last query", index))
		return 0, &resp
	}
	return h.lastQuery.nodeIDs[index], nil
}

// documentRoot fetches the current document's root node id.
func (h *handlerSet) documentRoot() (int64, error) {
	result, err := h.cdp.Send("DOM.getDocument", map[string]any{"depth": 1})
	if err != nil {
		return 0, err
	}
	var doc struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(result, &doc); err != nil {
		return 0, fmt.Errorf("bad getDocument result: %w", err)
	}
	return doc.Root.NodeID, nil
}

func (h *handlerSet) outerHTML(nodeID int64) (string, error) {
	result, err := h.cdp.Send("DOM.getOuterHTML", map[string]any{"nodeId": nodeID})
	if err != nil {
		return "", err
	}
	var html struct {
		OuterHTML string `json:"outerHTML"`
	}
	if err := json.Unmarshal(result, &html); err != nil {
		return "", fmt.Errorf("bad getOuterHTML result: %w", err)
	}
	return html.OuterHTML, nil
}

func (h *handlerSet) cdpError(req ipc.Request, err error) ipc.Response {
	if errors.Is(err, cdp.ErrCommandTimeout) {
		return ipc.CodedErrorResponse(req, ipc.CodeCDPTimeout, err.Error())
	}
	return ipc.ErrorResponse(req, err.Error())
}
