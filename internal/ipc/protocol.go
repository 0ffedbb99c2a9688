// Package ipc implements the local-socket protocol between the bdg CLI
// and the session daemon. Frames are JSON Lines: one JSON object per line.
package ipc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Request type names. The wire type is "<name>_request" and the matching
// response is "<name>_response".
const (
	CmdHandshake     = "handshake"
	CmdStatus        = "status"
	CmdPeek          = "peek"
	CmdDetails       = "details"
	CmdStartSession  = "start_session"
	CmdStopSession   = "stop_session"
	CmdCDPCall       = "cdp_call"
	CmdDOMQuery      = "dom_query"
	CmdDOMGet        = "dom_get"
	CmdDOMHighlight  = "dom_highlight"
	CmdDOMScreenshot = "dom_screenshot"
)

// Structured error codes for session-control responses.
const (
	CodeNoSession            = "NO_SESSION"
	CodeSessionKillFailed    = "SESSION_KILL_FAILED"
	CodeSessionAlreadyRunning = "SESSION_ALREADY_RUNNING"
	CodeWorkerStartFailed    = "WORKER_START_FAILED"
	CodeChromeLaunchFailed   = "CHROME_LAUNCH_FAILED"
	CodeCDPTimeout           = "CDP_TIMEOUT"
	CodeDaemonError          = "DAEMON_ERROR"
)

const (
	statusOK    = "ok"
	statusError = "error"

	requestSuffix  = "_request"
	responseSuffix = "_response"
)

// Request is a decoded request envelope. Payload fields sit at the top
// level of the frame alongside type and sessionId; Decode extracts them.
type Request struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`

	raw json.RawMessage
}

// UnmarshalJSON keeps the raw frame so payload fields can be decoded
// into typed parameter structs later.
func (r *Request) UnmarshalJSON(data []byte) error {
	type alias struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.Type = a.Type
	r.SessionID = a.SessionID
	r.raw = append(r.raw[:0], data...)
	return nil
}

// Decode unmarshals the request payload into v.
func (r *Request) Decode(v any) error {
	if len(r.raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.raw, v)
}

// Name returns the command name with the "_request" suffix stripped.
func (r *Request) Name() string {
	return strings.TrimSuffix(r.Type, requestSuffix)
}

// NewRequest builds a request frame for the named command with a fresh
// session id. Payload may be nil.
func NewRequest(name string, payload any) (Request, []byte, error) {
	fields := map[string]any{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Request{}, nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return Request{}, nil, fmt.Errorf("payload must be an object: %w", err)
		}
	}

	req := Request{
		Type:      name + requestSuffix,
		SessionID: uuid.NewString(),
	}
	fields["type"] = req.Type
	fields["sessionId"] = req.SessionID

	frame, err := json.Marshal(fields)
	if err != nil {
		return Request{}, nil, err
	}
	req.raw = frame
	return req, frame, nil
}

// Response is the response envelope. SessionID always echoes the request.
type Response struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
}

// OK reports whether the response carries an ok status.
func (r Response) OK() bool {
	return r.Status == statusOK
}

// DecodeData unmarshals the response data payload into v.
func (r Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// responseType derives "<name>_response" from a request type.
func responseType(reqType string) string {
	return strings.TrimSuffix(reqType, requestSuffix) + responseSuffix
}

// SuccessResponse creates an ok response for the given request.
func SuccessResponse(req Request, data any) Response {
	resp := Response{
		Type:      responseType(req.Type),
		SessionID: req.SessionID,
		Status:    statusOK,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResponse(req, fmt.Sprintf("internal error: marshal response: %v", err))
		}
		resp.Data = raw
	}
	return resp
}

// ErrorResponse creates an error response for the given request.
func ErrorResponse(req Request, msg string) Response {
	return Response{
		Type:      responseType(req.Type),
		SessionID: req.SessionID,
		Status:    statusError,
		Error:     msg,
	}
}

// CodedErrorResponse creates an error response with a structured error code.
func CodedErrorResponse(req Request, code, msg string) Response {
	resp := ErrorResponse(req, msg)
	resp.ErrorCode = code
	return resp
}

// TargetInfo identifies the Chrome tab the session is attached to.
type TargetInfo struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	WebSocketURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// NetworkRequest is one captured network exchange. Immutable once it
// reaches the telemetry store.
type NetworkRequest struct {
	RequestID       string            `json:"requestId"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Timestamp       int64             `json:"timestamp"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     string            `json:"requestBody,omitempty"`
	Status          int               `json:"status"`
	MimeType        string            `json:"mimeType,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty"`
	Failed          bool              `json:"failed,omitempty"`
}

// ConsoleMessage is one captured console entry. Timestamp is wall-clock
// milliseconds since epoch.
type ConsoleMessage struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
	Args      []string `json:"args,omitempty"`
}

// DOMSnapshot is a one-shot capture of the page document.
type DOMSnapshot struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	OuterHTML string `json:"outerHTML"`
}

// HandshakeData is the payload of a handshake response.
type HandshakeData struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// PeekParams selects the tail of the telemetry buffers.
type PeekParams struct {
	LastN  int `json:"lastN"`
	Offset int `json:"offset,omitempty"`
}

// PeekData is the payload of a peek response.
type PeekData struct {
	Network        []NetworkRequest `json:"network"`
	Console        []ConsoleMessage `json:"console"`
	NetworkTotal   int              `json:"networkTotal"`
	ConsoleTotal   int              `json:"consoleTotal"`
	NetworkHasMore bool             `json:"networkHasMore"`
	ConsoleHasMore bool             `json:"consoleHasMore"`
}

// DetailsParams addresses a single telemetry item.
// For network items ID is the CDP requestId; for console items it is the
// integer position in the buffer.
type DetailsParams struct {
	ItemType string `json:"itemType"`
	ID       string `json:"id"`
}

// StatusData is the payload of a status response.
type StatusData struct {
	StartTime       int64    `json:"startTime"`
	ElapsedMs       int64    `json:"elapsedMs"`
	TargetURL       string   `json:"targetUrl,omitempty"`
	TargetTitle     string   `json:"targetTitle,omitempty"`
	ActiveTelemetry []string `json:"activeTelemetry"`
	NetworkCount    int      `json:"networkCount"`
	ConsoleCount    int      `json:"consoleCount"`
	LastNetworkAt   int64    `json:"lastNetworkAt,omitempty"`
	LastConsoleAt   int64    `json:"lastConsoleAt,omitempty"`
}

// CDPCallParams forwards a raw CDP command.
type CDPCallParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CDPCallData wraps the verbatim CDP result.
type CDPCallData struct {
	Result json.RawMessage `json:"result"`
}

// StopSessionParams controls shutdown behavior.
type StopSessionParams struct {
	KillChrome bool `json:"killChrome,omitempty"`
}

// DOMQueryParams runs a selector query.
type DOMQueryParams struct {
	Selector string `json:"selector"`
}

// DOMNode is one matched element from a dom_query.
type DOMNode struct {
	Index     int    `json:"index"`
	NodeID    int64  `json:"nodeId"`
	OuterHTML string `json:"outerHTML,omitempty"`
}

// DOMQueryData is the payload of a dom_query response.
type DOMQueryData struct {
	Selector string    `json:"selector"`
	Count    int       `json:"count"`
	Nodes    []DOMNode `json:"nodes"`
}

// DOMGetParams fetches one element by selector or by cached query index.
type DOMGetParams struct {
	Selector string `json:"selector,omitempty"`
	Index    int    `json:"index,omitempty"`
}

// DOMGetData is the payload of a dom_get response.
type DOMGetData struct {
	NodeID    int64  `json:"nodeId"`
	OuterHTML string `json:"outerHTML"`
}

// DOMHighlightParams highlights one element.
type DOMHighlightParams struct {
	Selector string `json:"selector,omitempty"`
	Index    int    `json:"index,omitempty"`
}

// DOMScreenshotParams captures the page.
type DOMScreenshotParams struct {
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
}

// DOMScreenshotData carries base64 image data.
type DOMScreenshotData struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}
