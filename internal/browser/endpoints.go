package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bdgtools/bdg/internal/ipc"
)

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// FetchTargets retrieves the list of available targets from /json/list.
// Uses http.DefaultClient which has no timeout; callers must provide a
// context with timeout. This is acceptable for local CDP calls.
func FetchTargets(ctx context.Context, host string, port int) ([]ipc.TargetInfo, error) {
	endpoint := fmt.Sprintf("http://%s:%d/json/list", host, port)

	body, err := httpGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}

	var targets []ipc.TargetInfo
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from /json/version.
func FetchVersion(ctx context.Context, host string, port int) (*VersionInfo, error) {
	endpoint := fmt.Sprintf("http://%s:%d/json/version", host, port)

	body, err := httpGet(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}
	return &info, nil
}

// CreateTargetHTTP opens a new tab via POST /json/new. Fallback for
// browsers where Target.createTarget fails on the browser endpoint.
func CreateTargetHTTP(ctx context.Context, host string, port int, targetURL string) (*ipc.TargetInfo, error) {
	endpoint := fmt.Sprintf("http://%s:%d/json/new?%s", host, port, url.QueryEscape(targetURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var target ipc.TargetInfo
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	return &target, nil
}

func httpGet(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
