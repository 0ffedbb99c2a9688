package browser

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// debuggerStub serves canned responses on the endpoints Chrome exposes.
func debuggerStub(t *testing.T, handler http.HandlerFunc) (string, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestFetchTargets(t *testing.T) {
	host, port := debuggerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/list", r.URL.Path)
		w.Write([]byte(`[
			{"id":"T1","type":"page","url":"https://example.com/","title":"Example","webSocketDebuggerUrl":"ws://x/devtools/page/T1"},
			{"id":"T2","type":"background_page","url":"chrome-extension://abc","title":"Ext"}
		]`))
	})

	targets, err := FetchTargets(context.Background(), host, port)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "T1", targets[0].ID)
	assert.Equal(t, "ws://x/devtools/page/T1", targets[0].WebSocketURL)
}

func TestFetchVersion(t *testing.T) {
	host, port := debuggerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/version", r.URL.Path)
		w.Write([]byte(`{"Browser":"Chrome/131.0.0.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://x/devtools/browser/abc"}`))
	})

	info, err := FetchVersion(context.Background(), host, port)
	require.NoError(t, err)
	assert.Equal(t, "Chrome/131.0.0.0", info.Browser)
	assert.Equal(t, "ws://x/devtools/browser/abc", info.WebSocketURL)
}

func TestFetchVersionHTTPError(t *testing.T) {
	host, port := debuggerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := FetchVersion(context.Background(), host, port)
	assert.Error(t, err)
}

func TestCreateTargetHTTP(t *testing.T) {
	host, port := debuggerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/json/new", r.URL.Path)
		w.Write([]byte(`{"id":"NEW1","type":"page","url":"https://example.com/"}`))
	})

	target, err := CreateTargetHTTP(context.Background(), host, port, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "NEW1", target.ID)
}
