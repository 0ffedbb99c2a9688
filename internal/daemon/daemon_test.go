package daemon

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/session"
)

func TestRequestStopIdempotent(t *testing.T) {
	d := New(session.At(t.TempDir()), Config{})

	d.requestStop(false)
	d.requestStop(true) // must not panic on the closed channel

	select {
	case <-d.stopCh:
	default:
		t.Fatal("stop channel not closed")
	}
	// The kill flag is sticky even when set by a later call.
	assert.True(t, d.killChrome)
}

func TestTeardownFilesPreservesOutput(t *testing.T) {
	dir := session.At(t.TempDir())
	require.NoError(t, dir.Ensure())
	d := New(dir, Config{})

	require.NoError(t, session.WritePID(dir.SessionPID(), 1))
	require.NoError(t, session.WritePID(dir.DaemonPID(), 1))
	require.NoError(t, session.WritePID(dir.ChromePID(), 1))
	require.NoError(t, os.WriteFile(dir.DaemonLock(), []byte("1"), 0600))
	require.NoError(t, dir.WriteOutput(session.Output{Version: session.OutputVersion}))

	d.teardownFiles()

	for _, path := range []string{dir.SessionPID(), dir.DaemonPID(), dir.DaemonLock()} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s should be gone", path)
	}
	_, err := os.Stat(dir.ChromePID())
	assert.NoError(t, err, "chrome.pid is preserved")
	_, err = os.Stat(dir.Output())
	assert.NoError(t, err, "session.json is preserved")
}

func TestWriteOutputIncludesActiveTelemetry(t *testing.T) {
	dir := session.At(t.TempDir())
	require.NoError(t, dir.Ensure())
	d := New(dir, Config{Telemetry: []string{TelemetryNetwork, TelemetryDOM}})

	d.store.SetTarget(ipc.TargetInfo{URL: "https://example.com/", Title: "Example"})
	d.store.AppendNetwork(ipc.NetworkRequest{RequestID: "R1", Status: 200})
	d.store.AppendConsole(ipc.ConsoleMessage{Text: "ignored, console telemetry inactive"})

	snap := &ipc.DOMSnapshot{URL: "https://example.com/", Title: "Live Title", OuterHTML: "<html></html>"}
	require.NoError(t, d.writeOutput(snap, nil))

	out, err := dir.ReadOutput()
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, out.Data.Network, 1)
	assert.Nil(t, out.Data.Console)
	require.NotNil(t, out.Data.DOM)
	assert.Equal(t, "Live Title", out.Target.Title)
	assert.False(t, out.Partial)
}

func TestRunRefusesSecondDaemon(t *testing.T) {
	dir := session.At(t.TempDir())
	require.NoError(t, dir.Ensure())

	// Simulate a live daemon: our own PID holds the lock.
	require.NoError(t, session.AcquireLock(dir.DaemonLock()))
	defer session.ReleaseLock(dir.DaemonLock())

	d := New(dir, Config{})
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrDaemonAlreadyRunning)
}
