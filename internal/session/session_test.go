package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgtools/bdg/internal/ipc"
)

func TestResolveEnvOverride(t *testing.T) {
	t.Setenv("BDG_SESSION_DIR", "/tmp/custom-bdg")

	d, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-bdg", d.Root())
}

func TestResolveDefault(t *testing.T) {
	t.Setenv("BDG_SESSION_DIR", "")
	t.Setenv("HOME", "/home/tester")

	d, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.bdg", d.Root())
}

func TestDirPaths(t *testing.T) {
	d := At("/tmp/s")

	assert.Equal(t, "/tmp/s/session.pid", d.SessionPID())
	assert.Equal(t, "/tmp/s/daemon.sock", d.DaemonSocket())
	assert.Equal(t, "/tmp/s/chrome-profile", d.ChromeProfile())
	assert.Equal(t, "/tmp/s/session.json", d.Output())
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	require.NoError(t, AcquireLock(path))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// A second acquisition by this live process must fail.
	assert.ErrorIs(t, AcquireLock(path), ErrLockHeld)

	require.NoError(t, ReleaseLock(path))
	require.NoError(t, AcquireLock(path))
}

func TestAcquireLockStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	// A PID beyond the kernel's pid_max is never alive.
	require.NoError(t, os.WriteFile(path, []byte("4194399"), 0600))

	require.NoError(t, AcquireLock(path))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireLockGarbageContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0600))

	require.NoError(t, AcquireLock(path))
}

func TestAcquireLockSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if AcquireLock(path) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestPIDAlive(t *testing.T) {
	assert.True(t, PIDAlive(os.Getpid()))
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-1))
	assert.False(t, PIDAlive(4194399))
}

func TestMetadataRoundTrip(t *testing.T) {
	d := At(t.TempDir())

	meta := Metadata{
		BdgPid:               1234,
		ChromePid:            5678,
		StartTime:            time.Now().UTC().Truncate(time.Second),
		Port:                 9222,
		TargetID:             "T1",
		WebSocketDebuggerURL: "ws://127.0.0.1:9222/devtools/page/T1",
		ActiveTelemetry:      []string{"network", "console"},
	}
	require.NoError(t, d.WriteMeta(meta))

	got, err := d.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	// No temp file left behind after the rename.
	_, err = os.Stat(d.SessionMeta() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestOutputRoundTrip(t *testing.T) {
	d := At(t.TempDir())

	out := NewOutput(true, time.Now().Add(-3*time.Second), OutputTarget{
		URL:   "https://example.com/",
		Title: "Example",
	}, OutputData{
		Network: []ipc.NetworkRequest{{RequestID: "R1", URL: "https://example.com/api", Status: 200}},
		Console: []ipc.ConsoleMessage{{Type: "log", Text: "hi"}},
		DOM:     &ipc.DOMSnapshot{URL: "https://example.com/", OuterHTML: "<html></html>"},
	}, "")

	assert.Equal(t, OutputVersion, out.Version)
	assert.False(t, out.Partial)
	assert.GreaterOrEqual(t, out.Duration, int64(3000))

	require.NoError(t, d.WriteOutput(out))
	got, err := d.ReadOutput()
	require.NoError(t, err)
	assert.Equal(t, out, got)
}

func TestCleanupRemovesStaleFiles(t *testing.T) {
	d := At(t.TempDir())
	require.NoError(t, d.Ensure())

	// Dead PIDs everywhere.
	require.NoError(t, WritePID(d.SessionPID(), 4194399))
	require.NoError(t, WritePID(d.DaemonPID(), 4194399))
	require.NoError(t, os.WriteFile(d.SessionMeta(), []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(d.DaemonSocket(), nil, 0600))
	require.NoError(t, os.WriteFile(d.DaemonLock(), []byte("4194399"), 0600))
	require.NoError(t, d.WriteOutput(Output{Version: OutputVersion}))

	res, err := Cleanup(d, nil)
	require.NoError(t, err)
	assert.True(t, res.Cleaned)
	assert.False(t, res.KilledWorker)

	for _, path := range []string{
		d.SessionPID(), d.SessionLock(), d.SessionMeta(),
		d.DaemonPID(), d.DaemonSocket(), d.DaemonLock(),
	} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s should be gone", path)
	}

	// The final output survives cleanup.
	_, err = os.Stat(d.Output())
	assert.NoError(t, err)
}

func TestCleanupIdempotent(t *testing.T) {
	d := At(t.TempDir())
	require.NoError(t, d.Ensure())

	_, err := Cleanup(d, nil)
	require.NoError(t, err)

	res, err := Cleanup(d, nil)
	require.NoError(t, err)
	assert.False(t, res.Cleaned)
}

func TestCleanupRefusesLiveSession(t *testing.T) {
	d := At(t.TempDir())
	require.NoError(t, d.Ensure())
	require.NoError(t, AcquireLock(d.SessionLock()))
	defer ReleaseLock(d.SessionLock())

	_, err := Cleanup(d, nil)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestCleanupKillsOrphanedWorker(t *testing.T) {
	d := At(t.TempDir())
	require.NoError(t, d.Ensure())

	// The worker "process" is this test process; intercept the kill.
	require.NoError(t, WritePID(d.SessionPID(), os.Getpid()))
	require.NoError(t, WritePID(d.DaemonPID(), 4194399))

	var killed int
	orig := forceKillProcess
	forceKillProcess = func(pid int) error {
		killed = pid
		return nil
	}
	defer func() { forceKillProcess = orig }()

	res, err := Cleanup(d, nil)
	require.NoError(t, err)
	assert.True(t, res.KilledWorker)
	assert.Equal(t, os.Getpid(), killed)
}
