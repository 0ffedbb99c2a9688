// Package daemon runs the long-lived session process: it owns Chrome,
// the CDP connection, the collectors, and the IPC command surface.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bdgtools/bdg/internal/browser"
	"github.com/bdgtools/bdg/internal/cdp"
	"github.com/bdgtools/bdg/internal/collector"
	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/session"
	"github.com/bdgtools/bdg/internal/store"
)

// Telemetry kinds accepted in Config.Telemetry.
const (
	TelemetryNetwork = "network"
	TelemetryConsole = "console"
	TelemetryDOM     = "dom"
)

var (
	// ErrDaemonAlreadyRunning means another daemon holds the daemon lock.
	ErrDaemonAlreadyRunning = errors.New("daemon already running")
	// ErrSessionAlreadyRunning means another session holds the session lock.
	ErrSessionAlreadyRunning = errors.New("session already running")
	// ErrChromeLaunch wraps Chrome startup failures.
	ErrChromeLaunch = errors.New("chrome launch failed")
)

// Config describes one telemetry session.
type Config struct {
	// URL is the page to observe.
	URL string
	// ChromeWsURL connects to an already-running Chrome instead of
	// launching one.
	ChromeWsURL string
	// Port is the debugging port when launching Chrome. Zero uses the
	// default.
	Port int
	// Headless launches Chrome without a window.
	Headless bool
	// ReuseTab prefers an existing tab matching URL.
	ReuseTab bool
	// KillChrome terminates Chrome at shutdown even without an explicit
	// stop_session request asking for it.
	KillChrome bool
	// Timeout ends the session after a fixed duration. Zero disables it.
	Timeout time.Duration
	// Telemetry selects the collectors to run.
	Telemetry []string

	NetworkFilter collector.NetworkFilter
	ConsoleFilter collector.ConsoleFilter
	BodyPolicy    collector.BodyPolicy

	// Version is reported in the handshake.
	Version string
	Logger  logrus.FieldLogger
}

// Daemon is one running session.
type Daemon struct {
	cfg Config
	dir session.Dir
	log logrus.FieldLogger

	store  *store.Store
	client *cdp.Client
	server *ipc.Server

	chrome    *browser.Browser
	chromePID int
	port      int
	target    ipc.TargetInfo

	netCol *collector.NetworkCollector
	conCol *collector.ConsoleCollector

	stopOnce   sync.Once
	stopCh     chan struct{}
	killChrome bool
	killMu     sync.Mutex
}

// New builds a daemon for the given session directory.
func New(dir session.Dir, cfg Config) *Daemon {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Daemon{
		cfg:    cfg,
		dir:    dir,
		log:    log.WithField("component", "daemon"),
		store:  store.New(),
		stopCh: make(chan struct{}),
	}
}

// Run bootstraps the session and blocks until shutdown. It returns nil
// on a clean shutdown.
func (d *Daemon) Run(ctx context.Context) (err error) {
	// A panic anywhere in the daemon still attempts file cleanup.
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Errorf("panic: %v", rec)
			d.teardownFiles()
			err = fmt.Errorf("daemon panic: %v", rec)
		}
	}()

	if err := d.dir.Ensure(); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	if err := session.AcquireLock(d.dir.DaemonLock()); err != nil {
		if errors.Is(err, session.ErrLockHeld) {
			return fmt.Errorf("%w: %v", ErrDaemonAlreadyRunning, err)
		}
		return err
	}
	if err := session.AcquireLock(d.dir.SessionLock()); err != nil {
		session.ReleaseLock(d.dir.DaemonLock())
		if errors.Is(err, session.ErrLockHeld) {
			return fmt.Errorf("%w: %v", ErrSessionAlreadyRunning, err)
		}
		return err
	}

	if err := d.bootstrap(ctx); err != nil {
		d.teardownFiles()
		return err
	}

	d.log.WithFields(logrus.Fields{
		"url":    d.target.URL,
		"target": d.target.ID,
		"port":   d.port,
	}).Info("session started")

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	g, _ := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return d.server.Serve(serveCtx)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timeoutCh <-chan time.Time
	if d.cfg.Timeout > 0 {
		timer := time.NewTimer(d.cfg.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		d.log.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		d.log.WithField("signal", sig.String()).Info("signal received, shutting down")
	case <-d.stopCh:
		d.log.Info("stop requested, shutting down")
	case <-timeoutCh:
		d.log.WithField("timeout", d.cfg.Timeout).Info("session timeout reached, shutting down")
	}

	shutdownErr := d.shutdown()
	cancelServe()
	if gerr := g.Wait(); gerr != nil && !errors.Is(gerr, context.Canceled) {
		d.log.WithError(gerr).Warn("ipc server exited with error")
	}
	return shutdownErr
}

// bootstrap brings up Chrome, the CDP connection, collectors, session
// files, and the IPC server, in that order.
func (d *Daemon) bootstrap(ctx context.Context) error {
	browserWsURL := d.cfg.ChromeWsURL

	if browserWsURL == "" {
		b, err := browser.Start(browser.LaunchOptions{
			Headless:    d.cfg.Headless,
			Port:        d.cfg.Port,
			UserDataDir: d.dir.ChromeProfile(),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChromeLaunch, err)
		}
		d.chrome = b
		d.chromePID = b.PID()
		d.port = b.Port()

		if err := session.WritePID(d.dir.ChromePID(), b.PID()); err != nil {
			d.log.WithError(err).Warn("could not cache chrome pid")
		}

		info, err := b.Version(ctx)
		if err != nil {
			return fmt.Errorf("%w: no version endpoint: %v", ErrChromeLaunch, err)
		}
		browserWsURL = info.WebSocketURL
	} else {
		port, err := portFromWsURL(browserWsURL)
		if err != nil {
			return err
		}
		d.port = port
	}
	if browserWsURL == "" {
		return fmt.Errorf("%w: missing webSocketDebuggerUrl", ErrChromeLaunch)
	}

	// A temporary browser-endpoint connection resolves the tab, then the
	// real connection goes straight to the tab socket.
	tmp, err := cdp.Connect(ctx, browserWsURL, cdp.Options{Logger: d.log})
	if err != nil {
		return fmt.Errorf("connect browser endpoint: %w", err)
	}

	target, err := browser.Resolve(ctx, tmp, browser.ResolveOptions{
		URL:      d.cfg.URL,
		ReuseTab: d.cfg.ReuseTab,
		Host:     "127.0.0.1",
		Port:     d.port,
		Logger:   d.log,
	})
	tmp.Close()
	if err != nil {
		return fmt.Errorf("resolve tab: %w", err)
	}
	if target.WebSocketURL == "" {
		return fmt.Errorf("target %s has no webSocketDebuggerUrl", target.ID)
	}
	d.target = target

	d.client, err = cdp.Connect(ctx, target.WebSocketURL, cdp.Options{
		AutoReconnect:     true,
		KeepaliveInterval: cdp.DefaultKeepaliveInterval,
		OnReconnect:       d.reenableDomains,
		Logger:            d.log,
	})
	if err != nil {
		return fmt.Errorf("connect tab endpoint: %w", err)
	}

	d.store.SetTarget(target)
	if err := d.startCollectors(ctx); err != nil {
		d.client.Close()
		return err
	}

	pid := os.Getpid()
	if err := session.WritePID(d.dir.SessionPID(), pid); err != nil {
		return fmt.Errorf("write session pid: %w", err)
	}
	if err := session.WritePID(d.dir.DaemonPID(), pid); err != nil {
		return fmt.Errorf("write daemon pid: %w", err)
	}
	if err := d.dir.WriteMeta(session.Metadata{
		BdgPid:               pid,
		ChromePid:            d.chromePID,
		StartTime:            d.store.StartTime(),
		Port:                 d.port,
		TargetID:             target.ID,
		WebSocketDebuggerURL: target.WebSocketURL,
		ActiveTelemetry:      d.store.ActiveTelemetry(),
	}); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}

	// Supervisor: a destroyed target ends the session. Discovery must be
	// on for targetDestroyed events to arrive.
	if _, err := d.client.SendContext(ctx, "Target.setDiscoverTargets", map[string]any{"discover": true}); err != nil {
		d.log.WithError(err).Warn("target discovery unavailable")
	}
	d.client.On("Target.targetDestroyed", func(evt cdp.Event) {
		var params struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(evt.Params, &params); err != nil {
			return
		}
		if params.TargetID == d.target.ID {
			d.log.Info("target destroyed, stopping session")
			d.requestStop(false)
		}
	})

	handlers := &handlerSet{
		store:   d.store,
		cdp:     d.client,
		version: d.cfg.Version,
		log:     d.log,
		stop:    d.requestStop,
	}
	registry := NewRegistry(d.log)
	handlers.register(registry)

	server, err := ipc.NewServer(d.dir.DaemonSocket(), registry.Dispatch, d.log)
	if err != nil {
		d.client.Close()
		return fmt.Errorf("bind ipc socket: %w", err)
	}
	d.server = server
	return nil
}

// startCollectors launches the requested telemetry collectors.
func (d *Daemon) startCollectors(ctx context.Context) error {
	for _, kind := range d.cfg.Telemetry {
		switch kind {
		case TelemetryNetwork:
			d.netCol = collector.NewNetworkCollector(d.client, d.store, d.cfg.NetworkFilter, d.cfg.BodyPolicy, d.log)
			if err := d.netCol.Start(ctx); err != nil {
				return fmt.Errorf("start network collector: %w", err)
			}
		case TelemetryConsole:
			d.conCol = collector.NewConsoleCollector(d.client, d.store, d.cfg.ConsoleFilter, d.log)
			if err := d.conCol.Start(ctx); err != nil {
				return fmt.Errorf("start console collector: %w", err)
			}
		case TelemetryDOM:
			// Captured once at shutdown.
		default:
			return fmt.Errorf("unknown telemetry kind %q", kind)
		}
		d.store.SetActive(kind)
	}
	return nil
}

// reenableDomains restores collector domains after an automatic
// reconnect; event handlers survive the reconnect.
func (d *Daemon) reenableDomains() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.netCol != nil {
		if _, err := d.client.SendContext(ctx, "Network.enable", nil); err != nil {
			d.log.WithError(err).Warn("re-enable Network domain failed")
		}
	}
	if d.conCol != nil {
		if _, err := d.client.SendContext(ctx, "Runtime.enable", nil); err != nil {
			d.log.WithError(err).Warn("re-enable Runtime domain failed")
		}
		if _, err := d.client.SendContext(ctx, "Log.enable", nil); err != nil {
			d.log.WithError(err).Warn("re-enable Log domain failed")
		}
	}
}

// requestStop triggers shutdown once. killChrome is sticky across the
// first call.
func (d *Daemon) requestStop(killChrome bool) {
	d.killMu.Lock()
	if killChrome {
		d.killChrome = true
	}
	d.killMu.Unlock()
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// shutdown runs the ordered teardown: IPC first, then collectors, then
// the DOM snapshot and final output, then the CDP connection, Chrome,
// and the session files.
func (d *Daemon) shutdown() error {
	var firstErr error
	fail := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.server != nil {
		fail(d.server.Close())
	}

	if d.netCol != nil {
		d.netCol.Stop()
	}
	if d.conCol != nil {
		d.conCol.Stop()
	}

	var snapshot *ipc.DOMSnapshot
	if d.domActive() && d.client != nil && d.client.IsConnected() {
		snap := collector.SnapshotDOM(context.Background(), d.client, d.target.URL, d.log)
		snapshot = &snap
	}

	fail(d.writeOutput(snapshot, firstErr))

	if d.client != nil {
		if cerr := d.client.Err(); cerr != nil {
			d.log.WithError(cerr).Warn("cdp connection ended abnormally")
		}
		fail(d.client.Close())
	}

	d.killMu.Lock()
	kill := d.killChrome || d.cfg.KillChrome
	d.killMu.Unlock()
	if kill {
		if d.chrome != nil {
			fail(d.chrome.Kill())
		} else if d.chromePID > 0 {
			fail(browser.KillPID(d.chromePID))
		}
	}

	d.teardownFiles()

	if firstErr != nil {
		d.log.WithError(firstErr).Error("shutdown finished with errors")
	} else {
		d.log.Info("session ended")
	}
	return firstErr
}

func (d *Daemon) domActive() bool {
	for _, kind := range d.cfg.Telemetry {
		if kind == TelemetryDOM {
			return true
		}
	}
	return false
}

// writeOutput persists session.json. It runs before any session file is
// removed so readers never observe a dangling path.
func (d *Daemon) writeOutput(snapshot *ipc.DOMSnapshot, runErr error) error {
	data := session.OutputData{DOM: snapshot}
	for _, kind := range d.cfg.Telemetry {
		switch kind {
		case TelemetryNetwork:
			data.Network = d.store.NetworkAll()
		case TelemetryConsole:
			data.Console = d.store.ConsoleAll()
		}
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	target := d.store.Target()
	title := target.Title
	if snapshot != nil && snapshot.Title != "" {
		title = snapshot.Title
	}

	out := session.NewOutput(runErr == nil, d.store.StartTime(), session.OutputTarget{
		URL:   target.URL,
		Title: title,
	}, data, errMsg)

	if err := d.dir.WriteOutput(out); err != nil {
		return fmt.Errorf("write session output: %w", err)
	}
	return nil
}

// teardownFiles removes the session files the daemon owns. session.json,
// chrome.pid, and the Chrome profile stay behind.
func (d *Daemon) teardownFiles() {
	for _, path := range []string{
		d.dir.SessionPID(),
		d.dir.SessionLock(),
		d.dir.SessionMeta(),
		d.dir.DaemonPID(),
		d.dir.DaemonSocket(),
		d.dir.DaemonLock(),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.log.WithError(err).WithField("path", path).Warn("could not remove session file")
		}
	}
}

// portFromWsURL extracts the debugging port from a ws:// URL.
func portFromWsURL(wsURL string) (int, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0, fmt.Errorf("parse chrome ws url: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("chrome ws url has no port: %s", wsURL)
	}
	return port, nil
}
