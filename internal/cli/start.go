package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bdgtools/bdg/internal/collector"
	"github.com/bdgtools/bdg/internal/daemon"
	"github.com/bdgtools/bdg/internal/ipc"
)

// startFlags is shared between the user-facing start command and the
// hidden daemon command it spawns.
type startFlags struct {
	headless       bool
	reuseTab       bool
	port           int
	chromeWsURL    string
	timeout        time.Duration
	telemetry      []string
	killChrome     bool
	foreground     bool
	includeAll     bool
	include        []string
	exclude        []string
	consoleInclude []string
	consoleExclude []string
	fetchAllBodies bool
	bodyInclude    []string
	bodyExclude    []string
	maxBodySize    int64
}

var startOpts startFlags

// handshakeWait bounds how long start waits for the spawned daemon.
const handshakeWait = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start <url>",
	Short: "Start a telemetry session",
	Long:  "Launches Chrome (or attaches to a running one), opens the URL, and starts the session daemon collecting telemetry.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	registerStartFlags(startCmd, &startOpts)
	startCmd.Flags().BoolVar(&startOpts.foreground, "foreground", false, "Run the daemon in the foreground")
	rootCmd.AddCommand(startCmd)
}

func registerStartFlags(cmd *cobra.Command, f *startFlags) {
	cmd.Flags().BoolVar(&f.headless, "headless", false, "Run Chrome without a window")
	cmd.Flags().BoolVar(&f.reuseTab, "reuse-tab", false, "Reuse an existing tab matching the URL")
	cmd.Flags().IntVar(&f.port, "port", 0, "Chrome debugging port (default 9222)")
	cmd.Flags().StringVar(&f.chromeWsURL, "chrome-ws-url", "", "Attach to a running Chrome by its browser WebSocket URL")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "End the session automatically after this duration")
	cmd.Flags().StringSliceVar(&f.telemetry, "telemetry", []string{"network", "console", "dom"}, "Telemetry kinds to collect")
	cmd.Flags().BoolVar(&f.killChrome, "kill-chrome", false, "Kill Chrome when the session ends")
	cmd.Flags().BoolVar(&f.includeAll, "include-all", false, "Keep requests to tracking domains")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "URL patterns to always keep (whitelist when set)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "URL patterns to drop")
	cmd.Flags().StringSliceVar(&f.consoleInclude, "console-include", nil, "Console patterns to always keep")
	cmd.Flags().StringSliceVar(&f.consoleExclude, "console-exclude", nil, "Console patterns to drop")
	cmd.Flags().BoolVar(&f.fetchAllBodies, "fetch-all-bodies", false, "Fetch every response body not excluded by a pattern")
	cmd.Flags().StringSliceVar(&f.bodyInclude, "body-include", nil, "URL patterns whose bodies are always fetched")
	cmd.Flags().StringSliceVar(&f.bodyExclude, "body-exclude", nil, "URL patterns whose bodies are never fetched")
	cmd.Flags().Int64Var(&f.maxBodySize, "max-body-size", collector.DefaultMaxBodySize, "Largest response body to fetch, in bytes")
}

func runStart(cmd *cobra.Command, args []string) error {
	target, err := normalizeURL(args[0])
	if err != nil {
		return err
	}

	if daemonRunning() {
		return errWithCode(ExitDaemonAlreadyRunning, "a session daemon is already running; stop it with 'bdg stop'")
	}

	if startOpts.foreground {
		return runDaemonProcess(target, &startOpts)
	}

	if err := spawnDaemon(target); err != nil {
		return err
	}

	resp, err := waitForHandshake()
	if err != nil {
		return err
	}

	var hs ipc.HandshakeData
	_ = resp.DecodeData(&hs)

	if JSONOutput {
		return printJSON(map[string]any{
			"ok":  true,
			"url": target,
			"pid": hs.PID,
		})
	}
	heading("Session started")
	fmt.Printf("  URL: %s\n  Daemon PID: %d\n", target, hs.PID)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("\nUse 'bdg peek' to inspect telemetry and 'bdg stop' to finish.")
	}
	return nil
}

// spawnDaemon re-executes this binary as a detached daemon process.
func spawnDaemon(target string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	argv := []string{"__daemon", "--url", target}
	argv = append(argv, daemonArgs(&startOpts)...)
	if Debug {
		argv = append(argv, "--debug")
	}

	proc := exec.Command(self, argv...)
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		return errWithCode(ExitUnhandledException, "spawn daemon: %v", err)
	}
	// The daemon outlives this process; reap it if it dies early.
	go proc.Wait()
	return nil
}

// daemonArgs serializes start flags for the hidden daemon command.
func daemonArgs(f *startFlags) []string {
	var argv []string
	add := func(flag string, values ...string) {
		argv = append(argv, "--"+flag)
		argv = append(argv, values...)
	}

	if f.headless {
		add("headless")
	}
	if f.reuseTab {
		add("reuse-tab")
	}
	if f.port != 0 {
		add("port", strconv.Itoa(f.port))
	}
	if f.chromeWsURL != "" {
		add("chrome-ws-url", f.chromeWsURL)
	}
	if f.timeout > 0 {
		add("timeout", f.timeout.String())
	}
	add("telemetry", strings.Join(f.telemetry, ","))
	if f.killChrome {
		add("kill-chrome")
	}
	if f.includeAll {
		add("include-all")
	}
	for _, p := range f.include {
		add("include", p)
	}
	for _, p := range f.exclude {
		add("exclude", p)
	}
	for _, p := range f.consoleInclude {
		add("console-include", p)
	}
	for _, p := range f.consoleExclude {
		add("console-exclude", p)
	}
	if f.fetchAllBodies {
		add("fetch-all-bodies")
	}
	for _, p := range f.bodyInclude {
		add("body-include", p)
	}
	for _, p := range f.bodyExclude {
		add("body-exclude", p)
	}
	if f.maxBodySize != collector.DefaultMaxBodySize {
		add("max-body-size", strconv.FormatInt(f.maxBodySize, 10))
	}
	return argv
}

// waitForHandshake polls the daemon socket until it answers.
func waitForHandshake() (ipc.Response, error) {
	dir, err := sessionDir()
	if err != nil {
		return ipc.Response{}, err
	}

	deadline := time.Now().Add(handshakeWait)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(dir.DaemonSocket())
		if err == nil {
			resp, derr := client.Do(ipc.CmdHandshake, nil)
			client.Close()
			if derr == nil && resp.OK() {
				return resp, nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return ipc.Response{}, errWithCode(ExitUnhandledException, "daemon did not start within %s", handshakeWait)
}

// normalizeURL validates the target URL, assuming https when no scheme
// is given.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errWithCode(ExitInvalidArguments, "url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errWithCode(ExitInvalidArguments, "invalid url: %s", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errWithCode(ExitInvalidArguments, "unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// runDaemonProcess runs the session daemon in this process.
func runDaemonProcess(target string, f *startFlags) error {
	dir, err := sessionDir()
	if err != nil {
		return err
	}

	cfg := daemon.Config{
		URL:         target,
		ChromeWsURL: f.chromeWsURL,
		Port:        f.port,
		Headless:    f.headless,
		ReuseTab:    f.reuseTab,
		KillChrome:  f.killChrome,
		Timeout:     f.timeout,
		Telemetry:   f.telemetry,
		NetworkFilter: collector.NetworkFilter{
			IncludeAll:      f.includeAll,
			IncludePatterns: f.include,
			ExcludePatterns: f.exclude,
		},
		ConsoleFilter: collector.ConsoleFilter{
			IncludePatterns: f.consoleInclude,
			ExcludePatterns: f.consoleExclude,
		},
		BodyPolicy: collector.BodyPolicy{
			FetchAll:        f.fetchAllBodies,
			MaxBodySize:     f.maxBodySize,
			IncludePatterns: f.bodyInclude,
			ExcludePatterns: f.bodyExclude,
		},
		Version: Version,
		Logger:  newLogger(),
	}

	err = daemon.New(dir, cfg).Run(context.Background())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, daemon.ErrDaemonAlreadyRunning):
		return errWithCode(ExitDaemonAlreadyRunning, "%v", err)
	case errors.Is(err, daemon.ErrSessionAlreadyRunning):
		return errWithCode(ExitResourceBusy, "%v", err)
	default:
		return err
	}
}
