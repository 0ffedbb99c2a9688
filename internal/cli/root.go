// Package cli implements the bdg command line front end.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/session"
)

// Exit codes form a stable mapping for scripts.
const (
	ExitOK                   = 0
	ExitUnhandledException   = 1
	ExitInvalidArguments     = 2
	ExitResourceNotFound     = 3
	ExitResourceBusy         = 4
	ExitDaemonAlreadyRunning = 5
)

// Version is set at build time.
var Version = "dev"

// JSONOutput selects JSON output instead of text.
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// Debug enables verbose logging on stderr.
var Debug bool

// codedError carries an exit code alongside the message.
type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string { return e.msg }

func errWithCode(code int, format string, args ...any) error {
	return &codedError{code: code, msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "bdg",
	Short:         "Browser telemetry collector",
	Long:          "bdg records network traffic, console output, and DOM state from a Chrome tab via a persistent session daemon.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&JSONOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	rootCmd.SetVersionTemplate("bdg version {{.Version}}\n")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		printError(err)
		return code
	}
	return ExitOK
}

// exitCode maps an error to the stable exit-code table.
func exitCode(err error) int {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return ExitResourceNotFound
	}
	if errors.Is(err, session.ErrLockHeld) {
		return ExitResourceBusy
	}
	return ExitUnhandledException
}

// responseError converts an IPC error response to a coded error.
func responseError(resp ipc.Response) error {
	switch resp.ErrorCode {
	case ipc.CodeNoSession:
		return errWithCode(ExitResourceNotFound, "%s", resp.Error)
	case ipc.CodeSessionAlreadyRunning, ipc.CodeSessionKillFailed:
		return errWithCode(ExitResourceBusy, "%s", resp.Error)
	default:
		return errWithCode(ExitUnhandledException, "%s", resp.Error)
	}
}

func printError(err error) {
	if JSONOutput {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// heading prints a bold section title in text mode.
func heading(format string, args ...any) {
	c := color.New(color.Bold)
	if NoColor {
		c.DisableColor()
	}
	c.Printf(format+"\n", args...)
}

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// sessionDir resolves the per-user session directory.
func sessionDir() (session.Dir, error) {
	dir, err := session.Resolve()
	if err != nil {
		return session.Dir{}, errWithCode(ExitUnhandledException, "resolve session directory: %v", err)
	}
	return dir, nil
}
