package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bdgtools/bdg/internal/ipc"
)

// OutputVersion identifies the session.json format.
const OutputVersion = "1.0"

// Output is the final telemetry written at session end.
type Output struct {
	Version   string       `json:"version"`
	Success   bool         `json:"success"`
	Timestamp string       `json:"timestamp"`
	Duration  int64        `json:"duration"`
	Target    OutputTarget `json:"target"`
	Partial   bool         `json:"partial"`
	Data      OutputData   `json:"data"`
	Error     string       `json:"error,omitempty"`
}

// OutputTarget identifies the observed page.
type OutputTarget struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// OutputData carries the captured telemetry, keyed by kind.
type OutputData struct {
	Network []ipc.NetworkRequest `json:"network,omitempty"`
	Console []ipc.ConsoleMessage `json:"console,omitempty"`
	DOM     *ipc.DOMSnapshot     `json:"dom,omitempty"`
}

// NewOutput assembles an Output stamped with the current time.
func NewOutput(success bool, started time.Time, target OutputTarget, data OutputData, errMsg string) Output {
	return Output{
		Version:   OutputVersion,
		Success:   success,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  time.Since(started).Milliseconds(),
		Target:    target,
		Partial:   false,
		Data:      data,
		Error:     errMsg,
	}
}

// WriteOutput persists session.json atomically.
func (d Dir) WriteOutput(out Output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	return writeAtomic(d.Output(), data)
}

// ReadOutput loads a previously written session.json.
func (d Dir) ReadOutput() (Output, error) {
	data, err := os.ReadFile(d.Output())
	if err != nil {
		return Output{}, err
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return Output{}, fmt.Errorf("parse output: %w", err)
	}
	return out, nil
}
