package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Metadata describes a live session. The CLI reads it for status when
// the daemon socket is unreachable.
type Metadata struct {
	BdgPid               int       `json:"bdgPid"`
	ChromePid            int       `json:"chromePid,omitempty"`
	StartTime            time.Time `json:"startTime"`
	Port                 int       `json:"port"`
	TargetID             string    `json:"targetId,omitempty"`
	WebSocketDebuggerURL string    `json:"webSocketDebuggerUrl,omitempty"`
	ActiveTelemetry      []string  `json:"activeTelemetry,omitempty"`
}

// WriteMeta persists session metadata atomically.
func (d Dir) WriteMeta(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return writeAtomic(d.SessionMeta(), data)
}

// ReadMeta loads session metadata.
func (d Dir) ReadMeta() (Metadata, error) {
	data, err := os.ReadFile(d.SessionMeta())
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// writeAtomic writes to <path>.tmp and renames over the final name.
// The rename is the commit point.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
