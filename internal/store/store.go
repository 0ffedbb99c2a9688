package store

import (
	"sort"
	"sync"
	"time"

	"github.com/bdgtools/bdg/internal/ipc"
)

// MaxEntries caps each telemetry buffer.
const MaxEntries = 10000

// Telemetry kinds a session can collect.
const (
	TelemetryNetwork = "network"
	TelemetryConsole = "console"
	TelemetryDOM     = "dom"
)

// Store is the daemon's shared telemetry state. Collector callbacks
// append; IPC command handlers read. A single mutex guards the scalar
// fields; the buffers carry their own locks.
type Store struct {
	mu        sync.RWMutex
	startTime time.Time
	target    ipc.TargetInfo
	active    map[string]bool

	network *Buffer[ipc.NetworkRequest]
	console *Buffer[ipc.ConsoleMessage]

	lastNetworkAt int64
	lastConsoleAt int64
}

// New creates an empty store with the session start time set to now.
func New() *Store {
	return &Store{
		startTime: time.Now(),
		active:    make(map[string]bool),
		network:   NewBuffer[ipc.NetworkRequest](MaxEntries),
		console:   NewBuffer[ipc.ConsoleMessage](MaxEntries),
	}
}

// StartTime returns the session start time.
func (s *Store) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

// SetTarget records the resolved tab.
func (s *Store) SetTarget(t ipc.TargetInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
}

// Target returns the current tab metadata.
func (s *Store) Target() ipc.TargetInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// SetActive marks a telemetry kind as collecting.
func (s *Store) SetActive(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[kind] = true
}

// ActiveTelemetry returns the active kinds, sorted.
func (s *Store) ActiveTelemetry() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for k := range s.active {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AppendNetwork appends a completed network record.
// Returns false when the buffer is full and the record was dropped.
func (s *Store) AppendNetwork(req ipc.NetworkRequest) bool {
	ok := s.network.Append(req)
	if ok {
		s.mu.Lock()
		s.lastNetworkAt = req.Timestamp
		s.mu.Unlock()
	}
	return ok
}

// AppendConsole appends a console message.
// Returns false when the buffer is full and the message was dropped.
func (s *Store) AppendConsole(msg ipc.ConsoleMessage) bool {
	ok := s.console.Append(msg)
	if ok {
		s.mu.Lock()
		s.lastConsoleAt = msg.Timestamp
		s.mu.Unlock()
	}
	return ok
}

// NetworkCount returns the number of stored network records.
func (s *Store) NetworkCount() int { return s.network.Len() }

// ConsoleCount returns the number of stored console messages.
func (s *Store) ConsoleCount() int { return s.console.Len() }

// NetworkAll returns every stored network record, oldest first.
func (s *Store) NetworkAll() []ipc.NetworkRequest { return s.network.All() }

// ConsoleAll returns every stored console message, oldest first.
func (s *Store) ConsoleAll() []ipc.ConsoleMessage { return s.console.All() }

// FindNetwork returns the record for a CDP request id.
func (s *Store) FindNetwork(requestID string) (ipc.NetworkRequest, bool) {
	return s.network.Find(func(r ipc.NetworkRequest) bool {
		return r.RequestID == requestID
	})
}

// ConsoleAt returns the console message at a buffer position.
func (s *Store) ConsoleAt(index int) (ipc.ConsoleMessage, bool) {
	return s.console.At(index)
}

// Peek returns the last n items of each kind, skipping offset from the end.
func (s *Store) Peek(n, offset int) ipc.PeekData {
	network, netMore := s.network.Tail(n, offset)
	console, conMore := s.console.Tail(n, offset)

	return ipc.PeekData{
		Network:        network,
		Console:        console,
		NetworkTotal:   s.network.Len(),
		ConsoleTotal:   s.console.Len(),
		NetworkHasMore: netMore,
		ConsoleHasMore: conMore,
	}
}

// Status summarizes the session for the status command.
func (s *Store) Status() ipc.StatusData {
	s.mu.RLock()
	start := s.startTime
	target := s.target
	lastNet := s.lastNetworkAt
	lastCon := s.lastConsoleAt
	s.mu.RUnlock()

	return ipc.StatusData{
		StartTime:       start.UnixMilli(),
		ElapsedMs:       time.Since(start).Milliseconds(),
		TargetURL:       target.URL,
		TargetTitle:     target.Title,
		ActiveTelemetry: s.ActiveTelemetry(),
		NetworkCount:    s.network.Len(),
		ConsoleCount:    s.console.Len(),
		LastNetworkAt:   lastNet,
		LastConsoleAt:   lastCon,
	}
}
