package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgtools/bdg/internal/ipc"
)

func TestBuffer_AppendAndAll(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int](5)
	for i := 1; i <= 3; i++ {
		assert.True(t, b.Append(i))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{1, 2, 3}, b.All())
}

func TestBuffer_DropsNewWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int](3)
	for i := 1; i <= 3; i++ {
		require.True(t, b.Append(i))
	}

	// Appends past the cap are dropped; earlier items are preserved
	assert.False(t, b.Append(4))
	assert.False(t, b.Append(5))

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 2, b.Dropped())
	assert.Equal(t, []int{1, 2, 3}, b.All())
}

func TestBuffer_Tail(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int](10)
	for i := 1; i <= 6; i++ {
		b.Append(i)
	}

	tests := []struct {
		name     string
		n        int
		offset   int
		want     []int
		hasMore  bool
	}{
		{name: "last three", n: 3, offset: 0, want: []int{4, 5, 6}, hasMore: true},
		{name: "all", n: 10, offset: 0, want: []int{1, 2, 3, 4, 5, 6}, hasMore: false},
		{name: "offset skips newest", n: 2, offset: 2, want: []int{3, 4}, hasMore: true},
		{name: "offset past start", n: 5, offset: 4, want: []int{1, 2}, hasMore: false},
		{name: "offset beyond buffer", n: 3, offset: 10, want: nil, hasMore: false},
		{name: "zero n", n: 0, offset: 0, want: nil, hasMore: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hasMore := b.Tail(tt.n, tt.offset)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.hasMore, hasMore)
		})
	}
}

func TestBuffer_At(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string](4)
	b.Append("a")
	b.Append("b")

	v, ok := b.At(1)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = b.At(2)
	assert.False(t, ok)
	_, ok = b.At(-1)
	assert.False(t, ok)
}

func TestBuffer_FindReturnsNewestMatch(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string](10)
	b.Append("x1")
	b.Append("y1")
	b.Append("x2")

	v, ok := b.Find(func(s string) bool { return s[0] == 'x' })
	require.True(t, ok)
	assert.Equal(t, "x2", v)

	_, ok = b.Find(func(s string) bool { return s[0] == 'z' })
	assert.False(t, ok)
}

func TestBuffer_ConcurrentAppendNeverExceedsCap(t *testing.T) {
	t.Parallel()

	const capacity = 100
	b := NewBuffer[int](capacity)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Append(g*50 + i)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, capacity, b.Len())
	assert.Equal(t, 8*50-capacity, b.Dropped())
}

func networkFixture(i int) ipc.NetworkRequest {
	return ipc.NetworkRequest{
		RequestID: fmt.Sprintf("req-%d", i),
		URL:       fmt.Sprintf("https://example.com/%d", i),
		Method:    "GET",
		Status:    200,
		Timestamp: time.Now().UnixMilli(),
	}
}

func consoleFixture(text string) ipc.ConsoleMessage {
	return ipc.ConsoleMessage{
		Type:      "log",
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestStore_PeekAndStatus(t *testing.T) {
	t.Parallel()

	s := New()
	s.SetActive(TelemetryNetwork)
	s.SetActive(TelemetryConsole)

	for i := 0; i < 5; i++ {
		s.AppendNetwork(networkFixture(i))
	}
	s.AppendConsole(consoleFixture("hello"))

	peek := s.Peek(3, 0)
	assert.Len(t, peek.Network, 3)
	assert.Len(t, peek.Console, 1)
	assert.Equal(t, 5, peek.NetworkTotal)
	assert.Equal(t, 1, peek.ConsoleTotal)
	assert.True(t, peek.NetworkHasMore)
	assert.False(t, peek.ConsoleHasMore)

	status := s.Status()
	assert.Equal(t, []string{"console", "network"}, status.ActiveTelemetry)
	assert.Equal(t, 5, status.NetworkCount)
	assert.Equal(t, 1, status.ConsoleCount)
	assert.NotZero(t, status.StartTime)
}

func TestStore_FindNetworkAndConsoleAt(t *testing.T) {
	t.Parallel()

	s := New()
	s.AppendNetwork(networkFixture(7))
	s.AppendConsole(consoleFixture("first"))
	s.AppendConsole(consoleFixture("second"))

	rec, ok := s.FindNetwork("req-7")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/7", rec.URL)

	_, ok = s.FindNetwork("req-404")
	assert.False(t, ok)

	msg, ok := s.ConsoleAt(1)
	require.True(t, ok)
	assert.Equal(t, "second", msg.Text)

	_, ok = s.ConsoleAt(5)
	assert.False(t, ok)
}
