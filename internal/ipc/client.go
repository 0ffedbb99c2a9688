package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrDaemonNotRunning is returned when the daemon socket is absent.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// ErrSessionIDMismatch is returned when a response does not echo the
// request's session id.
var ErrSessionIDMismatch = errors.New("response sessionId does not match request")

// Client is a Unix socket IPC client. Each CLI invocation performs a
// single request/response and closes.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon at the specified socket path.
func Dial(socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrDaemonNotRunning
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Do sends one named request with the given payload and returns the
// validated response. A fresh UUID session id is generated per request
// and the response must echo it.
func (c *Client) Do(name string, payload any) (Response, error) {
	req, frame, err := NewRequest(name, payload)
	if err != nil {
		return Response{}, err
	}

	frame = append(frame, '\n')
	if _, err := c.conn.Write(frame); err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.SessionID != req.SessionID {
		return Response{}, ErrSessionIDMismatch
	}

	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// IsDaemonRunningAt checks whether a daemon answers at the socket path.
func IsDaemonRunningAt(socketPath string) bool {
	if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
