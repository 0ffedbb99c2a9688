package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// readIdleTimeout closes connections that stay silent between frames.
const readIdleTimeout = 5 * time.Second

// Handler processes IPC requests and returns responses.
type Handler func(req Request) Response

// Server is a Unix socket IPC server speaking JSON Lines.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler
	log        logrus.FieldLogger
	wg         sync.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewServer creates a Unix socket server at the given path.
// Any stale socket file is removed first; permissions are owner-only.
func NewServer(socketPath string, handler Handler, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		listener:   listener,
		handler:    handler,
		log:        log.WithField("component", "ipc"),
		closed:     make(chan struct{}),
	}, nil
}

// Serve accepts connections until Close is called or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn processes sequential requests on a single client connection.
// Responses are written in request order. Clients usually close after one
// round trip; abrupt closes are normal.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			// EOF means the client closed normally; net.ErrClosed occurs
			// during server shutdown; deadline hits mean an idle client.
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.WithError(err).Debug("unexpected read error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			// The frame did not parse, so no session id is known.
			resp := ErrorResponse(Request{Type: "unknown" + requestSuffix, SessionID: "unknown"}, "invalid request format")
			if werr := s.writeResponse(conn, resp); werr != nil {
				return
			}
			continue
		}

		resp := s.handler(req)
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

// writeResponse sends one JSONL response frame.
func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

// SocketPath returns the path to the Unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Close stops the server, waits for in-flight connections, and removes
// the socket file. Safe to call multiple times.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return err
}
