package cli

import (
	"errors"

	"github.com/bdgtools/bdg/internal/ipc"
)

// call performs one request against the running daemon and returns the
// decoded response. A missing daemon socket becomes a RESOURCE_NOT_FOUND
// error.
func call(name string, payload any) (ipc.Response, error) {
	dir, err := sessionDir()
	if err != nil {
		return ipc.Response{}, err
	}

	client, err := ipc.Dial(dir.DaemonSocket())
	if err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return ipc.Response{}, errWithCode(ExitResourceNotFound, "no active session")
		}
		return ipc.Response{}, err
	}
	defer client.Close()

	resp, err := client.Do(name, payload)
	if err != nil {
		return ipc.Response{}, err
	}
	if !resp.OK() {
		return resp, responseError(resp)
	}
	return resp, nil
}

// daemonRunning reports whether a daemon answers on the session socket.
func daemonRunning() bool {
	dir, err := sessionDir()
	if err != nil {
		return false
	}
	return ipc.IsDaemonRunningAt(dir.DaemonSocket())
}
