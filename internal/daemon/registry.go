package daemon

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/ipc"
)

// Handler processes one decoded request into a response.
type Handler func(req ipc.Request) ipc.Response

// Registry maps command names to handlers.
type Registry struct {
	handlers map[string]Handler
	log      logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register binds a command name to its handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch routes a request by its command name. A panicking handler
// becomes a DAEMON_ERROR response rather than killing the server.
func (r *Registry) Dispatch(req ipc.Request) (resp ipc.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("command", req.Name()).Errorf("handler panic: %v", rec)
			resp = ipc.CodedErrorResponse(req, ipc.CodeDaemonError, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	h, ok := r.handlers[req.Name()]
	if !ok {
		return ipc.ErrorResponse(req, "unknown command")
	}
	return h(req)
}
