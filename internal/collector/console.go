package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/cdp"
	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/store"
)

// remoteObject is the subset of a CDP RemoteObject needed for display.
type remoteObject struct {
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

// ConsoleCollector records console output and uncaught exceptions from
// Runtime.* and Log.* events.
type ConsoleCollector struct {
	client Commander
	store  *store.Store
	filter ConsoleFilter
	log    logrus.FieldLogger

	mu         sync.Mutex
	subs       []subscription
	warnedFull bool
}

func NewConsoleCollector(client Commander, st *store.Store, filter ConsoleFilter, log logrus.FieldLogger) *ConsoleCollector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConsoleCollector{
		client: client,
		store:  st,
		filter: filter,
		log:    log.WithField("collector", "console"),
	}
}

// Start enables the Runtime and Log domains and subscribes to their
// events.
func (cc *ConsoleCollector) Start(ctx context.Context) error {
	if _, err := cc.client.SendContext(ctx, "Runtime.enable", nil); err != nil {
		return fmt.Errorf("enable runtime domain: %w", err)
	}
	if _, err := cc.client.SendContext(ctx, "Log.enable", nil); err != nil {
		return fmt.Errorf("enable log domain: %w", err)
	}

	cc.subscribe("Runtime.consoleAPICalled", cc.onConsoleAPICalled)
	cc.subscribe("Runtime.exceptionThrown", cc.onExceptionThrown)
	cc.subscribe("Log.entryAdded", cc.onLogEntry)
	return nil
}

// Stop removes the event handlers.
func (cc *ConsoleCollector) Stop() {
	cc.mu.Lock()
	subs := cc.subs
	cc.subs = nil
	cc.mu.Unlock()

	for _, s := range subs {
		cc.client.Off(s.method, s.id)
	}
}

func (cc *ConsoleCollector) subscribe(method string, fn func(cdp.Event)) {
	id := cc.client.On(method, fn)
	cc.mu.Lock()
	cc.subs = append(cc.subs, subscription{method: method, id: id})
	cc.mu.Unlock()
}

func (cc *ConsoleCollector) onConsoleAPICalled(evt cdp.Event) {
	var params struct {
		Type string         `json:"type"`
		Args []remoteObject `json:"args"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		cc.log.WithError(err).Debug("bad consoleAPICalled payload")
		return
	}

	args := make([]string, len(params.Args))
	for i, arg := range params.Args {
		args[i] = coerceArg(arg)
	}

	cc.record(ipc.ConsoleMessage{
		Type:      params.Type,
		Text:      strings.Join(args, " "),
		Timestamp: time.Now().UnixMilli(),
		Args:      args,
	})
}

func (cc *ConsoleCollector) onExceptionThrown(evt cdp.Event) {
	var params struct {
		ExceptionDetails struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		cc.log.WithError(err).Debug("bad exceptionThrown payload")
		return
	}

	text := params.ExceptionDetails.Text
	if params.ExceptionDetails.Exception != nil && params.ExceptionDetails.Exception.Description != "" {
		text = params.ExceptionDetails.Exception.Description
	}

	cc.record(ipc.ConsoleMessage{
		Type:      "error",
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// onLogEntry captures browser-originated log entries (network errors,
// deprecations) that never pass through console.*.
func (cc *ConsoleCollector) onLogEntry(evt cdp.Event) {
	var params struct {
		Entry struct {
			Level string `json:"level"`
			Text  string `json:"text"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		cc.log.WithError(err).Debug("bad entryAdded payload")
		return
	}

	cc.record(ipc.ConsoleMessage{
		Type:      params.Entry.Level,
		Text:      params.Entry.Text,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (cc *ConsoleCollector) record(msg ipc.ConsoleMessage) {
	if !cc.filter.Keep(msg.Text) {
		return
	}
	if cc.store.AppendConsole(msg) {
		return
	}
	cc.mu.Lock()
	warned := cc.warnedFull
	cc.warnedFull = true
	cc.mu.Unlock()
	if !warned {
		cc.log.Warnf("console buffer full at %d entries, dropping further messages", store.MaxEntries)
	}
}

// coerceArg renders a RemoteObject as display text: primitives by
// value, described objects by description, anything else "[object]".
func coerceArg(arg remoteObject) string {
	switch arg.Type {
	case "string":
		var s string
		if err := json.Unmarshal(arg.Value, &s); err == nil {
			return s
		}
	case "number", "boolean", "bigint":
		if len(arg.Value) > 0 {
			return strings.Trim(string(arg.Value), `"`)
		}
		if arg.Description != "" {
			return arg.Description
		}
	case "undefined":
		return "undefined"
	}
	if arg.Description != "" {
		return arg.Description
	}
	return "[object]"
}
