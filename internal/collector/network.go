package collector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/cdp"
	"github.com/bdgtools/bdg/internal/ipc"
	"github.com/bdgtools/bdg/internal/store"
)

const (
	// maxInflight bounds the in-flight request map.
	maxInflight = 10_000
	// sweepInterval is how often stale in-flight entries are collected.
	sweepInterval = 30 * time.Second
	// staleAfter is the age past which an in-flight entry is abandoned.
	staleAfter = 60 * time.Second
)

// Commander is the slice of the CDP client collectors need.
type Commander interface {
	SendContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	On(method string, fn func(cdp.Event)) int64
	Off(method string, id int64) bool
}

// subscription remembers a registered event handler for teardown.
type subscription struct {
	method string
	id     int64
}

// inflightEntry is a request awaiting its terminal event.
type inflightEntry struct {
	record   ipc.NetworkRequest
	insertAt time.Time
}

// NetworkCollector records HTTP traffic from Network.* events into the
// telemetry store.
type NetworkCollector struct {
	client Commander
	store  *store.Store
	filter NetworkFilter
	policy BodyPolicy
	log    logrus.FieldLogger

	mu         sync.Mutex
	inflight   map[string]*inflightEntry
	subs       []subscription
	warnedFull bool
	abandoned  int

	stopOnce  sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
	fetchWG   sync.WaitGroup
}

// NewNetworkCollector builds a collector; Start must be called before
// any events are recorded.
func NewNetworkCollector(client Commander, st *store.Store, filter NetworkFilter, policy BodyPolicy, log logrus.FieldLogger) *NetworkCollector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NetworkCollector{
		client:    client,
		store:     st,
		filter:    filter,
		policy:    policy,
		log:       log.WithField("collector", "network"),
		inflight:  make(map[string]*inflightEntry),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start enables the Network domain, subscribes to its events, and
// launches the stale-entry sweeper.
func (nc *NetworkCollector) Start(ctx context.Context) error {
	if _, err := nc.client.SendContext(ctx, "Network.enable", nil); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}

	nc.subscribe("Network.requestWillBeSent", nc.onRequestWillBeSent)
	nc.subscribe("Network.responseReceived", nc.onResponseReceived)
	nc.subscribe("Network.loadingFinished", nc.onLoadingFinished)
	nc.subscribe("Network.loadingFailed", nc.onLoadingFailed)

	go nc.sweepLoop()
	return nil
}

// Stop removes event handlers, stops the sweeper, and waits for any
// in-progress body fetches. Safe to call more than once.
func (nc *NetworkCollector) Stop() {
	nc.stopOnce.Do(func() {
		nc.mu.Lock()
		subs := nc.subs
		nc.subs = nil
		nc.mu.Unlock()

		for _, s := range subs {
			nc.client.Off(s.method, s.id)
		}

		close(nc.sweepStop)
		<-nc.sweepDone
	})
	nc.fetchWG.Wait()
}

func (nc *NetworkCollector) subscribe(method string, fn func(cdp.Event)) {
	id := nc.client.On(method, fn)
	nc.mu.Lock()
	nc.subs = append(nc.subs, subscription{method: method, id: id})
	nc.mu.Unlock()
}

func (nc *NetworkCollector) onRequestWillBeSent(evt cdp.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		Request   struct {
			URL      string                 `json:"url"`
			Method   string                 `json:"method"`
			Headers  map[string]interface{} `json:"headers"`
			PostData string                 `json:"postData"`
		} `json:"request"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		nc.log.WithError(err).Debug("bad requestWillBeSent payload")
		return
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()

	if len(nc.inflight) >= maxInflight {
		nc.log.WithField("requestId", params.RequestID).
			Warn("in-flight request map full, dropping request")
		return
	}

	nc.inflight[params.RequestID] = &inflightEntry{
		record: ipc.NetworkRequest{
			RequestID:      params.RequestID,
			URL:            params.Request.URL,
			Method:         params.Request.Method,
			Timestamp:      time.Now().UnixMilli(),
			RequestHeaders: coerceHeaders(params.Request.Headers),
			RequestBody:    params.Request.PostData,
		},
		insertAt: time.Now(),
	}
}

func (nc *NetworkCollector) onResponseReceived(evt cdp.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		Response  struct {
			Status   int                    `json:"status"`
			MimeType string                 `json:"mimeType"`
			Headers  map[string]interface{} `json:"headers"`
		} `json:"response"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		nc.log.WithError(err).Debug("bad responseReceived payload")
		return
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()

	entry, ok := nc.inflight[params.RequestID]
	if !ok {
		return
	}
	entry.record.Status = params.Response.Status
	entry.record.MimeType = params.Response.MimeType
	entry.record.ResponseHeaders = coerceHeaders(params.Response.Headers)
}

func (nc *NetworkCollector) onLoadingFinished(evt cdp.Event) {
	var params struct {
		RequestID         string  `json:"requestId"`
		EncodedDataLength float64 `json:"encodedDataLength"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		nc.log.WithError(err).Debug("bad loadingFinished payload")
		return
	}

	record, ok := nc.take(params.RequestID)
	if !ok {
		return
	}
	if !nc.filter.Keep(record.URL) {
		return
	}

	if nc.policy.ShouldFetch(record.URL, record.MimeType, int64(params.EncodedDataLength)) {
		nc.fetchWG.Add(1)
		go func() {
			defer nc.fetchWG.Done()
			nc.fetchBody(&record)
			nc.append(record)
		}()
		return
	}

	nc.append(record)
}

func (nc *NetworkCollector) onLoadingFailed(evt cdp.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		nc.log.WithError(err).Debug("bad loadingFailed payload")
		return
	}

	record, ok := nc.take(params.RequestID)
	if !ok {
		return
	}
	if !nc.filter.Keep(record.URL) {
		return
	}

	record.Status = 0
	record.Failed = true
	nc.append(record)
}

// take removes and returns an in-flight record by id.
func (nc *NetworkCollector) take(requestID string) (ipc.NetworkRequest, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	entry, ok := nc.inflight[requestID]
	if !ok {
		return ipc.NetworkRequest{}, false
	}
	delete(nc.inflight, requestID)
	return entry.record, true
}

// append hands the record to the store, warning once when the ring is
// full.
func (nc *NetworkCollector) append(record ipc.NetworkRequest) {
	if nc.store.AppendNetwork(record) {
		return
	}
	nc.mu.Lock()
	warned := nc.warnedFull
	nc.warnedFull = true
	nc.mu.Unlock()
	if !warned {
		nc.log.Warnf("network buffer full at %d entries, dropping further requests", store.MaxEntries)
	}
}

// fetchBody retrieves the response body over CDP. Failures leave the
// body absent.
func (nc *NetworkCollector) fetchBody(record *ipc.NetworkRequest) {
	result, err := nc.client.SendContext(context.Background(), "Network.getResponseBody", map[string]any{
		"requestId": record.RequestID,
	})
	if err != nil {
		nc.log.WithError(err).WithField("requestId", record.RequestID).
			Debug("response body unavailable")
		return
	}

	var body struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		nc.log.WithError(err).Debug("bad getResponseBody payload")
		return
	}

	if body.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body.Body)
		if err != nil {
			nc.log.WithError(err).Debug("response body not valid base64")
			return
		}
		record.ResponseBody = string(decoded)
		return
	}
	record.ResponseBody = body.Body
}

// sweepLoop periodically abandons in-flight entries Chrome never
// terminated. Chrome omits terminal events for some cancelled requests.
func (nc *NetworkCollector) sweepLoop() {
	defer close(nc.sweepDone)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-nc.sweepStop:
			return
		case <-ticker.C:
			nc.sweep(time.Now())
		}
	}
}

func (nc *NetworkCollector) sweep(now time.Time) {
	nc.mu.Lock()
	removed := 0
	for id, entry := range nc.inflight {
		if now.Sub(entry.insertAt) > staleAfter {
			delete(nc.inflight, id)
			removed++
		}
	}
	nc.abandoned += removed
	total := nc.abandoned
	nc.mu.Unlock()

	if removed > 0 {
		nc.log.WithFields(logrus.Fields{"removed": removed, "total": total}).
			Info("abandoned stale in-flight requests")
	}
}

// InflightCount reports the in-flight map size, for status diagnostics.
func (nc *NetworkCollector) InflightCount() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return len(nc.inflight)
}

// coerceHeaders flattens CDP header maps to string values.
func coerceHeaders(raw map[string]interface{}) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}
