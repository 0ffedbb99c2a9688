package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/bdgtools/bdg/internal/ipc"
)

const (
	// readyPollInterval is how often /json/list is polled during the
	// wait-for-ready phase.
	readyPollInterval = 200 * time.Millisecond
	// readyTimeout bounds the wait-for-ready phase.
	readyTimeout = 15 * time.Second
)

// ErrTabNotReady is returned when a tab never reaches the requested URL.
var ErrTabNotReady = errors.New("tab did not become ready")

// Commander is the slice of the CDP client the resolver needs.
type Commander interface {
	SendContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendToSession(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error)
}

// ResolveOptions configures tab resolution.
type ResolveOptions struct {
	// URL is the normalized URL the session should observe.
	URL string
	// ReuseTab prefers an existing tab matching the URL over a new one.
	ReuseTab bool
	// Host and Port locate Chrome's HTTP debugger endpoint.
	Host string
	Port int
	// Logger receives scoring and navigation diagnostics.
	Logger logrus.FieldLogger
}

// scoredTarget pairs a candidate page with its URL match score.
type scoredTarget struct {
	target ipc.TargetInfo
	score  int
}

// Resolve returns a Target for the requested URL: either an existing tab
// (when ReuseTab is set and one scores positively) or a freshly created
// one, navigated and waited on for readiness.
func Resolve(ctx context.Context, client Commander, opts ResolveOptions) (ipc.TargetInfo, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if opts.ReuseTab {
		target, ok, err := reuseExisting(ctx, client, opts, log)
		if err != nil {
			return ipc.TargetInfo{}, err
		}
		if ok {
			return target, nil
		}
		log.Debug("no matching tab to reuse, creating a new one")
	}

	target, err := createTab(ctx, client, opts, log)
	if err != nil {
		return ipc.TargetInfo{}, err
	}

	return waitForReady(ctx, opts.Host, opts.Port, target.ID, opts.URL)
}

// reuseExisting lists page targets and scores them against the URL.
func reuseExisting(ctx context.Context, client Commander, opts ResolveOptions, log logrus.FieldLogger) (ipc.TargetInfo, bool, error) {
	result, err := client.SendContext(ctx, "Target.getTargets", nil)
	if err != nil {
		return ipc.TargetInfo{}, false, fmt.Errorf("list targets: %w", err)
	}

	var parsed struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			Title    string `json:"title"`
			URL      string `json:"url"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return ipc.TargetInfo{}, false, fmt.Errorf("parse targets: %w", err)
	}

	var candidates []scoredTarget
	for _, ti := range parsed.TargetInfos {
		if ti.Type != "page" {
			continue
		}
		score := ScoreURL(ti.URL, opts.URL)
		if score > 0 {
			candidates = append(candidates, scoredTarget{
				target: ipc.TargetInfo{ID: ti.TargetID, Type: ti.Type, URL: ti.URL, Title: ti.Title},
				score:  score,
			})
		}
	}
	if len(candidates) == 0 {
		return ipc.TargetInfo{}, false, nil
	}

	best := lo.MaxBy(candidates, func(a, b scoredTarget) bool {
		return a.score > b.score
	})
	ties := lo.CountBy(candidates, func(c scoredTarget) bool { return c.score == best.score })
	if ties > 1 && best.score < 100 {
		// Insertion order follows Chrome's enumeration, so best is the first.
		log.Warnf("%d tabs tie at score %d for %s, picking the first", ties, best.score, opts.URL)
		best = lo.Filter(candidates, func(c scoredTarget, _ int) bool { return c.score == best.score })[0]
	}

	log.WithFields(logrus.Fields{"targetId": best.target.ID, "score": best.score}).
		Debug("reusing existing tab")

	// Navigate the winner when its URL differs from the requested one.
	if best.target.URL != opts.URL {
		if err := navigateTarget(ctx, client, best.target.ID, opts.URL); err != nil {
			return ipc.TargetInfo{}, false, err
		}
		ready, err := waitForReady(ctx, opts.Host, opts.Port, best.target.ID, opts.URL)
		if err != nil {
			return ipc.TargetInfo{}, false, err
		}
		return ready, true, nil
	}

	ready, err := waitForReady(ctx, opts.Host, opts.Port, best.target.ID, opts.URL)
	if err != nil {
		return ipc.TargetInfo{}, false, err
	}
	return ready, true, nil
}

// navigateTarget attaches to a target and drives Page.navigate through
// the attached session.
func navigateTarget(ctx context.Context, client Commander, targetID, targetURL string) error {
	result, err := client.SendContext(ctx, "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return fmt.Errorf("attach to target: %w", err)
	}

	var attach struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &attach); err != nil {
		return fmt.Errorf("parse attach result: %w", err)
	}

	if _, err := client.SendToSession(ctx, attach.SessionID, "Page.navigate", map[string]any{
		"url": targetURL,
	}); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// createTab creates a new tab, preferring Target.createTarget and
// falling back to the HTTP endpoint.
func createTab(ctx context.Context, client Commander, opts ResolveOptions, log logrus.FieldLogger) (ipc.TargetInfo, error) {
	result, err := client.SendContext(ctx, "Target.createTarget", map[string]any{
		"url":       opts.URL,
		"newWindow": false,
	})
	if err == nil {
		var created struct {
			TargetID string `json:"targetId"`
		}
		if jerr := json.Unmarshal(result, &created); jerr == nil && created.TargetID != "" {
			return ipc.TargetInfo{ID: created.TargetID, Type: "page", URL: opts.URL}, nil
		}
	}
	log.WithError(err).Debug("Target.createTarget failed, falling back to /json/new")

	target, herr := CreateTargetHTTP(ctx, opts.Host, opts.Port, opts.URL)
	if herr != nil {
		return ipc.TargetInfo{}, fmt.Errorf("create tab: %w", herr)
	}
	return *target, nil
}

// waitForReady polls /json/list until the target's URL starts with the
// requested URL and is not about:blank.
func waitForReady(ctx context.Context, host string, port int, targetID, wantURL string) (ipc.TargetInfo, error) {
	deadline := time.Now().Add(readyTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		targets, err := FetchTargets(ctx, host, port)
		if err == nil {
			for _, t := range targets {
				if t.ID != targetID {
					continue
				}
				if t.URL != "about:blank" && strings.HasPrefix(t.URL, wantURL) {
					return t, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return ipc.TargetInfo{}, fmt.Errorf("%w: %s after %s", ErrTabNotReady, wantURL, readyTimeout)
		}

		select {
		case <-ctx.Done():
			return ipc.TargetInfo{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScoreURL rates how well a tab's URL matches the requested URL.
// 100 exact, 90 same host and path, 70 same host and path prefix,
// 50 same host, 30 substring, 0 otherwise.
func ScoreURL(tabURL, wantURL string) int {
	if tabURL == wantURL {
		return 100
	}

	tu, terr := url.Parse(tabURL)
	wu, werr := url.Parse(wantURL)
	if terr == nil && werr == nil && tu.Host != "" && tu.Host == wu.Host {
		switch {
		case tu.Path == wu.Path:
			return 90
		case strings.HasPrefix(tu.Path, wu.Path):
			return 70
		default:
			return 50
		}
	}

	if strings.Contains(tabURL, wantURL) || strings.Contains(wantURL, tabURL) {
		return 30
	}
	return 0
}
