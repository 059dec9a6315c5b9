// Package login implements the client side of the popup-based login
// handshake: open a browser window to the authorization URL, then poll the
// token-retrieval endpoint with the state identifier until the flow completes
// or is cancelled. There is no push channel and no client-side hard timeout;
// once the server-side token TTL passes the poll only ever sees "not found",
// so callers must keep cancellation reachable.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

// pollInterval is the delay between polls of the token endpoint.
const pollInterval = 500 * time.Millisecond

// Result is the (token, user) pair handed to the caller on success.
type Result struct {
	Token string            `json:"token"`
	User  *core.UserProfile `json:"user"`
}

// Poller drives the polling loop for one login widget instance. Only one poll
// may be active per instance; starting a new attempt cancels the pending one.
type Poller struct {
	endpoint      string
	authorization string
	httpClient    *http.Client
	interval      time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPoller creates a poller for the given token-retrieval endpoint. The
// authorization value, when set, is sent on every poll request so the server
// can verify the host identity.
func NewPoller(endpoint, authorization string) *Poller {
	return &Poller{
		endpoint:      endpoint,
		authorization: authorization,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		interval:      pollInterval,
	}
}

// Start begins polling for the given state in the background and invokes
// onLogin once the token is available. A pending poll from a previous attempt
// is cancelled first, so at most one loop runs per poller.
func (p *Poller) Start(ctx context.Context, state string, onLogin func(Result)) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		res, err := p.Wait(ctx, state)
		if err != nil {
			// Cancellation is the only non-transport way out of the loop;
			// nothing to deliver either way.
			return
		}
		onLogin(*res)
	}()
}

// Cancel stops the pending poll, if any. No further polls occur after it
// returns; the server-side records simply expire via their TTLs.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Wait polls the token endpoint until it reports success or ctx is cancelled.
func (p *Poller) Wait(ctx context.Context, state string) (*Result, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		res, ok, err := p.poll(ctx, state)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}

		timer.Reset(p.interval)
	}
}

// poll performs one request against the token endpoint. A non-OK status means
// "not found yet" and reschedules; only transport failures are errors.
func (p *Poller) poll(ctx context.Context, state string) (*Result, bool, error) {
	u := p.endpoint + "?state=" + url.QueryEscape(state)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	if p.authorization != "" {
		req.Header.Set("Authorization", p.authorization)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Cancellation surfaces through the request; anything else is a
		// transient network failure and the next tick retries it.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, false, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &res, true, nil
}

// OpenBrowser opens the default browser to the authorization URL. The popup
// sizing of the original widget is a browser concern; from here any window
// that reaches the callback completes the flow.
func OpenBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return errors.New("unsupported platform")
	}
}
