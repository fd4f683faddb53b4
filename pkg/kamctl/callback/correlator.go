// Package callback matches asynchronous OAuth redirect callbacks to the
// in-flight login waiting for them. It is a single-producer/single-consumer
// rendezvous with one slot: one login at a time.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRedirectURI is the custom-scheme redirect the desktop auth service
// sends the browser back to.
const DefaultRedirectURI = "kiro://kiro.kiroAgent/authenticate-success"

// WaitTimeout bounds how long a login waits for its redirect.
const WaitTimeout = 5 * time.Minute

var (
	// ErrStateMismatch means the redirect carried a state token that does not
	// match the pending login. Treated as a potential CSRF attempt: always
	// surfaced, never retried.
	ErrStateMismatch = errors.New("state mismatch, possible CSRF attempt")
	// ErrCallbackTimeout means no redirect arrived within WaitTimeout.
	ErrCallbackTimeout = errors.New("callback timeout")
	// ErrLoginInProgress means a login already holds the slot.
	ErrLoginInProgress = errors.New("another login is already awaiting its callback")
)

// Result is a successfully correlated redirect.
type Result struct {
	Code  string
	State string
}

type outcome struct {
	result Result
	err    error
}

type pendingSlot struct {
	state    string
	ch       chan outcome
	deadline time.Time
}

// Correlator holds at most one pending login registration and routes incoming
// redirect URLs to it.
type Correlator struct {
	mu          sync.Mutex
	slot        *pendingSlot
	redirectURI *url.URL
	log         *zap.Logger
}

func New(redirectURI string, log *zap.Logger) (*Correlator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	return &Correlator{redirectURI: parsed, log: log}, nil
}

func (c *Correlator) RedirectURI() string { return c.redirectURI.String() }

// Register claims the slot for a login identified by its state token. A live
// registration blocks new ones; a registration past its deadline is stale
// (its waiter is gone) and gets overwritten.
func (c *Correlator) Register(state string) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot != nil && time.Now().Before(c.slot.deadline) {
		return nil, ErrLoginInProgress
	}
	if c.slot != nil {
		c.log.Debug("overwriting stale callback registration")
	}
	slot := &pendingSlot{
		state:    state,
		ch:       make(chan outcome, 1),
		deadline: time.Now().Add(WaitTimeout),
	}
	c.slot = slot
	return &Pending{c: c, slot: slot}, nil
}

// HandleURL processes an incoming redirect URL. It reports false when the URL
// is not addressed to this correlator (wrong scheme, or no login pending) so
// other listeners may process it; true means the URL was consumed, whether it
// resolved the login or failed it.
func (c *Correlator) HandleURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		c.log.Warn("unparseable callback URL", zap.Error(err))
		return false
	}
	if parsed.Scheme != c.redirectURI.Scheme {
		return false
	}
	return c.HandleQuery(parsed.Query())
}

// HandleQuery delivers redirect query parameters to the pending login.
func (c *Correlator) HandleQuery(q url.Values) bool {
	c.mu.Lock()
	slot := c.slot
	c.slot = nil
	c.mu.Unlock()
	if slot == nil {
		c.log.Debug("callback arrived with no pending login")
		return false
	}

	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "unknown error"
		}
		slot.ch <- outcome{err: fmt.Errorf("oauth error: %s - %s", errCode, desc)}
		return true
	}
	code := q.Get("code")
	if code == "" {
		slot.ch <- outcome{err: errors.New("missing code parameter")}
		return true
	}
	state := q.Get("state")
	if state == "" {
		slot.ch <- outcome{err: errors.New("missing state parameter")}
		return true
	}
	if state != slot.state {
		c.log.Warn("callback state mismatch")
		slot.ch <- outcome{err: ErrStateMismatch}
		return true
	}
	slot.ch <- outcome{result: Result{Code: code, State: state}}
	return true
}

// Pending is one login's claim on the correlator slot.
type Pending struct {
	c    *Correlator
	slot *pendingSlot
}

// Wait blocks until the redirect is delivered, the context ends, or the
// 5-minute deadline passes.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	timer := time.NewTimer(time.Until(p.slot.deadline))
	defer timer.Stop()
	select {
	case o := <-p.slot.ch:
		if o.err != nil {
			return Result{}, o.err
		}
		return o.result, nil
	case <-timer.C:
		p.Cancel()
		return Result{}, ErrCallbackTimeout
	case <-ctx.Done():
		p.Cancel()
		return Result{}, ctx.Err()
	}
}

// Cancel releases the slot if this registration still holds it.
func (p *Pending) Cancel() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.c.slot == p.slot {
		p.c.slot = nil
	}
}
