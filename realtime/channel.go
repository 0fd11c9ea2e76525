// Package realtime maintains the push channel to the backend broker and
// routes topic messages to registered handlers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNotConnected     = errors.New("realtime channel not connected")
	ErrRetriesExhausted = errors.New("realtime channel gave up reconnecting")
)

const DefaultReconnectDelay = 5 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	// ReconnectDelay is the fixed wait between failed connection attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed attempts. 0 retries forever.
	MaxReconnectAttempts int
}

// Channel keeps one broker connection alive and re-establishes every
// registered topic after reconnecting.
type Channel struct {
	transport Transport
	opts      Options
	log       *slog.Logger

	mu      sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every state change
	conn    Conn
	topics  map[string]*topicEntry
	running bool
	restart bool // Connect arrived while a Disconnect was stopping the loop
	cancel  context.CancelFunc
	loopEnd chan struct{}
	err     error

	listenersMu sync.RWMutex
	listeners   []func(State)
}

func NewChannel(transport Transport, opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Channel{
		transport: transport,
		opts:      opts,
		log:       slog.With("module", "realtime"),
		changed:   make(chan struct{}),
		topics:    make(map[string]*topicEntry),
	}
}

// Connect starts the connection loop and returns immediately.
// It is a no-op while the loop is already running. A Connect issued while
// Disconnect is still stopping the loop starts a fresh loop once the old
// one has ended.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		if c.cancel == nil {
			c.restart = true
		}
		return
	}
	c.startLocked()
}

// startLocked launches the connection loop. Caller must hold c.mu.
func (c *Channel) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.loopEnd = make(chan struct{})
	c.err = nil

	go c.run(ctx, c.loopEnd)
}

// Disconnect stops the loop and closes the connection. Registered handlers
// are kept and resubscribed by a later Connect. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	loopEnd := c.loopEnd
	c.cancel = nil
	c.restart = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-loopEnd
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports why the loop stopped on its own, e.g. ErrRetriesExhausted.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnStateChange registers fn for every state transition. fn must not block.
func (c *Channel) OnStateChange(fn func(State)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// WaitState blocks until the channel reaches want or ctx is done.
func (c *Channel) WaitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()

		if state == want {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (currently %s): %w", want, state, ctx.Err())
		}
	}
}

// Publish JSON-encodes payload and sends it to destination.
func (c *Channel) Publish(ctx context.Context, destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(ctx, destination, body); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}

func (c *Channel) run(ctx context.Context, loopEnd chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		if c.restart {
			c.restart = false
			c.log.Debug("restarting after disconnect")
			c.startLocked()
		}
		c.mu.Unlock()
		close(loopEnd)
	}()

	failures := 0
	for {
		c.setState(StateConnecting)

		conn, err := c.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}

			failures++
			limit := c.opts.MaxReconnectAttempts
			exhausted := limit > 0 && failures >= limit
			if exhausted {
				// Set before the transition so state listeners can read Err.
				c.mu.Lock()
				c.err = ErrRetriesExhausted
				c.mu.Unlock()
			}
			c.setState(StateDisconnected)
			if exhausted {
				c.log.Error("giving up reconnecting", "attempts", failures, "error", err)
				return
			}

			c.log.Warn("connect failed", "attempt", failures, "retryIn", c.opts.ReconnectDelay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.ReconnectDelay):
			}
			continue
		}

		failures = 0
		c.attach(conn)
		c.log.Info("connected")

		select {
		case <-ctx.Done():
			c.detach()
			if err := conn.Close(); err != nil {
				c.log.Debug("close connection", "error", err)
			}
			c.log.Info("disconnected")
			return
		case <-conn.Done():
			c.detach()
			conn.Close()
			// Re-dial right away; the fixed delay only separates failed attempts.
			c.log.Warn("connection lost, reconnecting")
		}
	}
}

// attach installs conn and re-establishes every registered topic.
func (c *Channel) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	for _, entry := range c.topics {
		entry.stream = nil
		c.openStreamLocked(entry)
	}
	c.mu.Unlock()

	c.setState(StateConnected)
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	for _, entry := range c.topics {
		entry.stream = nil
	}
	c.mu.Unlock()

	c.setState(StateDisconnected)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	c.listenersMu.RLock()
	listeners := make([]func(State), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}
