// Package channel maintains the persistent, authenticated connection to
// the quiz platform's realtime gateway. It prefers a websocket, falls
// back to HTTP long-polling, upgrades back to the websocket when it
// becomes reachable, and de-multiplexes inbound named events into
// per-topic FIFO streams. Transport failures are retried inside the
// channel and never surface on topic streams.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the connection's transport state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrRetriesExhausted reports that the bounded reconnect budget ran out.
// It reaches callers through the state hook and LastError, never through
// a topic stream.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// errAuthRejected reports a handshake rejection by the gateway.
var errAuthRejected = errors.New("authentication rejected")

// Options configures a Channel. Zero values fall back to the gateway's
// documented defaults (5 attempts, 1s fixed backoff).
type Options struct {
	WebSocketURL     string
	PollURL          string // base URL for the long-poll fallback; "" disables it
	MaxAttempts      int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
	OnStateChange    func(State) // called outside the channel's lock
	Logger           zerolog.Logger
}

const topicBuffer = 32

// Channel is one logical connection per authenticated client session.
// At most one live transport exists at a time; Connect while connected
// is a no-op.
type Channel struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	topics  map[string]chan json.RawMessage
	closed  bool
	lastSeq uint64
	role    string
	lastErr error
	wg      sync.WaitGroup
}

func New(opts Options) *Channel {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &Channel{
		opts:   opts,
		log:    opts.Logger,
		topics: make(map[string]chan json.RawMessage),
	}
}

// Topic returns the FIFO stream of raw payloads for one named event.
// The same channel is returned for repeated calls; it closes only when
// the Channel is closed for good.
func (c *Channel) Topic(name string) <-chan json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.topics[name]
	if !ok {
		ch = make(chan json.RawMessage, topicBuffer)
		c.topics[name] = ch
	}
	return ch
}

// State returns the current transport state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the role the gateway acknowledged at handshake time.
func (c *Channel) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// LastError returns the most recent unrecoverable transport error.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect establishes the transport and authenticates. Idempotent:
// calling it while a transport is live (or being established) is a
// no-op, preserving the one-live-transport invariant.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("channel closed")
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.lastErr = nil
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.run(runCtx, token)
	return nil
}

// Disconnect tears the transport down immediately. Idempotent and safe
// when already disconnected. Topic streams stay open (they are owned by
// the process, not the transport); use Close at process teardown.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// Close disconnects and closes every topic stream, ending downstream
// broker pumps. The channel cannot be reused afterwards.
func (c *Channel) Close() {
	c.Disconnect()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.topics {
		close(ch)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hook := c.opts.OnStateChange
	c.mu.Unlock()
	c.log.Debug().Str("state", s.String()).Msg("channel state")
	if hook != nil {
		hook(s)
	}
}

// run is the connection supervisor: dial, serve, and reconnect with the
// bounded budget until the budget is spent or the context ends.
func (c *Channel) run(ctx context.Context, token string) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.lastSeq = 0 // fresh session; seq continuity only spans upgrades
		c.mu.Unlock()

		trans, err := c.dial(ctx, token)
		if err != nil {
			if errors.Is(err, errAuthRejected) {
				c.log.Error().Err(err).Msg("gateway rejected handshake")
				c.fail(err)
				return
			}
			attempts++
			c.log.Warn().Err(err).Int("attempt", attempts).Int("budget", c.opts.MaxAttempts).Msg("connect failed")
			if attempts >= c.opts.MaxAttempts {
				c.fail(ErrRetriesExhausted)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.RetryDelay):
			}
			continue
		}

		attempts = 0
		err = c.serve(ctx, trans, token)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Msg("transport lost, reconnecting")
		c.setState(StateConnecting)
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// dial prefers the websocket and falls back to long-polling. The
// returned transport has completed the application-level handshake.
func (c *Channel) dial(ctx context.Context, token string) (transport, error) {
	ws, wsErr := dialWebSocket(ctx, c.opts.WebSocketURL)
	if wsErr == nil {
		c.setState(StateConnected)
		if err := c.handshake(ws, token, true); err != nil {
			ws.close()
			return nil, err
		}
		return ws, nil
	}

	if c.opts.PollURL == "" {
		return nil, wsErr
	}
	c.log.Debug().Err(wsErr).Msg("websocket dial failed, falling back to polling")

	pt := newPollTransport(c.opts.PollURL, token)
	c.setState(StateConnected)
	if err := c.handshake(pt, token, true); err != nil {
		pt.close()
		return nil, err
	}
	return pt, nil
}

// handshake sends the identity token and waits for the authenticated
// ack. announce controls whether state transitions are published; the
// silent form is used by the upgrade prober so an upgrade stays
// invisible to observers.
func (c *Channel) handshake(trans transport, token string, announce bool) error {
	data, _ := json.Marshal(authenticateData{Token: token})
	if err := trans.send(Envelope{Event: eventAuthenticate, Data: data}); err != nil {
		return err
	}
	if announce {
		c.setState(StateAuthenticating)
	}

	type result struct {
		role string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		for {
			env, err := trans.recv()
			if err != nil {
				resCh <- result{err: err}
				return
			}
			switch env.Event {
			case eventAuthenticated:
				var ack authenticatedData
				if err := json.Unmarshal(env.Data, &ack); err != nil {
					resCh <- result{err: err}
					return
				}
				resCh <- result{role: ack.Role}
				return
			case eventError:
				var e errorData
				_ = json.Unmarshal(env.Data, &e)
				resCh <- result{err: errAuthRejected}
				return
			default:
				// Nothing else is expected pre-auth; skip.
			}
		}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		c.mu.Lock()
		c.role = res.role
		c.mu.Unlock()
		if announce {
			c.setState(StateAuthenticated)
		}
		return nil
	case <-time.After(c.opts.HandshakeTimeout):
		// Closing unblocks the recv goroutine.
		trans.close()
		<-resCh
		return errors.New("handshake timed out")
	}
}

// serve pumps envelopes from the transport into topic streams until the
// transport fails or the context ends. On the polling transport it also
// probes for a websocket upgrade and switches over seamlessly.
func (c *Channel) serve(ctx context.Context, trans transport, token string) error {
	defer func() { trans.close() }()

	done := make(chan struct{})
	defer close(done)
	recvCh, errCh := startReader(trans, done)

	var upgradeCh chan *wsTransport
	if trans.name() == "polling" && c.opts.WebSocketURL != "" {
		upgradeCh = make(chan *wsTransport, 1)
		probeCtx, cancelProbe := context.WithCancel(ctx)
		defer cancelProbe()
		go c.probeUpgrade(probeCtx, token, upgradeCh)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case env := <-recvCh:
			c.deliver(ctx, env)
		case ws := <-upgradeCh:
			pt := trans.(*pollTransport)
			if err := c.switchToWebSocket(ctx, pt, ws, recvCh, errCh); err != nil {
				ws.close()
				c.log.Warn().Err(err).Msg("transport upgrade abandoned")
				return err
			}
			trans = ws
			recvCh, errCh = startReader(trans, done)
			upgradeCh = nil
			c.log.Info().Msg("transport upgraded to websocket")
		}
	}
}

// switchToWebSocket settles the polling transport and hands delivery
// over to the already-authenticated websocket without duplicating or
// missing events: the poller is drained to quiescence, one final poll
// picks up the gap, and the seq guard in deliver drops any overlap.
func (c *Channel) switchToWebSocket(ctx context.Context, pt *pollTransport, ws *wsTransport, recvCh <-chan Envelope, errCh <-chan error) error {
	pt.stop()
	for settled := false; !settled; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-recvCh:
			c.deliver(ctx, env)
		case <-errCh:
			settled = true
		}
	}

	if batch, err := pt.drain(ctx); err == nil {
		for _, env := range batch {
			c.deliver(ctx, env)
		}
	}
	pt.close()
	return nil
}

// probeUpgrade retries the preferred transport in the background while
// the channel runs on the fallback.
func (c *Channel) probeUpgrade(ctx context.Context, token string, out chan<- *wsTransport) {
	interval := 5 * c.opts.RetryDelay
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws, err := dialWebSocket(ctx, c.opts.WebSocketURL)
			if err != nil {
				continue
			}
			if err := c.handshake(ws, token, false); err != nil {
				ws.close()
				continue
			}
			select {
			case out <- ws:
			case <-ctx.Done():
				ws.close()
			}
			return
		}
	}
}

// deliver routes one envelope to its topic stream, dropping duplicates
// by seq (upgrade overlap) and unknown names.
func (c *Channel) deliver(ctx context.Context, env Envelope) {
	c.mu.Lock()
	if env.Seq != 0 {
		if env.Seq <= c.lastSeq {
			c.mu.Unlock()
			return
		}
		c.lastSeq = env.Seq
	}
	ch, ok := c.topics[env.Event]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("event", env.Event).Msg("no subscriber topic, dropping")
		return
	}
	select {
	case ch <- env.Data:
	case <-ctx.Done():
	}
}

// startReader pumps transport reads into channels; it exits on recv
// error or when done closes.
func startReader(trans transport, done <-chan struct{}) (<-chan Envelope, <-chan error) {
	recvCh := make(chan Envelope)
	errCh := make(chan error, 1)
	go func() {
		for {
			env, err := trans.recv()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case recvCh <- env:
			case <-done:
				return
			}
		}
	}()
	return recvCh, errCh
}
