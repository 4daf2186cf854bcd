package trackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("tracking channel is not connected")
	ErrUnauthorized = errors.New("tracking channel rejected the credential")
)

// State is the connection lifecycle shown to the user.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// Conn is the subset of *websocket.Conn the channel needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one transport connection.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}
	return conn, nil
}

// ChannelURL turns an http(s) server address into the tracking endpoint.
func ChannelURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/tracking"
	return u.String(), nil
}

// ChannelOptions configures reconnection. Zero values fall back to 5 attempts, 1s and 5s.
type ChannelOptions struct {
	URL      string
	Token    string
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
	Dialer   Dialer
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Channel is the client side of the tracking connection:
// disconnected -> connecting -> connected -> (error | disconnected).
// Transient drops reconnect automatically; after Attempts consecutive failed
// dials the channel parks in StateError until Retry.
type Channel struct {
	opts   ChannelOptions
	logger *logger.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	lastErr   error
	conn      Conn
	cancel    context.CancelFunc
	done      chan struct{}
	handlers  map[string][]func(json.RawMessage)
	onConnect []func()
	onState   []func(State)

	writeMu sync.Mutex
	// dispatchMu is held while handlers run so Disconnect can wait out an in-flight frame.
	dispatchMu sync.Mutex
}

func NewChannel(opts ChannelOptions, log *logger.Logger) *Channel {
	if opts.Attempts < 1 {
		opts.Attempts = 5
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = time.Second
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = 5 * opts.MinDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Channel{
		opts:     opts,
		logger:   log,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// On registers fn for an inbound event. Handlers run on the reader goroutine in
// arrival order and never after Disconnect returns, so they must not call Disconnect.
func (c *Channel) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnConnect registers fn to run each time the channel becomes connected.
func (c *Channel) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnStateChange registers fn to observe every state transition.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of consecutive failed dials.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connected reports whether frames can be emitted right now.
func (c *Channel) Connected() bool { return c.State() == StateConnected }

// Connect starts the connection loop. It is a no-op while a loop is running.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(loopCtx)
	}()
}

// Retry resets the attempt counter and reconnects. Only meaningful from StateError
// or StateDisconnected.
func (c *Channel) Retry(ctx context.Context) {
	c.mu.Lock()
	running := c.cancel != nil
	if !running {
		c.attempts = 0
		c.lastErr = nil
	}
	c.mu.Unlock()

	if !running {
		c.Connect(ctx)
	}
}

// Disconnect stops the loop and closes the socket. It waits for a handler
// already running to return; the rest of the teardown is not awaited.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		// cancelled under the lock so a concurrent attach cannot slip in
		c.cancel()
	}
	conn := c.conn
	c.cancel, c.conn = nil, nil
	c.mu.Unlock()

	if conn != nil {
		go func() { _ = conn.Close() }()
	}

	c.dispatchMu.Lock()
	// wait out an in-flight dispatch; later ones see ctx cancelled
	c.dispatchMu.Unlock()

	c.setState(StateDisconnected)
}

// Wait blocks until the current connection loop has exited.
func (c *Channel) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Emit sends one event frame.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	frame, err := contracts.EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) run(ctx context.Context) {
	defer c.release(ctx)

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	for {
		c.loopState(ctx, StateConnecting)

		conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n := c.recordFailure(err)
			c.logger.Warn(ctx, "channel_dial_failed", "Tracking channel connection failed", err,
				map[string]any{"attempt": n, "max_attempts": c.opts.Attempts})
			if n >= c.opts.Attempts {
				c.loopState(ctx, StateError)
				return
			}
			if c.opts.Sleep(ctx, Backoff(n, c.opts.MinDelay, c.opts.MaxDelay)) != nil {
				return
			}
			continue
		}

		if !c.attach(ctx, conn) {
			_ = conn.Close()
			return
		}
		c.logger.Info(ctx, "channel_connected", "Tracking channel connected", nil)
		c.fireConnect()

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn(ctx, "channel_dropped", "Tracking channel dropped; reconnecting", err, nil)
	}
}

// release clears the loop handle unless Disconnect already did.
func (c *Channel) release(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() == nil && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Channel) recordFailure(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.lastErr = err
	return c.attempts
}

func (c *Channel) attach(ctx context.Context, conn Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	c.transition(StateConnected)
	return true
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) fireConnect() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := contracts.DecodeFrame(raw)
		if err != nil {
			continue
		}
		if !c.dispatch(ctx, f) {
			return ctx.Err()
		}
	}
}

// dispatch runs the handlers for f unless Disconnect has cancelled ctx.
func (c *Channel) dispatch(ctx context.Context, f contracts.Frame) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	hs := c.handlers[f.Type]
	c.mu.Unlock()
	for _, fn := range hs {
		fn(f.Data)
	}
	return true
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.transition(s)
}

// loopState is setState for the connection loop: once Disconnect has
// cancelled ctx the loop no longer owns the state.
func (c *Channel) loopState(ctx context.Context, s State) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.transition(s)
}

// transition must be called with c.mu held; it releases it before notifying observers.
func (c *Channel) transition(s State) {
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

// Backoff returns the delay before retry n (1-based): min doubled per attempt, capped at max.
func Backoff(n int, min, max time.Duration) time.Duration {
	d := min
	for i := 1; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
