package trackclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"fleet-tracking/internal/general/contracts"
)

var errDial = errors.New("dial refused")

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []contracts.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	f, err := contracts.DecodeFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(event string, payload any) {
	b, err := contracts.EncodeFrame(event, payload)
	if err != nil {
		panic(err)
	}
	c.in <- b
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, f := range c.written {
		out = append(out, f.Type)
	}
	return out
}

// scriptedDialer hands out queued outcomes; an empty queue fails.
type scriptedDialer struct {
	mu       sync.Mutex
	outcomes []*fakeConn // nil entry = failure
	dials    int
	headers  []http.Header
}

func (d *scriptedDialer) queue(outcomes ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcomes...)
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header.Clone())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.outcomes) == 0 {
		return nil, errDial
	}
	next := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	if next == nil {
		return nil, errDial
	}
	return next, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
