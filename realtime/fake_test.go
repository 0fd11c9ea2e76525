package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu         sync.Mutex
	failNext   int
	closeDelay time.Duration
	dialTimes []time.Time
	conns     []*fakeConn
	dialed    chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	t.dialTimes = append(t.dialTimes, time.Now())
	if t.failNext > 0 {
		t.failNext--
		t.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{
		streams:    make(map[string]*fakeStream),
		done:       make(chan struct{}),
		closeDelay: t.closeDelay,
	}
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	t.dialed <- c
	return c, nil
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dialTimes)
}

func (t *fakeTransport) times() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.dialTimes...)
}

type sentFrame struct {
	destination string
	body        string
}

type fakeConn struct {
	mu           sync.Mutex
	streams      map[string]*fakeStream
	subscribes   []string
	unsubscribes []string
	sent         []sentFrame
	closed       bool
	closeDelay   time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func (c *fakeConn) Subscribe(topic string) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &fakeStream{topic: topic, conn: c, out: make(chan Message, 64)}
	c.streams[topic] = s
	c.subscribes = append(c.subscribes, topic)
	return s, nil
}

func (c *fakeConn) Send(ctx context.Context, destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{destination: destination, body: string(body)})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Close() error {
	time.Sleep(c.closeDelay)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop()
	return nil
}

// drop simulates a lost connection.
func (c *fakeConn) drop() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		for topic, s := range c.streams {
			s.closeOut()
			delete(c.streams, topic)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// push delivers body on topic. It reports false when no upstream
// subscription exists for topic.
func (c *fakeConn) push(topic, body string) bool {
	c.mu.Lock()
	s, ok := c.streams[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return s.send(Message{Topic: topic, Body: []byte(body)})
}

func (c *fakeConn) snapshot() (subs, unsubs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribes...), append([]string(nil), c.unsubscribes...)
}

type fakeStream struct {
	topic string
	conn  *fakeConn

	mu     sync.Mutex
	out    chan Message
	closed bool
}

func (s *fakeStream) Messages() <-chan Message {
	return s.out
}

func (s *fakeStream) Unsubscribe() error {
	s.conn.mu.Lock()
	if s.conn.streams[s.topic] == s {
		delete(s.conn.streams, s.topic)
	}
	s.conn.unsubscribes = append(s.conn.unsubscribes, s.topic)
	s.conn.mu.Unlock()
	s.closeOut()
	return nil
}

func (s *fakeStream) send(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.out <- m
	return true
}

func (s *fakeStream) closeOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitConnected(t *testing.T, c *Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitState(ctx, StateConnected); err != nil {
		t.Fatal(err)
	}
}

func nextConn(t *testing.T, ft *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case c := <-ft.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectNone(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message on %s: %s", m.Topic, m.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func collector() (Handler, <-chan Message) {
	ch := make(chan Message, 64)
	return func(m Message) { ch <- m }, ch
}
