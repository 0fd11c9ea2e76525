// Package realtimetest provides an in-memory realtime.Transport for tests
// of packages built on a realtime.Channel.
package realtimetest

import (
	"context"
	"errors"
	"sync"

	"github.com/gwdesk/client/realtime"
)

// Transport hands out in-memory connections. The zero value is not usable;
// call NewTransport.
type Transport struct {
	mu       sync.Mutex
	failNext int
	failAll  bool
	conns    []*Conn
}

func NewTransport() *Transport {
	return &Transport{}
}

// FailNext makes the next n dials fail.
func (t *Transport) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

// FailAll makes every dial fail.
func (t *Transport) FailAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAll = true
}

func (t *Transport) Dial(ctx context.Context) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failAll || t.failNext > 0 {
		if t.failNext > 0 {
			t.failNext--
		}
		return nil, errors.New("connection refused")
	}
	c := &Conn{
		streams: make(map[string]*stream),
		done:    make(chan struct{}),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// Last returns the most recent connection, or nil.
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type Sent struct {
	Destination string
	Body        []byte
}

type Conn struct {
	mu      sync.Mutex
	streams map[string]*stream
	sent    []Sent

	done     chan struct{}
	doneOnce sync.Once
}

func (c *Conn) Subscribe(topic string) (realtime.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &stream{topic: topic, conn: c, out: make(chan realtime.Message, 64)}
	c.streams[topic] = s
	return s, nil
}

func (c *Conn) Send(ctx context.Context, destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{Destination: destination, Body: append([]byte(nil), body...)})
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	c.Drop()
	return nil
}

// Drop simulates a lost connection.
func (c *Conn) Drop() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		for topic, s := range c.streams {
			s.close()
			delete(c.streams, topic)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Push delivers body on topic and reports whether the topic is subscribed.
func (c *Conn) Push(topic, body string) bool {
	c.mu.Lock()
	s, ok := c.streams[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return s.send(realtime.Message{Topic: topic, Body: []byte(body)})
}

// Subscribed reports whether topic has a live upstream subscription.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[topic]
	return ok
}

func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

type stream struct {
	topic string
	conn  *Conn

	mu     sync.Mutex // held across sends so close never races one
	out    chan realtime.Message
	closed bool
}

func (s *stream) Messages() <-chan realtime.Message {
	return s.out
}

func (s *stream) Unsubscribe() error {
	s.conn.mu.Lock()
	if s.conn.streams[s.topic] == s {
		delete(s.conn.streams, s.topic)
	}
	s.conn.mu.Unlock()
	s.close()
	return nil
}

// send reports false when the stream was closed first.
func (s *stream) send(m realtime.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.out <- m
	return true
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
