package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gwdesk/client/logger"
)

// handlerQueueSize bounds the messages waiting for one handler. Further
// messages for that handler are dropped until it catches up.
const handlerQueueSize = 256

// Subscription is one handler registered on a topic. Each subscription runs
// its handler on its own goroutine, so a slow handler only delays itself.
type Subscription struct {
	ID    string
	Topic string

	handler Handler
	channel *Channel
	active  atomic.Bool

	queue    chan Message
	done     chan struct{}
	stopOnce sync.Once
}

// Unsubscribe removes this handler. The upstream subscription is released
// when it was the topic's last handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	return s.channel.remove(s)
}

// topicEntry reference-counts the handlers of one topic. stream is nil
// while disconnected.
type topicEntry struct {
	topic  string
	subs   []*Subscription
	stream Stream
}

func generateID() string {
	return "sub_" + uuid.Must(uuid.NewV7()).String()
}

// Subscribe registers handler on topic. The upstream subscription is made
// now when connected, otherwise on the next successful connect.
func (c *Channel) Subscribe(topic string, handler Handler) (*Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	sub := &Subscription{
		ID:      generateID(),
		Topic:   topic,
		handler: handler,
		channel: c,
		queue:   make(chan Message, handlerQueueSize),
		done:    make(chan struct{}),
	}
	sub.active.Store(true)
	go c.dispatch(sub)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.topics[topic]
	if !ok {
		entry = &topicEntry{topic: topic}
		c.topics[topic] = entry
	}
	entry.subs = append(entry.subs, sub)

	if entry.stream == nil && c.conn != nil {
		c.openStreamLocked(entry)
	}

	c.log.Debug("subscribed", "topic", topic, "subscriptionId", sub.ID, "handlers", len(entry.subs))
	return sub, nil
}

// Unsubscribe removes every handler registered on topic.
func (c *Channel) Unsubscribe(topic string) error {
	c.mu.Lock()
	entry, ok := c.topics[topic]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	for _, sub := range entry.subs {
		sub.active.Store(false)
		sub.stop()
	}
	delete(c.topics, topic)
	stream := entry.stream
	entry.stream = nil
	c.mu.Unlock()

	c.log.Debug("unsubscribed topic", "topic", topic)
	return closeStream(stream)
}

func (c *Channel) remove(sub *Subscription) error {
	if !sub.active.Swap(false) {
		return nil
	}
	sub.stop()

	c.mu.Lock()
	entry, ok := c.topics[sub.Topic]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	for i, s := range entry.subs {
		if s == sub {
			entry.subs = append(entry.subs[:i], entry.subs[i+1:]...)
			break
		}
	}
	if len(entry.subs) > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.topics, sub.Topic)
	stream := entry.stream
	entry.stream = nil
	c.mu.Unlock()

	c.log.Debug("released topic", "topic", sub.Topic)
	// Outside the lock: the broker acknowledgment may take a round trip.
	return closeStream(stream)
}

func closeStream(stream Stream) error {
	if stream == nil {
		return nil
	}
	return stream.Unsubscribe()
}

// Topics returns the topics that currently have handlers.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

// openStreamLocked subscribes upstream for entry. Caller must hold c.mu.
func (c *Channel) openStreamLocked(entry *topicEntry) {
	stream, err := c.conn.Subscribe(entry.topic)
	if err != nil {
		// Retried on the next reconnect.
		c.log.Warn("upstream subscribe failed", "topic", entry.topic, "error", err)
		return
	}
	entry.stream = stream
	go c.pump(entry.topic, stream)
}

func (c *Channel) pump(topic string, stream Stream) {
	for msg := range stream.Messages() {
		for _, sub := range c.handlersFor(topic, stream) {
			select {
			case sub.queue <- msg:
			default:
				c.log.Warn("handler queue full, dropping message", "topic", topic, "subscriptionId", sub.ID)
			}
		}
	}
}

// dispatch runs sub's handler for each queued message until sub is removed.
func (c *Channel) dispatch(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			c.deliver(sub, msg)
		}
	}
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// handlersFor returns the handlers of topic while stream is still the
// topic's current stream. Messages of released or replaced streams are
// dropped.
func (c *Channel) handlersFor(topic string, stream Stream) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.topics[topic]
	if !ok || entry.stream != stream {
		return nil
	}
	subs := make([]*Subscription, len(entry.subs))
	copy(subs, entry.subs)
	return subs
}

func (c *Channel) deliver(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "realtime handler panic", "topic", sub.Topic, "subscriptionId", sub.ID)
		}
	}()

	if !sub.active.Load() {
		return
	}
	sub.handler(msg)
}
