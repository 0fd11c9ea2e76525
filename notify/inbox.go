// Package notify keeps the notification bell: the pushed notification list
// and the unread counter, reconciled with the server by full refetches.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/realtime"
)

var ErrClosed = errors.New("inbox closed")

type Notification = api.Notification

// Backend is the subset of api.Client the inbox needs.
type Backend interface {
	Notifications(ctx context.Context) ([]api.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) (*realtime.Subscription, error)
}

type Snapshot struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
}

// Inbox is safe for concurrent use. Listeners run synchronously after each
// mutation and must not call back into the inbox while blocking.
type Inbox struct {
	backend     Backend
	subscriber  Subscriber
	topicPrefix string
	log         *slog.Logger

	mu     sync.Mutex
	items  []Notification // newest first
	unread int
	sub    *realtime.Subscription
	userID string
	gen    uint64
	closed bool

	listenersMu sync.RWMutex
	listeners   []func(Snapshot)
}

func NewInbox(backend Backend, subscriber Subscriber, topicPrefix string) *Inbox {
	return &Inbox{
		backend:     backend,
		subscriber:  subscriber,
		topicPrefix: topicPrefix,
		log:         slog.With("module", "notify"),
	}
}

// Attach subscribes to userID's notification topic, replacing any
// previous attachment.
func (in *Inbox) Attach(userID string) error {
	if userID == "" {
		return &api.ValidationError{Field: "userId", Msg: "is required"}
	}
	in.Detach()

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrClosed
	}
	in.gen++
	gen := in.gen
	in.mu.Unlock()

	topic := realtime.UserTopic(in.topicPrefix, userID)
	sub, err := in.subscriber.Subscribe(topic, func(m realtime.Message) {
		in.handleMessage(gen, m)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	in.mu.Lock()
	closed, superseded := in.closed, in.gen != gen
	if closed || superseded {
		in.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			in.log.Warn("unsubscribe superseded topic failed", "topic", topic, "error", err)
		}
		if closed {
			return ErrClosed
		}
		// A later Attach or Detach owns the inbox now.
		in.log.Debug("attach superseded", "userId", userID)
		return nil
	}
	in.sub = sub
	in.userID = userID
	in.mu.Unlock()

	in.log.Info("attached", "userId", userID, "topic", topic)
	return nil
}

// Detach stops push delivery and drops local state.
func (in *Inbox) Detach() {
	in.mu.Lock()
	sub := in.sub
	in.sub = nil
	in.userID = ""
	in.gen++
	in.items = nil
	in.unread = 0
	in.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		in.log.Warn("unsubscribe failed", "topic", sub.Topic, "error", err)
	}
	in.notify()
}

// Close detaches and rejects further use. Responses still in flight are
// discarded.
func (in *Inbox) Close() {
	in.Detach()
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
}

func (in *Inbox) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

func (in *Inbox) Unread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread
}

func (in *Inbox) snapshotLocked() Snapshot {
	items := make([]Notification, len(in.items))
	copy(items, in.items)
	return Snapshot{Items: items, Unread: in.unread}
}

func (in *Inbox) AddListener(fn func(Snapshot)) {
	in.listenersMu.Lock()
	defer in.listenersMu.Unlock()
	in.listeners = append(in.listeners, fn)
}

func (in *Inbox) notify() {
	snap := in.Snapshot()

	in.listenersMu.RLock()
	listeners := make([]func(Snapshot), len(in.listeners))
	copy(listeners, in.listeners)
	in.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (in *Inbox) handleMessage(gen uint64, m realtime.Message) {
	var n Notification
	if err := json.Unmarshal(m.Body, &n); err != nil {
		in.log.Warn("dropping malformed notification", "topic", m.Topic, "error", err)
		return
	}
	if n.ID == "" {
		in.log.Warn("dropping notification without id", "topic", m.Topic)
		return
	}
	if in.push(gen, n) {
		in.notify()
	}
}

// Push merges one pushed notification.
func (in *Inbox) Push(n Notification) {
	in.mu.Lock()
	gen := in.gen
	in.mu.Unlock()

	if in.push(gen, n) {
		in.notify()
	}
}

func (in *Inbox) push(gen uint64, n Notification) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed || in.gen != gen {
		return false
	}

	for i, existing := range in.items {
		if existing.ID != n.ID {
			continue
		}
		// Re-delivery replaces in place; the counter follows the read flag only.
		switch {
		case existing.Read && !n.Read:
			in.unread++
		case !existing.Read && n.Read && in.unread > 0:
			in.unread--
		}
		in.items[i] = n
		return true
	}

	in.items = append([]Notification{n}, in.items...)
	if !n.Read {
		in.unread++
	}
	in.log.Debug("notification received", "id", n.ID, "unread", in.unread)
	return true
}

// Refresh replaces the list with the server's and recomputes the counter.
// This is the only path that reconciles local and server state.
func (in *Inbox) Refresh(ctx context.Context) error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrClosed
	}
	gen := in.gen
	in.mu.Unlock()

	list, err := in.backend.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("refresh notifications: %w", err)
	}

	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}

	in.mu.Lock()
	if in.closed || in.gen != gen {
		in.mu.Unlock()
		in.log.Debug("discarding stale refresh")
		return nil
	}
	in.items = list
	in.unread = unread
	in.mu.Unlock()

	in.notify()
	return nil
}

// MarkRead flips the local flag before telling the server. A server failure
// is returned but not rolled back; the next Refresh reconciles.
func (in *Inbox) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return &api.ValidationError{Field: "id", Msg: "is required"}
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrClosed
	}
	changed := false
	for i := range in.items {
		if in.items[i].ID == id && !in.items[i].Read {
			in.items[i].Read = true
			changed = true
			break
		}
	}
	if changed && in.unread > 0 {
		in.unread--
	}
	in.mu.Unlock()

	if changed {
		in.notify()
	}

	if err := in.backend.MarkNotificationRead(ctx, id); err != nil {
		in.log.Warn("mark read failed on server", "id", id, "error", err)
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead empties the list and the counter, then informs the server
// best effort. A server failure is logged only.
func (in *Inbox) MarkAllRead(ctx context.Context) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.items = nil
	in.unread = 0
	in.mu.Unlock()

	in.notify()

	if err := in.backend.MarkAllNotificationsRead(ctx); err != nil {
		in.log.Warn("mark all read failed on server", "error", err)
	}
}
