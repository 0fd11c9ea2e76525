package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Watcher fans one piece of shared desk state out to gateway subscribers.
type Watcher interface {
	Start() error
	Stop()
	Unsubscribe(id string)
}

type Subscription struct {
	ID       string
	Notifier Notifier
}

// BaseWatcher provides common subscription management for all watcher types.
type BaseWatcher struct {
	idPrefix string

	subMu         sync.RWMutex
	subscriptions map[string]*Subscription

	// dirty coalesces change signals; the event loop always reads the
	// latest state, so a burst of changes yields one notification.
	dirty chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBaseWatcher(idPrefix string) *BaseWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &BaseWatcher{
		idPrefix:      idPrefix,
		subscriptions: make(map[string]*Subscription),
		dirty:         make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (b *BaseWatcher) GenerateID() string {
	return b.idPrefix + "_" + uuid.Must(uuid.NewV7()).String()
}

func (b *BaseWatcher) AddSubscription(sub *Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.subscriptions[sub.ID] = sub
}

func (b *BaseWatcher) RemoveSubscription(id string) *Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	sub, ok := b.subscriptions[id]
	if !ok {
		return nil
	}

	delete(b.subscriptions, id)
	return sub
}

func (b *BaseWatcher) GetAllSubscriptions() []*Subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

func (b *BaseWatcher) NotifyAll(method string, makeParams func(sub *Subscription) any) int {
	subs := b.GetAllSubscriptions()
	for _, sub := range subs {
		n := Notification{Method: method, Params: makeParams(sub)}
		if err := sub.Notifier.Notify(b.ctx, n); err != nil {
			slog.Debug("failed to notify subscriber",
				"id", sub.ID,
				"method", method,
				"error", err)
		}
	}
	return len(subs)
}

// MarkDirty schedules a notification. Never blocks.
func (b *BaseWatcher) MarkDirty() {
	if b.ctx.Err() != nil {
		return
	}
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

// Loop calls flush after each MarkDirty until the watcher is stopped.
func (b *BaseWatcher) Loop(flush func()) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.dirty:
			if b.HasSubscriptions() {
				flush()
			}
		}
	}
}

func (b *BaseWatcher) Context() context.Context { return b.ctx }
func (b *BaseWatcher) Cancel()                  { b.cancel() }

func (b *BaseWatcher) HasSubscriptions() bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscriptions) > 0
}

func (b *BaseWatcher) Unsubscribe(id string) {
	b.RemoveSubscription(id)
}
