package watch

import (
	"log/slog"

	"github.com/gwdesk/client/notify"
)

// NotificationWatcher pushes "notification.changed" with the full inbox
// snapshot whenever the inbox changes.
type NotificationWatcher struct {
	*BaseWatcher
	inbox *notify.Inbox
}

var _ Watcher = (*NotificationWatcher)(nil)

func NewNotificationWatcher(inbox *notify.Inbox) *NotificationWatcher {
	w := &NotificationWatcher{
		BaseWatcher: NewBaseWatcher("nt"),
		inbox:       inbox,
	}
	// Inbox listeners run under the caller's flow; MarkDirty never blocks.
	inbox.AddListener(func(notify.Snapshot) { w.MarkDirty() })
	return w
}

func (w *NotificationWatcher) Start() error {
	go w.Loop(w.flush)
	slog.Info("NotificationWatcher started")
	return nil
}

func (w *NotificationWatcher) Stop() {
	w.Cancel()
	slog.Info("NotificationWatcher stopped")
}

type notificationChangedParams struct {
	ID string `json:"id"`
	notify.Snapshot
}

func (w *NotificationWatcher) flush() {
	snap := w.inbox.Snapshot()
	n := w.NotifyAll("notification.changed", func(sub *Subscription) any {
		return notificationChangedParams{ID: sub.ID, Snapshot: snap}
	})
	slog.Debug("notified inbox change", "subscribers", n, "unread", snap.Unread)
}

// Subscribe registers notifier and returns the subscription id with the
// current snapshot.
func (w *NotificationWatcher) Subscribe(notifier Notifier) (string, notify.Snapshot) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})
	return id, w.inbox.Snapshot()
}
