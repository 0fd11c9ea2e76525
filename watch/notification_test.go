package watch

import (
	"context"
	"testing"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/notify"
	"github.com/gwdesk/client/realtime"
)

type emptyBackend struct{}

func (emptyBackend) Notifications(ctx context.Context) ([]api.Notification, error) {
	return nil, nil
}
func (emptyBackend) MarkNotificationRead(ctx context.Context, id string) error { return nil }
func (emptyBackend) MarkAllNotificationsRead(ctx context.Context) error     { return nil }

func TestNotificationWatcher(t *testing.T) {
	channel := realtime.NewChannel(nil, realtime.Options{})
	inbox := notify.NewInbox(emptyBackend{}, channel, "/topic/notification/")
	if err := inbox.Attach("u1"); err != nil {
		t.Fatal(err)
	}

	w := NewNotificationWatcher(inbox)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	rec := newRecordingNotifier()
	id, snap := w.Subscribe(rec)
	if len(snap.Items) != 0 {
		t.Errorf("initial snapshot = %+v", snap)
	}

	inbox.Push(api.Notification{ID: "n1", Title: "hello"})

	n := rec.wait(t)
	if n.Method != "notification.changed" {
		t.Errorf("method = %s", n.Method)
	}
	params, ok := n.Params.(notificationChangedParams)
	if !ok {
		t.Fatalf("params type %T", n.Params)
	}
	if params.ID != id || params.Unread != 1 || len(params.Items) != 1 {
		t.Errorf("params = %+v", params)
	}

	w.Unsubscribe(id)
	if w.HasSubscriptions() {
		t.Error("subscription not removed")
	}
}
