package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/realtime"
)

type fakeBackend struct {
	mu          sync.Mutex
	list        []api.Notification
	listErr     error
	markErr     error
	markAllErr  error
	marked      []string
	markAllHits int
	block       chan struct{}
}

func (b *fakeBackend) Notifications(ctx context.Context) ([]api.Notification, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Notification(nil), b.list...), b.listErr
}

func (b *fakeBackend) MarkNotificationRead(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, id)
	return b.markErr
}

func (b *fakeBackend) MarkAllNotificationsRead(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markAllHits++
	return b.markAllErr
}

// recordingSubscriber registers on a real (offline) channel and keeps the
// handlers so tests can deliver messages directly.
type recordingSubscriber struct {
	ch       *realtime.Channel
	mu       sync.Mutex
	handlers map[string]realtime.Handler
	// before runs ahead of each Subscribe, e.g. to race an Attach.
	before func()
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{
		ch:       realtime.NewChannel(nil, realtime.Options{}),
		handlers: make(map[string]realtime.Handler),
	}
}

func (s *recordingSubscriber) Subscribe(topic string, h realtime.Handler) (*realtime.Subscription, error) {
	if s.before != nil {
		s.before()
	}
	sub, err := s.ch.Subscribe(topic, h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handlers[topic] = h
	s.mu.Unlock()
	return sub, nil
}

func (s *recordingSubscriber) deliver(topic, body string) {
	s.mu.Lock()
	h := s.handlers[topic]
	s.mu.Unlock()
	h(realtime.Message{Topic: topic, Body: []byte(body)})
}

const topic = "/topic/notification/u1"

func newAttachedInbox(t *testing.T, backend *fakeBackend) (*Inbox, *recordingSubscriber) {
	t.Helper()
	sub := newRecordingSubscriber()
	in := NewInbox(backend, sub, "/topic/notification/")
	if err := in.Attach("u1"); err != nil {
		t.Fatal(err)
	}
	return in, sub
}

func TestInbox_PushPrependsAndCounts(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})

	sub.deliver(topic, `{"id":"n1","title":"first"}`)
	sub.deliver(topic, `{"id":"n2","title":"second"}`)

	snap := in.Snapshot()
	if snap.Unread != 2 {
		t.Errorf("unread = %d, want 2", snap.Unread)
	}
	if len(snap.Items) != 2 || snap.Items[0].ID != "n2" || snap.Items[1].ID != "n1" {
		t.Errorf("items = %+v, want newest first", snap.Items)
	}
}

func TestInbox_IgnoresMalformedPush(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})

	sub.deliver(topic, `not json`)
	sub.deliver(topic, `{"title":"no id"}`)

	if snap := in.Snapshot(); len(snap.Items) != 0 || snap.Unread != 0 {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func TestInbox_RedeliveryReplacesInPlace(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})

	sub.deliver(topic, `{"id":"n1","title":"old"}`)
	sub.deliver(topic, `{"id":"n2"}`)
	sub.deliver(topic, `{"id":"n1","title":"new"}`)

	snap := in.Snapshot()
	if len(snap.Items) != 2 {
		t.Fatalf("items = %+v, want 2", snap.Items)
	}
	if snap.Items[1].ID != "n1" || snap.Items[1].Title != "new" {
		t.Errorf("n1 = %+v, want replaced in place", snap.Items[1])
	}
	if snap.Unread != 2 {
		t.Errorf("unread = %d, want 2", snap.Unread)
	}
}

func TestInbox_MarkRead(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		serverErr  error
		wantUnread int
		wantErr    bool
	}{
		{name: "known unread", id: "n1", wantUnread: 1},
		{name: "unknown id keeps counter", id: "zzz", wantUnread: 2},
		{name: "server failure keeps local flip", id: "n1", serverErr: &api.AppError{Status: 500, Msg: "boom"}, wantUnread: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{markErr: tt.serverErr}
			in, sub := newAttachedInbox(t, backend)
			sub.deliver(topic, `{"id":"n1"}`)
			sub.deliver(topic, `{"id":"n2"}`)

			err := in.MarkRead(context.Background(), tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MarkRead() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := in.Unread(); got != tt.wantUnread {
				t.Errorf("unread = %d, want %d", got, tt.wantUnread)
			}
			if len(backend.marked) != 1 || backend.marked[0] != tt.id {
				t.Errorf("server calls = %v", backend.marked)
			}
		})
	}
}

func TestInbox_MarkReadTwiceDoesNotGoNegative(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})
	sub.deliver(topic, `{"id":"n1"}`)

	ctx := context.Background()
	in.MarkRead(ctx, "n1")
	in.MarkRead(ctx, "n1")

	if got := in.Unread(); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
}

func TestInbox_MarkReadRequiresID(t *testing.T) {
	backend := &fakeBackend{}
	in, _ := newAttachedInbox(t, backend)

	var verr *api.ValidationError
	if err := in.MarkRead(context.Background(), ""); !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(backend.marked) != 0 {
		t.Error("server called despite validation failure")
	}
}

func TestInbox_MarkAllRead(t *testing.T) {
	for _, serverErr := range []error{nil, errors.New("network down")} {
		backend := &fakeBackend{markAllErr: serverErr}
		in, sub := newAttachedInbox(t, backend)
		sub.deliver(topic, `{"id":"n1"}`)
		sub.deliver(topic, `{"id":"n2"}`)
		sub.deliver(topic, `{"id":"n3","read":true}`)

		in.MarkAllRead(context.Background())

		snap := in.Snapshot()
		if snap.Unread != 0 || len(snap.Items) != 0 {
			t.Errorf("serverErr=%v: snapshot = %+v, want empty", serverErr, snap)
		}
		if backend.markAllHits != 1 {
			t.Errorf("serverErr=%v: server calls = %d, want 1", serverErr, backend.markAllHits)
		}
	}
}

func TestInbox_RefreshReconciles(t *testing.T) {
	backend := &fakeBackend{list: []api.Notification{
		{ID: "a", Read: false},
		{ID: "b", Read: true},
		{ID: "c", Read: false},
	}}
	in, sub := newAttachedInbox(t, backend)
	sub.deliver(topic, `{"id":"local"}`)

	if err := in.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := in.Snapshot()
	if len(snap.Items) != 3 || snap.Items[0].ID != "a" {
		t.Errorf("items = %+v", snap.Items)
	}
	if snap.Unread != 2 {
		t.Errorf("unread = %d, want 2", snap.Unread)
	}
}

func TestInbox_RefreshError(t *testing.T) {
	backend := &fakeBackend{listErr: &api.NetworkError{Method: "GET", Path: "/api/notifications", Err: errors.New("refused")}}
	in, _ := newAttachedInbox(t, backend)

	var nerr *api.NetworkError
	if err := in.Refresh(context.Background()); !errors.As(err, &nerr) {
		t.Errorf("error = %v, want NetworkError", err)
	}
}

func TestInbox_CloseDiscardsLateRefresh(t *testing.T) {
	backend := &fakeBackend{
		list:  []api.Notification{{ID: "a"}},
		block: make(chan struct{}),
	}
	in, _ := newAttachedInbox(t, backend)

	done := make(chan error, 1)
	go func() { done <- in.Refresh(context.Background()) }()

	in.Close()
	close(backend.block)

	if err := <-done; err != nil {
		t.Errorf("Refresh() = %v, want nil", err)
	}
	if snap := in.Snapshot(); len(snap.Items) != 0 {
		t.Errorf("late refresh applied after Close: %+v", snap.Items)
	}
	if err := in.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh after Close = %v, want ErrClosed", err)
	}
}

func TestInbox_DetachStopsDelivery(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})
	handlerBeforeDetach := sub.handlers[topic]

	in.Detach()
	if topics := sub.ch.Topics(); len(topics) != 0 {
		t.Errorf("topics after detach = %v", topics)
	}

	// A message racing the detach must not land.
	handlerBeforeDetach(realtime.Message{Topic: topic, Body: []byte(`{"id":"late"}`)})
	if snap := in.Snapshot(); len(snap.Items) != 0 {
		t.Errorf("items = %+v, want empty", snap.Items)
	}
}

func TestInbox_AttachRequiresUser(t *testing.T) {
	in := NewInbox(&fakeBackend{}, newRecordingSubscriber(), "/topic/notification/")

	var verr *api.ValidationError
	if err := in.Attach(""); !errors.As(err, &verr) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestInbox_AttachSuperseded(t *testing.T) {
	tests := []struct {
		name    string
		race    func(*Inbox)
		wantErr error
	}{
		{"detached", (*Inbox).Detach, nil},
		{"closed", (*Inbox).Close, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := newRecordingSubscriber()
			in := NewInbox(&fakeBackend{}, sub, "/topic/notification/")
			sub.before = func() { tt.race(in) }

			if err := in.Attach("u1"); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Attach() = %v, want %v", err, tt.wantErr)
			}
			if topics := sub.ch.Topics(); len(topics) != 0 {
				t.Errorf("topics = %v, want none", topics)
			}
			sub.deliver(topic, `{"id":"n1","title":"late"}`)
			if snap := in.Snapshot(); len(snap.Items) != 0 {
				t.Errorf("items = %+v, want empty", snap.Items)
			}
		})
	}
}

func TestInbox_Listeners(t *testing.T) {
	in, sub := newAttachedInbox(t, &fakeBackend{})

	var snaps []Snapshot
	in.AddListener(func(s Snapshot) { snaps = append(snaps, s) })

	sub.deliver(topic, `{"id":"n1"}`)
	in.MarkAllRead(context.Background())

	if len(snaps) != 2 {
		t.Fatalf("listener calls = %d, want 2", len(snaps))
	}
	if snaps[0].Unread != 1 || snaps[1].Unread != 0 {
		t.Errorf("snapshots = %+v", snaps)
	}
}
