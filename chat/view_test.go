package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/realtime"
)

type fakeBackend struct {
	mu        sync.Mutex
	rooms     []api.ChatRoom
	history   map[string][]api.ChatMessage
	uploadErr error
	selected  []string
	uploads   []string
	block     chan struct{}
}

func (b *fakeBackend) ChatRooms(ctx context.Context) ([]api.ChatRoom, error) {
	return b.rooms, nil
}

func (b *fakeBackend) ChatMessages(ctx context.Context, roomID string) ([]api.ChatMessage, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.ChatMessage(nil), b.history[roomID]...), nil
}

func (b *fakeBackend) SelectChatRoom(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = append(b.selected, roomID)
	return nil
}

func (b *fakeBackend) UploadFile(ctx context.Context, name string, r io.Reader) (api.FileRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, name)
	if b.uploadErr != nil {
		return api.FileRef{}, b.uploadErr
	}
	data, _ := io.ReadAll(r)
	return api.FileRef{ID: "f1", Name: name, Size: int64(len(data))}, nil
}

type published struct {
	destination string
	payload     map[string]any
}

// fakeChannel registers on a real offline channel so subscription
// bookkeeping is exercised, and keeps handlers for direct delivery.
type fakeChannel struct {
	ch         *realtime.Channel
	mu         sync.Mutex
	handlers   map[string]realtime.Handler
	order      []string // "sub:<topic>" / "unsub:<topic>" in call order
	published    []published
	publishErr   error
	subscribeErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		ch:       realtime.NewChannel(nil, realtime.Options{}),
		handlers: make(map[string]realtime.Handler),
	}
}

func (c *fakeChannel) Subscribe(topic string, h realtime.Handler) (*realtime.Subscription, error) {
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	sub, err := c.ch.Subscribe(topic, h)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.handlers[topic] = h
	c.order = append(c.order, "sub:"+topic)
	c.mu.Unlock()
	return sub, nil
}

func (c *fakeChannel) Publish(ctx context.Context, destination string, payload any) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var m map[string]any
	json.Unmarshal(raw, &m)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{destination: destination, payload: m})
	return nil
}

func (c *fakeChannel) deliver(topic, body string) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	h(realtime.Message{Topic: topic, Body: []byte(body)})
}

func (c *fakeChannel) active() []string {
	return c.ch.Topics()
}

const prefix = "/topic/chat/room/"

func newTestView(backend *fakeBackend, channel *fakeChannel) *View {
	return NewView(backend, channel, Options{
		RoomTopicPrefix: prefix,
		SendDestination: "/app/chat/message",
		SenderID:        "u1",
	})
}

func TestView_SelectLoadsHistory(t *testing.T) {
	backend := &fakeBackend{history: map[string][]api.ChatMessage{
		"42": {{ID: "m0", RoomID: "42", Text: "earlier"}},
	}}
	channel := newFakeChannel()
	v := newTestView(backend, channel)

	if err := v.Select(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}

	if got := v.SelectedRoom(); got != "42" {
		t.Errorf("selected = %q", got)
	}
	if msgs := v.Messages(); len(msgs) != 1 || msgs[0].ID != "m0" {
		t.Errorf("messages = %+v", msgs)
	}
	if len(backend.selected) != 1 || backend.selected[0] != "42" {
		t.Errorf("select calls = %v", backend.selected)
	}
	if topics := channel.active(); len(topics) != 1 || topics[0] != prefix+"42" {
		t.Errorf("active topics = %v", topics)
	}
}

func TestView_DuplicatePushIsDropped(t *testing.T) {
	channel := newFakeChannel()
	v := newTestView(&fakeBackend{}, channel)
	if err := v.Select(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}

	var notified []string
	v.OnMessage(func(m Message) { notified = append(notified, m.ID) })

	channel.deliver(prefix+"42", `{"id":"m1","senderId":"u1","text":"hi"}`)
	channel.deliver(prefix+"42", `{"id":"m1","senderId":"u1","text":"hi"}`)

	msgs := v.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].RoomID != "42" {
		t.Fatalf("messages = %+v, want exactly one m1", msgs)
	}
	if len(notified) != 1 {
		t.Errorf("listener calls = %v, want one", notified)
	}
}

func TestView_PushAlreadyInHistoryIsDropped(t *testing.T) {
	backend := &fakeBackend{history: map[string][]api.ChatMessage{
		"42": {{ID: "m1", RoomID: "42"}},
	}}
	channel := newFakeChannel()
	v := newTestView(backend, channel)
	if err := v.Select(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}

	channel.deliver(prefix+"42", `{"id":"m1","roomId":"42"}`)
	channel.deliver(prefix+"42", `{"id":"m2","roomId":"42"}`)

	msgs := v.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestView_SwitchRoomUnsubscribesFirst(t *testing.T) {
	channel := newFakeChannel()
	v := newTestView(&fakeBackend{}, channel)
	ctx := context.Background()

	if err := v.Select(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	oldHandler := channel.handlers[prefix+"a"]

	if err := v.Select(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	if topics := channel.active(); len(topics) != 1 || topics[0] != prefix+"b" {
		t.Errorf("active topics = %v, want only room b", topics)
	}

	// A late message of room a must not land in room b's list.
	oldHandler(realtime.Message{Topic: prefix + "a", Body: []byte(`{"id":"x","roomId":"a"}`)})
	channel.deliver(prefix+"b", `{"id":"y"}`)

	msgs := v.Messages()
	if len(msgs) != 1 || msgs[0].ID != "y" {
		t.Errorf("messages = %+v, want only y", msgs)
	}
}

func TestView_DropsMessageForOtherRoom(t *testing.T) {
	channel := newFakeChannel()
	v := newTestView(&fakeBackend{}, channel)
	if err := v.Select(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}

	channel.deliver(prefix+"42", `{"id":"m1","roomId":"7"}`)
	channel.deliver(prefix+"42", `garbage`)

	if msgs := v.Messages(); len(msgs) != 0 {
		t.Errorf("messages = %+v, want none", msgs)
	}
}

func TestView_SendText(t *testing.T) {
	channel := newFakeChannel()
	v := newTestView(&fakeBackend{}, channel)
	ctx := context.Background()

	if err := v.SendText(ctx, "hi"); !errors.Is(err, ErrNoRoomSelected) {
		t.Fatalf("SendText before select = %v, want ErrNoRoomSelected", err)
	}
	if err := v.Select(ctx, "42"); err != nil {
		t.Fatal(err)
	}

	var verr *api.ValidationError
	if err := v.SendText(ctx, "   "); !errors.As(err, &verr) {
		t.Fatalf("SendText(blank) = %v, want ValidationError", err)
	}
	if err := v.SendText(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	if len(channel.published) != 1 {
		t.Fatalf("published = %+v", channel.published)
	}
	p := channel.published[0]
	if p.destination != "/app/chat/message" || p.payload["roomId"] != "42" || p.payload["text"] != "hello" || p.payload["senderId"] != "u1" {
		t.Errorf("published = %+v", p)
	}
}

func TestView_SubscribeFailureClearsSelection(t *testing.T) {
	channel := newFakeChannel()
	backend := &fakeBackend{}
	v := newTestView(backend, channel)
	ctx := context.Background()

	if err := v.Select(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	channel.subscribeErr = errors.New("broker unavailable")
	if err := v.Select(ctx, "43"); err == nil {
		t.Fatal("expected subscribe error")
	}

	if room := v.SelectedRoom(); room != "" {
		t.Errorf("SelectedRoom() = %q, want none", room)
	}
	if err := v.SendText(ctx, "hello"); !errors.Is(err, ErrNoRoomSelected) {
		t.Errorf("SendText after failed select = %v, want ErrNoRoomSelected", err)
	}
	if active := channel.active(); len(active) != 0 {
		t.Errorf("active topics = %v, want none", active)
	}
	if len(backend.selected) != 1 {
		t.Errorf("server told about rooms %v, want only the first", backend.selected)
	}

	channel.subscribeErr = nil
	if err := v.Select(ctx, "43"); err != nil {
		t.Fatal(err)
	}
	if err := v.SendText(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
}

func TestView_SendFile(t *testing.T) {
	tests := []struct {
		name          string
		uploadErr     error
		publishErr    error
		wantErr       bool
		wantPublished int
	}{
		{name: "both steps succeed", wantPublished: 1},
		{name: "upload failure skips publish", uploadErr: &api.AppError{Status: 413, Msg: "too large"}, wantErr: true},
		{name: "publish failure after upload", publishErr: realtime.ErrNotConnected, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{uploadErr: tt.uploadErr}
			channel := newFakeChannel()
			v := newTestView(backend, channel)
			if err := v.Select(context.Background(), "42"); err != nil {
				t.Fatal(err)
			}
			channel.publishErr = tt.publishErr

			ref, err := v.SendFile(context.Background(), "a.txt", strings.NewReader("abc"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("SendFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(backend.uploads) != 1 {
				t.Errorf("uploads = %v, want one", backend.uploads)
			}
			if len(channel.published) != tt.wantPublished {
				t.Errorf("published = %d, want %d", len(channel.published), tt.wantPublished)
			}
			if tt.wantPublished == 1 {
				file, _ := channel.published[0].payload["file"].(map[string]any)
				if file["id"] != "f1" || ref.Size != 3 {
					t.Errorf("file payload = %v, ref = %+v", file, ref)
				}
			}
		})
	}
}

func TestView_CloseDiscardsLateHistory(t *testing.T) {
	backend := &fakeBackend{
		history: map[string][]api.ChatMessage{"42": {{ID: "m0"}}},
		block:   make(chan struct{}),
	}
	channel := newFakeChannel()
	v := newTestView(backend, channel)

	done := make(chan error, 1)
	go func() { done <- v.Select(context.Background(), "42") }()

	// Wait for the subscription before closing.
	for len(channel.active()) == 0 {
		select {
		case err := <-done:
			t.Fatalf("Select returned early: %v", err)
		default:
		}
	}

	v.Close()
	close(backend.block)

	if err := <-done; err != nil {
		t.Errorf("Select() = %v, want nil", err)
	}
	if msgs := v.Messages(); len(msgs) != 0 {
		t.Errorf("messages = %+v, want none after close", msgs)
	}
	if topics := channel.active(); len(topics) != 0 {
		t.Errorf("active topics after close = %v", topics)
	}
	if err := v.Select(context.Background(), "1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Select after close = %v, want ErrClosed", err)
	}
}

func TestView_Rooms(t *testing.T) {
	backend := &fakeBackend{rooms: []api.ChatRoom{{ID: "1", Name: "general", Unread: 3}}}
	v := newTestView(backend, newFakeChannel())

	rooms, err := v.Rooms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].Unread != 3 {
		t.Errorf("rooms = %+v", rooms)
	}
	if cached := v.CachedRooms(); len(cached) != 1 || cached[0].Name != "general" {
		t.Errorf("cached = %+v", cached)
	}
}
