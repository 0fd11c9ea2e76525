// Package chat holds the state of one chat view: the room list and the
// selected room's messages, fed by history snapshots and room pushes.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/logger"
	"github.com/gwdesk/client/realtime"
)

var (
	ErrNoRoomSelected = errors.New("no chat room selected")
	ErrClosed         = errors.New("chat view closed")
)

type (
	Room    = api.ChatRoom
	Message = api.ChatMessage
)

type Backend interface {
	ChatRooms(ctx context.Context) ([]api.ChatRoom, error)
	ChatMessages(ctx context.Context, roomID string) ([]api.ChatMessage, error)
	SelectChatRoom(ctx context.Context, roomID string) error
	UploadFile(ctx context.Context, name string, r io.Reader) (api.FileRef, error)
}

type Channel interface {
	Subscribe(topic string, handler realtime.Handler) (*realtime.Subscription, error)
	Publish(ctx context.Context, destination string, payload any) error
}

type Options struct {
	RoomTopicPrefix string
	// SendDestination is where outgoing messages are published.
	SendDestination string
	// SenderID is stamped on outgoing messages.
	SenderID string
}

// outgoing is the publish payload. The server assigns id and timestamp.
type outgoing struct {
	RoomID   string       `json:"roomId"`
	SenderID string       `json:"senderId,omitempty"`
	Text     string       `json:"text,omitempty"`
	File     *api.FileRef `json:"file,omitempty"`
}

// View is safe for concurrent use. Select calls are serialized.
type View struct {
	backend Backend
	channel Channel
	opts    Options
	log     *slog.Logger

	selectMu sync.Mutex

	mu       sync.Mutex
	rooms    []Room
	roomID   string
	messages []Message
	seen     map[string]struct{}
	sub      *realtime.Subscription
	gen      uint64
	closed   bool

	listenersMu sync.RWMutex
	listeners   []func(Message)
}

func NewView(backend Backend, channel Channel, opts Options) *View {
	return &View{
		backend: backend,
		channel: channel,
		opts:    opts,
		log:     slog.With("module", "chat"),
		seen:    make(map[string]struct{}),
	}
}

// Rooms fetches the room list. Unread counts are the server's.
func (v *View) Rooms(ctx context.Context) ([]Room, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	rooms, err := v.backend.ChatRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat rooms: %w", err)
	}

	v.mu.Lock()
	if !v.closed {
		v.rooms = rooms
	}
	v.mu.Unlock()

	out := make([]Room, len(rooms))
	copy(out, rooms)
	return out, nil
}

// CachedRooms returns the room list of the last Rooms call.
func (v *View) CachedRooms() []Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Room, len(v.rooms))
	copy(out, v.rooms)
	return out
}

// Select switches the view to roomID. The previous room's topic is released
// before the new one is subscribed, so no message of the old room reaches
// the new view.
func (v *View) Select(ctx context.Context, roomID string) error {
	if roomID == "" {
		return &api.ValidationError{Field: "roomId", Msg: "is required"}
	}

	v.selectMu.Lock()
	defer v.selectMu.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	prev := v.sub
	v.sub = nil
	v.gen++
	gen := v.gen
	v.roomID = roomID
	v.messages = nil
	v.seen = make(map[string]struct{})
	v.mu.Unlock()

	if prev != nil {
		if err := prev.Unsubscribe(); err != nil {
			v.log.Warn("unsubscribe previous room failed", "topic", prev.Topic, "error", err)
		}
	}

	topic := realtime.RoomTopic(v.opts.RoomTopicPrefix, roomID)
	sub, err := v.channel.Subscribe(topic, func(m realtime.Message) {
		v.handleMessage(gen, m)
	})
	if err != nil {
		v.mu.Lock()
		if v.gen == gen {
			// Nothing is listening; sends must not target this room.
			v.roomID = ""
		}
		v.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			v.log.Warn("unsubscribe superseded room failed", "topic", topic, "error", err)
		}
		return nil
	}
	v.sub = sub
	v.mu.Unlock()

	if err := v.backend.SelectChatRoom(ctx, roomID); err != nil {
		return fmt.Errorf("select room %s: %w", roomID, err)
	}

	history, err := v.backend.ChatMessages(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room %s history: %w", roomID, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		v.log.Debug("discarding stale history", "roomId", roomID)
		return nil
	}

	// Pushes that raced the snapshot are kept after it.
	pushed := v.messages
	v.messages = make([]Message, 0, len(history)+len(pushed))
	v.seen = make(map[string]struct{}, len(history)+len(pushed))
	for _, m := range history {
		v.appendLocked(m)
	}
	for _, m := range pushed {
		v.appendLocked(m)
	}

	v.log.Info("room selected", "roomId", roomID, "messages", len(v.messages))
	return nil
}

// appendLocked appends m unless its id is already present.
func (v *View) appendLocked(m Message) bool {
	if m.ID != "" {
		if _, dup := v.seen[m.ID]; dup {
			return false
		}
		v.seen[m.ID] = struct{}{}
	}
	v.messages = append(v.messages, m)
	return true
}

func (v *View) handleMessage(gen uint64, raw realtime.Message) {
	var m Message
	if err := json.Unmarshal(raw.Body, &m); err != nil {
		v.log.Warn("dropping malformed chat message", "topic", raw.Topic, "error", err)
		return
	}

	v.mu.Lock()
	if v.closed || v.gen != gen {
		v.mu.Unlock()
		return
	}
	if m.RoomID == "" {
		m.RoomID = v.roomID
	}
	if m.RoomID != v.roomID {
		v.mu.Unlock()
		v.log.Warn("dropping message for another room", "roomId", m.RoomID, "selected", v.roomID)
		return
	}
	if !v.appendLocked(m) {
		v.mu.Unlock()
		v.log.Debug("dropping duplicate chat message", "id", m.ID)
		return
	}
	v.mu.Unlock()

	v.log.Debug("chat message received", "id", m.ID, "text", logger.Truncate(m.Text, 50))

	v.listenersMu.RLock()
	listeners := make([]func(Message), len(v.listeners))
	copy(listeners, v.listeners)
	v.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(m)
	}
}

// OnMessage registers fn for every pushed message appended to the
// selected room.
func (v *View) OnMessage(fn func(Message)) {
	v.listenersMu.Lock()
	defer v.listenersMu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *View) SelectedRoom() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.roomID
}

// Messages returns the selected room's messages in server order.
func (v *View) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *View) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &api.ValidationError{Field: "text", Msg: "is required"}
	}
	roomID, err := v.selected()
	if err != nil {
		return err
	}

	msg := outgoing{RoomID: roomID, SenderID: v.opts.SenderID, Text: text}
	if err := v.channel.Publish(ctx, v.opts.SendDestination, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendFile uploads r and then publishes a message referencing the stored
// file. A failed upload aborts before publishing; a failed publish leaves
// the uploaded file in place.
func (v *View) SendFile(ctx context.Context, name string, r io.Reader) (api.FileRef, error) {
	roomID, err := v.selected()
	if err != nil {
		return api.FileRef{}, err
	}

	ref, err := v.backend.UploadFile(ctx, name, r)
	if err != nil {
		return api.FileRef{}, fmt.Errorf("upload %s: %w", name, err)
	}

	msg := outgoing{RoomID: roomID, SenderID: v.opts.SenderID, File: &ref}
	if err := v.channel.Publish(ctx, v.opts.SendDestination, msg); err != nil {
		v.log.Warn("file uploaded but message not sent", "fileId", ref.ID, "roomId", roomID, "error", err)
		return ref, fmt.Errorf("send file message: %w", err)
	}
	return ref, nil
}

// Close releases the room subscription. Late responses are discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.gen++
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			v.log.Warn("unsubscribe failed", "topic", sub.Topic, "error", err)
		}
	}
}

func (v *View) selected() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return "", ErrClosed
	}
	if v.roomID == "" {
		return "", ErrNoRoomSelected
	}
	return v.roomID, nil
}

func (v *View) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	return nil
}
