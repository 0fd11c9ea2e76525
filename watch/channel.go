package watch

import (
	"log/slog"

	"github.com/gwdesk/client/realtime"
)

// ChannelWatcher pushes "channel.state" when the realtime channel moves
// between disconnected, connecting and connected.
type ChannelWatcher struct {
	*BaseWatcher
	channel *realtime.Channel
}

var _ Watcher = (*ChannelWatcher)(nil)

func NewChannelWatcher(channel *realtime.Channel) *ChannelWatcher {
	w := &ChannelWatcher{
		BaseWatcher: NewBaseWatcher("cs"),
		channel:     channel,
	}
	channel.OnStateChange(func(realtime.State) { w.MarkDirty() })
	return w
}

func (w *ChannelWatcher) Start() error {
	go w.Loop(w.flush)
	slog.Info("ChannelWatcher started")
	return nil
}

func (w *ChannelWatcher) Stop() {
	w.Cancel()
	slog.Info("ChannelWatcher stopped")
}

type ChannelState struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type channelStateParams struct {
	ID string `json:"id"`
	ChannelState
}

func (w *ChannelWatcher) current() ChannelState {
	s := ChannelState{State: w.channel.State().String()}
	if err := w.channel.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

func (w *ChannelWatcher) flush() {
	state := w.current()
	w.NotifyAll("channel.state", func(sub *Subscription) any {
		return channelStateParams{ID: sub.ID, ChannelState: state}
	})
}

func (w *ChannelWatcher) Subscribe(notifier Notifier) (string, ChannelState) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})
	return id, w.current()
}
