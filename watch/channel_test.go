package watch

import (
	"testing"
	"time"

	"github.com/gwdesk/client/realtime"
	"github.com/gwdesk/client/realtime/realtimetest"
)

func TestChannelWatcher(t *testing.T) {
	channel := realtime.NewChannel(realtimetest.NewTransport(), realtime.Options{ReconnectDelay: 10 * time.Millisecond})
	defer channel.Disconnect()

	w := NewChannelWatcher(channel)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	rec := newRecordingNotifier()
	_, initial := w.Subscribe(rec)
	if initial.State != "disconnected" {
		t.Errorf("initial state = %s", initial.State)
	}

	channel.Connect()

	deadline := time.After(2 * time.Second)
	for {
		n := rec.wait(t)
		if n.Method != "channel.state" {
			t.Fatalf("method = %s", n.Method)
		}
		if n.Params.(channelStateParams).State == "connected" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("never saw connected")
		default:
		}
	}
}
