package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gwdesk/client/alert"
	"github.com/gwdesk/client/rpc"
	"github.com/gwdesk/client/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// notifyTimeout bounds one push to a gateway client.
const notifyTimeout = 5 * time.Second

// JSONRPCNotifier adapts jsonrpc2.Conn to watch.Notifier interface.
type JSONRPCNotifier struct {
	conn *jsonrpc2.Conn
}

var _ watch.Notifier = (*JSONRPCNotifier)(nil)

func NewJSONRPCNotifier(conn *jsonrpc2.Conn) *JSONRPCNotifier {
	return &JSONRPCNotifier{conn: conn}
}

func (n *JSONRPCNotifier) Notify(ctx context.Context, notif watch.Notification) error {
	return n.conn.Notify(ctx, notif.Method, notif.Params)
}

// AlertSink forwards desk alerts to one gateway connection as "alert"
// notifications. Delivery happens off the caller's goroutine.
type AlertSink struct {
	notifier watch.Notifier
}

var _ alert.Sink = (*AlertSink)(nil)

func NewAlertSink(notifier watch.Notifier) *AlertSink {
	return &AlertSink{notifier: notifier}
}

func (s *AlertSink) Alert(a alert.Alert) {
	n := watch.Notification{
		Method: "alert",
		Params: rpc.AlertNotification{Kind: string(a.Kind), Message: a.Message, Op: a.Op},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			slog.Debug("failed to deliver alert", "op", a.Op, "error", err)
		}
	}()
}
