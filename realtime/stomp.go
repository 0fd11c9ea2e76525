package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
)

const (
	connectTimeout     = 10 * time.Second
	unsubscribeTimeout = 5 * time.Second
	wsReadLimit        = 4 << 20
)

type StompOptions struct {
	// URL is the broker WebSocket endpoint (ws, wss, http or https).
	URL string
	// Token supplies the bearer token at dial time, so a reconnect after
	// re-login uses the fresh one.
	Token func() string
	// HeartBeat is proposed for both directions. 0 disables heart-beating.
	HeartBeat time.Duration
	// Host is the STOMP virtual host. Defaults to the URL host.
	Host string
}

// StompTransport speaks STOMP 1.2 over a WebSocket text stream.
type StompTransport struct {
	opts StompOptions
	log  *slog.Logger
}

func NewStompTransport(opts StompOptions) *StompTransport {
	return &StompTransport{
		opts: opts,
		log:  slog.With("module", "stomp"),
	}
}

func (t *StompTransport) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	token := ""
	if t.opts.Token != nil {
		token = t.opts.Token()
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, connectTimeout)
	defer cancelDial()

	ws, resp, err := websocket.Dial(dialCtx, t.opts.URL, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{"v12.stomp", "v11.stomp"},
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", t.opts.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", t.opts.URL, err)
	}
	ws.SetReadLimit(wsReadLimit)

	connCtx, cancelConn := context.WithCancel(context.Background())
	nc := newWatchedConn(websocket.NetConn(connCtx, ws, websocket.MessageText))

	stopAfter := context.AfterFunc(ctx, cancelConn)
	defer stopAfter()

	if err := nc.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		cancelConn()
		return nil, fmt.Errorf("set connect deadline: %w", err)
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(t.opts.HeartBeat, t.opts.HeartBeat),
	}
	if t.opts.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(t.opts.Host))
	}
	if token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
	}

	sc, err := stomp.Connect(nc, opts...)
	if err != nil {
		cancelConn()
		nc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		cancelConn()
		sc.MustDisconnect()
		return nil, fmt.Errorf("clear connect deadline: %w", err)
	}

	t.log.Debug("stomp session established", "url", t.opts.URL, "session", sc.Session(), "server", sc.Server())
	return &stompConn{
		conn:   sc,
		net:    nc,
		cancel: cancelConn,
		log:    t.log,
	}, nil
}

type stompConn struct {
	conn   *stomp.Conn
	net    *watchedConn
	cancel context.CancelFunc
	log    *slog.Logger

	closeOnce sync.Once
}

func (c *stompConn) Subscribe(topic string) (Stream, error) {
	sub, err := c.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &stompStream{
		topic: topic,
		sub:   sub,
		out:   make(chan Message, 64),
		done:  c.net.done,
		log:   c.log,
	}
	go s.forward()
	return s, nil
}

func (c *stompConn) Send(ctx context.Context, destination string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.net.done:
		return ErrNotConnected
	default:
	}
	return c.conn.Send(destination, "application/json", body)
}

func (c *stompConn) Done() <-chan struct{} {
	return c.net.done
}

func (c *stompConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.MustDisconnect()
		c.net.Close()
		c.cancel()
	})
	return err
}

type stompStream struct {
	topic string
	sub   *stomp.Subscription
	out   chan Message
	done  <-chan struct{}
	log   *slog.Logger
}

func (s *stompStream) Messages() <-chan Message {
	return s.out
}

func (s *stompStream) forward() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				s.log.Debug("subscription ended", "topic", s.topic, "error", msg.Err)
				return
			}
			m := Message{Topic: s.topic, Body: msg.Body}
			if msg.Header != nil {
				m.ID = msg.Header.Get("message-id")
			}
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
	}
}

// Unsubscribe sends UNSUBSCRIBE and waits a bounded time for the broker
// receipt. A lost connection has already dropped the subscription.
func (s *stompStream) Unsubscribe() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.sub.Unsubscribe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return nil
	case <-time.After(unsubscribeTimeout):
		return fmt.Errorf("unsubscribe %s: no receipt after %s", s.topic, unsubscribeTimeout)
	}
}

// watchedConn closes done on the first read failure, which is how a lost
// broker connection surfaces.
type watchedConn struct {
	net.Conn
	done chan struct{}
	once sync.Once
}

func newWatchedConn(c net.Conn) *watchedConn {
	return &watchedConn{Conn: c, done: make(chan struct{})}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		var ne net.Error
		if !(errors.As(err, &ne) && ne.Timeout()) {
			w.markDone()
		}
	}
	return n, err
}

func (w *watchedConn) Close() error {
	w.markDone()
	return w.Conn.Close()
}

func (w *watchedConn) markDone() {
	w.once.Do(func() { close(w.done) })
}
