// Package desk wires one logged-in user's client state together: session,
// backend client, realtime channel, notification inbox and chat views.
// Views receive a *Desk instead of reaching for globals.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gwdesk/client/alert"
	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/chat"
	"github.com/gwdesk/client/config"
	"github.com/gwdesk/client/notify"
	"github.com/gwdesk/client/realtime"
	"github.com/gwdesk/client/session"
)

type Desk struct {
	cfg config.Config
	log *slog.Logger

	Sessions *session.FileStore
	API      *api.Client
	Channel  *realtime.Channel
	Inbox    *notify.Inbox
	Alerts   *alert.Fanout

	mu     sync.Mutex
	active *session.Session
	perms  *session.Permissions
}

type options struct {
	transport realtime.Transport
}

type Option func(*options)

// WithTransport replaces the STOMP transport, e.g. with an in-memory one.
func WithTransport(t realtime.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New builds a desk. By default it talks STOMP over WebSocket to
// cfg.Backend.WSURL.
func New(cfg config.Config, opts ...Option) (*Desk, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	transport := o.transport

	store, err := session.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	client := api.NewClient(api.Options{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
		Token:   store.Token,
	})

	if transport == nil {
		transport = realtime.NewStompTransport(realtime.StompOptions{
			URL:       cfg.Backend.WSURL,
			Token:     store.Token,
			HeartBeat: cfg.Realtime.HeartBeat,
		})
	}
	channel := realtime.NewChannel(transport, realtime.Options{
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	})

	d := &Desk{
		cfg:      cfg,
		log:      slog.With("module", "desk"),
		Sessions: store,
		API:      client,
		Channel:  channel,
		Inbox:    notify.NewInbox(client, channel, cfg.Realtime.UserTopicPrefix),
		Alerts:   alert.NewFanout(),
		perms:    session.NewPermissions(nil),
	}

	channel.OnStateChange(d.onChannelState)
	store.AddOnChangeListener(d)
	return d, nil
}

func (d *Desk) Config() config.Config {
	return d.cfg
}

// Login authenticates, persists the session and starts push delivery.
func (d *Desk) Login(ctx context.Context, loginID, password string) (*session.Session, error) {
	sess, err := d.API.Login(ctx, loginID, password)
	if err != nil {
		return nil, err
	}

	grants, err := d.API.WithToken(sess.Token).Grants(ctx)
	if err != nil {
		// Without grants every permission check denies; the session is still usable.
		d.log.Warn("failed to load permissions", "userId", sess.UserID, "error", err)
	}
	sess.Grants = grants

	if err := d.Sessions.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	d.log.Info("logged in", "userId", sess.UserID, "grants", len(grants))

	d.start(ctx, sess)
	return sess, nil
}

// Resume starts push delivery for the persisted session.
func (d *Desk) Resume(ctx context.Context) (*session.Session, error) {
	sess := d.Sessions.Current()
	if !sess.Valid() {
		return nil, session.ErrNotLoggedIn
	}
	d.start(ctx, sess)
	return sess, nil
}

// Logout stops push delivery, informs the server best effort and clears
// the persisted session.
func (d *Desk) Logout(ctx context.Context) error {
	wasActive := d.stop()

	if d.Sessions.Token() != "" {
		if err := d.API.Logout(ctx); err != nil {
			d.log.Warn("server logout failed", "error", err)
		}
	}
	if err := d.Sessions.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if wasActive {
		d.log.Info("logged out")
	}
	return nil
}

// Close stops push delivery and session watching but keeps the session.
func (d *Desk) Close() {
	d.stop()
	d.Sessions.StopWatching()
}

func (d *Desk) StartWatching() error {
	return d.Sessions.StartWatching()
}

// Session returns the active session, or nil when logged out.
func (d *Desk) Session() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	copied := *d.active
	return &copied
}

func (d *Desk) Permissions() *session.Permissions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perms
}

// NewChatView returns a chat view for the active user. The caller must
// Close it when the view goes away.
func (d *Desk) NewChatView() (*chat.View, error) {
	sess := d.Session()
	if sess == nil {
		return nil, session.ErrNotLoggedIn
	}
	return chat.NewView(d.API, d.Channel, chat.Options{
		RoomTopicPrefix: d.cfg.Realtime.RoomTopicPrefix,
		SendDestination: d.cfg.Realtime.ChatDestination,
		SenderID:        sess.UserID,
	}), nil
}

// Report surfaces err to every alert sink.
func (d *Desk) Report(op string, err error) {
	alert.Report(d.Alerts, op, err)
}

func (d *Desk) start(ctx context.Context, sess *session.Session) {
	d.mu.Lock()
	d.active = sess
	d.perms = sess.Permissions()
	d.mu.Unlock()

	d.Channel.Connect()
	if err := d.Inbox.Attach(sess.UserID); err != nil {
		d.Report("notification.attach", err)
		return
	}
	if err := d.Inbox.Refresh(ctx); err != nil {
		d.Report("notification.refresh", err)
	}
}

func (d *Desk) stop() bool {
	d.mu.Lock()
	wasActive := d.active != nil
	d.active = nil
	d.perms = session.NewPermissions(nil)
	d.mu.Unlock()

	d.Inbox.Detach()
	d.Channel.Disconnect()
	return wasActive
}

// OnSessionChange follows logins and logouts made by another process.
func (d *Desk) OnSessionChange(sess *session.Session) {
	if sess == nil {
		if d.stop() {
			d.log.Info("logged out elsewhere")
		}
		return
	}

	d.mu.Lock()
	same := d.active != nil && d.active.UserID == sess.UserID && d.active.Token == sess.Token
	d.mu.Unlock()
	if same {
		return
	}

	d.log.Info("session changed elsewhere", "userId", sess.UserID)
	d.stop()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Backend.RequestTimeout)
	defer cancel()
	d.start(ctx, sess)
}

func (d *Desk) onChannelState(s realtime.State) {
	d.log.Debug("channel state", "state", s.String())
	if s == realtime.StateDisconnected {
		if err := d.Channel.Err(); errors.Is(err, realtime.ErrRetriesExhausted) {
			d.Report("realtime.connect", err)
		}
	}
}
