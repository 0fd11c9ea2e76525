package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gwdesk/client/alert"
	"github.com/gwdesk/client/chat"
	"github.com/gwdesk/client/desk"
	"github.com/gwdesk/client/logger"
	"github.com/gwdesk/client/rpc"
	"github.com/gwdesk/client/session"
	"github.com/gwdesk/client/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// Application error codes, outside the JSON-RPC reserved range.
const (
	codeApplication  int64 = -32001
	codeNetwork      int64 = -32002
	codeTimeout      int64 = -32003
	codeUnauthorized int64 = -32004
	codeNotLoggedIn  int64 = -32005
)

// RPCHandler handles JSON-RPC 2.0 over WebSocket for local views.
type RPCHandler struct {
	token   string
	version string
	devMode bool
	desk    *desk.Desk

	notificationWatcher *watch.NotificationWatcher
	channelWatcher      *watch.ChannelWatcher
}

func NewRPCHandler(token, version string, devMode bool, d *desk.Desk) *RPCHandler {
	notificationWatcher := watch.NewNotificationWatcher(d.Inbox)
	notificationWatcher.Start()
	channelWatcher := watch.NewChannelWatcher(d.Channel)
	channelWatcher.Start()

	return &RPCHandler{
		token:               token,
		version:             version,
		devMode:             devMode,
		desk:                d,
		notificationWatcher: notificationWatcher,
		channelWatcher:      channelWatcher,
	}
}

// Stop stops the RPC handler and releases resources.
func (h *RPCHandler) Stop() {
	h.notificationWatcher.Stop()
	h.channelWatcher.Stop()
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	stream := newWebSocketStream(conn)
	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(r.Context(), stream, connID)
}

func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "websocket connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("new connection")

	state := &rpcConnState{
		connID:        connID,
		log:           log,
		subscriptions: make(map[string]watch.Watcher),
	}

	handler := &rpcMethodHandler{
		RPCHandler: h,
		state:      state,
		log:        log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	state.setConn(rpcConn)

	<-rpcConn.DisconnectNotify()

	state.cleanup()
	log.Info("connection closed")
}

// rpcConnState tracks per-connection state. Everything a connection
// registered is released in cleanup.
type rpcConnState struct {
	mu            sync.Mutex
	connID        string
	conn          *jsonrpc2.Conn
	notifier      *JSONRPCNotifier
	log           *slog.Logger
	subscriptions map[string]watch.Watcher // subID → watcher for cleanup
	chatView      *chat.View
	removeAlerts  func()
	closed        bool
}

func (s *rpcConnState) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.notifier = NewJSONRPCNotifier(conn)
	s.mu.Unlock()
}

func (s *rpcConnState) getNotifier() *JSONRPCNotifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

func (s *rpcConnState) trackSubscription(id string, watcher watch.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		watcher.Unsubscribe(id)
		return
	}
	s.subscriptions[id] = watcher
}

func (s *rpcConnState) untrackSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
}

func (s *rpcConnState) setAlertRemover(remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		remove()
		return
	}
	s.removeAlerts = remove
}

// chatViewFor returns the connection's chat view, creating it on first use.
func (s *rpcConnState) chatViewFor(d *desk.Desk) (*chat.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("connection closed")
	}
	if s.chatView != nil {
		return s.chatView, nil
	}

	view, err := d.NewChatView()
	if err != nil {
		return nil, err
	}
	notifier := s.notifier
	// Runs on the room subscription's goroutine; a stalled client only
	// backs up its own room queue.
	view.OnMessage(func(m chat.Message) {
		n := watch.Notification{
			Method: "chat.message",
			Params: rpc.ChatMessageNotification{RoomID: m.RoomID, Message: m},
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notifier.Notify(ctx, n); err != nil {
			s.log.Debug("failed to push chat message", "roomId", m.RoomID, "error", err)
		}
	})
	s.chatView = view
	return view, nil
}

func (s *rpcConnState) closeChatView() {
	s.mu.Lock()
	view := s.chatView
	s.chatView = nil
	s.mu.Unlock()

	if view != nil {
		view.Close()
	}
}

func (s *rpcConnState) cleanup() {
	s.mu.Lock()
	s.closed = true
	for id, watcher := range s.subscriptions {
		watcher.Unsubscribe(id)
	}
	s.subscriptions = nil
	view := s.chatView
	s.chatView = nil
	removeAlerts := s.removeAlerts
	s.removeAlerts = nil
	s.mu.Unlock()

	if view != nil {
		view.Close()
	}
	if removeAlerts != nil {
		removeAlerts()
	}
}

type rpcMethodHandler struct {
	*RPCHandler
	state         *rpcConnState
	log           *slog.Logger
	authenticated bool
	authMu        sync.Mutex
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.state.connID)
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	// session namespace
	case "session.info":
		h.handleSessionInfo(ctx, conn, req)
	case "permission.check":
		h.handlePermissionCheck(ctx, conn, req)
	// notification namespace
	case "notification.subscribe":
		h.handleNotificationSubscribe(ctx, conn, req)
	case "notification.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.notificationWatcher, "notification")
	case "notification.list":
		h.handleNotificationList(ctx, conn, req)
	case "notification.refresh":
		h.handleNotificationRefresh(ctx, conn, req)
	case "notification.mark_read":
		h.handleNotificationMarkRead(ctx, conn, req)
	case "notification.mark_all_read":
		h.handleNotificationMarkAllRead(ctx, conn, req)
	// channel namespace
	case "channel.subscribe":
		h.handleChannelSubscribe(ctx, conn, req)
	case "channel.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.channelWatcher, "channel")
	// chat namespace
	case "chat.rooms":
		h.handleChatRooms(ctx, conn, req)
	case "chat.select":
		h.handleChatSelect(ctx, conn, req)
	case "chat.send":
		h.handleChatSend(ctx, conn, req)
	case "chat.send_file":
		h.handleChatSendFile(ctx, conn, req)
	case "chat.close":
		h.handleChatClose(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcMethodHandler) setAuthenticated() {
	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(h.token)) != 1 {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.state.setAlertRemover(h.desk.Alerts.Add(NewAlertSink(h.state.getNotifier())))

	h.setAuthenticated()
	h.log.Info("authenticated")

	result := rpc.AuthResult{
		Version: h.version,
		Session: sessionInfo(h.desk.Session()),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

func sessionInfo(sess *session.Session) *rpc.SessionInfo {
	if sess == nil {
		return nil
	}
	return &rpc.SessionInfo{UserID: sess.UserID, Name: sess.Name}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

// replyFailure maps a desk error to a JSON-RPC error carrying the alert kind.
func (h *rpcMethodHandler) replyFailure(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, op string, err error) {
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		h.replyError(ctx, conn, id, codeNotLoggedIn, err.Error())
		return
	case errors.Is(err, chat.ErrNoRoomSelected):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInvalidRequest, err.Error())
		return
	}

	a := alert.FromError(op, err)
	h.log.Warn("request failed", "op", op, "kind", a.Kind, "error", err)

	code := int64(jsonrpc2.CodeInternalError)
	switch a.Kind {
	case alert.KindValidation:
		code = jsonrpc2.CodeInvalidParams
	case alert.KindApplication:
		code = codeApplication
	case alert.KindNetwork:
		code = codeNetwork
	case alert.KindTimeout:
		code = codeTimeout
	case alert.KindUnauthorized:
		code = codeUnauthorized
	}

	data := json.RawMessage(`{"kind":"` + string(a.Kind) + `"}`)
	rpcErr := &jsonrpc2.Error{Code: code, Message: a.Message, Data: &data}
	if replyErr := conn.ReplyWithError(ctx, id, rpcErr); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any) {
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send response", "method", req.Method, "error", err)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

func (h *rpcMethodHandler) handleWatcherUnsubscribe(
	ctx context.Context,
	conn *jsonrpc2.Conn,
	req *jsonrpc2.Request,
	watcher watch.Watcher,
	logName string,
) {
	var params rpc.UnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "id is required")
		return
	}

	watcher.Unsubscribe(params.ID)
	h.state.untrackSubscription(params.ID)
	h.log.Debug("unsubscribed", "watcher", logName, "watchId", params.ID)

	h.reply(ctx, conn, req, struct{}{})
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		// Treat normal close frames as EOF so jsonrpc2 shuts down gracefully
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
