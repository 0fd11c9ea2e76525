package ws

import (
	"context"

	"github.com/gwdesk/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleNotificationSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, snap := h.notificationWatcher.Subscribe(h.state.getNotifier())
	h.state.trackSubscription(id, h.notificationWatcher)
	h.log.Debug("subscribed", "watcher", "notification", "watchId", id)

	h.reply(ctx, conn, req, rpc.NotificationSubscribeResult{ID: id, Snapshot: snap})
}

func (h *rpcMethodHandler) handleNotificationList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, h.desk.Inbox.Snapshot())
}

func (h *rpcMethodHandler) handleNotificationRefresh(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if err := h.desk.Inbox.Refresh(ctx); err != nil {
		h.replyFailure(ctx, conn, req.ID, "notification.refresh", err)
		return
	}
	h.reply(ctx, conn, req, h.desk.Inbox.Snapshot())
}

func (h *rpcMethodHandler) handleNotificationMarkRead(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.NotificationMarkReadParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	// The local flag stays flipped even when the server call fails.
	if err := h.desk.Inbox.MarkRead(ctx, params.ID); err != nil {
		h.replyFailure(ctx, conn, req.ID, "notification.mark_read", err)
		return
	}
	h.reply(ctx, conn, req, struct{}{})
}

func (h *rpcMethodHandler) handleNotificationMarkAllRead(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.desk.Inbox.MarkAllRead(ctx)
	h.reply(ctx, conn, req, struct{}{})
}
