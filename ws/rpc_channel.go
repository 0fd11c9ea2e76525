package ws

import (
	"context"

	"github.com/gwdesk/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleChannelSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, state := h.channelWatcher.Subscribe(h.state.getNotifier())
	h.state.trackSubscription(id, h.channelWatcher)
	h.log.Debug("subscribed", "watcher", "channel", "watchId", id)

	h.reply(ctx, conn, req, rpc.ChannelSubscribeResult{ID: id, State: state.State, Error: state.Error})
}
