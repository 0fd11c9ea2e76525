package ws

import (
	"bytes"
	"context"

	"github.com/gwdesk/client/logger"
	"github.com/gwdesk/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

const textLogMaxLen = 50

func (h *rpcMethodHandler) handleChatRooms(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	view, err := h.state.chatViewFor(h.desk)
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.rooms", err)
		return
	}

	rooms, err := view.Rooms(ctx)
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.rooms", err)
		return
	}
	h.reply(ctx, conn, req, rpc.ChatRoomsResult{Rooms: rooms})
}

func (h *rpcMethodHandler) handleChatSelect(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatSelectParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	view, err := h.state.chatViewFor(h.desk)
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.select", err)
		return
	}

	if err := view.Select(ctx, params.RoomID); err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.select", err)
		return
	}
	h.log.Info("room selected", "roomId", params.RoomID)

	h.reply(ctx, conn, req, rpc.ChatSelectResult{RoomID: view.SelectedRoom(), Messages: view.Messages()})
}

func (h *rpcMethodHandler) handleChatSend(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatSendParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	view, err := h.state.chatViewFor(h.desk)
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.send", err)
		return
	}

	h.log.Info("sending message", "text", logger.Truncate(params.Text, textLogMaxLen))
	if err := view.SendText(ctx, params.Text); err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.send", err)
		return
	}
	h.reply(ctx, conn, req, struct{}{})
}

func (h *rpcMethodHandler) handleChatSendFile(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatSendFileParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	view, err := h.state.chatViewFor(h.desk)
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.send_file", err)
		return
	}

	ref, err := view.SendFile(ctx, params.Name, bytes.NewReader(params.Data))
	if err != nil {
		h.replyFailure(ctx, conn, req.ID, "chat.send_file", err)
		return
	}
	h.reply(ctx, conn, req, rpc.ChatSendFileResult{File: ref})
}

func (h *rpcMethodHandler) handleChatClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.state.closeChatView()
	h.reply(ctx, conn, req, struct{}{})
}
