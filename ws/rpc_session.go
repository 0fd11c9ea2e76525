package ws

import (
	"context"

	"github.com/gwdesk/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleSessionInfo(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, sessionInfo(h.desk.Session()))
}

func (h *rpcMethodHandler) handlePermissionCheck(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.PermissionCheckParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ResourceType == "" || params.Action == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "resource_type and action are required")
		return
	}

	allowed := h.desk.Permissions().Allows(params.ResourceType, params.ResourceID, params.Action)
	h.reply(ctx, conn, req, rpc.PermissionCheckResult{Allowed: allowed})
}
