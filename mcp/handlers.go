package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gwdesk/client/realtime"
)

func (s *Server) loggedIn() bool {
	return s.desk.Session() != nil
}

func (s *Server) handleNotificationList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.loggedIn() {
		return NotLoggedIn(), nil
	}
	if err := s.desk.Inbox.Refresh(ctx); err != nil {
		return BackendError("notification.refresh", err), nil
	}
	return jsonResult(s.desk.Inbox.Snapshot())
}

func (s *Server) handleNotificationMarkRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("notification_id")
	if err != nil {
		return ValidationError("notification_id is required"), nil
	}
	if !s.loggedIn() {
		return NotLoggedIn(), nil
	}
	if err := s.desk.Inbox.MarkRead(ctx, id); err != nil {
		return BackendError("notification.mark_read", err), nil
	}
	return jsonResult(map[string]int{"unread": s.desk.Inbox.Unread()})
}

func (s *Server) handleNotificationMarkAllRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.loggedIn() {
		return NotLoggedIn(), nil
	}
	s.desk.Inbox.MarkAllRead(ctx)
	return mcp.NewToolResultText(`{"success":true}`), nil
}

func (s *Server) handleChatRooms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.loggedIn() {
		return NotLoggedIn(), nil
	}
	rooms, err := s.desk.API.ChatRooms(ctx)
	if err != nil {
		return BackendError("chat.rooms", err), nil
	}
	return jsonResult(rooms)
}

func (s *Server) handleChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := req.RequireString("room_id")
	if err != nil {
		return ValidationError("room_id is required"), nil
	}
	if !s.loggedIn() {
		return NotLoggedIn(), nil
	}
	msgs, err := s.desk.API.ChatMessages(ctx, roomID)
	if err != nil {
		return BackendError("chat.history", err), nil
	}
	return jsonResult(msgs)
}

func (s *Server) handleChatSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := req.RequireString("room_id")
	if err != nil {
		return ValidationError("room_id is required"), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return ValidationError("text is required"), nil
	}

	view, err := s.desk.NewChatView()
	if err != nil {
		return NotLoggedIn(), nil
	}
	defer view.Close()

	waitCtx, cancel := context.WithTimeout(ctx, connectWait)
	defer cancel()
	if err := s.desk.Channel.WaitState(waitCtx, realtime.StateConnected); err != nil {
		return BackendError("chat.send", fmt.Errorf("%w: %v", realtime.ErrNotConnected, err)), nil
	}

	if err := view.Select(ctx, roomID); err != nil {
		return BackendError("chat.select", err), nil
	}
	if err := view.SendText(ctx, text); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			s.log.Warn("channel dropped before send", "roomId", roomID)
		}
		return BackendError("chat.send", err), nil
	}
	return mcp.NewToolResultText(`{"success":true}`), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
