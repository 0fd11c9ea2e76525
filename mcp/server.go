// Package mcp exposes the desk to AI agents as a stdio MCP server.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gwdesk/client/desk"
)

// connectWait bounds how long chat_send waits for the realtime channel.
const connectWait = 10 * time.Second

type Server struct {
	desk    *desk.Desk
	version string
	log     *slog.Logger
	tools   []server.ServerTool
}

func NewServer(d *desk.Desk, version string) *Server {
	s := &Server{
		desk:    d,
		version: version,
		log:     slog.With("module", "mcp"),
	}
	s.tools = s.toolset()
	return s
}

func (s *Server) toolset() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("notification_list",
				mcp.WithDescription("List the user's notifications, newest first, with the unread count. Refreshes from the server."),
			),
			Handler: s.handleNotificationList,
		},
		{
			Tool: mcp.NewTool("notification_mark_read",
				mcp.WithDescription("Mark one notification as read."),
				mcp.WithString("notification_id", mcp.Required(), mcp.Description("Notification ID")),
			),
			Handler: s.handleNotificationMarkRead,
		},
		{
			Tool: mcp.NewTool("notification_mark_all_read",
				mcp.WithDescription("Mark every notification as read and clear the list."),
			),
			Handler: s.handleNotificationMarkAllRead,
		},
		{
			Tool: mcp.NewTool("chat_rooms",
				mcp.WithDescription("List chat rooms with their unread counts."),
			),
			Handler: s.handleChatRooms,
		},
		{
			Tool: mcp.NewTool("chat_history",
				mcp.WithDescription("Return the message history of a chat room, oldest first."),
				mcp.WithString("room_id", mcp.Required(), mcp.Description("Chat room ID")),
			),
			Handler: s.handleChatHistory,
		},
		{
			Tool: mcp.NewTool("chat_send",
				mcp.WithDescription("Send a text message to a chat room."),
				mcp.WithString("room_id", mcp.Required(), mcp.Description("Chat room ID")),
				mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
			),
			Handler: s.handleChatSend,
		},
	}
}

func (s *Server) newMCPServer() *server.MCPServer {
	ms := server.NewMCPServer("gwdesk", s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	ms.AddTools(s.tools...)
	return ms
}

// Run serves MCP over in/out until ctx is done or in reaches EOF.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.newMCPServer())
	s.log.Info("serving MCP over stdio", "tools", len(s.tools))
	return stdio.Listen(ctx, in, out)
}
