// Package rpc defines JSON-RPC 2.0 wire format types for the local gateway.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/notify"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version string       `json:"version"`
	Session *SessionInfo `json:"session,omitempty"` // nil when the desk is logged out
}

type SessionInfo struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

type SubscribeResult struct {
	ID string `json:"id"`
}

type UnsubscribeParams struct {
	ID string `json:"id"`
}

// Notification namespace

type NotificationSubscribeResult struct {
	ID string `json:"id"`
	notify.Snapshot
}

type NotificationMarkReadParams struct {
	ID string `json:"id"`
}

// Channel namespace

type ChannelSubscribeResult struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Chat namespace

type ChatRoomsResult struct {
	Rooms []api.ChatRoom `json:"rooms"`
}

type ChatSelectParams struct {
	RoomID string `json:"room_id"`
}

type ChatSelectResult struct {
	RoomID   string            `json:"room_id"`
	Messages []api.ChatMessage `json:"messages"`
}

type ChatSendParams struct {
	Text string `json:"text"`
}

// ChatSendFileParams carries the file inline; the gateway streams it to the
// upload endpoint.
type ChatSendFileParams struct {
	Name string `json:"name"`
	Data []byte `json:"data"` // base64 in JSON
}

type ChatSendFileResult struct {
	File api.FileRef `json:"file"`
}

// Permission namespace

type PermissionCheckParams struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
}

type PermissionCheckResult struct {
	Allowed bool `json:"allowed"`
}

// Server → Client notifications

// ChatMessageNotification is sent as "chat.message" for each pushed message
// of the connection's selected room.
type ChatMessageNotification struct {
	RoomID  string          `json:"room_id"`
	Message api.ChatMessage `json:"message"`
}

// AlertNotification is sent as "alert" when a desk operation fails.
type AlertNotification struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
}
