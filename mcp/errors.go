package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gwdesk/client/alert"
)

type ErrorCode string

const (
	ErrNotLoggedIn ErrorCode = "not_logged_in"
	ErrValidation  ErrorCode = "validation"
	ErrBackend     ErrorCode = "backend"
	ErrInternal    ErrorCode = "internal"
)

type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e ToolError) ToResult() *mcp.CallToolResult {
	data, _ := json.Marshal(e)
	return mcp.NewToolResultError(string(data))
}

func ValidationError(msg string) *mcp.CallToolResult {
	return ToolError{
		Code:    ErrValidation,
		Message: msg,
	}.ToResult()
}

func NotLoggedIn() *mcp.CallToolResult {
	return ToolError{
		Code:    ErrNotLoggedIn,
		Message: "not logged in; run `gwdesk login` first",
	}.ToResult()
}

// BackendError classifies err the same way the terminal and gateway alerts do.
func BackendError(op string, err error) *mcp.CallToolResult {
	a := alert.FromError(op, err)
	code := ErrBackend
	switch a.Kind {
	case alert.KindValidation:
		code = ErrValidation
	case alert.KindUnauthorized:
		code = ErrNotLoggedIn
	case alert.KindInternal:
		code = ErrInternal
	}
	return ToolError{
		Code:    code,
		Message: a.Message,
		Details: map[string]any{"kind": string(a.Kind), "op": op},
	}.ToResult()
}
