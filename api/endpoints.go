package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gwdesk/client/session"
)

// Login exchanges credentials for a session. Grants are not included;
// fetch them with Grants once the token is installed.
func (c *Client) Login(ctx context.Context, loginID, password string) (*session.Session, error) {
	if err := required("loginId", loginID); err != nil {
		return nil, err
	}
	if err := required("password", password); err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := c.Do(ctx, http.MethodPost, "/api/auth/login", loginRequest{LoginID: loginID, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.UserID == "" {
		return nil, &AppError{Status: http.StatusOK, Msg: "login response missing token"}
	}

	return &session.Session{
		Token:      resp.Token,
		UserID:     resp.UserID,
		Name:       resp.Name,
		LoggedInAt: time.Now(),
	}, nil
}

// Grants returns the permission records of the logged-in user.
func (c *Client) Grants(ctx context.Context) ([]session.Grant, error) {
	var grants []session.Grant
	if err := c.Do(ctx, http.MethodGet, "/api/auth/permissions", nil, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var list []Notification
	if err := c.Do(ctx, http.MethodGet, "/api/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := required("id", id); err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.Do(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil)
}

func (c *Client) ChatRooms(ctx context.Context) ([]ChatRoom, error) {
	var rooms []ChatRoom
	if err := c.Do(ctx, http.MethodGet, "/api/chat/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) ChatMessages(ctx context.Context, roomID string) ([]ChatMessage, error) {
	if err := required("roomId", roomID); err != nil {
		return nil, err
	}
	var msgs []ChatMessage
	if err := c.Do(ctx, http.MethodGet, "/api/chat/rooms/"+url.PathEscape(roomID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SelectChatRoom tells the server the user opened the room. The server
// resets the room's unread count.
func (c *Client) SelectChatRoom(ctx context.Context, roomID string) error {
	if err := required("roomId", roomID); err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, "/api/chat/rooms/"+url.PathEscape(roomID)+"/select", nil, nil)
}

func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (FileRef, error) {
	if err := required("name", name); err != nil {
		return FileRef{}, err
	}
	if r == nil {
		return FileRef{}, &ValidationError{Field: "file", Msg: "is required"}
	}

	var ref FileRef
	if err := c.upload(ctx, "/api/files", name, r, &ref); err != nil {
		return FileRef{}, err
	}
	if ref.ID == "" && ref.URL == "" {
		return FileRef{}, &AppError{Status: http.StatusOK, Msg: "upload response missing file reference"}
	}
	if ref.Name == "" {
		ref.Name = name
	}
	return ref, nil
}
