package api

// Notification as pushed on the user topic and listed by /api/notifications.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Read      bool   `json:"read"`
	CreatedAt Time   `json:"createdAt"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// FileRef identifies a file stored by the upload endpoint.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

type ChatRoom struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Members  []string `json:"members,omitempty"`
	Unread   int      `json:"unreadCount"`
	Archived bool     `json:"archived,omitempty"`
}

// ChatMessage carries either Text or File. Immutable once created; ID and
// Timestamp are assigned by the server.
type ChatMessage struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"roomId"`
	SenderID  string   `json:"senderId"`
	Text      string   `json:"text,omitempty"`
	File      *FileRef `json:"file,omitempty"`
	Timestamp Time     `json:"timestamp"`
}

type loginRequest struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
