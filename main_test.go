package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/config"
	"github.com/gwdesk/client/desk"
	"github.com/gwdesk/client/realtime/realtimetest"
)

func newTestDesk(t *testing.T) *desk.Desk {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Backend.RequestTimeout = time.Second
	d, err := desk.New(cfg, desk.WithTransport(realtimetest.NewTransport()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestNewHandler(t *testing.T) {
	const token = "gw-token"
	d := newTestDesk(t)
	rpcStub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := newHandler(token, d, rpcStub)

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"ws authenticates in-band", "/ws", "", http.StatusNoContent},
		{"status requires token", "/api/status", "", http.StatusUnauthorized},
		{"status with token", "/api/status", "Bearer " + token, http.StatusOK},
		{"unknown path with token", "/api/nope", "Bearer " + token, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewHandler_Status(t *testing.T) {
	d := newTestDesk(t)
	h := newHandler("tok", d, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, rec.Body.String())
	}
	if resp.LoggedIn || resp.Channel != "disconnected" || resp.Version != version {
		t.Errorf("status = %+v", resp)
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  api.ChatMessage
		want []string
	}{
		{
			name: "own text",
			msg:  api.ChatMessage{SenderID: "u1", Text: "hello"},
			want: []string{"me", "hello", "--:--"},
		},
		{
			name: "other sender file",
			msg:  api.ChatMessage{SenderID: "u2", File: &api.FileRef{Name: "report.pdf"}},
			want: []string{"u2", "[file] report.pdf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMessage(tt.msg, "u1")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatMessage = %q, want it to contain %q", got, w)
				}
			}
		})
	}
}

func TestFormatNotification(t *testing.T) {
	unread := formatNotification(api.Notification{Title: "Build failed", Content: "main is red"})
	if !strings.Contains(unread, "● Build failed") || !strings.Contains(unread, "main is red") {
		t.Errorf("unread = %q", unread)
	}
	read := formatNotification(api.Notification{Title: "Welcome", Read: true})
	if !strings.Contains(read, "○ Welcome") {
		t.Errorf("read = %q", read)
	}
}

func TestCommonFlagsPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  map[string]string
		want string
	}{
		{"flag wins", "/etc/gwdesk.yaml", map[string]string{"GWDESK_CONFIG": "/x.yaml"}, "/etc/gwdesk.yaml"},
		{"env config", "", map[string]string{"GWDESK_CONFIG": "/x.yaml"}, "/x.yaml"},
		{"data dir", "", map[string]string{"GWDESK_DATA_DIR": "/data"}, filepath.Join("/data", "config.yaml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GWDESK_CONFIG", "")
			t.Setenv("GWDESK_DATA_DIR", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cf := &commonFlags{configPath: tt.flag}
			if got := cf.path(); got != tt.want {
				t.Errorf("path() = %q, want %q", got, tt.want)
			}
		})
	}
}
