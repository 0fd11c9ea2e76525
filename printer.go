package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/gwdesk/client/api"
)

var (
	unreadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	readStyle   = lipgloss.NewStyle().Faint(true)
	timeStyle   = lipgloss.NewStyle().Faint(true)
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	senderStyle = lipgloss.NewStyle().Bold(true)
	fileStyle   = lipgloss.NewStyle().Italic(true)
)

// printer serializes tail output from the dispatch goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) notification(n api.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatNotification(n))
}

func (p *printer) message(m api.ChatMessage, selfID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatMessage(m, selfID))
}

func formatTime(t api.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func formatNotification(n api.Notification) string {
	marker, style := "●", unreadStyle
	if n.Read {
		marker, style = "○", readStyle
	}
	line := timeStyle.Render(formatTime(n.CreatedAt)) + " " + style.Render(marker+" "+n.Title)
	if n.Content != "" {
		line += ": " + n.Content
	}
	return line
}

func formatMessage(m api.ChatMessage, selfID string) string {
	sender := senderStyle.Render(m.SenderID)
	if m.SenderID == selfID {
		sender = selfStyle.Render("me")
	}
	body := m.Text
	if m.File != nil {
		body = fileStyle.Render("[file] " + m.File.Name)
	}
	return timeStyle.Render(formatTime(m.Timestamp)) + " " + sender + ": " + body
}
