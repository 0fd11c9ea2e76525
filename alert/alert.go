// Package alert turns errors into user-facing alerts and surfaces them.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gwdesk/client/api"
	"github.com/gwdesk/client/realtime"
)

type Kind string

const (
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindApplication  Kind = "application"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

type Alert struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Op      string    `json:"op,omitempty"`
	At      time.Time `json:"at"`
}

// FromError classifies err. Op names the user action that failed.
func FromError(op string, err error) Alert {
	a := Alert{Op: op, At: time.Now()}

	var (
		verr *api.ValidationError
		aerr *api.AppError
		nerr *api.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		a.Kind = KindValidation
		a.Message = verr.Error()
	case errors.Is(err, api.ErrUnauthorized):
		a.Kind = KindUnauthorized
		a.Message = "Your session has expired. Please log in again."
	case errors.Is(err, api.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		a.Kind = KindTimeout
		a.Message = "The server did not respond in time."
	case errors.As(err, &aerr):
		a.Kind = KindApplication
		a.Message = aerr.Msg
		if a.Message == "" {
			a.Message = fmt.Sprintf("The request failed (%d).", aerr.Status)
		}
	case errors.As(err, &nerr),
		errors.Is(err, realtime.ErrNotConnected),
		errors.Is(err, realtime.ErrRetriesExhausted):
		a.Kind = KindNetwork
		a.Message = "Cannot reach the server. Check your connection."
	default:
		a.Kind = KindInternal
		a.Message = err.Error()
	}
	return a
}

// Sink surfaces alerts. Implementations must not block the caller.
type Sink interface {
	Alert(a Alert)
}

type SinkFunc func(Alert)

func (f SinkFunc) Alert(a Alert) { f(a) }

// Fanout delivers to every registered sink.
type Fanout struct {
	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
}

func NewFanout() *Fanout {
	return &Fanout{sinks: make(map[int]Sink)}
}

// Add registers s and returns a function that removes it.
func (f *Fanout) Add(s Sink) (remove func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.sinks[id] = s
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.sinks, id)
		f.mu.Unlock()
	}
}

func (f *Fanout) Alert(a Alert) {
	f.mu.RLock()
	sinks := make([]Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		sinks = append(sinks, s)
	}
	f.mu.RUnlock()

	for _, s := range sinks {
		s.Alert(a)
	}
}

// Report classifies err, logs it and sends it to sink. Nil errors are
// ignored.
func Report(sink Sink, op string, err error) {
	if err == nil {
		return
	}
	a := FromError(op, err)
	slog.Warn("alert", "op", op, "kind", a.Kind, "error", err)
	if sink != nil {
		sink.Alert(a)
	}
}

var (
	kindStyle = map[Kind]lipgloss.Style{
		KindNetwork:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
		KindTimeout:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
		KindApplication:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		KindValidation:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		KindUnauthorized: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		KindInternal:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("201")),
	}
	opStyle = lipgloss.NewStyle().Faint(true)
)

// TerminalSink writes one styled line per alert.
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

func (s *TerminalSink) Alert(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, Render(a))
}

// Render formats a for terminal output.
func Render(a Alert) string {
	style, ok := kindStyle[a.Kind]
	if !ok {
		style = kindStyle[KindInternal]
	}
	line := style.Render("["+string(a.Kind)+"]") + " " + a.Message
	if a.Op != "" {
		line += " " + opStyle.Render("("+a.Op+")")
	}
	return line
}
