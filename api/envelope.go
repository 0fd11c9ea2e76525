package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Envelope is the uniform JSON wrapper of every backend response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	List    json.RawMessage `json:"list,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

// payload returns data when present, otherwise list.
func (e *Envelope) payload() json.RawMessage {
	if !isEmptyJSON(e.Data) {
		return e.Data
	}
	if !isEmptyJSON(e.List) {
		return e.List
	}
	return nil
}

func (e *Envelope) decode(out any) error {
	if out == nil {
		return nil
	}
	raw := e.payload()
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Time accepts the timestamp shapes the backend emits: RFC 3339, zone-less
// local date-times, and epoch milliseconds.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}

	if !strings.HasPrefix(s, `"`) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", s)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	str, err := strconv.Unquote(s)
	if err != nil {
		return err
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, str, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", str)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
