package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", `"2024-03-01T09:30:00Z"`, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), false},
		{"zone-less", `"2024-03-01T09:30:00"`, time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local), false},
		{"space separated", `"2024-03-01 09:30:00"`, time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local), false},
		{"epoch millis", `1709285400000`, time.UnixMilli(1709285400000), false},
		{"null", `null`, time.Time{}, false},
		{"garbage", `"yesterday"`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			err := json.Unmarshal([]byte(tt.in), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got.Time, tt.want)
			}
		})
	}
}

func TestEnvelope_DecodeWithoutPayload(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"success":true}`), &env); err != nil {
		t.Fatal(err)
	}

	var out []Notification
	if err := env.decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil slice, got %v", out)
	}
}
