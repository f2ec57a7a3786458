package main

import (
	"strings"
	"testing"
)

func TestMonitorURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080/api/v1", "ws://localhost:8080/ws/v1/teacher/exams/e1/monitor?token=tok", false},
		{"https://exam.school.id/api/v1/", "wss://exam.school.id/ws/v1/teacher/exams/e1/monitor?token=tok", false},
		{"https://exam.school.id/backend/api/v1", "wss://exam.school.id/backend/ws/v1/teacher/exams/e1/monitor?token=tok", false},
		{"ftp://exam.school.id", "", true},
	}
	for _, tt := range tests {
		got, err := monitorURL(tt.base, "e1", "tok")
		if (err != nil) != tt.wantErr {
			t.Errorf("monitorURL(%q) err = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("monitorURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestPrintMonitorFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    []string
		wantErr bool
	}{
		{
			name:  "snapshot",
			frame: `{"event":"snapshot","title":"Mechanics","total":4,"attempts":[{"studentName":"Alice","status":"SUBMITTED","answered":3,"tabWarnings":2,"score":7.5}]}`,
			want:  []string{"Mechanics: 1 attempt(s), 4 question(s)", "Alice", "3/4 answered", "warnings 2", "score 7.5"},
		},
		{
			name:  "event",
			frame: `{"event":"autosaved","studentName":"Bob","answered":1,"total":4,"tabWarnings":0,"at":"2026-01-02T03:04:05Z"}`,
			want:  []string{"autosaved", "Bob", "1/4 answered"},
		},
		{
			name:  "error",
			frame: `{"event":"error","error":"monitor unavailable"}`,
			want:  []string{"server error: monitor unavailable"},
		},
		{
			name:    "garbage",
			frame:   `not json`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			err := printMonitorFrame(&out, []byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output %q missing %q", out.String(), w)
				}
			}
		})
	}
}
