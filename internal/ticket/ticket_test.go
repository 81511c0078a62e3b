package ticket

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

func TestBuildText(t *testing.T) {
	want := "================================\n" +
		"TICKET\n" +
		"--------------------------------\n" +
		"From: Bob\n" +
		"Time: 02:07 PM\n" +
		"Date: March 05, 2024\n" +
		"--------------------------------\n" +
		"Question/Comment\n" +
		"Hello\n" +
		"--------------------------------\n" +
		"================================\n"
	if got := BuildText("Bob", "Hello", fixedNow); got != want {
		t.Errorf("BuildText() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildTextMorning(t *testing.T) {
	got := BuildText("A", "B", time.Date(2024, time.December, 25, 9, 5, 0, 0, time.UTC))
	if !strings.Contains(got, "Time: 09:05 AM\n") {
		t.Errorf("missing morning time in %q", got)
	}
	if !strings.Contains(got, "Date: December 25, 2024\n") {
		t.Errorf("missing date in %q", got)
	}
}

func TestBuildTextTrimsMessage(t *testing.T) {
	got := BuildText("Bob", "  spaced out \n", fixedNow)
	if !strings.Contains(got, "\nspaced out\n") {
		t.Errorf("message not trimmed in %q", got)
	}
	if !strings.HasSuffix(got, "================================\n") || strings.HasSuffix(got, "\n\n") {
		t.Errorf("want exactly one trailing newline, got %q", got)
	}
}

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name       string
		sender     string
		message    string
		wantSender string
		wantErr    bool
	}{
		{name: "named", sender: " Ada ", message: " hi ", wantSender: "Ada"},
		{name: "missing sender", sender: "", message: "hi", wantSender: DefaultSender},
		{name: "blank sender", sender: "   ", message: "hi", wantSender: DefaultSender},
		{name: "blank message", sender: "Ada", message: " \t\n", wantErr: true},
		{name: "empty message", message: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.sender, tt.message, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyMessage) {
					t.Fatalf("NewRequest() error = %v, want ErrEmptyMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			if req.Sender != tt.wantSender {
				t.Errorf("Sender = %q, want %q", req.Sender, tt.wantSender)
			}
			if req.Message != "hi" {
				t.Errorf("Message = %q, want %q", req.Message, "hi")
			}
		})
	}
}

func TestRendererUsesClock(t *testing.T) {
	r := &Renderer{Now: func() time.Time { return fixedNow }}
	req, _ := NewRequest("Bob", "Hello", nil)
	if got, want := r.Text(req), BuildText("Bob", "Hello", fixedNow); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	lines := r.Lines(req)
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want 11", len(lines))
	}
	if lines[3].Role != RoleSender || lines[8].Role != RoleBody {
		t.Errorf("unexpected roles: %+v", lines)
	}
}
