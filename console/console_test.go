package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joules/server/meeting"
	"github.com/joules/server/session"
)

func TestPrompter_Ask(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"answer", "Standup\n", "Standup", nil},
		{"trimmed", "  Standup  \n", "Standup", nil},
		{"empty takes default", "\n", "standup.webm", nil},
		{"no trailing newline", "Retro", "Retro", nil},
		{"eof cancels", "", "", ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)

			got, err := p.Ask("Meeting name", "standup.webm")
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if out.String() != "Meeting name [standup.webm]: " {
				t.Errorf("unexpected prompt %q", out.String())
			}
		})
	}
}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		p := NewPrompter(strings.NewReader(tt.input), &bytes.Buffer{})
		got, err := p.Confirm("Delete?")
		if err != nil {
			t.Fatalf("Confirm(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatter_Results(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(&out)

	f.Results(session.State{
		Transcript: session.Failed(session.TranscriptionFailed, "model overloaded", false),
	})

	got := out.String()
	if !strings.Contains(got, "  Error transcribing: model overloaded") {
		t.Errorf("expected transcript error in output, got %q", got)
	}
	if !strings.Contains(got, "🤖 Summary\n  -") {
		t.Errorf("expected empty summary placeholder, got %q", got)
	}
}

func TestFormatter_MeetingList(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(&out)

	f.MeetingList(nil)
	if !strings.Contains(out.String(), "No meetings found") {
		t.Errorf("expected empty message, got %q", out.String())
	}

	out.Reset()
	m, _ := meeting.New("Standup", "hello world", "Greeting exchanged.", time.Now())
	f.MeetingList([]meeting.Meeting{m})
	if !strings.Contains(out.String(), m.ID) || !strings.Contains(out.String(), "Standup") {
		t.Errorf("expected meeting row, got %q", out.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{time.Hour + 2*time.Minute, "1h02m00s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
