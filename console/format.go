// Package console renders sessions and meeting history for the terminal
// commands and reads answers to their prompts.
package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joules/server/meeting"
	"github.com/joules/server/session"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted() {
	fmt.Fprintf(f.w, "🎙️  Recording... press Enter or Ctrl+C to stop\n")
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Transcribing() {
	fmt.Fprintf(f.w, "📝 Transcribing audio...\n")
}

func (f *Formatter) Summarizing() {
	fmt.Fprintf(f.w, "🤖 Generating summary...\n")
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

// Progress prints the line matching a processing phase. Other phases print
// nothing.
func (f *Formatter) Progress(phase session.Phase) {
	switch phase {
	case session.PhaseProcessingTranscription:
		f.Transcribing()
	case session.PhaseProcessingSummarization:
		f.Summarizing()
	}
}

// Results prints the transcript and summary panes of a session.
func (f *Formatter) Results(st session.State) {
	fmt.Fprintf(f.w, "\n📝 Transcript\n%s\n", indentText(st.Transcript.Display()))
	fmt.Fprintf(f.w, "\n🤖 Summary\n%s\n", indentText(st.Summary.Display()))
}

func (f *Formatter) MeetingList(meetings []meeting.Meeting) {
	if len(meetings) == 0 {
		f.Info("No meetings found")
		return
	}

	fmt.Fprintf(f.w, "📁 Meetings:\n\n")
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	for _, m := range meetings {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.ID, m.Timestamp.Local().Format("2006-01-02 15:04"), m.Name)
	}
	tw.Flush()
}

func (f *Formatter) Meeting(m meeting.Meeting) {
	fmt.Fprintf(f.w, "📁 %s\n", m.Name)
	fmt.Fprintf(f.w, "   %s  %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), m.ID)
	fmt.Fprintf(f.w, "\n📝 Transcript\n%s\n", indentText(m.Transcript))
	fmt.Fprintf(f.w, "\n🤖 Summary\n%s\n", indentText(m.Summary))
}

func indentText(s string) string {
	if s == "" {
		return "  -"
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
