package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joules/server/audio"
	"github.com/joules/server/backend"
	"github.com/joules/server/meeting"
	"github.com/joules/server/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var ctx = context.Background()

var fixedNow = time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

type fakeBackend struct {
	mu              sync.Mutex
	transcribe      func(ctx context.Context, src audio.Source) (string, error)
	summarize       func(ctx context.Context, transcript string) (string, error)
	transcribeCalls int
	summarizeCalls  int
}

func (b *fakeBackend) Transcribe(ctx context.Context, src audio.Source) (string, error) {
	b.mu.Lock()
	b.transcribeCalls++
	fn := b.transcribe
	b.mu.Unlock()
	return fn(ctx, src)
}

func (b *fakeBackend) Summarize(ctx context.Context, transcript string) (string, error) {
	b.mu.Lock()
	b.summarizeCalls++
	fn := b.summarize
	b.mu.Unlock()
	return fn(ctx, transcript)
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcribeCalls, b.summarizeCalls
}

func replying(transcript, summary string) *fakeBackend {
	return &fakeBackend{
		transcribe: func(context.Context, audio.Source) (string, error) { return transcript, nil },
		summarize:  func(context.Context, string) (string, error) { return summary, nil },
	}
}

type fakeDevice struct {
	mu       sync.Mutex
	err      error
	captures []*fakeCapture
}

func (d *fakeDevice) Open(ctx context.Context) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeCapture{}
	d.captures = append(d.captures, c)
	return c, nil
}

type fakeCapture struct {
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (c *fakeCapture) Stop() (audio.Source, error) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return audio.Source{Data: []byte("recorded"), MediaType: "audio/webm"}, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// slowDevice holds Open until release is closed.
type slowDevice struct {
	fakeDevice
	entered chan struct{}
	release chan struct{}
}

func (d *slowDevice) Open(ctx context.Context) (audio.Capture, error) {
	close(d.entered)
	<-d.release
	return d.fakeDevice.Open(ctx)
}

func newTestStore(t *testing.T) *meeting.SlotStore {
	t.Helper()
	slot, err := meeting.NewFileSlot(t.TempDir(), "meetings")
	if err != nil {
		t.Fatalf("NewFileSlot failed: %v", err)
	}
	return meeting.NewSlotStore(ctx, slot)
}

func newTestController(t *testing.T, b Backend, opts ...Option) (*Controller, *meeting.SlotStore, *fakeDevice) {
	t.Helper()
	store := newTestStore(t)
	device := &fakeDevice{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c := NewController(b, store, device, opts...)
	t.Cleanup(c.Close)
	return c, store, device
}

func pickedFile() *audio.Source {
	return &audio.Source{Data: []byte("file-bytes"), MediaType: "audio/mpeg", FileName: "weekly.mp3"}
}

func listMeetings(t *testing.T, store meeting.Store) []meeting.Meeting {
	t.Helper()
	meetings, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return meetings
}

func TestController_StandupScenario(t *testing.T) {
	c, store, _ := newTestController(t, replying("hello world", "Greeting exchanged."))

	c.SelectFile(pickedFile())
	st, err := c.Process(ctx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if st.Phase != PhaseReadyToSave {
		t.Errorf("expected phase %s, got %s", PhaseReadyToSave, st.Phase)
	}
	if !st.CanSave {
		t.Error("expected save to be enabled")
	}

	m, err := c.CommitToStore(ctx, "Standup")
	if err != nil {
		t.Fatalf("CommitToStore failed: %v", err)
	}

	meetings := listMeetings(t, store)
	if len(meetings) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(meetings))
	}
	got := meetings[0]
	if got.ID != m.ID {
		t.Errorf("expected stored id %s, got %s", m.ID, got.ID)
	}
	if got.Name != "Standup" || got.Transcript != "hello world" || got.Summary != "Greeting exchanged." {
		t.Errorf("unexpected meeting %+v", got)
	}
	if !got.Timestamp.Equal(fixedNow) {
		t.Errorf("expected timestamp %v, got %v", fixedNow, got.Timestamp)
	}
}

func TestController_TranscriptionFailureSkipsSummarization(t *testing.T) {
	var summarizeHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transcribe":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "model overloaded"}`))
		case "/summarize":
			summarizeHits++
			w.Write([]byte(`{"summary": "should not happen"}`))
		}
	}))
	defer server.Close()

	c, store, _ := newTestController(t, backend.NewClient(server.URL, 0))
	c.SelectFile(pickedFile())

	st, err := c.Process(ctx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if summarizeHits != 0 {
		t.Errorf("expected no summarization call, got %d", summarizeHits)
	}
	if !st.Transcript.Failed() || st.Transcript.Failure.Kind != TranscriptionFailed {
		t.Fatalf("expected transcription failure, got %+v", st.Transcript)
	}
	if got := st.Transcript.Display(); got != "Error transcribing: model overloaded" {
		t.Errorf("expected display 'Error transcribing: model overloaded', got %q", got)
	}
	if st.Summary.Display() != "" {
		t.Errorf("expected empty summary, got %q", st.Summary.Display())
	}
	if st.CanSave {
		t.Error("expected save to be disabled")
	}
	if st.Phase != PhaseReadyToSave {
		t.Errorf("expected phase %s, got %s", PhaseReadyToSave, st.Phase)
	}

	if _, err := c.CommitToStore(ctx, "Standup"); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("expected ErrNothingToSave, got %v", err)
	}
	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected store unchanged, got %d meetings", n)
	}
}

func TestController_SummarizationFailureKeepsTranscript(t *testing.T) {
	b := replying("hello world", "")
	b.summarize = func(context.Context, string) (string, error) {
		return "", &backend.APIError{StatusCode: 400, Message: "No transcript provided"}
	}
	c, _, _ := newTestController(t, b)
	c.SelectFile(pickedFile())

	st, _ := c.Process(ctx)

	if !st.Transcript.OK() || st.Transcript.Text != "hello world" {
		t.Errorf("expected transcript kept, got %+v", st.Transcript)
	}
	if got := st.Summary.Display(); got != "Error summarizing: No transcript provided" {
		t.Errorf("unexpected summary display %q", got)
	}
	if st.CanSave {
		t.Error("expected save to be disabled")
	}
}

func TestController_NetworkFailure(t *testing.T) {
	b := replying("", "")
	b.transcribe = func(context.Context, audio.Source) (string, error) {
		return "", &backend.TransportError{Op: "transcribe", Err: errors.New("connection refused")}
	}
	c, _, _ := newTestController(t, b)
	c.SelectFile(pickedFile())

	unreachable := metrics.StageOutcomesTotal.WithLabelValues(metrics.StageTranscribe, metrics.OutcomeUnreachable)
	before := testutil.ToFloat64(unreachable)

	st, _ := c.Process(ctx)

	want := "Network error or server not responding during transcription: connection refused"
	if got := st.Transcript.Display(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := testutil.ToFloat64(unreachable) - before; got != 1 {
		t.Errorf("expected 1 unreachable outcome, got %v", got)
	}
	if _, summarizeCalls := b.calls(); summarizeCalls != 0 {
		t.Errorf("expected no summarization call, got %d", summarizeCalls)
	}
}

func TestController_ProcessWithoutSource(t *testing.T) {
	b := replying("t", "s")
	c, _, _ := newTestController(t, b)

	st, err := c.Process(ctx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if st.Phase != PhaseIdle {
		t.Errorf("expected phase %s, got %s", PhaseIdle, st.Phase)
	}
	if st.CanProcess {
		t.Error("expected processing disabled without audio")
	}
	if transcribeCalls, _ := b.calls(); transcribeCalls != 0 {
		t.Errorf("expected no backend calls, got %d", transcribeCalls)
	}
}

func TestController_CommitRequiresResultsAndName(t *testing.T) {
	c, store, _ := newTestController(t, replying("hello world", "Greeting exchanged."))

	if _, err := c.CommitToStore(ctx, "Standup"); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("expected ErrNothingToSave before processing, got %v", err)
	}

	c.SelectFile(pickedFile())
	c.Process(ctx)

	for _, name := range []string{"", "   "} {
		if _, err := c.CommitToStore(ctx, name); !errors.Is(err, ErrNameRequired) {
			t.Errorf("expected ErrNameRequired for %q, got %v", name, err)
		}
	}

	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected store unchanged, got %d meetings", n)
	}
}

func TestController_CommitRejectsEmptyTranscript(t *testing.T) {
	c, store, _ := newTestController(t, replying("", "nothing said"))
	c.SelectFile(pickedFile())
	c.Process(ctx)

	if _, err := c.CommitToStore(ctx, "Standup"); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("expected ErrNothingToSave, got %v", err)
	}
	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected store unchanged, got %d meetings", n)
	}
}

func TestController_SelectFile(t *testing.T) {
	c, _, _ := newTestController(t, replying("t", "s"))

	st := c.SelectFile(pickedFile())
	if st.Phase != PhaseReadyToProcess {
		t.Errorf("expected phase %s, got %s", PhaseReadyToProcess, st.Phase)
	}
	if !st.CanProcess {
		t.Error("expected processing enabled")
	}
	if st.Source == nil || st.Source.FileName != "weekly.mp3" {
		t.Errorf("expected source info for weekly.mp3, got %+v", st.Source)
	}

	c.Process(ctx)
	st = c.SelectFile(pickedFile())
	if st.Transcript.Display() != "" || st.Summary.Display() != "" {
		t.Error("expected results cleared by new file")
	}

	st = c.SelectFile(nil)
	if st.Phase != PhaseIdle {
		t.Errorf("expected phase %s, got %s", PhaseIdle, st.Phase)
	}
	if st.CanProcess || st.Source != nil {
		t.Error("expected no audio and processing disabled")
	}
}

func TestController_RecordingLifecycle(t *testing.T) {
	c, _, device := newTestController(t, replying("t", "s"))

	st, err := c.StartRecording(ctx)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if st.Phase != PhaseRecording || !st.CanStop || st.CanRecord {
		t.Errorf("unexpected recording state %+v", st)
	}

	st, err = c.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if st.Phase != PhaseReadyToProcess {
		t.Errorf("expected phase %s, got %s", PhaseReadyToProcess, st.Phase)
	}
	if st.Source == nil || st.Source.MediaType != "audio/webm" {
		t.Errorf("expected recorded source, got %+v", st.Source)
	}
	if !device.captures[0].stopped {
		t.Error("expected capture to be stopped")
	}

	if _, err := c.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("expected ErrNotRecording, got %v", err)
	}
}

func TestController_StartRecordingReleasesPrevious(t *testing.T) {
	device := &fakeDevice{}
	c := NewController(replying("t", "s"), newTestStore(t), audio.Exclusive(device))
	defer c.Close()

	if _, err := c.StartRecording(ctx); err != nil {
		t.Fatalf("first StartRecording failed: %v", err)
	}
	if _, err := c.StartRecording(ctx); err != nil {
		t.Fatalf("second StartRecording failed: %v", err)
	}

	if len(device.captures) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(device.captures))
	}
	if !device.captures[0].closed {
		t.Error("expected first capture to be released")
	}
	if device.captures[1].closed {
		t.Error("expected second capture to stay open")
	}
}

func TestController_DeviceUnavailable(t *testing.T) {
	c, _, device := newTestController(t, replying("t", "s"))
	c.SelectFile(pickedFile())

	device.err = errors.New("permission denied")
	st, err := c.StartRecording(ctx)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}

	if st.Phase != PhaseReadyToProcess {
		t.Errorf("expected session unaffected in %s, got %s", PhaseReadyToProcess, st.Phase)
	}
	if st.Source == nil {
		t.Error("expected audio source kept")
	}
}

func TestController_DeviceBusyAcrossSessions(t *testing.T) {
	device := audio.Exclusive(&fakeDevice{})
	store := newTestStore(t)
	a := NewController(replying("t", "s"), store, device)
	b := NewController(replying("t", "s"), store, device)
	defer a.Close()
	defer b.Close()

	if _, err := a.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	_, err := b.StartRecording(ctx)
	if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, audio.ErrDeviceBusy) {
		t.Errorf("expected busy device error, got %v", err)
	}
}

func TestController_ViewHistoryItem(t *testing.T) {
	c, store, _ := newTestController(t, replying("hello world", "Greeting exchanged."))
	c.SelectFile(pickedFile())
	c.Process(ctx)
	saved, _ := c.CommitToStore(ctx, "Standup")

	st, err := c.ViewHistoryItem(ctx, saved.ID)
	if err != nil {
		t.Fatalf("ViewHistoryItem failed: %v", err)
	}
	if st.Phase != PhaseViewingHistoryItem {
		t.Errorf("expected phase %s, got %s", PhaseViewingHistoryItem, st.Phase)
	}
	if st.ViewingMeetingID != saved.ID {
		t.Errorf("expected viewing %s, got %s", saved.ID, st.ViewingMeetingID)
	}
	if st.CanProcess {
		t.Error("expected processing disabled while viewing")
	}
	if !st.CanSave {
		t.Error("expected save-as-new enabled while viewing")
	}
	if st.Transcript.Text != "hello world" || st.Summary.Text != "Greeting exchanged." {
		t.Errorf("unexpected view content %+v %+v", st.Transcript, st.Summary)
	}

	if _, err := c.CommitToStore(ctx, "Standup copy"); err != nil {
		t.Fatalf("save-as-new failed: %v", err)
	}
	if n := len(listMeetings(t, store)); n != 2 {
		t.Errorf("expected 2 meetings, got %d", n)
	}

	if _, err := c.ViewHistoryItem(ctx, "missing"); !errors.Is(err, ErrMeetingNotFound) {
		t.Errorf("expected ErrMeetingNotFound, got %v", err)
	}
}

func TestController_DeleteViewedMeetingResets(t *testing.T) {
	c, store, _ := newTestController(t, replying("hello world", "Greeting exchanged."))
	c.SelectFile(pickedFile())
	c.Process(ctx)
	first, _ := c.CommitToStore(ctx, "Same name")
	second, _ := c.CommitToStore(ctx, "Same name")

	c.ViewHistoryItem(ctx, first.ID)

	// A meeting with the same name but a different id leaves the view alone.
	st, err := c.DeleteMeeting(ctx, second.ID)
	if err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if st.Phase != PhaseViewingHistoryItem {
		t.Errorf("expected view kept, got phase %s", st.Phase)
	}

	st, err = c.DeleteMeeting(ctx, first.ID)
	if err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if st.Phase != PhaseIdle {
		t.Errorf("expected phase %s, got %s", PhaseIdle, st.Phase)
	}
	if st.Transcript.Display() != "" || st.Summary.Display() != "" {
		t.Error("expected display cleared")
	}
	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected 0 meetings, got %d", n)
	}
}

func TestController_ClearMeetingsResets(t *testing.T) {
	c, store, _ := newTestController(t, replying("hello world", "Greeting exchanged."))
	c.SelectFile(pickedFile())
	c.Process(ctx)
	c.CommitToStore(ctx, "Standup")

	st, err := c.ClearMeetings(ctx)
	if err != nil {
		t.Fatalf("ClearMeetings failed: %v", err)
	}
	if st.Phase != PhaseIdle || st.Source != nil {
		t.Errorf("expected idle session, got %+v", st)
	}
	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected 0 meetings, got %d", n)
	}
}

func TestController_StaleResultDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := replying("", "summary")
	b.transcribe = func(ctx context.Context, src audio.Source) (string, error) {
		if string(src.Data) == "file-bytes" {
			close(entered)
			<-release
			return "stale transcript", nil
		}
		return "fresh transcript", nil
	}
	c, _, _ := newTestController(t, b)
	c.SelectFile(pickedFile())

	done := make(chan State)
	go func() {
		st, _ := c.Process(ctx)
		done <- st
	}()

	<-entered
	c.StartRecording(ctx)
	c.StopRecording()
	close(release)
	<-done

	st := c.State()
	if st.Phase != PhaseReadyToProcess {
		t.Errorf("expected new session in %s, got %s", PhaseReadyToProcess, st.Phase)
	}
	if st.Transcript.Display() != "" {
		t.Errorf("expected stale transcript discarded, got %q", st.Transcript.Display())
	}
	if _, summarizeCalls := b.calls(); summarizeCalls != 0 {
		t.Errorf("expected stale run to stop before summarizing, got %d calls", summarizeCalls)
	}

	st, _ = c.Process(ctx)
	if st.Transcript.Text != "fresh transcript" {
		t.Errorf("expected fresh transcript, got %q", st.Transcript.Text)
	}
}

func TestController_DefaultMeetingName(t *testing.T) {
	c, _, _ := newTestController(t, replying("t", "s"))

	if got := c.DefaultMeetingName(); got != "Meeting 2024-05-17" {
		t.Errorf("expected 'Meeting 2024-05-17', got %q", got)
	}

	c.SelectFile(pickedFile())
	if got := c.DefaultMeetingName(); got != "weekly.mp3" {
		t.Errorf("expected file name, got %q", got)
	}
}

func TestController_ChangeListener(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	var last uint64
	listener := func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Revision <= last {
			t.Errorf("expected increasing revision, got %d after %d", st.Revision, last)
		}
		last = st.Revision
		phases = append(phases, st.Phase)
	}

	c, _, _ := newTestController(t, replying("t", "s"), WithChangeListener(listener))
	c.SelectFile(pickedFile())
	c.Process(ctx)

	want := []Phase{
		PhaseReadyToProcess,
		PhaseProcessingTranscription,
		PhaseProcessingSummarization,
		PhaseReadyToSave,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(phases) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %v", len(want), len(phases), phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("notification %d: expected %s, got %s", i, want[i], phases[i])
		}
	}
}

func TestOutcome_Display(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{"empty", Outcome{}, ""},
		{"success", Succeeded("hello"), "hello"},
		{"transcription", Failed(TranscriptionFailed, "model overloaded", false), "Error transcribing: model overloaded"},
		{"transcription network", Failed(TranscriptionFailed, "timeout", true), "Network error or server not responding during transcription: timeout"},
		{"summarization", Failed(SummarizationFailed, "bad", false), "Error summarizing: bad"},
		{"summarization network", Failed(SummarizationFailed, "EOF", true), "Network error or server not responding during summarization: EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Display(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOutcome_FailureNeverSavable(t *testing.T) {
	o := Outcome{Text: "partial", Failure: &Failure{Kind: TranscriptionFailed, Message: "x"}}
	if o.OK() {
		t.Error("expected failure with text to be unsavable")
	}
}

func TestOutcome_JSON(t *testing.T) {
	data, err := json.Marshal(Failed(TranscriptionFailed, "model overloaded", false))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var wire map[string]any
	json.Unmarshal(data, &wire)
	if wire["display"] != "Error transcribing: model overloaded" {
		t.Errorf("unexpected display %v", wire["display"])
	}
	if _, ok := wire["text"]; ok {
		t.Error("expected no text field for failure")
	}

	var back Outcome
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Failure == nil || back.Failure.Message != "model overloaded" {
		t.Errorf("unexpected decoded outcome %+v", back)
	}
}

func TestController_StaleSummaryDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := replying("stale transcript", "")
	b.summarize = func(ctx context.Context, transcript string) (string, error) {
		close(entered)
		<-release
		return "stale summary", nil
	}
	c, store, _ := newTestController(t, b)
	c.SelectFile(pickedFile())

	stale := testutil.ToFloat64(metrics.StaleResultsTotal.WithLabelValues(metrics.StageSummarize))

	done := make(chan State)
	go func() {
		st, _ := c.Process(ctx)
		done <- st
	}()

	<-entered
	c.SelectFile(&audio.Source{Data: []byte("other-bytes"), FileName: "retro.mp3"})
	close(release)
	<-done

	st := c.State()
	if st.Phase != PhaseReadyToProcess {
		t.Errorf("expected new session in %s, got %s", PhaseReadyToProcess, st.Phase)
	}
	if st.Transcript.Display() != "" || st.Summary.Display() != "" {
		t.Errorf("expected stale results discarded, got %+v %+v", st.Transcript, st.Summary)
	}
	if st.Source == nil || st.Source.FileName != "retro.mp3" {
		t.Errorf("expected retro.mp3 selected, got %+v", st.Source)
	}
	if st.CanSave {
		t.Error("expected save disabled for the new session")
	}
	if got := testutil.ToFloat64(metrics.StaleResultsTotal.WithLabelValues(metrics.StageSummarize)) - stale; got != 1 {
		t.Errorf("expected 1 stale summary, got %v", got)
	}
	if n := len(listMeetings(t, store)); n != 0 {
		t.Errorf("expected nothing saved, got %d meetings", n)
	}
}

func TestController_OpenDoesNotBlockState(t *testing.T) {
	device := &slowDevice{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewController(replying("t", "s"), newTestStore(t), device)
	defer c.Close()

	type result struct {
		st  State
		err error
	}
	done := make(chan result)
	go func() {
		st, err := c.StartRecording(ctx)
		done <- result{st, err}
	}()

	<-device.entered
	got := make(chan State)
	go func() { got <- c.State() }()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("State blocked while the device was opening")
	}

	c.SelectFile(pickedFile())
	close(device.release)
	res := <-done

	if !errors.Is(res.err, ErrSessionChanged) {
		t.Fatalf("expected ErrSessionChanged, got %v", res.err)
	}
	if res.st.Phase != PhaseReadyToProcess {
		t.Errorf("expected picked file kept in %s, got %s", PhaseReadyToProcess, res.st.Phase)
	}
	if len(device.captures) != 1 || !device.captures[0].isClosed() {
		t.Error("expected the late capture to be released")
	}
}

func TestController_DeleteCountsOnlyRemovals(t *testing.T) {
	c, _, _ := newTestController(t, replying("hello world", "Greeting exchanged."))
	c.SelectFile(pickedFile())
	c.Process(ctx)
	saved, _ := c.CommitToStore(ctx, "Standup")

	deleted := metrics.MeetingsDeletedTotal.WithLabelValues("single")
	before := testutil.ToFloat64(deleted)

	if _, err := c.DeleteMeeting(ctx, "missing"); err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if got := testutil.ToFloat64(deleted) - before; got != 0 {
		t.Errorf("expected no deletion counted for unknown id, got %v", got)
	}

	if _, err := c.DeleteMeeting(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if got := testutil.ToFloat64(deleted) - before; got != 1 {
		t.Errorf("expected 1 deletion counted, got %v", got)
	}
}
