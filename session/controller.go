// Package session drives one meeting from audio to a saved record.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joules/server/audio"
	"github.com/joules/server/backend"
	"github.com/joules/server/logger"
	"github.com/joules/server/meeting"
	"github.com/joules/server/metrics"
)

var (
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	ErrNotRecording      = errors.New("not recording")
	ErrNothingToSave     = errors.New("transcript and summary must both succeed before saving")
	ErrNameRequired      = errors.New("meeting name required")
	ErrMeetingNotFound   = errors.New("meeting not found")
	ErrSessionChanged    = errors.New("session changed while the device was busy")
)

// Backend runs the two remote processing stages.
type Backend interface {
	Transcribe(ctx context.Context, src audio.Source) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

var _ Backend = (*backend.Client)(nil)

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithChangeListener registers fn to receive a snapshot after every state
// change. fn runs outside the controller lock; snapshots from concurrent
// operations may arrive out of order, so receivers should compare Revision.
func WithChangeListener(fn func(State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller owns one session. Each new recording, file selection or
// history view starts a new generation; stage results issued for an older
// generation are dropped.
type Controller struct {
	backend  Backend
	store    meeting.Store
	device   audio.Device
	now      func() time.Time
	log      *slog.Logger
	onChange func(State)

	mu         sync.Mutex
	generation uint64
	revision   uint64
	phase      Phase
	source     *audio.Source
	capture    audio.Capture
	transcript Outcome
	summary    Outcome
	viewingID  string
}

func NewController(b Backend, store meeting.Store, device audio.Device, opts ...Option) *Controller {
	c := &Controller{
		backend: b,
		store:   store,
		device:  device,
		now:     time.Now,
		log:     slog.Default(),
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Revision:         c.revision,
		Phase:            c.phase,
		Transcript:       c.transcript,
		Summary:          c.summary,
		ViewingMeetingID: c.viewingID,
		DefaultName:      c.defaultNameLocked(),
		CanRecord:        c.phase != PhaseRecording,
		CanStop:          c.phase == PhaseRecording,
		CanProcess:       c.source != nil && (c.phase == PhaseReadyToProcess || c.phase == PhaseReadyToSave),
		CanSave:          !c.phase.processing() && c.transcript.OK() && c.summary.OK(),
	}
	if c.source != nil {
		info := c.source.Info()
		st.Source = &info
	}
	return st
}

// DefaultMeetingName is the name offered when saving: the picked file's
// name, or "Meeting <date>" for recordings.
func (c *Controller) DefaultMeetingName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultNameLocked()
}

func (c *Controller) defaultNameLocked() string {
	if c.source != nil && c.source.FileName != "" {
		return c.source.FileName
	}
	return "Meeting " + c.now().Format("2006-01-02")
}

// changedLocked bumps the revision and returns the snapshot to publish once
// the lock is released.
func (c *Controller) changedLocked() State {
	c.revision++
	return c.stateLocked()
}

func (c *Controller) publish(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

// resetLocked starts a new generation in the given phase with no audio
// and no results.
func (c *Controller) resetLocked(phase Phase) {
	c.generation++
	c.phase = phase
	c.source = nil
	c.transcript = Outcome{}
	c.summary = Outcome{}
	c.viewingID = ""
}

// takeCaptureLocked detaches the session's capture. The caller releases it
// after dropping the lock.
func (c *Controller) takeCaptureLocked() audio.Capture {
	capture := c.capture
	if capture == nil {
		return nil
	}
	c.capture = nil
	metrics.ActiveCaptures.Dec()
	if c.phase == PhaseRecording {
		c.resetLocked(PhaseIdle)
	}
	return capture
}

func (c *Controller) release(capture audio.Capture) {
	if capture == nil {
		return
	}
	if err := capture.Close(); err != nil {
		c.log.Warn("failed to release capture", "error", err)
	}
}

// StartRecording releases any capture this session holds and opens the
// device. On failure the session keeps its audio and results. If another
// operation replaces the session while the device is opening, the new
// capture is released and ErrSessionChanged is returned.
func (c *Controller) StartRecording(ctx context.Context) (State, error) {
	c.mu.Lock()
	prev := c.takeCaptureLocked()
	gen := c.generation
	c.mu.Unlock()
	c.release(prev)

	capture, err := c.device.Open(ctx)

	c.mu.Lock()
	if err != nil {
		st := c.changedLocked()
		c.mu.Unlock()
		c.publish(st)
		metrics.DeviceFailuresTotal.Inc()
		c.log.Warn("failed to open capture device", "error", err)
		return st, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if c.generation != gen {
		st := c.stateLocked()
		c.mu.Unlock()
		c.release(capture)
		c.log.Info("discarding capture opened for a replaced session")
		return st, ErrSessionChanged
	}

	c.resetLocked(PhaseRecording)
	c.capture = capture
	metrics.ActiveCaptures.Inc()
	st := c.changedLocked()
	c.mu.Unlock()

	c.publish(st)
	c.log.Info("recording started")
	return st, nil
}

// StopRecording finalizes the capture into the session's audio source.
func (c *Controller) StopRecording() (State, error) {
	c.mu.Lock()
	if c.capture == nil {
		st := c.stateLocked()
		c.mu.Unlock()
		return st, ErrNotRecording
	}

	capture := c.capture
	c.capture = nil
	metrics.ActiveCaptures.Dec()
	gen := c.generation
	c.mu.Unlock()

	src, err := capture.Stop()

	c.mu.Lock()
	if c.generation != gen {
		st := c.stateLocked()
		c.mu.Unlock()
		c.log.Info("discarding recording finalized for a replaced session")
		return st, ErrSessionChanged
	}
	if err != nil {
		c.resetLocked(PhaseIdle)
		st := c.changedLocked()
		c.mu.Unlock()
		c.publish(st)
		return st, fmt.Errorf("finalize recording: %w", err)
	}

	c.source = &src
	c.phase = PhaseReadyToProcess
	st := c.changedLocked()
	c.mu.Unlock()

	c.publish(st)
	c.log.Info("recording stopped", "bytes", len(src.Data))
	return st, nil
}

// SelectFile replaces the session with one holding src. A nil src resets
// the session to idle.
func (c *Controller) SelectFile(src *audio.Source) State {
	c.mu.Lock()
	prev := c.takeCaptureLocked()

	if src == nil || len(src.Data) == 0 {
		c.resetLocked(PhaseIdle)
	} else {
		picked := *src
		c.resetLocked(PhaseReadyToProcess)
		c.source = &picked
	}
	st := c.changedLocked()
	c.mu.Unlock()

	c.release(prev)
	c.publish(st)
	return st
}

// Process runs transcription then summarization on the session's audio.
// Without audio it does nothing. A failed transcription skips
// summarization. Stage results are applied only while the generation they
// were issued for is still current.
func (c *Controller) Process(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.source == nil || (c.phase != PhaseReadyToProcess && c.phase != PhaseReadyToSave) {
		st := c.stateLocked()
		c.mu.Unlock()
		return st, nil
	}

	gen := c.generation
	src := *c.source
	c.transcript = Outcome{}
	c.summary = Outcome{}
	c.phase = PhaseProcessingTranscription
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	log := c.log.With("generation", gen)
	log.Info("transcribing", "bytes", len(src.Data), "mediaType", src.MediaType)

	text, err := timed(metrics.StageTranscribe, func() (string, error) {
		return c.backend.Transcribe(ctx, src)
	})

	c.mu.Lock()
	if c.generation != gen {
		st := c.stateLocked()
		c.mu.Unlock()
		metrics.StaleResultsTotal.WithLabelValues(metrics.StageTranscribe).Inc()
		log.Info("discarding stale transcription result")
		return st, nil
	}
	if err != nil {
		c.transcript = failure(TranscriptionFailed, err)
		c.phase = PhaseReadyToSave
		st := c.changedLocked()
		c.mu.Unlock()
		c.publish(st)
		log.Warn("transcription failed", "error", err)
		return st, nil
	}

	c.transcript = Succeeded(text)
	c.phase = PhaseProcessingSummarization
	st = c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	log.Info("summarizing", "transcriptLength", len(text))

	summary, err := timed(metrics.StageSummarize, func() (string, error) {
		return c.backend.Summarize(ctx, text)
	})

	c.mu.Lock()
	if c.generation != gen {
		st := c.stateLocked()
		c.mu.Unlock()
		metrics.StaleResultsTotal.WithLabelValues(metrics.StageSummarize).Inc()
		log.Info("discarding stale summarization result")
		return st, nil
	}
	if err != nil {
		c.summary = failure(SummarizationFailed, err)
		log.Warn("summarization failed", "error", err)
	} else {
		c.summary = Succeeded(summary)
	}
	c.phase = PhaseReadyToSave
	st = c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
	return st, nil
}

func timed(stage string, call func() (string, error)) (string, error) {
	start := time.Now()
	text, err := call()
	metrics.StageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))

	outcome := metrics.OutcomeSuccess
	switch {
	case backend.IsTransport(err):
		outcome = metrics.OutcomeUnreachable
	case err != nil:
		outcome = metrics.OutcomeFailure
	}
	metrics.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	return text, err
}

func failure(kind ErrorKind, err error) Outcome {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return Failed(kind, apiErr.Message, false)
	}
	var te *backend.TransportError
	if errors.As(err, &te) {
		return Failed(kind, te.Err.Error(), true)
	}
	return Failed(kind, err.Error(), true)
}

// CommitToStore saves the session's results as a new meeting. Nothing is
// written unless both stages succeeded and name is non-blank.
func (c *Controller) CommitToStore(ctx context.Context, name string) (meeting.Meeting, error) {
	name = strings.TrimSpace(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase.processing() || !c.transcript.OK() || !c.summary.OK() {
		return meeting.Meeting{}, ErrNothingToSave
	}
	if name == "" {
		return meeting.Meeting{}, ErrNameRequired
	}

	m, err := meeting.New(name, c.transcript.Text, c.summary.Text, c.now())
	if err != nil {
		return meeting.Meeting{}, err
	}
	if err := c.store.Save(ctx, m); err != nil {
		return meeting.Meeting{}, fmt.Errorf("save meeting: %w", err)
	}

	metrics.MeetingsSavedTotal.Inc()
	c.log.Info("meeting saved", "meetingId", m.ID, "name", logger.Truncate(m.Name, 80))
	return m, nil
}

// ViewHistoryItem shows a saved meeting. The session's audio is discarded,
// so it cannot be processed again, but it may be saved as a new meeting.
func (c *Controller) ViewHistoryItem(ctx context.Context, id string) (State, error) {
	if err := ctx.Err(); err != nil {
		return c.State(), err
	}
	m, found, err := c.store.Get(id)
	if err != nil {
		return c.State(), fmt.Errorf("get meeting: %w", err)
	}
	if !found {
		return c.State(), fmt.Errorf("%w: %s", ErrMeetingNotFound, id)
	}

	c.mu.Lock()
	prev := c.takeCaptureLocked()
	c.resetLocked(PhaseViewingHistoryItem)
	c.transcript = Succeeded(m.Transcript)
	c.summary = Succeeded(m.Summary)
	c.viewingID = m.ID
	st := c.changedLocked()
	c.mu.Unlock()

	c.release(prev)
	c.publish(st)
	return st, nil
}

// DeleteMeeting removes a saved meeting. If it is the one being viewed the
// session resets to idle.
func (c *Controller) DeleteMeeting(ctx context.Context, id string) (State, error) {
	removed, err := c.store.Delete(ctx, id)
	if err != nil {
		return c.State(), fmt.Errorf("delete meeting: %w", err)
	}
	if removed {
		metrics.MeetingsDeletedTotal.WithLabelValues("single").Inc()
	}
	return c.ForgetMeeting(id), nil
}

// ForgetMeeting resets the session if it is viewing id. Used when a meeting
// is deleted outside this controller.
func (c *Controller) ForgetMeeting(id string) State {
	c.mu.Lock()
	if c.phase != PhaseViewingHistoryItem || c.viewingID != id {
		st := c.stateLocked()
		c.mu.Unlock()
		return st
	}
	c.resetLocked(PhaseIdle)
	st := c.changedLocked()
	c.mu.Unlock()

	c.publish(st)
	return st
}

// ClearMeetings removes every saved meeting and resets the session.
func (c *Controller) ClearMeetings(ctx context.Context) (State, error) {
	if err := c.store.Clear(ctx); err != nil {
		return c.State(), fmt.Errorf("clear meetings: %w", err)
	}
	metrics.MeetingsDeletedTotal.WithLabelValues("clear").Inc()

	c.mu.Lock()
	prev := c.takeCaptureLocked()
	c.resetLocked(PhaseIdle)
	st := c.changedLocked()
	c.mu.Unlock()

	c.release(prev)
	c.publish(st)
	return st, nil
}

// Close releases any capture device the session holds.
func (c *Controller) Close() {
	c.mu.Lock()
	capture := c.capture
	if capture != nil {
		c.capture = nil
		metrics.ActiveCaptures.Dec()
	}
	c.generation++
	c.mu.Unlock()

	c.release(capture)
}
