package session

import (
	"encoding/json"

	"github.com/joules/server/audio"
)

// Phase gates which actions a session currently offers.
type Phase string

const (
	PhaseIdle                    Phase = "idle"
	PhaseRecording               Phase = "recording"
	PhaseReadyToProcess          Phase = "ready_to_process"
	PhaseProcessingTranscription Phase = "processing_transcription"
	PhaseProcessingSummarization Phase = "processing_summarization"
	PhaseReadyToSave             Phase = "ready_to_save"
	PhaseViewingHistoryItem      Phase = "viewing_history_item"
)

func (p Phase) processing() bool {
	return p == PhaseProcessingTranscription || p == PhaseProcessingSummarization
}

type ErrorKind string

const (
	TranscriptionFailed ErrorKind = "transcription_failed"
	SummarizationFailed ErrorKind = "summarization_failed"
)

// Failure is the error variant of an Outcome. Network is set when the
// service could not be reached at all.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Network bool      `json:"network,omitempty"`
}

// Outcome is the result of one processing stage: either text or a Failure.
// The zero value means the stage has not produced anything yet.
type Outcome struct {
	Text    string
	Failure *Failure
}

func Succeeded(text string) Outcome {
	return Outcome{Text: text}
}

func Failed(kind ErrorKind, message string, network bool) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message, Network: network}}
}

// OK reports whether the outcome carries real content that may be saved.
func (o Outcome) OK() bool {
	return o.Failure == nil && o.Text != ""
}

func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// Display renders the outcome the way it is shown to the user.
func (o Outcome) Display() string {
	if o.Failure == nil {
		return o.Text
	}
	f := o.Failure
	switch {
	case f.Kind == TranscriptionFailed && f.Network:
		return "Network error or server not responding during transcription: " + f.Message
	case f.Kind == TranscriptionFailed:
		return "Error transcribing: " + f.Message
	case f.Kind == SummarizationFailed && f.Network:
		return "Network error or server not responding during summarization: " + f.Message
	default:
		return "Error summarizing: " + f.Message
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text    string   `json:"text,omitempty"`
		Error   *Failure `json:"error,omitempty"`
		Display string   `json:"display"`
	}{
		Text:    o.Text,
		Error:   o.Failure,
		Display: o.Display(),
	})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var wire struct {
		Text  string   `json:"text"`
		Error *Failure `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	o.Text, o.Failure = wire.Text, wire.Error
	return nil
}

// State is an immutable snapshot of a session.
type State struct {
	Revision         uint64      `json:"revision"`
	Phase            Phase       `json:"phase"`
	Source           *audio.Info `json:"source,omitempty"`
	Transcript       Outcome     `json:"transcript"`
	Summary          Outcome     `json:"summary"`
	ViewingMeetingID string      `json:"viewing_meeting_id,omitempty"`
	DefaultName      string      `json:"default_name"`

	CanRecord  bool `json:"can_record"`
	CanStop    bool `json:"can_stop"`
	CanProcess bool `json:"can_process"`
	CanSave    bool `json:"can_save"`
}
