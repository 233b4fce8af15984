// Package meeting holds saved meeting records and their durable store.
package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrDuplicateID     = errors.New("duplicate meeting id")
	ErrInvalidMeeting  = errors.New("invalid meeting")
)

// Meeting is one saved transcription and summary. Records are never
// modified after they are saved.
type Meeting struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary"`
	Timestamp  time.Time `json:"timestamp"`
}

// New builds a meeting stamped with now. The id is a UUIDv7, so ids sort
// in creation order.
func New(name, transcript, summary string, now time.Time) (Meeting, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Meeting{}, fmt.Errorf("generate meeting id: %w", err)
	}

	m := Meeting{
		ID:         id.String(),
		Name:       strings.TrimSpace(name),
		Transcript: transcript,
		Summary:    summary,
		Timestamp:  now.UTC(),
	}
	if err := m.Validate(); err != nil {
		return Meeting{}, err
	}
	return m, nil
}

func (m Meeting) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidMeeting)
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidMeeting)
	case m.Transcript == "":
		return fmt.Errorf("%w: empty transcript", ErrInvalidMeeting)
	case m.Summary == "":
		return fmt.Errorf("%w: empty summary", ErrInvalidMeeting)
	case m.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMeeting)
	}
	return nil
}

// Operation names the kind of change a store reports to its listener.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationDelete Operation = "delete"
	OperationClear  Operation = "clear"
	OperationReload Operation = "reload"
)

// ChangeEvent describes one committed store mutation. Meeting carries the
// saved record for create and only the ID for delete.
type ChangeEvent struct {
	Op      Operation
	Meeting Meeting
}

// OnChangeListener receives store changes. It is called while the store
// holds its lock and must not block.
type OnChangeListener interface {
	OnMeetingChange(event ChangeEvent)
}
