package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type Store interface {
	// Memory only
	List() ([]Meeting, error)
	Get(id string) (Meeting, bool, error)

	// With I/O
	Save(ctx context.Context, m Meeting) error
	Delete(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) error
	// Load re-reads the backing slot. A missing or corrupt slot yields an
	// empty collection instead of an error; a failed read keeps what is
	// already cached.
	Load(ctx context.Context) []Meeting

	SetOnChangeListener(listener OnChangeListener)
}

// SlotStore keeps the whole collection in one Slot and caches it in memory.
// Every read-modify-write runs under mu and the slot's own lock, so
// neither goroutines nor other processes sharing the slot lose updates.
type SlotStore struct {
	slot     Slot
	mu       sync.RWMutex
	meetings []Meeting // backing order, newest insert first
	lastData []byte    // last content read from or written to the slot
	listener OnChangeListener
	log      *slog.Logger
}

func NewSlotStore(ctx context.Context, slot Slot) *SlotStore {
	s := &SlotStore{
		slot: slot,
		log:  slog.With("slot", slot.Name()),
	}
	s.Load(ctx)
	return s
}

func (s *SlotStore) Load(ctx context.Context) []Meeting {
	s.mu.Lock()
	changed := s.loadLocked(ctx)
	if changed {
		s.notifyChange(ChangeEvent{Op: OperationReload})
	}
	s.mu.Unlock()

	list, _ := s.List()
	return list
}

// loadLocked reports whether the cached collection was replaced. Once a
// collection is cached, a failed read keeps it.
func (s *SlotStore) loadLocked(ctx context.Context) bool {
	data, err := s.slot.Read(ctx)
	if err != nil {
		if s.meetings != nil {
			s.log.Warn("slot unreadable, keeping cached collection", "error", err)
			return false
		}
		s.log.Warn("slot unreadable, starting with empty collection", "error", err)
		data = nil
	}
	return s.replaceLocked(data)
}

func (s *SlotStore) replaceLocked(data []byte) bool {
	if s.meetings != nil && bytes.Equal(data, s.lastData) {
		return false
	}

	meetings, err := decodeMeetings(data)
	if err != nil {
		s.log.Warn("slot corrupt, starting with empty collection", "error", err)
		meetings = []Meeting{}
	}
	s.meetings = meetings
	s.lastData = data
	return true
}

func decodeMeetings(data []byte) ([]Meeting, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Meeting{}, nil
	}
	var meetings []Meeting
	if err := json.Unmarshal(data, &meetings); err != nil {
		return nil, fmt.Errorf("decode meetings: %w", err)
	}
	if meetings == nil {
		meetings = []Meeting{}
	}
	return meetings, nil
}

// update rewrites the collection under the slot's lock. modify starts from
// what the slot holds now, so writes made by another process since the last
// load are kept. A nil result from modify leaves the slot untouched.
func (s *SlotStore) update(ctx context.Context, modify func(current []Meeting) ([]Meeting, error)) (bool, error) {
	var (
		reloaded  bool
		modifyErr error
		next      []Meeting
		data      []byte
	)
	err := s.slot.Update(ctx, func(current []byte) ([]byte, error) {
		if s.replaceLocked(current) {
			reloaded = true
		}
		next, modifyErr = modify(s.meetings)
		if modifyErr != nil {
			return nil, modifyErr
		}
		if next == nil {
			return nil, errUnchanged
		}
		var err error
		data, err = json.MarshalIndent(next, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode meetings: %w", err)
		}
		return data, nil
	})
	if reloaded {
		s.notifyChange(ChangeEvent{Op: OperationReload})
	}

	switch {
	case errors.Is(err, errUnchanged):
		return false, nil
	case modifyErr != nil:
		return false, modifyErr
	case err != nil:
		return false, fmt.Errorf("write slot: %w", err)
	}
	s.meetings = next
	s.lastData = data
	return true, nil
}

var errUnchanged = errors.New("collection unchanged")

func (s *SlotStore) SetOnChangeListener(listener OnChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

func (s *SlotStore) notifyChange(event ChangeEvent) {
	if s.listener != nil {
		s.listener.OnMeetingChange(event)
	}
}

// List returns the meetings newest first. Meetings with equal timestamps
// keep their backing order.
func (s *SlotStore) List() ([]Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Meeting, len(s.meetings))
	copy(result, s.meetings)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return result, nil
}

func (s *SlotStore) Get(id string) (Meeting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.meetings {
		if m.ID == id {
			return m, true, nil
		}
	}
	return Meeting{}, false, nil
}

func (s *SlotStore) Save(ctx context.Context, m Meeting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.update(ctx, func(current []Meeting) ([]Meeting, error) {
		for _, existing := range current {
			if existing.ID == m.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
			}
		}
		return append([]Meeting{m}, current...), nil
	})
	if err != nil {
		return err
	}

	s.notifyChange(ChangeEvent{Op: OperationCreate, Meeting: m})
	return nil
}

// Delete removes the meeting with the given id and reports whether it was
// there. Deleting an unknown id is not an error and writes nothing.
func (s *SlotStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.update(ctx, func(current []Meeting) ([]Meeting, error) {
		next := make([]Meeting, 0, len(current))
		for _, m := range current {
			if m.ID != id {
				next = append(next, m)
			}
		}
		if len(next) == len(current) {
			return nil, nil
		}
		return next, nil
	})
	if err != nil || !removed {
		return false, err
	}

	s.notifyChange(ChangeEvent{Op: OperationDelete, Meeting: Meeting{ID: id}})
	return true, nil
}

func (s *SlotStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.update(ctx, func([]Meeting) ([]Meeting, error) {
		return []Meeting{}, nil
	}); err != nil {
		return err
	}

	s.notifyChange(ChangeEvent{Op: OperationClear})
	return nil
}
