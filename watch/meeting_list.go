package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joules/server/logger"
	"github.com/joules/server/meeting"
)

const meetingListChanged = "meeting.list.changed"

// listSubscriber is one meeting.list.subscribe call on one connection.
type listSubscriber struct {
	id     string
	connID string
	conn   Notifier
}

// MeetingListWatcher notifies subscribers when the meeting list changes.
// Store events are queued to a channel so the store's lock is never held
// during network I/O.
type MeetingListWatcher struct {
	store   meeting.Store
	eventCh chan meeting.ChangeEvent
	done    chan struct{}
	stop    sync.Once

	subMu sync.RWMutex
	subs  map[string]listSubscriber // by subscription id

	localMu   sync.RWMutex
	locals    map[int]func(meeting.ChangeEvent)
	nextLocal int
}

func NewMeetingListWatcher(store meeting.Store) *MeetingListWatcher {
	w := &MeetingListWatcher{
		store:   store,
		eventCh: make(chan meeting.ChangeEvent, 64),
		done:    make(chan struct{}),
		subs:    make(map[string]listSubscriber),
		locals:  make(map[int]func(meeting.ChangeEvent)),
	}
	store.SetOnChangeListener(w)
	return w
}

func (w *MeetingListWatcher) Start() error {
	go w.eventLoop()
	slog.Info("MeetingListWatcher started")
	return nil
}

func (w *MeetingListWatcher) Stop() {
	w.stop.Do(func() { close(w.done) })
	slog.Info("MeetingListWatcher stopped")
}

func (w *MeetingListWatcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *MeetingListWatcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event := <-w.eventCh:
			w.dispatch(event)
		}
	}
}

func (w *MeetingListWatcher) dispatch(event meeting.ChangeEvent) {
	w.localMu.RLock()
	locals := make([]func(meeting.ChangeEvent), 0, len(w.locals))
	for _, fn := range w.locals {
		locals = append(locals, fn)
	}
	w.localMu.RUnlock()
	for _, fn := range locals {
		runLocal(fn, event)
	}

	subs := w.subscribers()
	if len(subs) == 0 {
		return
	}

	params := meetingListChangedParams{Operation: string(event.Op)}
	switch event.Op {
	case meeting.OperationCreate:
		m := event.Meeting
		params.Meeting = &m
	case meeting.OperationDelete:
		params.MeetingID = event.Meeting.ID
	case meeting.OperationReload:
		params.Meetings, _ = w.store.List()
	}

	for _, sub := range subs {
		params.ID = sub.id
		if err := sub.conn.Notify(context.Background(), meetingListChanged, params); err != nil {
			slog.Debug("failed to notify subscriber", "watchId", sub.id, "error", err)
		}
	}
	slog.Debug("notified meeting list change", "operation", event.Op, "subscribers", len(subs))
}

func (w *MeetingListWatcher) subscribers() []listSubscriber {
	w.subMu.RLock()
	defer w.subMu.RUnlock()

	subs := make([]listSubscriber, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Subscribe registers a subscriber and returns its id with the current
// list.
func (w *MeetingListWatcher) Subscribe(conn Notifier, connID string) (string, []meeting.Meeting, error) {
	sub := listSubscriber{
		id:     generateIDWithPrefix("ml"),
		connID: connID,
		conn:   conn,
	}
	// Subscribe before listing so no change between the two is missed.
	w.subMu.Lock()
	w.subs[sub.id] = sub
	w.subMu.Unlock()

	meetings, err := w.store.List()
	if err != nil {
		w.Unsubscribe(sub.id)
		return "", nil, err
	}

	slog.Debug("meeting list subscription added", "watchId", sub.id, "connId", connID)
	return sub.id, meetings, nil
}

func (w *MeetingListWatcher) Unsubscribe(id string) {
	w.subMu.Lock()
	_, ok := w.subs[id]
	delete(w.subs, id)
	w.subMu.Unlock()

	if ok {
		slog.Debug("meeting list subscription removed", "watchId", id)
	}
}

// CleanupConnection drops every subscription owned by connID and reports
// how many there were.
func (w *MeetingListWatcher) CleanupConnection(connID string) int {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	removed := 0
	for id, sub := range w.subs {
		if sub.connID == connID {
			delete(w.subs, id)
			removed++
		}
	}
	return removed
}

// OnEvent registers an in-process callback run from the event loop for
// every change. The returned func removes it.
func (w *MeetingListWatcher) OnEvent(fn func(meeting.ChangeEvent)) func() {
	w.localMu.Lock()
	key := w.nextLocal
	w.nextLocal++
	w.locals[key] = fn
	w.localMu.Unlock()

	return func() {
		w.localMu.Lock()
		delete(w.locals, key)
		w.localMu.Unlock()
	}
}

func runLocal(fn func(meeting.ChangeEvent), event meeting.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "meeting list callback panicked")
		}
	}()
	fn(event)
}

type meetingListChangedParams struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	Meeting   *meeting.Meeting  `json:"meeting,omitempty"`
	MeetingID string            `json:"meeting_id,omitempty"`
	Meetings  []meeting.Meeting `json:"meetings,omitempty"`
}

// OnMeetingChange implements meeting.OnChangeListener. It runs under the
// store's lock, so it only queues the event.
func (w *MeetingListWatcher) OnMeetingChange(event meeting.ChangeEvent) {
	if w.stopped() {
		return
	}

	select {
	case w.eventCh <- event:
	default:
		slog.Warn("meeting list change event dropped (buffer full)", "operation", event.Op)
	}
}
