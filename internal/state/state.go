package state

import (
	"sort"
	"sync"
	"time"

	"clusterwatch/internal/poll"
	"clusterwatch/internal/queue"
	"clusterwatch/internal/tracking"
)

// LogEntry holds a single log entry.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Label     string    `json:"label"`
	Message   string    `json:"message"`
}

// QueueInfo holds the last successfully decoded scheduler view.
type QueueInfo struct {
	View    *queue.View `json:"view"`
	Updated time.Time   `json:"updated"`
}

// TrackingInfo holds the rendered tracking table. Revision only changes when
// the whole table must be redrawn; appends and patches travel separately.
// RowsRevision is the model revision Rows reflect, letting a client that
// missed an incremental update notice it.
type TrackingInfo struct {
	Rows         []tracking.Row `json:"rows"`
	Updated      time.Time      `json:"updated"`
	Revision     uint64         `json:"revision"`
	RowsRevision uint64         `json:"rowsRevision"`
}

// SnapshotData holds a point-in-time copy of AppState for JSON serialization.
type SnapshotData struct {
	Upstream string        `json:"upstream"`
	Version  string        `json:"version"`
	Queues   QueueInfo     `json:"queues"`
	Tracking TrackingInfo  `json:"tracking"`
	Polls    []poll.Status `json:"polls"`
	Logs     []LogEntry    `json:"logs"`
}

// AppState holds all shared state for the dashboard.
type AppState struct {
	mu               sync.RWMutex
	upstream         string
	version          string
	queues           QueueInfo
	model            *tracking.Model
	trackingRevision uint64
	polls            map[poll.View]poll.Status
	logs             []LogEntry
	maxLogs          int
	changeCh         chan struct{} // Sent on every state mutation
}

// New creates a new AppState with a max log buffer size. The tracking rows
// are read from model on every snapshot.
func New(maxLogs int, upstream, version string, model *tracking.Model) *AppState {
	return &AppState{
		maxLogs:  maxLogs,
		upstream: upstream,
		version:  version,
		model:    model,
		polls:    map[poll.View]poll.Status{},
		logs:     []LogEntry{},
		changeCh: make(chan struct{}, 1),
	}
}

// notifyChange does a non-blocking send on changeCh to signal a state mutation.
// Must be called while NOT holding mu (the receiver in the web layer will re-read state).
func (s *AppState) notifyChange() {
	select {
	case s.changeCh <- struct{}{}:
	default:
	}
}

// ChangeCh returns a channel that receives a value whenever the state changes.
func (s *AppState) ChangeCh() <-chan struct{} {
	return s.changeCh
}

// SetQueueView installs a freshly built scheduler view.
func (s *AppState) SetQueueView(view *queue.View) {
	s.mu.Lock()
	s.queues = QueueInfo{View: view, Updated: time.Now().UTC()}
	s.mu.Unlock()
	s.notifyChange()
}

// QueueView returns the last scheduler view, or nil before the first fetch.
func (s *AppState) QueueView() *queue.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues.View
}

// BumpTracking marks the tracking table for a full redraw.
func (s *AppState) BumpTracking() {
	s.mu.Lock()
	s.trackingRevision++
	s.mu.Unlock()
	s.notifyChange()
}

// TrackingRevision returns the current full-redraw revision.
func (s *AppState) TrackingRevision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackingRevision
}

// SetPollStatus records the latest status of a view's polling loop.
func (s *AppState) SetPollStatus(st poll.Status) {
	s.mu.Lock()
	s.polls[st.View] = st
	s.mu.Unlock()
	s.notifyChange()
}

// AddLog appends a log entry, trimming old entries if needed.
func (s *AppState) AddLog(level, label, message string) {
	s.mu.Lock()
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Label:     label,
		Message:   message,
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > s.maxLogs {
		s.logs = s.logs[len(s.logs)-s.maxLogs:]
	}
	s.mu.Unlock()
	s.notifyChange()
}

// Snapshot returns a copy of the current state for JSON serialization.
func (s *AppState) Snapshot() SnapshotData {
	var info TrackingInfo
	if s.model != nil {
		info.Rows, info.RowsRevision = s.model.RowsAt()
		info.Updated = s.model.Updated()
	} else {
		info.Rows = []tracking.Row{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	info.Revision = s.trackingRevision

	polls := make([]poll.Status, 0, len(s.polls))
	for _, st := range s.polls {
		polls = append(polls, st)
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].View < polls[j].View })

	logs := make([]LogEntry, len(s.logs))
	copy(logs, s.logs)

	return SnapshotData{
		Upstream: s.upstream,
		Version:  s.version,
		Queues:   s.queues,
		Tracking: info,
		Polls:    polls,
		Logs:     logs,
	}
}
