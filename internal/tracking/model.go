package tracking

import (
	"sort"
	"sync"
	"time"
)

// EventKind tells the render layer how much of the table changed.
type EventKind string

const (
	// EventReplace means the whole table must be redrawn.
	EventReplace EventKind = "replace"
	// EventAppend carries rows to add at the bottom (or replace in place
	// when the job is already shown).
	EventAppend EventKind = "append"
	// EventPatch carries status text updates for single applications.
	EventPatch EventKind = "patch"
)

// AppRow is one application line inside a job row.
type AppRow struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Row is the rendered form of a tracked job.
type Row struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	LastChecked  time.Time `json:"lastChecked"`
	Applications []AppRow  `json:"applications"`
}

// Patch is a targeted status text update for one application.
type Patch struct {
	JobID         string `json:"job"`
	ApplicationID string `json:"application"`
	Status        string `json:"status"`
}

// Event describes one mutation of the model. Revision is the model revision
// the mutation produced.
type Event struct {
	Kind     EventKind `json:"kind"`
	Revision uint64    `json:"revision"`
	Rows     []Row     `json:"rows,omitempty"`
	Patches  []Patch   `json:"patches,omitempty"`
}

// Model holds the tracked jobs in display order.
type Model struct {
	mu       sync.RWMutex
	jobs     []TrackedJob
	index    map[string]int
	updated  time.Time
	revision uint64
	listener func(Event)
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{index: map[string]int{}}
}

// SetListener registers the function called after every mutation. It runs
// outside the model lock, so mutations racing each other may reach fn out of
// order; Event.Revision gives the order in which they were applied.
func (m *Model) SetListener(fn func(Event)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

func (m *Model) emit(fn func(Event), ev Event) {
	if fn != nil {
		fn(ev)
	}
}

func (m *Model) reindex() {
	m.index = make(map[string]int, len(m.jobs))
	for i, j := range m.jobs {
		m.index[j.ID] = i
	}
}

// Replace discards the current jobs and installs the given list sorted by
// LastChecked, most recent first. Jobs with equal timestamps keep their
// relative order.
func (m *Model) Replace(jobs []TrackedJob) {
	next := make([]TrackedJob, 0, len(jobs))
	for _, j := range jobs {
		next = append(next, j.clone())
	}
	sort.SliceStable(next, func(a, b int) bool {
		return next[a].LastChecked.After(next[b].LastChecked)
	})

	m.mu.Lock()
	m.jobs = next
	m.reindex()
	m.updated = time.Now().UTC()
	m.revision++
	rev := m.revision
	rows := m.rowsLocked()
	fn := m.listener
	m.mu.Unlock()

	m.emit(fn, Event{Kind: EventReplace, Revision: rev, Rows: rows})
}

// Append adds newly tracked jobs after the existing ones without resorting.
// A job that is already present is updated where it stands.
func (m *Model) Append(jobs []TrackedJob) {
	if len(jobs) == 0 {
		return
	}

	m.mu.Lock()
	rows := make([]Row, 0, len(jobs))
	for _, j := range jobs {
		j = j.clone()
		if pos, ok := m.index[j.ID]; ok {
			m.jobs[pos] = j
		} else {
			m.index[j.ID] = len(m.jobs)
			m.jobs = append(m.jobs, j)
		}
		rows = append(rows, toRow(&j))
	}
	m.updated = time.Now().UTC()
	m.revision++
	rev := m.revision
	fn := m.listener
	m.mu.Unlock()

	m.emit(fn, Event{Kind: EventAppend, Revision: rev, Rows: rows})
}

// ApplyLogCopyResult merges copy statuses into the named job. Only the listed
// applications change; others are left as they were. It reports false when
// the job is not tracked.
func (m *Model) ApplyLogCopyResult(jobID string, statuses []ApplicationStatus) bool {
	m.mu.Lock()
	pos, ok := m.index[jobID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	job := &m.jobs[pos]
	if job.Applications == nil {
		job.Applications = map[string]ApplicationStatus{}
	}
	for _, s := range statuses {
		app, exists := job.Applications[s.Application]
		if exists {
			app.Status = s.Status
		} else {
			app = s
		}
		job.Applications[s.Application] = app
	}
	patches := PatchesOf(jobID, statuses)
	var rev uint64
	if len(patches) > 0 {
		m.revision++
		rev = m.revision
	}
	fn := m.listener
	m.mu.Unlock()

	if len(patches) > 0 {
		m.emit(fn, Event{Kind: EventPatch, Revision: rev, Patches: patches})
	}
	return true
}

// Job returns a copy of a tracked job.
func (m *Model) Job(id string) (TrackedJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.index[id]
	if !ok {
		return TrackedJob{}, false
	}
	return m.jobs[pos].clone(), true
}

// Len returns the number of tracked jobs.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Updated returns when the job list last changed by Replace or Append.
func (m *Model) Updated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated
}

// Rows renders the jobs in display order.
func (m *Model) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowsLocked()
}

// Revision counts the mutations applied so far.
func (m *Model) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// RowsAt renders the jobs together with the revision they reflect.
func (m *Model) RowsAt() ([]Row, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowsLocked(), m.revision
}

// RowsOf renders jobs that are not necessarily in the model.
func RowsOf(jobs []TrackedJob) []Row {
	rows := make([]Row, 0, len(jobs))
	for i := range jobs {
		rows = append(rows, toRow(&jobs[i]))
	}
	return rows
}

// PatchesOf turns copy statuses of a job into status text updates.
func PatchesOf(jobID string, statuses []ApplicationStatus) []Patch {
	patches := make([]Patch, 0, len(statuses))
	for _, s := range statuses {
		patches = append(patches, Patch{
			JobID:         jobID,
			ApplicationID: s.Application,
			Status:        statusText(s.Status),
		})
	}
	return patches
}

func (m *Model) rowsLocked() []Row {
	rows := make([]Row, 0, len(m.jobs))
	for i := range m.jobs {
		rows = append(rows, toRow(&m.jobs[i]))
	}
	return rows
}

func toRow(j *TrackedJob) Row {
	row := Row{
		ID:           j.ID,
		Status:       j.Status,
		LastChecked:  j.LastChecked,
		Applications: make([]AppRow, 0, len(j.ApplicationIDs)),
	}
	for _, id := range j.ApplicationIDs {
		row.Applications = append(row.Applications, AppRow{ID: id, Status: j.StatusText(id)})
	}
	return row
}
