package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// View names an independently polled page section.
type View string

const (
	ViewQueues   View = "queues"
	ViewTracking View = "tracking"
)

// Phase is where a view's loop currently is.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScheduled Phase = "scheduled"
	PhaseFetching  Phase = "fetching"
	PhaseStopped   Phase = "stopped"
)

// ErrUnknownView is returned by Refresh for a view that was never started
// or registered.
var ErrUnknownView = errors.New("unknown view")

// FetchFunc retrieves one payload for a view.
type FetchFunc func(ctx context.Context) (any, error)

// DataFunc receives a successfully fetched payload. It must not call Stop
// for its own view.
type DataFunc func(data any)

// Viewport lets the loop keep the reader's scroll position across a redraw.
type Viewport interface {
	ScrollOffset(view View) (float64, bool)
	RestoreScroll(view View, offset float64)
}

// Status is a point-in-time copy of a view's poll state.
type Status struct {
	View        View          `json:"view"`
	Active      bool          `json:"active"`
	Phase       Phase         `json:"phase"`
	Interval    time.Duration `json:"interval"`
	LastSuccess time.Time     `json:"lastSuccess"`
	LastError   string        `json:"lastError,omitempty"`
}

// State is the poll state of one view. It is owned by the Controller and
// only touched under its lock.
type State struct {
	view     View
	active   bool
	phase    Phase
	interval time.Duration
	fetch    FetchFunc
	onData   DataFunc

	timer      *time.Timer
	cancel     context.CancelFunc
	generation uint64

	preservedScroll *float64
	lastSuccess     time.Time
	lastError       string

	// fetching is held from fetch to delivery by both the loop and Refresh,
	// so one view never has two fetches in flight.
	fetching sync.Mutex
	// deliver serializes onData with Stop so that no payload is handed over
	// once Stop has returned.
	deliver sync.Mutex
}

func (s *State) status() Status {
	return Status{
		View:        s.view,
		Active:      s.active,
		Phase:       s.phase,
		Interval:    s.interval,
		LastSuccess: s.lastSuccess,
		LastError:   s.lastError,
	}
}

// Controller runs one self-rescheduling loop per view. A view never has more
// than one fetch in flight: the next timer is armed only after the previous
// fetch settled, and manual refreshes queue behind the loop.
type Controller struct {
	mu       sync.Mutex
	ctx      context.Context
	states   map[View]*State
	viewport Viewport
	onStatus func(Status)
}

// New creates a controller. In-flight fetches are cancelled when ctx is done.
func New(ctx context.Context, viewport Viewport) *Controller {
	return &Controller{
		ctx:      ctx,
		states:   map[View]*State{},
		viewport: viewport,
	}
}

// OnStatus registers a callback invoked after every phase change.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

func (c *Controller) notify(st Status) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Controller) stateLocked(view View) *State {
	st, ok := c.states[view]
	if !ok {
		st = &State{view: view, phase: PhaseIdle}
		c.states[view] = st
	}
	return st
}

// Register sets the handlers of a view without starting its loop, so that
// Refresh can be used while polling is paused.
func (c *Controller) Register(view View, fetch FetchFunc, onData DataFunc) {
	c.mu.Lock()
	st := c.stateLocked(view)
	st.fetch = fetch
	st.onData = onData
	c.mu.Unlock()
}

// Start activates polling of a view every interval. Starting an active view
// restarts it with the new interval and handlers.
func (c *Controller) Start(view View, interval time.Duration, fetch FetchFunc, onData DataFunc) {
	c.mu.Lock()
	st := c.stateLocked(view)
	if st.active {
		c.haltLocked(st)
	}
	st.active = true
	st.interval = interval
	st.fetch = fetch
	st.onData = onData
	c.scheduleLocked(st)
	status := st.status()
	c.mu.Unlock()

	slog.Info("Polling started", "view", view, "interval", interval, "component", "Poll")
	c.notify(status)
}

// Stop deactivates polling of a view. The pending timer is cancelled and an
// in-flight fetch has its context cancelled; its result is discarded.
func (c *Controller) Stop(view View) {
	c.mu.Lock()
	st, ok := c.states[view]
	if !ok || !st.active {
		c.mu.Unlock()
		return
	}
	c.haltLocked(st)
	st.active = false
	st.phase = PhaseStopped
	st.preservedScroll = nil
	status := st.status()
	c.mu.Unlock()

	// Wait out a delivery that already passed its active check.
	st.deliver.Lock()
	st.deliver.Unlock()

	slog.Info("Polling stopped", "view", view, "component", "Poll")
	c.notify(status)
}

// StopAll stops every active view.
func (c *Controller) StopAll() {
	c.mu.Lock()
	views := make([]View, 0, len(c.states))
	for v := range c.states {
		views = append(views, v)
	}
	c.mu.Unlock()
	for _, v := range views {
		c.Stop(v)
	}
}

// Active reports whether a view is polling.
func (c *Controller) Active(view View) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[view]
	return ok && st.active
}

// Statuses returns the state of every known view.
func (c *Controller) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st.status())
	}
	return out
}

func (c *Controller) haltLocked(st *State) {
	st.generation++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

func (c *Controller) scheduleLocked(st *State) {
	gen := st.generation
	view := st.view
	st.phase = PhaseScheduled
	st.timer = time.AfterFunc(st.interval, func() {
		c.fire(view, gen)
	})
}

// current reports whether gen is still the live loop of an active view.
func (c *Controller) current(st *State, gen uint64) bool {
	return st.active && st.generation == gen
}

func (c *Controller) fire(view View, gen uint64) {
	c.mu.Lock()
	st, ok := c.states[view]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.fetching.Lock()
	defer st.fetching.Unlock()

	c.mu.Lock()
	if !c.current(st, gen) {
		c.mu.Unlock()
		return
	}
	st.timer = nil
	if c.viewport != nil {
		if offset, ok := c.viewport.ScrollOffset(view); ok {
			st.preservedScroll = &offset
		}
	}
	ctx, cancel := context.WithCancel(c.ctx)
	st.cancel = cancel
	st.phase = PhaseFetching
	fetch := st.fetch
	status := st.status()
	c.mu.Unlock()
	c.notify(status)

	data, err := fetch(ctx)
	cancel()

	st.deliver.Lock()
	c.mu.Lock()
	if !c.current(st, gen) {
		c.mu.Unlock()
		st.deliver.Unlock()
		slog.Debug("Discarding poll result after stop", "view", view, "component", "Poll")
		return
	}
	st.cancel = nil
	if err != nil {
		st.lastError = err.Error()
		c.scheduleLocked(st)
		status = st.status()
		c.mu.Unlock()
		st.deliver.Unlock()
		slog.Error("Poll failed", "view", view, "error", err, "component", "Poll")
		c.notify(status)
		return
	}
	st.lastSuccess = time.Now().UTC()
	st.lastError = ""
	onData := st.onData
	scroll := st.preservedScroll
	st.preservedScroll = nil
	c.mu.Unlock()

	onData(data)

	c.mu.Lock()
	restore := c.current(st, gen) && scroll != nil && c.viewport != nil
	if c.current(st, gen) {
		c.scheduleLocked(st)
	}
	status = st.status()
	c.mu.Unlock()

	if restore {
		c.viewport.RestoreScroll(view, *scroll)
	}
	st.deliver.Unlock()
	c.notify(status)
}

// Refresh performs one fetch for a view outside its loop, as the manual
// refresh control does. It waits for a loop fetch in flight to settle and
// does not touch the loop's timer.
func (c *Controller) Refresh(ctx context.Context, view View) error {
	c.mu.Lock()
	st, ok := c.states[view]
	if !ok || st.fetch == nil {
		c.mu.Unlock()
		return ErrUnknownView
	}
	c.mu.Unlock()

	st.fetching.Lock()
	defer st.fetching.Unlock()

	c.mu.Lock()
	fetch, onData := st.fetch, st.onData
	c.mu.Unlock()

	data, err := fetch(ctx)
	if err != nil {
		slog.Error("Manual refresh failed", "view", view, "error", err, "component", "Poll")
		return err
	}
	onData(data)
	return nil
}
