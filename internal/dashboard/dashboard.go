package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clusterwatch/internal/gateway"
	"clusterwatch/internal/metrics"
	"clusterwatch/internal/poll"
	"clusterwatch/internal/queue"
	"clusterwatch/internal/state"
	"clusterwatch/internal/tracking"
)

// Upstream is the set of upstream calls the dashboard drives.
type Upstream interface {
	gateway.Upstream
	Scheduler(ctx context.Context) (*queue.Node, error)
	Tracking(ctx context.Context, refresh bool) ([]tracking.TrackedJob, error)
	LogURL(jobID, appID string) string
}

// Pusher receives incremental tracking table updates.
type Pusher interface {
	PushTracking(ev tracking.Event)
}

// Config holds the polling defaults.
type Config struct {
	QueueInterval    time.Duration
	TrackingInterval time.Duration
	TrackingRefresh  bool
}

// Dashboard ties the upstream client, the polling loops, the tracking model
// and the shared state together.
type Dashboard struct {
	cfg      Config
	upstream Upstream
	state    *state.AppState
	model    *tracking.Model
	poller   *poll.Controller
	actions  *gateway.Actions

	mu        sync.Mutex
	intervals map[poll.View]time.Duration
}

// New wires a dashboard. Both views are registered but not polling; use
// StartPolling to activate them. viewport, notifier and pusher may be nil.
func New(ctx context.Context, cfg Config, upstream Upstream, st *state.AppState, model *tracking.Model,
	viewport poll.Viewport, notifier gateway.Notifier, pusher Pusher) *Dashboard {
	d := &Dashboard{
		cfg:      cfg,
		upstream: upstream,
		state:    st,
		model:    model,
		poller:   poll.New(ctx, viewport),
		actions:  gateway.NewActions(upstream, model, notifier),
		intervals: map[poll.View]time.Duration{
			poll.ViewQueues:   cfg.QueueInterval,
			poll.ViewTracking: cfg.TrackingInterval,
		},
	}

	model.SetListener(func(ev tracking.Event) {
		switch ev.Kind {
		case tracking.EventReplace:
			st.BumpTracking()
		default:
			if pusher != nil {
				pusher.PushTracking(ev)
			}
		}
	})
	d.poller.OnStatus(st.SetPollStatus)
	d.poller.Register(poll.ViewQueues, d.fetchQueues, d.applyQueues)
	d.poller.Register(poll.ViewTracking, d.fetchTracking, d.applyTracking)
	for _, v := range []poll.View{poll.ViewQueues, poll.ViewTracking} {
		st.SetPollStatus(poll.Status{View: v, Phase: poll.PhaseIdle, Interval: d.intervals[v]})
	}
	return d
}

func (d *Dashboard) fetchQueues(ctx context.Context) (any, error) {
	start := time.Now()
	root, err := d.upstream.Scheduler(ctx)
	metrics.ObservePoll(string(poll.ViewQueues), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("fetch scheduler: %w", err)
	}

	view := queue.BuildView(root)
	if n := len(view.Duplicates); n > 0 {
		metrics.AddDuplicateQueues(n)
		for _, dup := range view.Duplicates {
			slog.Warn("Duplicate sibling queue name, keeping the last entry", "parent", dup.Parent, "queue", dup.Name, "component", "Dashboard")
		}
	}
	metrics.SetLeafQueues(len(view.Dataset.Names))
	slog.Debug("Scheduler fetched", "leaves", len(view.Dataset.Names), "took", time.Since(start), "component", "Dashboard")
	return &view, nil
}

func (d *Dashboard) applyQueues(data any) {
	d.state.SetQueueView(data.(*queue.View))
}

func (d *Dashboard) fetchTracking(ctx context.Context) (any, error) {
	start := time.Now()
	jobs, err := d.upstream.Tracking(ctx, d.cfg.TrackingRefresh)
	metrics.ObservePoll(string(poll.ViewTracking), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("fetch tracking: %w", err)
	}
	slog.Debug("Tracking list fetched", "jobs", len(jobs), "took", time.Since(start), "component", "Dashboard")
	return jobs, nil
}

func (d *Dashboard) applyTracking(data any) {
	jobs := data.([]tracking.TrackedJob)
	d.model.Replace(jobs)
	metrics.SetTrackedJobs(len(jobs))
}

func knownView(view poll.View) bool {
	return view == poll.ViewQueues || view == poll.ViewTracking
}

// StartPolling activates a view's loop. A non-positive interval keeps the
// view's last interval.
func (d *Dashboard) StartPolling(view poll.View, interval time.Duration) error {
	if !knownView(view) {
		return poll.ErrUnknownView
	}
	d.mu.Lock()
	if interval <= 0 {
		interval = d.intervals[view]
	}
	d.intervals[view] = interval
	d.mu.Unlock()

	fetch, apply := d.fetchQueues, d.applyQueues
	if view == poll.ViewTracking {
		fetch, apply = d.fetchTracking, d.applyTracking
	}
	d.poller.Start(view, interval, fetch, apply)
	return nil
}

// StopPolling halts a view's loop.
func (d *Dashboard) StopPolling(view poll.View) error {
	if !knownView(view) {
		return poll.ErrUnknownView
	}
	d.poller.Stop(view)
	return nil
}

// StopAll halts every loop.
func (d *Dashboard) StopAll() {
	d.poller.StopAll()
}

// Polling reports whether a view's loop is active.
func (d *Dashboard) Polling(view poll.View) bool {
	return d.poller.Active(view)
}

// Refresh fetches a view once, outside its loop.
func (d *Dashboard) Refresh(ctx context.Context, view poll.View) error {
	return d.poller.Refresh(ctx, view)
}

// TrackJob starts tracking a job. The tracking loop, if active, keeps its
// schedule.
func (d *Dashboard) TrackJob(ctx context.Context, jobID string) ([]tracking.TrackedJob, error) {
	return d.actions.TrackJob(ctx, jobID)
}

// CopyLogs requests a log copy for a job.
func (d *Dashboard) CopyLogs(ctx context.Context, jobID string, force bool) ([]tracking.ApplicationStatus, error) {
	return d.actions.CopyLogs(ctx, jobID, force)
}

// LogURL returns the upstream log viewer link of a job's application.
func (d *Dashboard) LogURL(jobID, appID string) string {
	return d.upstream.LogURL(jobID, appID)
}
