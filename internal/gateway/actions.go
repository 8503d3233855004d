package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"clusterwatch/internal/metrics"
	"clusterwatch/internal/tracking"
)

var (
	// ErrActionInFlight is returned when a copy of the other mode is already
	// running for the same job.
	ErrActionInFlight = errors.New("action already in flight for job")
	// ErrEmptyJobID is returned for a blank job id.
	ErrEmptyJobID = errors.New("job id is required")
)

// Upstream is the part of the upstream API the actions use.
type Upstream interface {
	Track(ctx context.Context, jobID string) ([]tracking.TrackedJob, error)
	CopyLogs(ctx context.Context, jobID string, force bool) (*tracking.CopyResult, error)
}

// Notification is a transient, non-blocking message for the user.
type Notification struct {
	ID      string    `json:"id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is told when a control must show a busy indicator and when a
// notification should be displayed.
type Notifier interface {
	Busy(target string, busy bool)
	Notify(n Notification)
}

// BusyTarget names the control a busy event refers to.
func BusyTarget(action, jobID string) string {
	return action + ":" + jobID
}

const (
	actionTrack = "track"
	actionCopy  = "copy-logs"
	actionForce = "force-copy-logs"
)

type flight struct {
	force bool
	refs  int
}

// Actions issues user-triggered remote operations and folds their results
// into the tracking model. At most one copy operation per job is in flight;
// identical requests that overlap share its result.
type Actions struct {
	upstream Upstream
	model    *tracking.Model
	notifier Notifier

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight
}

// NewActions creates the action gateway.
func NewActions(upstream Upstream, model *tracking.Model, notifier Notifier) *Actions {
	return &Actions{
		upstream: upstream,
		model:    model,
		notifier: notifier,
		inflight: map[string]*flight{},
	}
}

func (a *Actions) notify(level, format string, args ...any) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Time:    time.Now().UTC(),
	})
}

func (a *Actions) busy(target string, busy bool) {
	if a.notifier != nil {
		a.notifier.Busy(target, busy)
	}
}

// TrackJob starts tracking a job. The returned jobs are appended to the
// model without disturbing rows already shown.
func (a *Actions) TrackJob(ctx context.Context, jobID string) ([]tracking.TrackedJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrEmptyJobID
	}

	v, err, _ := a.group.Do(BusyTarget(actionTrack, jobID), func() (any, error) {
		target := BusyTarget(actionTrack, jobID)
		a.busy(target, true)
		defer a.busy(target, false)
		metrics.ActionStarted(actionTrack)

		jobs, err := a.upstream.Track(ctx, jobID)
		metrics.ActionFinished(actionTrack, err)
		if err != nil {
			slog.Error("Track request failed", "job", jobID, "error", err, "component", "Gateway")
			a.notify("error", "Unable to track job %s", jobID)
			return nil, err
		}

		a.model.Append(jobs)
		slog.Info("Tracking job", "job", jobID, "new", len(jobs), "component", "Gateway")
		if len(jobs) == 0 {
			a.notify("info", "Job %s was not found", jobID)
		} else {
			a.notify("info", "Tracking job %s", jobID)
		}
		return jobs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]tracking.TrackedJob), nil
}

func (a *Actions) acquire(jobID string, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.inflight[jobID]
	if ok && f.force != force {
		return ErrActionInFlight
	}
	if !ok {
		f = &flight{force: force}
		a.inflight[jobID] = f
	}
	f.refs++
	return nil
}

func (a *Actions) release(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.inflight[jobID]; ok {
		f.refs--
		if f.refs <= 0 {
			delete(a.inflight, jobID)
		}
	}
}

// CopyLogs requests a log copy for a job and merges the per-application
// statuses into the model. Without force the upstream skips applications
// already copied. Callers are responsible for confirming force with the user.
func (a *Actions) CopyLogs(ctx context.Context, jobID string, force bool) ([]tracking.ApplicationStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	if err := a.acquire(jobID, force); err != nil {
		slog.Warn("Rejected overlapping copy request", "job", jobID, "force", force, "component", "Gateway")
		return nil, err
	}
	defer a.release(jobID)

	action := actionCopy
	if force {
		action = actionForce
	}

	v, err, shared := a.group.Do(BusyTarget(actionCopy, jobID), func() (any, error) {
		target := BusyTarget(action, jobID)
		a.busy(target, true)
		defer a.busy(target, false)
		metrics.ActionStarted(action)

		res, err := a.upstream.CopyLogs(ctx, jobID, force)
		metrics.ActionFinished(action, err)
		if err != nil {
			slog.Error("Copy logs request failed", "job", jobID, "force", force, "error", err, "component", "Gateway")
			a.notify("error", "Unable to copy logs for job %s", jobID)
			return nil, err
		}

		if !a.model.ApplyLogCopyResult(jobID, res.Jobs) {
			slog.Debug("Copy result for untracked job", "job", jobID, "component", "Gateway")
		}
		slog.Info("Requested log copy", "job", jobID, "force", force, "applications", len(res.Jobs), "component", "Gateway")
		switch {
		case res.Finished && res.Succeeded:
			a.notify("info", "Logs for job %s are copied", jobID)
		default:
			a.notify("info", "Requested logs to be copied for job %s", jobID)
		}
		return res.Jobs, nil
	})
	if shared {
		slog.Debug("Coalesced copy request", "job", jobID, "component", "Gateway")
	}
	if err != nil {
		return nil, err
	}
	return v.([]tracking.ApplicationStatus), nil
}
