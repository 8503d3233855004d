package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterwatch/internal/poll"
	"clusterwatch/internal/queue"
	"clusterwatch/internal/state"
	"clusterwatch/internal/tracking"
)

type fakeUpstream struct {
	schedulerCalls atomic.Int32
	trackingCalls  atomic.Int32
	refreshSeen    atomic.Bool

	mu          sync.Mutex
	root        *queue.Node
	schedErr    error
	jobs        []tracking.TrackedJob
	trackResult []tracking.TrackedJob
	copyResult  *tracking.CopyResult
}

func (f *fakeUpstream) Scheduler(ctx context.Context) (*queue.Node, error) {
	f.schedulerCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.root, f.schedErr
}

func (f *fakeUpstream) Tracking(ctx context.Context, refresh bool) ([]tracking.TrackedJob, error) {
	f.trackingCalls.Add(1)
	f.refreshSeen.Store(refresh)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs, nil
}

func (f *fakeUpstream) Track(ctx context.Context, jobID string) ([]tracking.TrackedJob, error) {
	return f.trackResult, nil
}

func (f *fakeUpstream) CopyLogs(ctx context.Context, jobID string, force bool) (*tracking.CopyResult, error) {
	return f.copyResult, nil
}

func (f *fakeUpstream) LogURL(jobID, appID string) string {
	return "http://upstream/api/job/" + jobID + "/logs/" + appID
}

type recordingPusher struct {
	mu     sync.Mutex
	events []tracking.Event
}

func (p *recordingPusher) PushTracking(ev tracking.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPusher) kinds() []tracking.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tracking.EventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func leaf(name string, capacity, used, max float64) *queue.Node {
	return &queue.Node{Name: name, Kind: queue.KindLeaf, Capacity: capacity, UsedCapacity: used, MaxCapacity: max}
}

func newDashboard(t *testing.T, up *fakeUpstream) (*Dashboard, *state.AppState, *tracking.Model, *recordingPusher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	model := tracking.NewModel()
	st := state.New(50, "http://upstream", "test", model)
	pusher := &recordingPusher{}
	d := New(ctx, Config{
		QueueInterval:    time.Hour,
		TrackingInterval: time.Hour,
		TrackingRefresh:  true,
	}, up, st, model, nil, nil, pusher)
	t.Cleanup(func() {
		d.StopAll()
		cancel()
	})
	return d, st, model, pusher
}

func TestRefreshQueues(t *testing.T) {
	up := &fakeUpstream{root: &queue.Node{
		Name: "root",
		Kind: queue.KindParent,
		Children: []*queue.Node{
			leaf("b", 50, 60, 70),
			leaf("a", 20, 5, 100),
		},
	}}
	d, st, _, _ := newDashboard(t, up)

	require.NoError(t, d.Refresh(context.Background(), poll.ViewQueues))

	view := st.QueueView()
	require.NotNil(t, view)
	assert.Equal(t, []string{"a", "b"}, view.Dataset.Names)
	assert.Equal(t, []int{15, 0}, view.Dataset.Remaining)
	assert.Equal(t, []int{0, -10}, view.Dataset.Over)
	assert.False(t, d.Polling(poll.ViewQueues), "manual refresh does not start the loop")
}

func TestRefreshQueuesFailureKeepsLastView(t *testing.T) {
	up := &fakeUpstream{root: &queue.Node{Name: "root", Kind: queue.KindParent, Children: []*queue.Node{leaf("a", 10, 1, 10)}}}
	d, st, _, _ := newDashboard(t, up)
	require.NoError(t, d.Refresh(context.Background(), poll.ViewQueues))

	up.mu.Lock()
	up.schedErr = errors.New("connection refused")
	up.mu.Unlock()

	err := d.Refresh(context.Background(), poll.ViewQueues)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, st.QueueView().Dataset.Names)
}

func TestRefreshTrackingReplaces(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{jobs: []tracking.TrackedJob{
		{ID: "old", LastChecked: now.Add(-time.Hour)},
		{ID: "new", LastChecked: now},
	}}
	d, st, model, pusher := newDashboard(t, up)

	require.NoError(t, d.Refresh(context.Background(), poll.ViewTracking))

	rows := model.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0].ID)
	assert.Equal(t, uint64(1), st.TrackingRevision())
	assert.Empty(t, pusher.kinds(), "full replacements travel with the state snapshot")
	assert.True(t, up.refreshSeen.Load())
}

func TestTrackJobDuringActivePoll(t *testing.T) {
	up := &fakeUpstream{
		jobs:        []tracking.TrackedJob{{ID: "job1", LastChecked: time.Now().UTC()}},
		trackResult: []tracking.TrackedJob{{ID: "job2", ApplicationIDs: []string{"app1"}}},
	}
	d, _, model, pusher := newDashboard(t, up)

	require.NoError(t, d.StartPolling(poll.ViewTracking, 20*time.Millisecond))
	require.Eventually(t, func() bool { return up.trackingCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return model.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err := d.TrackJob(context.Background(), "job2")
	require.NoError(t, err)

	assert.True(t, d.Polling(poll.ViewTracking))
	assert.Equal(t, []tracking.EventKind{tracking.EventAppend}, pusher.kinds(), "appending does not redraw the table")

	calls := up.trackingCalls.Load()
	require.Eventually(t, func() bool { return up.trackingCalls.Load() > calls }, time.Second, 5*time.Millisecond,
		"the loop keeps its schedule after a track request")
}

func TestCopyLogsPushesPatch(t *testing.T) {
	up := &fakeUpstream{
		jobs:       []tracking.TrackedJob{{ID: "job1", ApplicationIDs: []string{"app1"}}},
		copyResult: &tracking.CopyResult{Jobs: []tracking.ApplicationStatus{{Application: "app1", Status: "SUCCEEDED"}}},
	}
	d, _, model, pusher := newDashboard(t, up)
	require.NoError(t, d.Refresh(context.Background(), poll.ViewTracking))

	_, err := d.CopyLogs(context.Background(), "job1", false)
	require.NoError(t, err)

	assert.Equal(t, []tracking.EventKind{tracking.EventPatch}, pusher.kinds())
	job, ok := model.Job("job1")
	require.True(t, ok)
	assert.Equal(t, tracking.StatusCopied, job.StatusText("app1"))
}

func TestPollingControl(t *testing.T) {
	up := &fakeUpstream{root: &queue.Node{Name: "root", Kind: queue.KindParent}}
	d, st, _, _ := newDashboard(t, up)

	assert.ErrorIs(t, d.StartPolling("bogus", time.Second), poll.ErrUnknownView)
	assert.ErrorIs(t, d.StopPolling("bogus"), poll.ErrUnknownView)

	require.NoError(t, d.StartPolling(poll.ViewQueues, 0))
	assert.True(t, d.Polling(poll.ViewQueues))

	var queues poll.Status
	for _, s := range st.Snapshot().Polls {
		if s.View == poll.ViewQueues {
			queues = s
		}
	}
	assert.True(t, queues.Active)
	assert.Equal(t, time.Hour, queues.Interval, "zero keeps the configured interval")

	require.NoError(t, d.StopPolling(poll.ViewQueues))
	assert.False(t, d.Polling(poll.ViewQueues))
	assert.Equal(t, int32(0), up.schedulerCalls.Load())
}

func TestLogURL(t *testing.T) {
	d, _, _, _ := newDashboard(t, &fakeUpstream{})
	assert.Equal(t, "http://upstream/api/job/j/logs/a", d.LogURL("j", "a"))
}
