package main

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clusterwatch/internal/config"
	"clusterwatch/internal/poll"
)

type fakePoller struct {
	fail    poll.View
	started map[poll.View]time.Duration
}

func (f *fakePoller) StartPolling(view poll.View, interval time.Duration) error {
	if view == f.fail {
		return poll.ErrUnknownView
	}
	f.started[view] = interval
	return nil
}

func TestStartPollingLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.Defaults()
	p := &fakePoller{fail: poll.ViewTracking, started: map[poll.View]time.Duration{}}

	assert.Equal(t, 1, startPolling(p, cfg))
	assert.Equal(t, map[poll.View]time.Duration{poll.ViewQueues: cfg.QueueInterval}, p.started)
	assert.Contains(t, buf.String(), `"msg":"Failed to start polling"`)
	assert.Contains(t, buf.String(), `"view":"tracking"`)
}

func TestStartPollingBothViews(t *testing.T) {
	cfg := config.Defaults()
	p := &fakePoller{started: map[poll.View]time.Duration{}}

	assert.Equal(t, 2, startPolling(p, cfg))
	assert.Equal(t, cfg.TrackingInterval, p.started[poll.ViewTracking])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}
