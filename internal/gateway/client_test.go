package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterwatch/internal/queue"
	"clusterwatch/internal/tracking"
)

// mockServer creates a test upstream with the given handler.
func mockServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{
		BaseURL:  server.URL + "/",
		Username: "alice",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
	return server, client
}

func TestScheduler(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/cluster/scheduler", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"queueName":"root","queues":{"queue":[
			{"type":"capacitySchedulerLeafQueueInfo","queueName":"default",
			 "absoluteCapacity":100,"absoluteUsedCapacity":12,"absoluteMaxCapacity":100}]}}`)
	})

	root, err := client.Scheduler(context.Background())
	require.NoError(t, err)
	aggs := queue.BuildLeafAggregates(root)
	require.Len(t, aggs, 1)
	assert.Equal(t, 88, aggs[0].Remaining)
}

func TestSchedulerMalformed(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"queues":{}}`)
	})

	_, err := client.Scheduler(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, queue.ErrMalformedPayload))
}

func TestUnexpectedStatus(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"Authorization required","status_code":401}`)
	})

	_, err := client.Tracking(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Contains(t, se.Body, "Authorization required")
}

func TestNonOKSuccessStatusIsFailure(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `[]`)
	})

	_, err := client.Tracking(context.Background(), false)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second})
	server.Close()

	_, err := client.Scheduler(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestTracking(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/tracking", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		io.WriteString(w, `[{"id":"job1","status":"RUNNING","application-ids":["app1"],"applications":{}}]`)
	})

	jobs, err := client.Tracking(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job1", jobs[0].ID)
}

func TestTrack(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/task/track/", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "job2", string(body))
		io.WriteString(w, `[{"id":"job2","status":"RUNNING","applications-ids":["app7","app8"]}]`)
	})

	jobs, err := client.Track(context.Background(), "job2")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{"app7", "app8"}, jobs[0].ApplicationIDs)
}

func TestCopyLogs(t *testing.T) {
	for _, force := range []bool{false, true} {
		_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/task/copy-logs/", r.URL.Path)
			if force {
				assert.Equal(t, "true", r.URL.Query().Get("refresh"))
			} else {
				assert.Equal(t, "false", r.URL.Query().Get("refresh"))
			}
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "job1", string(body))
			io.WriteString(w, `{"finished":true,"succeeded":true,"jobs":[{"id":"job1","application":"app1","status":"SUCCEEDED"}]}`)
		})

		res, err := client.CopyLogs(context.Background(), "job1", force)
		require.NoError(t, err)
		assert.Equal(t, []tracking.ApplicationStatus{{ID: "job1", Application: "app1", Status: "SUCCEEDED"}}, res.Jobs)
	}
}

func TestContextCancelled(t *testing.T) {
	_, client := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Scheduler(ctx)
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestLogURL(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://tracker.example.com/"})
	assert.Equal(t, "https://tracker.example.com/api/job/0000-oozie-W/logs/1500_0001",
		client.LogURL("0000-oozie-W", "1500_0001"))
	assert.Equal(t, "https://tracker.example.com/api/job/a%2Fb/logs/c", client.LogURL("a/b", "c"))
}
