package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"clusterwatch/internal/queue"
	"clusterwatch/internal/tracking"
)

var (
	// ErrNetwork is matched by transport-level failures.
	ErrNetwork = errors.New("network failure")
	// ErrUnexpectedStatus is matched by responses with a status other than 200.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// NetworkError wraps a transport failure of one upstream call.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// StatusError is returned when the upstream answers with a non-200 status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// Config holds upstream connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Insecure bool
}

// Client talks to the upstream tracker API.
type Client struct {
	client  *resty.Client
	baseURL string
}

// NewClient creates an upstream client. No retries are configured: a failed
// call is reported once and the caller decides what happens next.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	if cfg.Username != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}
	if cfg.Insecure {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Client{
		client:  client,
		baseURL: baseURL,
	}
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) send(req *resty.Request, method, path, op string) ([]byte, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		body := strings.TrimSpace(resp.String())
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode(), Body: body}
	}
	return resp.Body(), nil
}

// Scheduler fetches and decodes the scheduler queue tree.
func (c *Client) Scheduler(ctx context.Context) (*queue.Node, error) {
	body, err := c.send(c.client.R().SetContext(ctx), http.MethodGet, "/api/cluster/scheduler", "get scheduler")
	if err != nil {
		return nil, err
	}
	return queue.Decode(body)
}

// Tracking fetches the tracked job list. With refresh the upstream rechecks
// job states before answering.
func (c *Client) Tracking(ctx context.Context, refresh bool) ([]tracking.TrackedJob, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("refresh", strconv.FormatBool(refresh))
	body, err := c.send(req, http.MethodGet, "/api/jobs/tracking", "get tracking")
	if err != nil {
		return nil, err
	}
	return tracking.DecodeJobs(body)
}

// Track starts tracking a job and returns the newly tracked jobs.
func (c *Client) Track(ctx context.Context, jobID string) ([]tracking.TrackedJob, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(jobID)
	body, err := c.send(req, http.MethodPost, "/api/task/track/", "track job")
	if err != nil {
		return nil, err
	}
	return tracking.DecodeJobs(body)
}

// CopyLogs asks the upstream to copy a job's application logs. Without force
// already copied applications are skipped; with force every application is
// copied again.
func (c *Client) CopyLogs(ctx context.Context, jobID string, force bool) (*tracking.CopyResult, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetQueryParam("refresh", strconv.FormatBool(force)).
		SetBody(jobID)
	body, err := c.send(req, http.MethodPost, "/api/task/copy-logs/", "copy logs")
	if err != nil {
		return nil, err
	}
	return tracking.DecodeCopyResult(body)
}

// LogURL is the upstream log viewer link for one application of a job.
func (c *Client) LogURL(jobID, appID string) string {
	return fmt.Sprintf("%s/api/job/%s/logs/%s", c.baseURL, url.PathEscape(jobID), url.PathEscape(appID))
}
