package tracking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// StatusNotCopied is shown for an application with no copy status yet.
	StatusNotCopied = "NOT COPIED"
	// StatusCopied is shown for an application whose copy job succeeded.
	StatusCopied = "COPIED"

	succeeded = "SUCCEEDED"
)

// ErrMalformedPayload is matched by every shape error returned from this package.
var ErrMalformedPayload = errors.New("malformed tracking payload")

// MalformedPayloadError reports a tracking response that did not match the
// expected shape.
type MalformedPayloadError struct {
	Index  int
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed tracking payload: %s", e.Reason)
	}
	return fmt.Sprintf("malformed tracking payload at job %d: %s", e.Index, e.Reason)
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// ApplicationStatus is the copy status of one application of a job.
type ApplicationStatus struct {
	ID          string `json:"id,omitempty"`
	Application string `json:"application"`
	Job         string `json:"job,omitempty"`
	Status      string `json:"status"`
}

// TrackedJob is a cluster job whose application logs are being copied.
type TrackedJob struct {
	ID             string                       `json:"id"`
	Status         string                       `json:"status"`
	ApplicationIDs []string                     `json:"applicationIds"`
	Applications   map[string]ApplicationStatus `json:"applications"`
	LastChecked    time.Time                    `json:"lastChecked"`
}

// StatusText renders the copy status of one application id of the job.
func (j *TrackedJob) StatusText(appID string) string {
	app, ok := j.Applications[appID]
	if !ok {
		return StatusNotCopied
	}
	return statusText(app.Status)
}

func statusText(status string) string {
	if status == succeeded {
		return StatusCopied
	}
	return status
}

func (j TrackedJob) clone() TrackedJob {
	out := j
	out.ApplicationIDs = append([]string(nil), j.ApplicationIDs...)
	out.Applications = make(map[string]ApplicationStatus, len(j.Applications))
	for k, v := range j.Applications {
		out.Applications[k] = v
	}
	return out
}

type rawJob struct {
	ID          *string `json:"id"`
	Status      *string `json:"status"`
	LastChecked *string `json:"last-checked"`
	// The tracking list and the track response disagree on this key.
	ApplicationIDs  []string                     `json:"application-ids"`
	ApplicationsIDs []string                     `json:"applications-ids"`
	Applications    map[string]ApplicationStatus `json:"applications"`
}

var lastCheckedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseLastChecked(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range lastCheckedLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// DecodeJobs parses a JSON array of tracked jobs as returned by the tracking
// list and track endpoints.
func DecodeJobs(data []byte) ([]TrackedJob, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, &MalformedPayloadError{Index: -1, Reason: "expected a JSON array"}
	}
	var raws []rawJob
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &MalformedPayloadError{Index: -1, Reason: err.Error()}
	}

	jobs := make([]TrackedJob, 0, len(raws))
	for i, raw := range raws {
		if raw.ID == nil || *raw.ID == "" {
			return nil, &MalformedPayloadError{Index: i, Reason: "missing id"}
		}
		job := TrackedJob{
			ID:             *raw.ID,
			ApplicationIDs: raw.ApplicationIDs,
			Applications:   raw.Applications,
		}
		if raw.Status != nil {
			job.Status = *raw.Status
		}
		if job.ApplicationIDs == nil {
			job.ApplicationIDs = raw.ApplicationsIDs
		}
		if job.ApplicationIDs == nil {
			job.ApplicationIDs = []string{}
		}
		if job.Applications == nil {
			job.Applications = map[string]ApplicationStatus{}
		}
		if raw.LastChecked != nil && *raw.LastChecked != "" {
			t, err := parseLastChecked(*raw.LastChecked)
			if err != nil {
				return nil, &MalformedPayloadError{Index: i, Reason: fmt.Sprintf("bad last-checked %q", *raw.LastChecked)}
			}
			job.LastChecked = t
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CopyResult is the copy-logs response body.
type CopyResult struct {
	Finished  bool                `json:"finished"`
	Succeeded bool                `json:"succeeded"`
	Jobs      []ApplicationStatus `json:"jobs"`
}

// DecodeCopyResult parses a copy-logs response.
func DecodeCopyResult(data []byte) (*CopyResult, error) {
	var raw struct {
		Finished  bool                `json:"finished"`
		Succeeded bool                `json:"succeeded"`
		Jobs      []ApplicationStatus `json:"jobs"`
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &MalformedPayloadError{Index: -1, Reason: "expected a JSON object"}
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedPayloadError{Index: -1, Reason: err.Error()}
	}
	if raw.Jobs == nil {
		return nil, &MalformedPayloadError{Index: -1, Reason: "missing jobs"}
	}
	for i, app := range raw.Jobs {
		if app.Application == "" {
			return nil, &MalformedPayloadError{Index: i, Reason: "missing application"}
		}
	}
	return &CopyResult{Finished: raw.Finished, Succeeded: raw.Succeeded, Jobs: raw.Jobs}, nil
}
