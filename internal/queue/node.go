package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// LeafQueueType is the payload discriminant marking a leaf queue.
const LeafQueueType = "capacitySchedulerLeafQueueInfo"

// ErrMalformedPayload is matched by every shape error returned from Decode.
var ErrMalformedPayload = errors.New("malformed scheduler payload")

// MalformedPayloadError reports where a scheduler payload did not match the
// expected shape.
type MalformedPayloadError struct {
	Path   string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed scheduler payload: %s", e.Reason)
	}
	return fmt.Sprintf("malformed scheduler payload at %s: %s", e.Path, e.Reason)
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// Kind distinguishes parent queues from leaf queues.
type Kind string

const (
	KindParent Kind = "parent"
	KindLeaf   Kind = "leaf"
)

// Resources is a memory (MB) / vCores pair as reported by the scheduler.
type Resources struct {
	Memory int64 `json:"memory"`
	VCores int64 `json:"vCores"`
}

// UserUsage is the per-user consumption of a leaf queue.
type UserUsage struct {
	Username               string    `json:"username"`
	NumActiveApplications  int       `json:"numActiveApplications"`
	NumPendingApplications int       `json:"numPendingApplications"`
	ResourcesUsed          Resources `json:"resourcesUsed"`
	UserResourceLimit      Resources `json:"userResourceLimit"`
}

// Node is one queue of the scheduler tree. Capacity fields and Users are
// only meaningful for leaves.
type Node struct {
	Name     string
	Kind     Kind
	Children []*Node

	Capacity     float64
	UsedCapacity float64
	MaxCapacity  float64
	Users        []UserUsage

	// Duplicates lists child names that appeared more than once in the
	// payload. The last occurrence is the one kept in Children.
	Duplicates []string
}

// IsLeaf reports whether the node contributes to the chart dataset.
func (n *Node) IsLeaf() bool {
	return n.Kind == KindLeaf
}

// Duplicate identifies a sibling name that was overwritten during Decode.
type Duplicate struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

// Duplicates walks the tree and returns every overwritten sibling name.
func Duplicates(root *Node) []Duplicate {
	var out []Duplicate
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, name := range n.Duplicates {
			out = append(out, Duplicate{Parent: n.Name, Name: name})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

type rawUser struct {
	Username               *string    `json:"username"`
	NumActiveApplications  int        `json:"numActiveApplications"`
	NumPendingApplications int        `json:"numPendingApplications"`
	ResourcesUsed          *Resources `json:"resourcesUsed"`
	UserResourceLimit      *Resources `json:"userResourceLimit"`
}

type rawQueue struct {
	Type                 *string  `json:"type"`
	QueueName            *string  `json:"queueName"`
	AbsoluteCapacity     *float64 `json:"absoluteCapacity"`
	AbsoluteUsedCapacity *float64 `json:"absoluteUsedCapacity"`
	AbsoluteMaxCapacity  *float64 `json:"absoluteMaxCapacity"`
	Queues               *struct {
		Queue []rawQueue `json:"queue"`
	} `json:"queues"`
	Users *struct {
		User []rawUser `json:"user"`
	} `json:"users"`
}

type envelope struct {
	Scheduler *struct {
		SchedulerInfo json.RawMessage `json:"schedulerInfo"`
	} `json:"scheduler"`
}

// Decode parses a scheduler response into a queue tree. It accepts either the
// bare schedulerInfo object or the full {"scheduler":{"schedulerInfo":...}}
// document. Any shape mismatch fails the whole decode.
func Decode(data []byte) (*Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &MalformedPayloadError{Reason: "expected a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Scheduler != nil && len(env.Scheduler.SchedulerInfo) > 0 {
		data = env.Scheduler.SchedulerInfo
	}

	var raw rawQueue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedPayloadError{Reason: err.Error()}
	}
	return convert(&raw, "")
}

func convert(raw *rawQueue, parentPath string) (*Node, error) {
	if raw.QueueName == nil || *raw.QueueName == "" {
		path := parentPath
		if path == "" {
			path = "/"
		}
		return nil, &MalformedPayloadError{Path: path, Reason: "missing queueName"}
	}
	path := parentPath + "/" + *raw.QueueName

	n := &Node{Name: *raw.QueueName, Kind: KindParent}
	if raw.Type != nil && *raw.Type == LeafQueueType {
		n.Kind = KindLeaf
		if err := fillLeaf(n, raw, path); err != nil {
			return nil, err
		}
	}

	if raw.Queues == nil {
		return n, nil
	}
	index := make(map[string]int, len(raw.Queues.Queue))
	for i := range raw.Queues.Queue {
		child, err := convert(&raw.Queues.Queue[i], path)
		if err != nil {
			return nil, err
		}
		if pos, ok := index[child.Name]; ok {
			n.Children[pos] = child
			n.Duplicates = append(n.Duplicates, child.Name)
			continue
		}
		index[child.Name] = len(n.Children)
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func fillLeaf(n *Node, raw *rawQueue, path string) error {
	switch {
	case raw.AbsoluteCapacity == nil:
		return &MalformedPayloadError{Path: path, Reason: "missing absoluteCapacity"}
	case raw.AbsoluteUsedCapacity == nil:
		return &MalformedPayloadError{Path: path, Reason: "missing absoluteUsedCapacity"}
	case raw.AbsoluteMaxCapacity == nil:
		return &MalformedPayloadError{Path: path, Reason: "missing absoluteMaxCapacity"}
	}
	n.Capacity = *raw.AbsoluteCapacity
	n.UsedCapacity = *raw.AbsoluteUsedCapacity
	n.MaxCapacity = *raw.AbsoluteMaxCapacity

	if raw.Users == nil {
		return nil
	}
	for i, u := range raw.Users.User {
		if u.Username == nil {
			return &MalformedPayloadError{Path: fmt.Sprintf("%s users[%d]", path, i), Reason: "missing username"}
		}
		usage := UserUsage{
			Username:               *u.Username,
			NumActiveApplications:  u.NumActiveApplications,
			NumPendingApplications: u.NumPendingApplications,
		}
		if u.ResourcesUsed != nil {
			usage.ResourcesUsed = *u.ResourcesUsed
		}
		if u.UserResourceLimit != nil {
			usage.UserResourceLimit = *u.UserResourceLimit
		}
		n.Users = append(n.Users, usage)
	}
	return nil
}
