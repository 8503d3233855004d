package queue

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// LeafAggregate is the chart summary of one leaf queue, in whole percentages
// of the cluster.
type LeafAggregate struct {
	Name      string      `json:"name"`
	Remaining int         `json:"remaining"`
	Used      int         `json:"used"`
	Over      int         `json:"over"`
	Max       int         `json:"max"`
	Users     []UserUsage `json:"users,omitempty"`
}

// round rounds half up, so -2.5 becomes -2 and 2.5 becomes 3.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

// BuildLeafAggregates walks the tree depth-first in pre-order and returns one
// aggregate per leaf. Usage above the guaranteed capacity is reported as a
// negative Over and Used is clamped to the capacity.
func BuildLeafAggregates(root *Node) []LeafAggregate {
	var out []LeafAggregate
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			out = append(out, aggregate(n))
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

// aggregate summarizes one leaf. Max is the headroom from capacity up to max
// capacity, kept positive so the stacked bar reaches max capacity, and grows
// by the over-capacity share when the leaf runs above its capacity.
func aggregate(n *Node) LeafAggregate {
	agg := LeafAggregate{
		Name:      n.Name,
		Remaining: round(n.Capacity - n.UsedCapacity),
		Used:      round(n.UsedCapacity),
		Max:       round(n.MaxCapacity - n.Capacity),
		Users:     n.Users,
	}
	if agg.Remaining < 0 {
		agg.Used = round(n.Capacity)
		agg.Over = agg.Remaining
		agg.Remaining = 0
		agg.Max = agg.Max - agg.Over
	}
	return agg
}

func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// TreeView is the nested queue layout shown beside the chart.
type TreeView struct {
	Name     string      `json:"name"`
	Level    int         `json:"level"`
	Leaf     bool        `json:"leaf"`
	Children []*TreeView `json:"children,omitempty"`
}

// Compose builds the visual tree with siblings sorted case-insensitively at
// every level.
func Compose(root *Node) *TreeView {
	if root == nil {
		return nil
	}
	return compose(root, 0)
}

func compose(n *Node, level int) *TreeView {
	v := &TreeView{Name: n.Name, Level: level, Leaf: n.IsLeaf()}
	children := make([]*Node, len(n.Children))
	copy(children, n.Children)
	sort.SliceStable(children, func(i, j int) bool {
		return lessFold(children[i].Name, children[j].Name)
	})
	for _, c := range children {
		v.Children = append(v.Children, compose(c, level+1))
	}
	return v
}

// Dataset is the column-oriented chart input. Groups lists the series that
// are stacked into one bar.
type Dataset struct {
	Names     []string   `json:"names"`
	Remaining []int      `json:"remaining"`
	Used      []int      `json:"used"`
	Over      []int      `json:"over"`
	Max       []int      `json:"max"`
	Groups    [][]string `json:"groups"`
}

// SeriesGroups is the stacking order of the chart series.
var SeriesGroups = [][]string{{"remaining", "used", "over", "max"}}

// SortAggregates returns a copy of aggs ordered case-insensitively by name.
func SortAggregates(aggs []LeafAggregate) []LeafAggregate {
	sorted := make([]LeafAggregate, len(aggs))
	copy(sorted, aggs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessFold(sorted[i].Name, sorted[j].Name)
	})
	return sorted
}

// BuildDataset flattens aggregates into chart columns, sorted by name
// independently of the order they were produced in.
func BuildDataset(aggs []LeafAggregate) Dataset {
	ds := Dataset{
		Names:     []string{},
		Remaining: []int{},
		Used:      []int{},
		Over:      []int{},
		Max:       []int{},
		Groups:    SeriesGroups,
	}
	for _, a := range SortAggregates(aggs) {
		ds.Names = append(ds.Names, a.Name)
		ds.Remaining = append(ds.Remaining, a.Remaining)
		ds.Used = append(ds.Used, a.Used)
		ds.Over = append(ds.Over, a.Over)
		ds.Max = append(ds.Max, a.Max)
	}
	return ds
}

// UserRow is one line of the per-user usage table.
type UserRow struct {
	Queue         string `json:"queue"`
	Username      string `json:"username"`
	Active        int    `json:"active"`
	Pending       int    `json:"pending"`
	MemoryUsed    string `json:"memoryUsed"`
	VCoresUsed    int64  `json:"vCoresUsed"`
	ResourceLimit string `json:"resourceLimit"`
}

// UserRows lists the users of every leaf queue, queues in name order.
func UserRows(aggs []LeafAggregate) []UserRow {
	rows := []UserRow{}
	for _, a := range SortAggregates(aggs) {
		for _, u := range a.Users {
			rows = append(rows, UserRow{
				Queue:         a.Name,
				Username:      u.Username,
				Active:        u.NumActiveApplications,
				Pending:       u.NumPendingApplications,
				MemoryUsed:    formatMemory(u.ResourcesUsed.Memory),
				VCoresUsed:    u.ResourcesUsed.VCores,
				ResourceLimit: fmt.Sprintf("%s/%d", formatMemory(u.UserResourceLimit.Memory), u.UserResourceLimit.VCores),
			})
		}
	}
	return rows
}

// formatMemory renders a scheduler memory figure given in MB.
func formatMemory(mb int64) string {
	if mb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(mb) << 20)
}

// View is everything the queue page needs from one scheduler poll.
type View struct {
	Tree       *TreeView   `json:"tree"`
	Dataset    Dataset     `json:"dataset"`
	Users      []UserRow   `json:"users"`
	Duplicates []Duplicate `json:"duplicates,omitempty"`
}

// BuildView runs the full pipeline over a decoded tree.
func BuildView(root *Node) View {
	aggs := BuildLeafAggregates(root)
	return View{
		Tree:       Compose(root),
		Dataset:    BuildDataset(aggs),
		Users:      UserRows(aggs),
		Duplicates: Duplicates(root),
	}
}
