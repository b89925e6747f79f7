package flow

import (
	"sort"
	"strings"
	"time"
)

// topPaths is how many distinct paths a Report keeps.
const topPaths = 10

// Report aggregates a set of sessions of one flow.
type Report struct {
	Sessions       int                     `json:"sessions"`
	Completed      int                     `json:"completed"`
	Abandoned      int                     `json:"abandoned"`
	CompletionRate float64                 `json:"completionRate"`
	Nodes          map[string]*NodeStats   `json:"nodes"`
	Endings        map[string]int          `json:"endings"`
	Paths          []PathCount             `json:"paths"`
	Variables      map[string]VariableStat `json:"variables"`
}

// NodeStats summarizes traffic through one node.
type NodeStats struct {
	Visits    int            `json:"visits"`
	Choices   map[string]int `json:"choices,omitempty"`
	MeanDwell time.Duration  `json:"meanDwell"`

	dwell   time.Duration
	dwelled int
}

// PathCount is a distinct path and how many sessions took it.
type PathCount struct {
	Path  []string `json:"path"`
	Count int      `json:"count"`
}

// VariableStat summarizes a numeric variable over completed sessions.
type VariableStat struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	N    int     `json:"n"`
}

// Analyze computes a Report. Visits and choices count every session; endings,
// paths and variables count only sessions that reached an end node. Sessions
// closed early through Complete are counted as abandoned.
func Analyze(sessions []*Session) Report {
	r := Report{
		Sessions:  len(sessions),
		Nodes:     make(map[string]*NodeStats),
		Endings:   make(map[string]int),
		Variables: make(map[string]VariableStat),
	}
	paths := make(map[string]int)
	sums := make(map[string]float64)

	for _, s := range sessions {
		for _, id := range s.Path {
			r.node(id).Visits++
		}
		for id, a := range s.Answers {
			ns := r.node(id)
			if ns.Choices == nil {
				ns.Choices = make(map[string]int)
			}
			for _, c := range a {
				ns.Choices[c]++
			}
		}
		for id, d := range s.Timings {
			ns := r.node(id)
			ns.dwell += d
			ns.dwelled++
		}

		if !s.Completed() {
			continue
		}
		if s.Abandoned {
			r.Abandoned++
			continue
		}
		r.Completed++
		r.Endings[s.CurrentNodeID]++
		paths[strings.Join(s.Path, "\x00")]++
		for name, e := range s.Variables {
			if !e.Value.IsNumber() {
				continue
			}
			x := e.Value.Num
			st, ok := r.Variables[name]
			if !ok || x < st.Min {
				st.Min = x
			}
			if !ok || x > st.Max {
				st.Max = x
			}
			st.N++
			sums[name] += x
			r.Variables[name] = st
		}
	}

	if r.Sessions > 0 {
		r.CompletionRate = float64(r.Completed) / float64(r.Sessions)
	}
	for _, ns := range r.Nodes {
		if ns.dwelled > 0 {
			ns.MeanDwell = ns.dwell / time.Duration(ns.dwelled)
		}
	}
	for name, st := range r.Variables {
		st.Mean = sums[name] / float64(st.N)
		r.Variables[name] = st
	}

	r.Paths = make([]PathCount, 0, len(paths))
	for key, n := range paths {
		r.Paths = append(r.Paths, PathCount{Path: strings.Split(key, "\x00"), Count: n})
	}
	sort.Slice(r.Paths, func(i, j int) bool {
		if r.Paths[i].Count != r.Paths[j].Count {
			return r.Paths[i].Count > r.Paths[j].Count
		}
		return strings.Join(r.Paths[i].Path, ",") < strings.Join(r.Paths[j].Path, ",")
	})
	if len(r.Paths) > topPaths {
		r.Paths = r.Paths[:topPaths]
	}
	return r
}

func (r *Report) node(id string) *NodeStats {
	ns, ok := r.Nodes[id]
	if !ok {
		ns = &NodeStats{}
		r.Nodes[id] = ns
	}
	return ns
}
