package flow

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the behaviour of a node.
type Kind string

const (
	KindStart          Kind = "start"
	KindEnd            Kind = "end"
	KindYesNo          Kind = "yesNo"
	KindSingleChoice   Kind = "singleChoice"
	KindMultipleChoice Kind = "multipleChoice"
	KindWeight         Kind = "weight"
	KindFunction       Kind = "function"
)

// Handles used by yes/no nodes and function fallbacks.
const (
	HandleYes     = "yes"
	HandleNo      = "no"
	HandleDefault = "default"
)

// DefaultAccumulator receives weights that do not name a variable.
const DefaultAccumulator = "default"

// Graph is the authoritative questionnaire definition.
type Graph struct {
	ID        string     `json:"id"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Variables []Variable `json:"variables,omitempty"`
}

// Node is a vertex of the graph. Data holds the payload for Kind.
// UI is an opaque editor blob preserved for round-tripping.
type Node struct {
	ID    string          `json:"id"`
	Kind  Kind            `json:"kind"`
	Label string          `json:"label,omitempty"`
	Data  NodeData        `json:"data"`
	UI    json.RawMessage `json:"ui,omitempty"`
}

// Edge is a directed connection between two nodes. SourceHandle selects which
// outgoing path of a multi-handle node the edge belongs to; TargetHandle is
// never read by the engine.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Scope controls whether a variable survives an end-node redirect.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
)

// Variable declares a variable and its initial value.
type Variable struct {
	Name    string `json:"name"`
	Default Value  `json:"default"`
	Scope   Scope  `json:"scope,omitempty"`
}

// NodeData is the per-kind payload of a node. The set of implementations is
// closed: only this package can add one.
type NodeData interface {
	kind() Kind
	clone() NodeData
}

type StartData struct{}

// EndData terminates a session. RedirectTarget names another flow whose
// active version the respondent continues into.
type EndData struct {
	RedirectTarget string `json:"redirectTarget,omitempty"`
	Message        string `json:"message,omitempty"`
}

type YesNoData struct {
	Prompt string `json:"prompt"`
}

// Option is one answer of a choice node. Its ID doubles as its handle.
type Option struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Weight       *float64 `json:"weight,omitempty"`
	VariableName string   `json:"variableName,omitempty"`
}

type SingleChoiceData struct {
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// MultipleChoiceData bounds the number of selections with Min and Max; zero
// means unbounded.
type MultipleChoiceData struct {
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Min     int      `json:"min,omitempty"`
	Max     int      `json:"max,omitempty"`
}

type WeightData struct {
	Weight       float64 `json:"weight"`
	VariableName string  `json:"variableName,omitempty"`
}

type FunctionData struct {
	Steps []Step `json:"steps"`
}

func (StartData) kind() Kind          { return KindStart }
func (EndData) kind() Kind            { return KindEnd }
func (YesNoData) kind() Kind          { return KindYesNo }
func (SingleChoiceData) kind() Kind   { return KindSingleChoice }
func (MultipleChoiceData) kind() Kind { return KindMultipleChoice }
func (WeightData) kind() Kind         { return KindWeight }
func (FunctionData) kind() Kind       { return KindFunction }

func (d StartData) clone() NodeData { return d }
func (d EndData) clone() NodeData   { return d }
func (d YesNoData) clone() NodeData { return d }
func (d WeightData) clone() NodeData {
	return d
}

func (d SingleChoiceData) clone() NodeData {
	d.Options = cloneOptions(d.Options)
	return d
}

func (d MultipleChoiceData) clone() NodeData {
	d.Options = cloneOptions(d.Options)
	return d
}

func (d FunctionData) clone() NodeData {
	steps := make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		if s.Value != nil {
			v := *s.Value
			s.Value = &v
		}
		steps[i] = s
	}
	d.Steps = steps
	return d
}

func cloneOptions(opts []Option) []Option {
	out := make([]Option, len(opts))
	for i, o := range opts {
		if o.Weight != nil {
			w := *o.Weight
			o.Weight = &w
		}
		out[i] = o
	}
	return out
}

// newNodeData returns an empty payload for k, or nil for an unknown kind.
func newNodeData(k Kind) NodeData {
	switch k {
	case KindStart:
		return &StartData{}
	case KindEnd:
		return &EndData{}
	case KindYesNo:
		return &YesNoData{}
	case KindSingleChoice:
		return &SingleChoiceData{}
	case KindMultipleChoice:
		return &MultipleChoiceData{}
	case KindWeight:
		return &WeightData{}
	case KindFunction:
		return &FunctionData{}
	}
	return nil
}

// deref turns the pointer produced while decoding back into a value payload.
func deref(d NodeData) NodeData {
	switch p := d.(type) {
	case *StartData:
		return *p
	case *EndData:
		return *p
	case *YesNoData:
		return *p
	case *SingleChoiceData:
		return *p
	case *MultipleChoiceData:
		return *p
	case *WeightData:
		return *p
	case *FunctionData:
		return *p
	}
	return d
}

// UnmarshalJSON decodes data according to kind.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Kind  Kind            `json:"kind"`
		Label string          `json:"label"`
		Data  json.RawMessage `json:"data"`
		UI    json.RawMessage `json:"ui"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	n.ID, n.Kind, n.Label, n.UI = raw.ID, raw.Kind, raw.Label, raw.UI
	n.Data = nil

	data := newNodeData(raw.Kind)
	if data == nil {
		// Unknown kinds are reported by Validate, not rejected here.
		return nil
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return fmt.Errorf("flow: node %q data: %w", raw.ID, err)
		}
	}
	n.Data = deref(data)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode returns the first start node.
func (g *Graph) StartNode() (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Kind == KindStart {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *Graph) Outgoing(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy; edits to the copy never reach g.
func (g Graph) Clone() Graph {
	c := Graph{ID: g.ID}
	if g.Nodes != nil {
		c.Nodes = make([]Node, len(g.Nodes))
		for i, n := range g.Nodes {
			if n.Data != nil {
				n.Data = n.Data.clone()
			}
			if n.UI != nil {
				n.UI = append(json.RawMessage(nil), n.UI...)
			}
			c.Nodes[i] = n
		}
	}
	if g.Edges != nil {
		c.Edges = append([]Edge(nil), g.Edges...)
	}
	if g.Variables != nil {
		c.Variables = append([]Variable(nil), g.Variables...)
	}
	return c
}

// InitialVariables builds a fresh store from the declarations.
func (g *Graph) InitialVariables() Variables {
	vars := make(Variables, len(g.Variables))
	for _, v := range g.Variables {
		scope := v.Scope
		if scope == "" {
			scope = ScopeLocal
		}
		vars[v.Name] = Entry{Value: v.Default, Scope: scope}
	}
	return vars
}
