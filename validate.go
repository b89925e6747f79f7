package flow

import (
	"fmt"
	"sort"
)

// Severity ranks a validation issue. Only errors block a publish.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	CodeMissingStart    = "missing_start"
	CodeMultipleStart   = "multiple_start"
	CodeMissingEnd      = "missing_end"
	CodeEmptyID         = "empty_id"
	CodeDuplicateNode   = "duplicate_node"
	CodeDuplicateEdge   = "duplicate_edge"
	CodeDanglingEdge    = "dangling_edge"
	CodeUnknownKind     = "unknown_kind"
	CodeUnknownHandle   = "unknown_handle"
	CodeDuplicateHandle = "duplicate_handle"
	CodeUnroutedHandle  = "unrouted_handle"
	CodeTooManyExits    = "too_many_exits"
	CodeEndHasExit      = "end_has_exit"
	CodeBadOptions      = "bad_options"
	CodeBadBounds       = "bad_bounds"
	CodeBadStep         = "bad_step"
	CodeUnknownVariable = "unknown_variable"
	CodeTypeMismatch    = "type_mismatch"
	CodeDuplicateVar    = "duplicate_variable"
	CodeUnreachable     = "unreachable"
	CodeNoPathToEnd     = "no_path_to_end"
	CodeNoDefaultRoute  = "no_default_route"
	CodeSelfRedirect    = "self_redirect"
)

// Issue is a single validation finding.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", i.Code, i.NodeID, i.Message)
	case i.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", i.Code, i.EdgeID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// ValidationResult lists every hard error and warning found in a graph.
type ValidationResult struct {
	OK       bool    `json:"ok"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Err returns a *ValidationError when the result has hard errors.
func (r ValidationResult) Err() error {
	if r.OK {
		return nil
	}
	return &ValidationError{Issues: r.Errors}
}

type validator struct {
	g   *Graph
	res ValidationResult
}

func (v *validator) errorf(code, nodeID, edgeID, format string, args ...any) {
	v.res.Errors = append(v.res.Errors, Issue{
		Code: code, Severity: SeverityError, NodeID: nodeID, EdgeID: edgeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) warnf(code, nodeID, edgeID, format string, args ...any) {
	v.res.Warnings = append(v.res.Warnings, Issue{
		Code: code, Severity: SeverityWarning, NodeID: nodeID, EdgeID: edgeID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks the structural invariants of g. Every check runs; all
// findings are collected. It never mutates g.
func Validate(g *Graph) ValidationResult {
	v := &validator{g: g, res: ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}}

	nodes := v.checkNodes()
	v.checkEdges(nodes)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" || nodes[n.ID] != n {
			continue
		}
		v.checkHandles(n)
	}
	declared := v.checkVariables()
	v.checkFunctions(declared)
	v.checkReachability(nodes)

	v.res.OK = len(v.res.Errors) == 0
	return v.res
}

func (v *validator) checkNodes() map[string]*Node {
	nodes := make(map[string]*Node, len(v.g.Nodes))
	starts, ends := 0, 0
	for i := range v.g.Nodes {
		n := &v.g.Nodes[i]
		if n.ID == "" {
			v.errorf(CodeEmptyID, "", "", "node at index %d has no id", i)
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			v.errorf(CodeDuplicateNode, n.ID, "", "node id %q is used more than once", n.ID)
			continue
		}
		nodes[n.ID] = n

		if n.Data == nil || deref(n.Data).kind() != n.Kind {
			v.errorf(CodeUnknownKind, n.ID, "", "node kind %q is unknown or does not match its data", n.Kind)
		}
		switch n.Kind {
		case KindStart:
			starts++
		case KindEnd:
			ends++
		}
	}
	switch {
	case starts == 0:
		v.errorf(CodeMissingStart, "", "", "graph has no start node")
	case starts > 1:
		v.errorf(CodeMultipleStart, "", "", "graph has %d start nodes, want exactly one", starts)
	}
	if ends == 0 {
		v.errorf(CodeMissingEnd, "", "", "graph has no end node")
	}
	return nodes
}

func (v *validator) checkEdges(nodes map[string]*Node) {
	seen := make(map[string]bool, len(v.g.Edges))
	for i, e := range v.g.Edges {
		if e.ID == "" {
			v.errorf(CodeEmptyID, "", "", "edge at index %d has no id", i)
		} else if seen[e.ID] {
			v.errorf(CodeDuplicateEdge, "", e.ID, "edge id %q is used more than once", e.ID)
		}
		seen[e.ID] = true

		if _, ok := nodes[e.Source]; !ok {
			v.errorf(CodeDanglingEdge, "", e.ID, "source %q does not exist", e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			v.errorf(CodeDanglingEdge, "", e.ID, "target %q does not exist", e.Target)
		}
	}
}

// checkHandles verifies that the outgoing edges of n match the handles its
// kind declares.
func (v *validator) checkHandles(n *Node) {
	out := v.g.Outgoing(n.ID)
	switch d := deref(n.Data).(type) {
	case StartData, WeightData:
		v.singleExit(n, out)
	case MultipleChoiceData:
		v.checkOptions(n, d.Options)
		if d.Min < 0 || d.Max < 0 || (d.Max > 0 && d.Min > d.Max) || d.Max > len(d.Options) || d.Min > len(d.Options) {
			v.errorf(CodeBadBounds, n.ID, "", "selection bounds min=%d max=%d are inconsistent with %d options", d.Min, d.Max, len(d.Options))
		}
		v.singleExit(n, out)
	case EndData:
		for _, e := range out {
			v.errorf(CodeEndHasExit, n.ID, e.ID, "end nodes cannot have outgoing edges")
		}
		if d.RedirectTarget != "" && d.RedirectTarget == v.g.ID {
			v.warnf(CodeSelfRedirect, n.ID, "", "end node redirects into its own flow")
		}
	case YesNoData:
		v.namedHandles(n, out, []string{HandleYes, HandleNo})
	case SingleChoiceData:
		v.checkOptions(n, d.Options)
		handles := make([]string, 0, len(d.Options))
		for _, o := range d.Options {
			handles = append(handles, o.ID)
		}
		v.namedHandles(n, out, handles)
	case FunctionData:
		v.namedHandles(n, out, functionHandles(d), HandleDefault)
		if !alwaysFires(d) && !hasHandle(out, HandleDefault) {
			v.warnf(CodeNoDefaultRoute, n.ID, "", "no condition may fire and there is no %q route", HandleDefault)
		}
	}
}

func (v *validator) singleExit(n *Node, out []Edge) {
	switch len(out) {
	case 0:
		v.warnf(CodeUnroutedHandle, n.ID, "", "%s node has no outgoing edge", n.Kind)
	case 1:
	default:
		v.errorf(CodeTooManyExits, n.ID, "", "%s node has %d outgoing edges, want one", n.Kind, len(out))
	}
}

// namedHandles requires every edge to use a declared or optional handle, at
// most once, and warns about declared handles left unrouted.
func (v *validator) namedHandles(n *Node, out []Edge, handles []string, optional ...string) {
	declared := make(map[string]bool, len(handles)+len(optional))
	for _, h := range append(optional, handles...) {
		declared[h] = true
	}
	used := make(map[string]bool, len(out))
	for _, e := range out {
		switch {
		case !declared[e.SourceHandle]:
			v.errorf(CodeUnknownHandle, n.ID, e.ID, "handle %q is not declared by the node", e.SourceHandle)
		case used[e.SourceHandle]:
			v.errorf(CodeDuplicateHandle, n.ID, e.ID, "handle %q has more than one edge", e.SourceHandle)
		}
		used[e.SourceHandle] = true
	}
	for _, h := range handles {
		if !used[h] {
			v.warnf(CodeUnroutedHandle, n.ID, "", "handle %q is not connected", h)
		}
	}
}

func (v *validator) checkOptions(n *Node, opts []Option) {
	if len(opts) == 0 {
		v.errorf(CodeBadOptions, n.ID, "", "choice node has no options")
	}
	seen := make(map[string]bool, len(opts))
	for i, o := range opts {
		switch {
		case o.ID == "":
			v.errorf(CodeBadOptions, n.ID, "", "option %d has no id", i)
		case seen[o.ID]:
			v.errorf(CodeBadOptions, n.ID, "", "option id %q is used more than once", o.ID)
		}
		seen[o.ID] = true
	}
}

// checkVariables returns the declared variables by name.
func (v *validator) checkVariables() map[string]Value {
	declared := make(map[string]Value, len(v.g.Variables))
	for _, d := range v.g.Variables {
		if d.Name == "" {
			v.errorf(CodeEmptyID, "", "", "variable declaration has no name")
			continue
		}
		if _, dup := declared[d.Name]; dup {
			v.errorf(CodeDuplicateVar, "", "", "variable %q is declared more than once", d.Name)
			continue
		}
		if d.Scope != "" && d.Scope != ScopeLocal && d.Scope != ScopeGlobal {
			v.errorf(CodeBadStep, "", "", "variable %q has unknown scope %q", d.Name, d.Scope)
		}
		declared[d.Name] = d.Default
	}
	return declared
}

// checkFunctions validates function steps. A step may read a declared
// variable, an accumulator written by a weight node or a multiple-choice
// option, or a variable set by an earlier step of the same node.
func (v *validator) checkFunctions(declared map[string]Value) {
	accumulators := make(map[string]bool)
	for _, n := range v.g.Nodes {
		switch d := deref(n.Data).(type) {
		case WeightData:
			accumulators[accumulatorName(d.VariableName)] = true
		case MultipleChoiceData:
			for _, o := range d.Options {
				if o.Weight != nil {
					accumulators[accumulatorName(o.VariableName)] = true
				}
			}
		}
	}
	for name := range accumulators {
		if val, ok := declared[name]; ok && !val.IsNumber() {
			v.errorf(CodeTypeMismatch, "", "", "weights accumulate into string variable %q", name)
		}
	}

	for _, n := range v.g.Nodes {
		d, ok := deref(n.Data).(FunctionData)
		if !ok {
			continue
		}
		written := make(map[string]bool)
		known := func(name string) bool {
			_, dec := declared[name]
			return dec || accumulators[name] || written[name]
		}
		for i, s := range d.Steps {
			if !v.checkStep(n.ID, i, s) {
				continue
			}
			for _, name := range s.reads() {
				if !known(name) {
					v.errorf(CodeUnknownVariable, n.ID, "", "step %d reads unknown variable %q", i, name)
				}
			}
			if s.Type == StepOperation && s.Op != OpSet {
				if val, ok := declared[s.Variable]; ok && !val.IsNumber() {
					v.errorf(CodeTypeMismatch, n.ID, "", "step %d does arithmetic on string variable %q", i, s.Variable)
				}
				if s.Value != nil && !s.Value.IsNumber() {
					v.errorf(CodeTypeMismatch, n.ID, "", "step %d has a string operand for %s", i, s.Op)
				}
			}
			if s.Type == StepCondition {
				v.checkComparison(n.ID, i, s, declared)
			}
			if s.Type == StepOperation {
				written[s.Variable] = true
			}
		}
	}
}

// checkComparison catches type errors that are visible from declarations
// alone; the rest surface at runtime as ErrTypeMismatch.
func (v *validator) checkComparison(nodeID string, i int, s Step, declared map[string]Value) {
	val, ok := declared[s.Variable]
	if !ok {
		return
	}
	if s.Value != nil && s.Value.IsNumber() != val.IsNumber() {
		v.errorf(CodeTypeMismatch, nodeID, "", "step %d compares %s variable %q with a %s", i, typeName(val), s.Variable, typeName(*s.Value))
		return
	}
	if !val.IsNumber() && s.Comparator != CmpEqual && s.Comparator != CmpNotEqual {
		v.errorf(CodeTypeMismatch, nodeID, "", "step %d orders string variable %q with %s", i, s.Variable, s.Comparator)
	}
}

func (v *validator) checkStep(nodeID string, i int, s Step) bool {
	if s.Variable == "" {
		v.errorf(CodeBadStep, nodeID, "", "step %d names no variable", i)
		return false
	}
	if (s.Value == nil) == (s.Source == "") {
		v.errorf(CodeBadStep, nodeID, "", "step %d needs exactly one of value or source", i)
		return false
	}
	switch s.Type {
	case StepOperation:
		if !validOperator(s.Op) {
			v.errorf(CodeBadStep, nodeID, "", "step %d has unknown operation %q", i, s.Op)
			return false
		}
	case StepCondition:
		if !validComparator(s.Comparator) {
			v.errorf(CodeBadStep, nodeID, "", "step %d has unknown comparator %q", i, s.Comparator)
			return false
		}
		if s.TrueHandle == "" && s.FalseHandle == "" {
			v.errorf(CodeBadStep, nodeID, "", "step %d selects no handle", i)
			return false
		}
	default:
		v.errorf(CodeBadStep, nodeID, "", "step %d has unknown type %q", i, s.Type)
		return false
	}
	return true
}

// checkReachability requires every node to be reachable from start and every
// non-end node to reach some end node.
func (v *validator) checkReachability(nodes map[string]*Node) {
	forward := make(map[string][]string)
	backward := make(map[string][]string)
	for _, e := range v.g.Edges {
		if nodes[e.Source] == nil || nodes[e.Target] == nil {
			continue
		}
		forward[e.Source] = append(forward[e.Source], e.Target)
		backward[e.Target] = append(backward[e.Target], e.Source)
	}

	var roots, ends []string
	for id, n := range nodes {
		switch n.Kind {
		case KindStart:
			roots = append(roots, id)
		case KindEnd:
			ends = append(ends, id)
		}
	}

	reached := walk(roots, forward)
	reaching := walk(ends, backward)

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if len(roots) > 0 && !reached[id] {
			v.errorf(CodeUnreachable, id, "", "node cannot be reached from start")
		}
		if nodes[id].Kind != KindEnd && len(ends) > 0 && !reaching[id] {
			v.errorf(CodeNoPathToEnd, id, "", "node has no path to an end node")
		}
	}
}

// walk returns every node reachable from roots over adj.
func walk(roots []string, adj map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adj[id]...)
	}
	return seen
}

func functionHandles(d FunctionData) []string {
	seen := map[string]bool{}
	var handles []string
	add := func(h string) {
		if h != "" && !seen[h] {
			seen[h] = true
			handles = append(handles, h)
		}
	}
	for _, s := range d.Steps {
		if s.Type == StepCondition {
			add(s.TrueHandle)
			add(s.FalseHandle)
		}
	}
	return handles
}

// alwaysFires reports whether evaluation can never fall through to the
// default handle because some condition selects a handle either way.
func alwaysFires(d FunctionData) bool {
	for _, s := range d.Steps {
		if s.Type == StepCondition && s.TrueHandle != "" && s.FalseHandle != "" {
			return true
		}
	}
	return false
}

func hasHandle(edges []Edge, handle string) bool {
	for _, e := range edges {
		if e.SourceHandle == handle {
			return true
		}
	}
	return false
}

func accumulatorName(name string) string {
	if name == "" {
		return DefaultAccumulator
	}
	return name
}
