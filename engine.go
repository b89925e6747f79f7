package flow

import (
	"encoding/json"
	"fmt"
)

// Answer is what a respondent submits for a node: one element for yes/no and
// single choice, any number for multiple choice, none for nodes that take no
// input. It decodes from either a JSON string or an array of strings.
type Answer []string

func (a *Answer) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*a = Answer{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("%w: answer must be a string or a list of strings", ErrInvalidAnswer)
	}
	*a = Answer(many)
	return nil
}

// StepResult is the outcome of stepping one node. Next is empty when the
// stepped node was itself an end node. Terminal reports that the session is
// over: either Next is an end node or the stepped node was one.
type StepResult struct {
	Next      string    `json:"next,omitempty"`
	Variables Variables `json:"variables"`
	Terminal  bool      `json:"terminal"`
	Handle    string    `json:"handle,omitempty"`
}

// Interactive reports whether nodes of kind k wait for a respondent answer.
func Interactive(k Kind) bool {
	switch k {
	case KindYesNo, KindSingleChoice, KindMultipleChoice:
		return true
	}
	return false
}

// StepNode advances one node. It is pure: vars is never modified and the same
// inputs always produce the same result. Traversal failures come back as
// errors wrapping ErrUnroutedHandle, ErrInvalidAnswer, ErrNoMatchingHandle,
// ErrAmbiguousRoute, ErrTypeMismatch, ErrDivideByZero or ErrNotFinite.
func StepNode(g *Graph, nodeID string, answer Answer, vars Variables) (StepResult, error) {
	n, ok := g.Node(nodeID)
	if !ok {
		return StepResult{}, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	next := vars.Clone()

	var (
		edge   Edge
		handle string
		err    error
	)
	switch d := deref(n.Data).(type) {
	case EndData:
		return StepResult{Variables: next, Terminal: true}, nil
	case StartData:
		edge, err = singleExit(g, n)
	case WeightData:
		if err = next.Increment(accumulatorName(d.VariableName), d.Weight); err != nil {
			return StepResult{}, fmt.Errorf("node %q: %w", n.ID, err)
		}
		edge, err = singleExit(g, n)
	case YesNoData:
		handle, err = yesNoHandle(n, answer)
		if err == nil {
			edge, err = route(g, n, handle)
		}
	case SingleChoiceData:
		handle, err = singleChoiceHandle(n, d, answer)
		if err == nil {
			edge, err = route(g, n, handle)
		}
	case MultipleChoiceData:
		if err = applySelection(n, d, answer, next); err == nil {
			edge, err = singleExit(g, n)
		}
	case FunctionData:
		handle, err = evaluate(n, d, next)
		if err == nil && handle == "" {
			if !hasHandle(g.Outgoing(n.ID), HandleDefault) {
				return StepResult{}, fmt.Errorf("%w: no condition of node %q fired and it has no %q route", ErrNoMatchingHandle, n.ID, HandleDefault)
			}
			handle = HandleDefault
		}
		if err == nil {
			edge, err = route(g, n, handle)
		}
	default:
		err = fmt.Errorf("%w: node %q has unknown kind %q", ErrInvalidGraph, n.ID, n.Kind)
	}
	if err != nil {
		return StepResult{}, err
	}

	target, ok := g.Node(edge.Target)
	if !ok {
		return StepResult{}, fmt.Errorf("%w: edge %q points at %q", ErrNodeNotFound, edge.ID, edge.Target)
	}
	return StepResult{
		Next:      target.ID,
		Variables: next,
		Terminal:  target.Kind == KindEnd,
		Handle:    handle,
	}, nil
}

// singleExit resolves the only outgoing edge of a start, weight or
// multiple-choice node.
func singleExit(g *Graph, n *Node) (Edge, error) {
	out := g.Outgoing(n.ID)
	switch len(out) {
	case 0:
		return Edge{}, fmt.Errorf("%w: node %q has no outgoing edge", ErrUnroutedHandle, n.ID)
	case 1:
		return out[0], nil
	}
	return Edge{}, fmt.Errorf("%w: node %q has %d outgoing edges", ErrAmbiguousRoute, n.ID, len(out))
}

// route resolves the edge attached to handle. It never falls back to another
// edge.
func route(g *Graph, n *Node, handle string) (Edge, error) {
	var found []Edge
	for _, e := range g.Outgoing(n.ID) {
		if e.SourceHandle == handle {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return Edge{}, fmt.Errorf("%w: node %q handle %q", ErrUnroutedHandle, n.ID, handle)
	case 1:
		return found[0], nil
	}
	return Edge{}, fmt.Errorf("%w: node %q handle %q", ErrAmbiguousRoute, n.ID, handle)
}

func yesNoHandle(n *Node, answer Answer) (string, error) {
	if len(answer) != 1 {
		return "", fmt.Errorf("%w: node %q expects yes or no", ErrInvalidAnswer, n.ID)
	}
	switch answer[0] {
	case HandleYes, HandleNo:
		return answer[0], nil
	}
	return "", fmt.Errorf("%w: node %q expects yes or no, got %q", ErrInvalidAnswer, n.ID, answer[0])
}

func singleChoiceHandle(n *Node, d SingleChoiceData, answer Answer) (string, error) {
	if len(answer) != 1 {
		return "", fmt.Errorf("%w: node %q expects exactly one option", ErrInvalidAnswer, n.ID)
	}
	for _, o := range d.Options {
		if o.ID == answer[0] {
			return o.ID, nil
		}
	}
	return "", fmt.Errorf("%w: node %q has no option %q", ErrInvalidAnswer, n.ID, answer[0])
}

// applySelection checks the selection against the options and bounds and adds
// the weight of every selected option to its accumulator. Options without a
// weight contribute nothing.
func applySelection(n *Node, d MultipleChoiceData, answer Answer, vars Variables) error {
	if d.Min > 0 && len(answer) < d.Min {
		return fmt.Errorf("%w: node %q needs at least %d selections, got %d", ErrInvalidAnswer, n.ID, d.Min, len(answer))
	}
	if d.Max > 0 && len(answer) > d.Max {
		return fmt.Errorf("%w: node %q allows at most %d selections, got %d", ErrInvalidAnswer, n.ID, d.Max, len(answer))
	}
	options := make(map[string]Option, len(d.Options))
	for _, o := range d.Options {
		options[o.ID] = o
	}
	picked := make(map[string]bool, len(answer))
	for _, id := range answer {
		o, ok := options[id]
		if !ok {
			return fmt.Errorf("%w: node %q has no option %q", ErrInvalidAnswer, n.ID, id)
		}
		if picked[id] {
			return fmt.Errorf("%w: node %q option %q selected twice", ErrInvalidAnswer, n.ID, id)
		}
		picked[id] = true
		if o.Weight == nil {
			continue
		}
		if err := vars.Increment(accumulatorName(o.VariableName), *o.Weight); err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
	}
	return nil
}

// evaluate runs the steps of a function node in order against vars and
// returns the handle of the first condition that fires, or "" if none did.
func evaluate(n *Node, d FunctionData, vars Variables) (string, error) {
	for i, s := range d.Steps {
		operand, err := operandOf(s, vars)
		if err != nil {
			return "", fmt.Errorf("node %q step %d: %w", n.ID, i, err)
		}
		switch s.Type {
		case StepOperation:
			if err := apply(s, operand, vars); err != nil {
				return "", fmt.Errorf("node %q step %d: %w", n.ID, i, err)
			}
		case StepCondition:
			ok, err := compare(vars.Get(s.Variable), s.Comparator, operand)
			if err != nil {
				return "", fmt.Errorf("node %q step %d: %w", n.ID, i, err)
			}
			handle := s.FalseHandle
			if ok {
				handle = s.TrueHandle
			}
			if handle != "" {
				return handle, nil
			}
		default:
			return "", fmt.Errorf("%w: node %q step %d has unknown type %q", ErrInvalidGraph, n.ID, i, s.Type)
		}
	}
	return "", nil
}

func operandOf(s Step, vars Variables) (Value, error) {
	switch {
	case s.Value != nil:
		return *s.Value, nil
	case s.Source != "":
		return vars.Get(s.Source), nil
	}
	return Value{}, fmt.Errorf("%w: step has no operand", ErrInvalidGraph)
}

func apply(s Step, operand Value, vars Variables) error {
	if s.Op == OpSet {
		return vars.Set(s.Variable, operand)
	}
	cur := vars.Get(s.Variable)
	if !cur.IsNumber() || !operand.IsNumber() {
		return fmt.Errorf("%w: %s on %q needs numbers", ErrTypeMismatch, s.Op, s.Variable)
	}
	var out float64
	switch s.Op {
	case OpAdd:
		out = cur.Num + operand.Num
	case OpSubtract:
		out = cur.Num - operand.Num
	case OpMultiply:
		out = cur.Num * operand.Num
	case OpDivide:
		if operand.Num == 0 {
			return fmt.Errorf("%w: %q / 0", ErrDivideByZero, s.Variable)
		}
		out = cur.Num / operand.Num
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidGraph, s.Op)
	}
	if !finite(out) {
		return fmt.Errorf("%w: %s on %q gives %v", ErrNotFinite, s.Op, s.Variable, out)
	}
	return vars.Set(s.Variable, Number(out))
}

func compare(left Value, cmp Comparator, right Value) (bool, error) {
	if left.IsNumber() != right.IsNumber() {
		return false, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, typeName(left), typeName(right))
	}
	if !left.IsNumber() {
		switch cmp {
		case CmpEqual:
			return left.Str == right.Str, nil
		case CmpNotEqual:
			return left.Str != right.Str, nil
		}
		return false, fmt.Errorf("%w: %s is not defined for strings", ErrTypeMismatch, cmp)
	}
	a, b := left.Num, right.Num
	switch cmp {
	case CmpGreater:
		return a > b, nil
	case CmpLess:
		return a < b, nil
	case CmpGreaterEqual:
		return a >= b, nil
	case CmpLessEqual:
		return a <= b, nil
	case CmpEqual:
		return a == b, nil
	case CmpNotEqual:
		return a != b, nil
	}
	return false, fmt.Errorf("%w: unknown comparator %q", ErrInvalidGraph, cmp)
}
