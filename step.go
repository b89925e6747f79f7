package flow

// StepType selects what a function step does.
type StepType string

const (
	StepOperation StepType = "operation"
	StepCondition StepType = "condition"
)

// Operator is an arithmetic or assignment operation on a variable.
type Operator string

const (
	OpSet      Operator = "set"
	OpAdd      Operator = "add"
	OpSubtract Operator = "subtract"
	OpMultiply Operator = "multiply"
	OpDivide   Operator = "divide"
)

// Comparator compares a variable against an operand.
type Comparator string

const (
	CmpGreater      Comparator = ">"
	CmpLess         Comparator = "<"
	CmpGreaterEqual Comparator = ">="
	CmpLessEqual    Comparator = "<="
	CmpEqual        Comparator = "=="
	CmpNotEqual     Comparator = "!="
)

// Step is one instruction of a function node. The operand is either the
// literal Value or the variable named by Source.
//
// An operation writes Variable. A condition compares Variable against the
// operand and selects TrueHandle or FalseHandle; it fires only when the
// selected handle is non-empty, otherwise evaluation moves to the next step.
type Step struct {
	Type        StepType   `json:"type"`
	Variable    string     `json:"variable"`
	Op          Operator   `json:"op,omitempty"`
	Comparator  Comparator `json:"comparator,omitempty"`
	Value       *Value     `json:"value,omitempty"`
	Source      string     `json:"source,omitempty"`
	TrueHandle  string     `json:"trueHandle,omitempty"`
	FalseHandle string     `json:"falseHandle,omitempty"`
}

// reads returns the variables the step reads.
func (s Step) reads() []string {
	var names []string
	if s.Type == StepCondition || (s.Type == StepOperation && s.Op != OpSet) {
		names = append(names, s.Variable)
	}
	if s.Source != "" {
		names = append(names, s.Source)
	}
	return names
}

func validOperator(op Operator) bool {
	switch op {
	case OpSet, OpAdd, OpSubtract, OpMultiply, OpDivide:
		return true
	}
	return false
}

func validComparator(c Comparator) bool {
	switch c {
	case CmpGreater, CmpLess, CmpGreaterEqual, CmpLessEqual, CmpEqual, CmpNotEqual:
		return true
	}
	return false
}
