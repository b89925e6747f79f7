package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueType distinguishes numeric from string values.
type ValueType string

const (
	TypeNumber ValueType = "number"
	TypeString ValueType = "string"
)

// Value is a numeric or string variable value. It encodes as a bare JSON
// number or string.
type Value struct {
	Type ValueType
	Num  float64
	Str  string
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{Type: TypeNumber, Num: f} }

// String returns a string value.
func String(s string) Value { return Value{Type: TypeString, Str: s} }

// IsNumber reports whether v is numeric. The zero Value counts as the number 0.
func (v Value) IsNumber() bool { return v.Type != TypeString }

func (v Value) String() string {
	if v.IsNumber() {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNumber() {
		return json.Marshal(v.Num)
	}
	return json.Marshal(v.Str)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = Number(0)
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("flow: value must be a number or string: %w", err)
	}
	*v = Number(f)
	return nil
}
