// Package calc implements the arithmetic core: request decoding, validation and
// computation of add/sub operations.
package calc

//go:generate go run ./internal/schema ../../calculate.schema.json

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/invopop/jsonschema"

	"github.com/umputun/calcn/app/enums"
)

// ErrInvalidInput is matched by every validation failure, use errors.Is to check
var ErrInvalidInput = errors.New("invalid input")

// InputError is a client-caused failure with a message safe to show to the caller
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrInvalidInput) true for any InputError
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

var (
	errNotNumbers = &InputError{Msg: "a and b must be numbers"}
	errBadOp      = &InputError{Msg: "op must be add or sub"}
	errBadJSON    = &InputError{Msg: "invalid request body"}
	errOutOfRange = &InputError{Msg: "result is out of range"}
	errNotFinite  = &InputError{Msg: "a and b must be finite numbers"}
)

// Request is a single calculation request
type Request struct {
	A  float64         `json:"a" jsonschema:"description=first operand"`
	B  float64         `json:"b" jsonschema:"description=second operand"`
	Op enums.Operation `json:"op"`
}

// ParseRequest decodes and validates the JSON body of a calculation request.
// Operands must be JSON numbers, quoted numbers are rejected.
func ParseRequest(body []byte) (Request, error) {
	var raw struct {
		A  json.RawMessage `json:"a"`
		B  json.RawMessage `json:"b"`
		Op json.RawMessage `json:"op"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, errBadJSON
	}

	a, okA := number(raw.A)
	b, okB := number(raw.B)
	if !okA || !okB {
		return Request{}, errNotNumbers
	}

	var tag string
	if len(raw.Op) == 0 || json.Unmarshal(raw.Op, &tag) != nil {
		return Request{}, errBadOp
	}
	op, err := enums.ParseOperation(tag)
	if err != nil {
		return Request{}, errBadOp
	}

	return Request{A: a, B: b, Op: op}, nil
}

// Calculate returns a+b for add and a-b for sub
func Calculate(a, b float64, op enums.Operation) (float64, error) {
	if !finite(a) || !finite(b) {
		return 0, errNotFinite
	}

	var res float64
	switch op {
	case enums.OperationAdd:
		res = a + b
	case enums.OperationSub:
		res = a - b
	default:
		return 0, errBadOp
	}

	// overflow of two finite operands, not representable in JSON
	if !finite(res) {
		return 0, errOutOfRange
	}
	return res, nil
}

// Schema returns the JSON schema of Request
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := r.Reflect(&Request{})
	schema.Title = "Calculate request"
	schema.Description = "Body of POST /api/calculate"
	return schema
}

// number accepts only a JSON number literal
func number(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
