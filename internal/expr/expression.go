package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is the four-valued outcome of evaluating an expression.
type Result int

const (
	True Result = iota
	False
	// Outdated means a value is older than the node's lifetime allows.
	Outdated
	// Undefined means a value has never been updated.
	Undefined
)

func (r Result) String() string {
	switch r {
	case True:
		return "True"
	case False:
		return "False"
	case Outdated:
		return "Outdated"
	case Undefined:
		return "Undefined"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// BoolOp combines child expressions.
type BoolOp int

const (
	OpOr  BoolOp = iota // |
	OpAnd               // &
	OpXor               // ^
	OpNot               // !
)

var boolOpTokens = map[string]BoolOp{
	"|": OpOr,
	"&": OpAnd,
	"^": OpXor,
	"!": OpNot,
}

func (op BoolOp) String() string {
	switch op {
	case OpOr:
		return "|"
	case OpAnd:
		return "&"
	case OpXor:
		return "^"
	case OpNot:
		return "!"
	default:
		return fmt.Sprintf("BoolOp(%d)", int(op))
	}
}

// CompareOp relates two values.
type CompareOp int

const (
	OpEq   CompareOp = iota // ==
	OpNeq                   // !=
	OpLt                    // <
	OpLtEq                  // <=
	OpGt                    // >
	OpGtEq                  // >=
)

var compareOpTokens = map[string]CompareOp{
	"==": OpEq,
	"!=": OpNeq,
	"<":  OpLt,
	"<=": OpLtEq,
	">":  OpGt,
	">=": OpGtEq,
}

func (op CompareOp) String() string {
	for tok, o := range compareOpTokens {
		if o == op {
			return tok
		}
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

var (
	ErrTypeMismatch    = errors.New("compared values have different kinds")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrEmptyExpression = errors.New("neither value nor expression set - empty expression")
	ErrBadArity        = errors.New("wrong number of operands")
	ErrEvaluation      = errors.New("expression evaluation error")
)

// ParseBoolOp maps |, &, ^ and ! to their operator.
func ParseBoolOp(tok string) (BoolOp, error) {
	if op, ok := boolOpTokens[tok]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: unknown expression operator '%s'", ErrUnknownOperator, tok)
}

// ParseCompareOp maps ==, !=, <, <=, > and >= to their operator.
func ParseCompareOp(tok string) (CompareOp, error) {
	if op, ok := compareOpTokens[tok]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: unknown value operator '%s'", ErrUnknownOperator, tok)
}

// now is swapped in tests.
var now = time.Now

// Expression is a node of an alarm condition tree. A node is either a
// boolean node over child expressions or a comparison node over two values,
// never both.
type Expression struct {
	// Maximum age of an underlying value update, 0 means unbounded.
	lifetime time.Duration

	boolOp      BoolOp
	left, right *Expression

	cmpOp                 CompareOp
	leftValue, rightValue Value
}

// NewBoolean builds an or, and or xor node over two children.
func NewBoolean(op BoolOp, left, right *Expression) (*Expression, error) {
	if op == OpNot {
		return nil, fmt.Errorf("%w: %s takes one operand", ErrBadArity, op)
	}
	if _, ok := boolOpTokens[op.String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
	if left == nil || right == nil {
		return nil, fmt.Errorf("%w: %s takes two operands", ErrBadArity, op)
	}
	return &Expression{boolOp: op, left: left, right: right}, nil
}

// NewNot builds a negation node.
func NewNot(child *Expression) (*Expression, error) {
	if child == nil {
		return nil, fmt.Errorf("%w: ! takes one operand", ErrBadArity)
	}
	return &Expression{boolOp: OpNot, left: child}, nil
}

// NewComparison builds a comparison node. Both values must be of the same kind.
func NewComparison(op CompareOp, left, right Value) (*Expression, error) {
	if _, ok := compareOpTokens[op.String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
	if left == nil || right == nil {
		return nil, fmt.Errorf("%w: %s takes two values", ErrBadArity, op)
	}
	if left.Kind() != right.Kind() {
		return nil, fmt.Errorf("%w: %s is %s, %s is %s",
			ErrTypeMismatch, left.Name(), left.Kind(), right.Name(), right.Kind())
	}
	return &Expression{cmpOp: op, leftValue: left, rightValue: right}, nil
}

// SetLifetime bounds how old a value update may be for this node.
func (e *Expression) SetLifetime(d time.Duration) { e.lifetime = d }

// Lifetime returns the node's lifetime, 0 when unbounded.
func (e *Expression) Lifetime() time.Duration { return e.lifetime }

// ApplyLifetime sets d on every node of the tree.
func (e *Expression) ApplyLifetime(d time.Duration) {
	if e == nil {
		return
	}
	e.lifetime = d
	e.left.ApplyLifetime(d)
	e.right.ApplyLifetime(d)
}

// IsComparison reports whether e is a populated comparison node.
func (e *Expression) IsComparison() bool {
	return e.leftValue != nil && e.rightValue != nil
}

// Values returns the comparison leaves of the tree, left to right.
func (e *Expression) Values() []Value {
	var out []Value
	e.walk(func(n *Expression) {
		if n.IsComparison() {
			out = append(out, n.leftValue, n.rightValue)
		}
	})
	return out
}

func (e *Expression) walk(fn func(*Expression)) {
	if e == nil {
		return
	}
	fn(e)
	e.left.walk(fn)
	e.right.walk(fn)
}

// Eval walks the tree and returns its result. Evaluation is lazy: or and and
// short-circuit on the left operand. An error means the tree itself is
// malformed and no result must be published.
func (e *Expression) Eval() (Result, error) {
	if e.leftValue != nil && e.rightValue != nil {
		return e.evalValues(), nil
	} else if e.left != nil {
		return e.evalExpression()
	}
	return Undefined, ErrEmptyExpression
}

func (e *Expression) evalExpression() (Result, error) {
	if e.left != nil && e.right != nil {
		switch e.boolOp {
		case OpOr:
			l, err := e.left.Eval()
			if err != nil {
				return l, err
			}
			if l == True {
				return True, nil
			}
			return e.right.Eval()

		case OpAnd:
			l, err := e.left.Eval()
			if err != nil {
				return l, err
			}
			if l != True {
				return l, nil
			}
			return e.right.Eval()

		case OpXor:
			l, err := e.left.Eval()
			if err != nil {
				return l, err
			}
			r, err := e.right.Eval()
			if err != nil {
				return r, err
			}
			return xor(l, r), nil
		}
	} else if e.boolOp == OpNot {
		v, err := e.left.Eval()
		if err != nil {
			return v, err
		}
		switch v {
		case True:
			return False, nil
		case False:
			return True, nil
		default:
			return v, nil
		}
	}
	return Undefined, fmt.Errorf("%w: operator %s with %s", ErrEvaluation, e.boolOp, e.arity())
}

// xor keeps the left operand's Undefined/Outdated ahead of the right's.
func xor(l, r Result) Result {
	switch {
	case (l == True && r == False) || (l == False && r == True):
		return True
	case l == r:
		return l
	case l == Undefined || l == Outdated:
		return l
	default:
		return r
	}
}

func (e *Expression) evalValues() Result {
	if !e.leftValue.IsReady() || !e.rightValue.IsReady() {
		return Undefined
	}
	if !e.valid(e.leftValue) || !e.valid(e.rightValue) {
		return Outdated
	}

	comp := e.leftValue.Compare(e.rightValue)
	switch {
	case comp < 0:
		return boolResult(e.cmpOp == OpNeq || e.cmpOp == OpLt || e.cmpOp == OpLtEq)
	case comp == 0:
		return boolResult(e.cmpOp == OpEq || e.cmpOp == OpLtEq || e.cmpOp == OpGtEq)
	default:
		return boolResult(e.cmpOp == OpNeq || e.cmpOp == OpGt || e.cmpOp == OpGtEq)
	}
}

func (e *Expression) valid(v Value) bool {
	if !v.IsValid() {
		return false
	}
	if e.lifetime <= 0 {
		return true
	}
	ts, ok := v.(Timestamped)
	if !ok || ts.UpdatedAt().IsZero() {
		return true
	}
	return now().Sub(ts.UpdatedAt()) <= e.lifetime
}

func boolResult(b bool) Result {
	if b {
		return True
	}
	return False
}

func (e *Expression) arity() string {
	n := 0
	if e.left != nil {
		n++
	}
	if e.right != nil {
		n++
	}
	return fmt.Sprintf("%d operand(s)", n)
}

// String renders the tree fully parenthesised.
func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	var out strings.Builder
	switch {
	case e.IsComparison():
		out.WriteString("(")
		out.WriteString(valueString(e.leftValue))
		out.WriteString(" " + e.cmpOp.String() + " ")
		out.WriteString(valueString(e.rightValue))
		out.WriteString(")")
	case e.boolOp == OpNot:
		out.WriteString("(!")
		out.WriteString(e.left.String())
		out.WriteString(")")
	default:
		out.WriteString("(")
		out.WriteString(e.left.String())
		out.WriteString(" " + e.boolOp.String() + " ")
		out.WriteString(e.right.String())
		out.WriteString(")")
	}
	return out.String()
}

func valueString(v Value) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return v.Name()
}
