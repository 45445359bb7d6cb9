// Package condition checks the size of a result set against an expectation,
// e.g. "a listing must return at least 3 paths".
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dashjay/obspath/pkg/obserr"
)

type Operator string

const (
	Eq Operator = "=="
	Ne Operator = "!="
	Lt Operator = "<"
	Gt Operator = ">"
	Le Operator = "<="
	Ge Operator = ">="
)

// Condition is an operator and a right hand operand. The zero value is not
// valid; use New or Must.
type Condition struct {
	op      Operator
	operand int
}

func New(op string, operand int) (Condition, error) {
	switch Operator(op) {
	case Eq, Ne, Lt, Gt, Le, Ge:
		return Condition{op: Operator(op), operand: operand}, nil
	}
	return Condition{}, obserr.Validation("unsupported condition operator %q", op)
}

// Parse reads an expression such as ">=3" or "== 0".
func Parse(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	i := strings.IndexFunc(expr, func(r rune) bool { return !strings.ContainsRune("=!<>", r) })
	if i <= 0 {
		return Condition{}, obserr.Validation("invalid condition %q", expr)
	}
	n, err := strconv.Atoi(strings.TrimSpace(expr[i:]))
	if err != nil {
		return Condition{}, obserr.New(obserr.KindValidation, fmt.Sprintf("invalid condition operand in %q", expr), err)
	}
	return New(expr[:i], n)
}

func Must(op string, operand int) Condition {
	c, err := New(op, operand)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Condition) Operator() Operator { return c.op }

func (c Condition) Operand() int { return c.operand }

func (c Condition) Met(n int) bool {
	switch c.op {
	case Eq:
		return n == c.operand
	case Ne:
		return n != c.operand
	case Lt:
		return n < c.operand
	case Gt:
		return n > c.operand
	case Le:
		return n <= c.operand
	case Ge:
		return n >= c.operand
	}
	return false
}

// Assert returns a ConditionNotMet error when n does not satisfy c.
func (c Condition) Assert(n int) error {
	if c.Met(n) {
		return nil
	}
	return obserr.Newf(obserr.KindConditionNotMet, "condition not met: %d %s %d is false", n, c.op, c.operand)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %d", c.op, c.operand)
}

// Check is Assert for an optional condition.
func Check(c *Condition, n int) error {
	if c == nil {
		return nil
	}
	return c.Assert(n)
}
