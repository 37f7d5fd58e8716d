package assertion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which of the four assertion forms an Expression holds.
type Kind int

const (
	KindExists Kind = iota
	KindLength
	KindTypeOf
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindExists:
		return "exists"
	case KindLength:
		return "length"
	case KindTypeOf:
		return "typeof"
	case KindValue:
		return "value"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operator is a comparison operator used by length and value assertions.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
)

// Type names accepted by typeof assertions.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

var (
	existsExpr = regexp.MustCompile(`^\s*exists\s*$`)
	lengthExpr = regexp.MustCompile(`^\s*length\s*(>=|<=|!=|>|<|=)\s*(\d+)\s*$`)
	typeofExpr = regexp.MustCompile(`^\s*typeof\s+(string|number|boolean|object|array|null)\s*$`)
	valueExpr  = regexp.MustCompile(`^\s*value\s*(>=|<=|!=|>|<|=)\s*(true|false|-?\d+(?:\.\d+)?|'.*')\s*$`)
)

// Expression is a parsed assertion. Only the fields relevant to Kind are set:
//
//	KindExists  -
//	KindLength  Op, Length
//	KindTypeOf  Type
//	KindValue   Op, Literal (bool, float64 or string)
type Expression struct {
	Kind    Kind
	Op      Operator
	Length  int
	Type    string
	Literal any

	source string
}

func (e Expression) String() string { return e.source }

// SyntaxError is returned by Parse for text that matches none of the forms.
type SyntaxError struct {
	Expr string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid assertion syntax %q: expected one of "+
		"\"exists\", \"length <op> <n>\", \"typeof <type>\", \"value <op> <literal>\"", e.Expr)
}

// Parse turns assertion text into an Expression.
func Parse(expr string) (Expression, error) {
	if existsExpr.MatchString(expr) {
		return Expression{Kind: KindExists, source: expr}, nil
	}

	if m := lengthExpr.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Expression{}, &SyntaxError{Expr: expr}
		}
		return Expression{Kind: KindLength, Op: Operator(m[1]), Length: n, source: expr}, nil
	}

	if m := typeofExpr.FindStringSubmatch(expr); m != nil {
		return Expression{Kind: KindTypeOf, Type: m[1], source: expr}, nil
	}

	if m := valueExpr.FindStringSubmatch(expr); m != nil {
		lit, err := parseLiteral(m[2])
		if err != nil {
			return Expression{}, &SyntaxError{Expr: expr}
		}
		return Expression{Kind: KindValue, Op: Operator(m[1]), Literal: lit, source: expr}, nil
	}

	return Expression{}, &SyntaxError{Expr: expr}
}

// MustParse is like Parse but panics on invalid syntax.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func parseLiteral(s string) (any, error) {
	switch {
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	case strings.HasPrefix(s, "'"):
		return s[1 : len(s)-1], nil
	default:
		return strconv.ParseFloat(s, 64)
	}
}
