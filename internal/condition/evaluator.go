package condition

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxDepth = 10

const regexCacheSize = 256

// StructuralError is raised for trees that cannot be evaluated: unknown
// operators, recursion past the depth limit or malformed operands.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return "condition: " + e.Reason }

func structural(format string, args ...any) error {
	return &StructuralError{Reason: fmt.Sprintf(format, args...)}
}

// Evaluator is safe for concurrent use.
type Evaluator struct {
	maxDepth int
	regexes  *lru.Cache[string, *regexp.Regexp]
}

type Option func(*Evaluator)

// WithMaxDepth overrides the recursion bound. Values below 1 are ignored.
func WithMaxDepth(depth int) Option {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

func New(opts ...Option) *Evaluator {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	e := &Evaluator{maxDepth: DefaultMaxDepth, regexes: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) MaxDepth() int { return e.maxDepth }

// Evaluate returns the value of node against ctx. Structural errors are logged
// and the result fails closed to false. A nil node is true.
func (e *Evaluator) Evaluate(node *Node, ctx map[string]any) bool {
	ok, err := e.Check(node, ctx)
	if err != nil {
		slog.Warn("Condition evaluation failed, treating as false", "error", err)
		return false
	}
	return ok
}

// Check is Evaluate without the fail-closed wrapper.
func (e *Evaluator) Check(node *Node, ctx map[string]any) (result bool, err error) {
	if node == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = false, structural("panic during evaluation: %v", r)
		}
	}()
	return e.eval(*node, ctx, 0)
}

// Validate checks the structure of node without a context: operators must be
// on the allow-list, the depth bounded and the operands of between/matches well formed.
func (e *Evaluator) Validate(node *Node) error {
	if node == nil {
		return nil
	}
	return e.validate(*node, 0)
}

func (e *Evaluator) validate(n Node, depth int) error {
	if depth > e.maxDepth {
		return structural("maximum depth %d exceeded", e.maxDepth)
	}
	switch n.Kind {
	case KindLiteral:
		return nil
	case KindAnd, KindOr:
		for _, c := range n.Children {
			if err := e.validate(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	case KindNot:
		if len(n.Children) != 1 {
			return structural("not expects exactly one operand")
		}
		return e.validate(n.Children[0], depth+1)
	case KindCompare:
		if _, ok := operators[n.Operator]; !ok {
			return structural("operator %q is not supported", n.Operator)
		}
		switch n.Operator {
		case OpBetween:
			_, _, err := rangeBounds(n.Value)
			return err
		case OpMatches:
			_, err := e.regex(n.Value)
			return err
		case OpIn, OpNotIn:
			if _, ok := asList(n.Value); !ok {
				return structural("%s expects a list value", n.Operator)
			}
		}
		return nil
	default:
		return structural("unknown node kind %d", n.Kind)
	}
}

func (e *Evaluator) eval(n Node, ctx map[string]any, depth int) (bool, error) {
	if depth > e.maxDepth {
		return false, structural("maximum depth %d exceeded", e.maxDepth)
	}
	switch n.Kind {
	case KindLiteral:
		return n.Literal, nil
	case KindAnd:
		for _, c := range n.Children {
			ok, err := e.eval(c, ctx, depth+1)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case KindOr:
		for _, c := range n.Children {
			ok, err := e.eval(c, ctx, depth+1)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		if len(n.Children) != 1 {
			return false, structural("not expects exactly one operand")
		}
		ok, err := e.eval(n.Children[0], ctx, depth+1)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case KindCompare:
		op, ok := operators[n.Operator]
		if !ok {
			return false, structural("operator %q is not supported", n.Operator)
		}
		actual, present := Resolve(ctx, n.Field)
		return op(e, operand{value: actual, present: present}, n.Value)
	default:
		return false, structural("unknown node kind %d", n.Kind)
	}
}

func (e *Evaluator) regex(pattern any) (*regexp.Regexp, error) {
	s, ok := pattern.(string)
	if !ok {
		return nil, structural("matches expects a string pattern, got %T", pattern)
	}
	if re, ok := e.regexes.Get(s); ok {
		return re, nil
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, structural("invalid pattern %q: %v", s, err)
	}
	e.regexes.Add(s, re)
	return re, nil
}

// Resolve walks a dotted path through nested maps and slices. The second
// return value is false when any segment is missing.
func Resolve(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		case []string:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
