// Package condition evaluates boolean expression trees against a context map.
//
// A tree is either a boolean literal, a composite ({"and": [...]}, {"or": [...]},
// {"not": {...}}) or a comparison ({"field": "a.b", "operator": "==", "value": 1}).
// Trees decode from JSON and YAML so they can live inside workflow definitions.
package condition

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

type Kind int

const (
	KindLiteral Kind = iota + 1
	KindAnd
	KindOr
	KindNot
	KindCompare
)

// Node is one element of a condition tree.
type Node struct {
	Kind     Kind
	Literal  bool
	Children []Node
	Field    string
	Operator string
	Value    any
}

// Bool returns a literal node.
func Bool(v bool) *Node { return &Node{Kind: KindLiteral, Literal: v} }

// And returns a node that is true when every child is true.
func And(children ...Node) Node { return Node{Kind: KindAnd, Children: children} }

// Or returns a node that is true when any child is true.
func Or(children ...Node) Node { return Node{Kind: KindOr, Children: children} }

// Not negates child.
func Not(child Node) Node { return Node{Kind: KindNot, Children: []Node{child}} }

// Compare returns a comparison leaf.
func Compare(field, operator string, value any) Node {
	return Node{Kind: KindCompare, Field: field, Operator: operator, Value: value}
}

// FromValue converts a generic decoded value (bool or map) into a Node.
func FromValue(v any) (Node, error) {
	switch t := v.(type) {
	case bool:
		return Node{Kind: KindLiteral, Literal: t}, nil
	case Node:
		return t, nil
	case *Node:
		if t == nil {
			return Node{}, fmt.Errorf("condition: nil node")
		}
		return *t, nil
	case map[string]any:
		return fromMap(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return fromMap(m)
	default:
		return Node{}, fmt.Errorf("condition: unsupported node of type %T", v)
	}
}

func fromMap(m map[string]any) (Node, error) {
	if raw, ok := m["and"]; ok {
		children, err := fromList("and", raw)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindAnd, Children: children}, nil
	}
	if raw, ok := m["or"]; ok {
		children, err := fromList("or", raw)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindOr, Children: children}, nil
	}
	if raw, ok := m["not"]; ok {
		child, err := FromValue(raw)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindNot, Children: []Node{child}}, nil
	}
	if raw, ok := m["field"]; ok {
		field, ok := raw.(string)
		if !ok || field == "" {
			return Node{}, fmt.Errorf("condition: field must be a non-empty string")
		}
		op, _ := m["operator"].(string)
		if op == "" {
			return Node{}, fmt.Errorf("condition: comparison on %q has no operator", field)
		}
		return Node{Kind: KindCompare, Field: field, Operator: op, Value: m["value"]}, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Node{}, fmt.Errorf("condition: unrecognised node with keys %v", keys)
}

func fromList(key string, raw any) ([]Node, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("condition: %q expects a list", key)
	}
	out := make([]Node, 0, len(items))
	for _, item := range items {
		n, err := FromValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ToValue converts the node back to its generic map/bool form.
func (n Node) ToValue() any {
	switch n.Kind {
	case KindLiteral:
		return n.Literal
	case KindAnd, KindOr:
		list := make([]any, 0, len(n.Children))
		for _, c := range n.Children {
			list = append(list, c.ToValue())
		}
		if n.Kind == KindAnd {
			return map[string]any{"and": list}
		}
		return map[string]any{"or": list}
	case KindNot:
		if len(n.Children) == 0 {
			return map[string]any{"not": nil}
		}
		return map[string]any{"not": n.Children[0].ToValue()}
	case KindCompare:
		out := map[string]any{"field": n.Field, "operator": n.Operator}
		if n.Value != nil {
			out["value"] = n.Value
		}
		return out
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ToValue())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromValue(raw)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func (n Node) MarshalYAML() (any, error) {
	return n.ToValue(), nil
}

func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromValue(raw)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
