package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleContext() map[string]any {
	return map[string]any{
		"amount":   1500.0,
		"count":    "42",
		"currency": "EUR",
		"customer": map[string]any{
			"name":  "Acme Corp",
			"tier":  "gold",
			"email": "ops@acme.example",
			"tags":  []any{"b2b", "priority"},
		},
		"items":   []any{map[string]any{"sku": "A-1"}, map[string]any{"sku": "B-2"}},
		"blank":   "",
		"nothing": nil,
		"flag":    true,
	}
}

func TestEvaluate_Operators(t *testing.T) {
	e := New()
	ctx := sampleContext()

	cases := []struct {
		name string
		node Node
		want bool
	}{
		{"loose equal numeric string", Compare("count", OpEq, 42), true},
		{"strict equal rejects string vs number", Compare("count", OpStrictEq, 42), false},
		{"strict equal same kind", Compare("currency", OpStrictEq, "EUR"), true},
		{"not equal", Compare("currency", OpNeq, "USD"), true},
		{"strict not equal", Compare("count", OpStrictNeq, 42), true},
		{"less than", Compare("amount", OpLt, 2000), true},
		{"less or equal", Compare("amount", OpLte, 1500), true},
		{"greater than", Compare("amount", OpGt, 1500), false},
		{"greater or equal", Compare("amount", OpGte, 1500), true},
		{"in", Compare("customer.tier", OpIn, []any{"silver", "gold"}), true},
		{"notIn", Compare("customer.tier", OpNotIn, []any{"silver", "bronze"}), true},
		{"contains string", Compare("customer.name", OpContains, "Acme"), true},
		{"contains list", Compare("customer.tags", OpContains, "priority"), true},
		{"startsWith", Compare("customer.email", OpStartsWith, "ops@"), true},
		{"endsWith", Compare("customer.email", OpEndsWith, ".org"), false},
		{"matches", Compare("customer.email", OpMatches, `^[a-z]+@acme\.`), true},
		{"exists", Compare("customer.tier", OpExists, nil), true},
		{"exists missing", Compare("customer.region", OpExists, nil), false},
		{"exists inverted", Compare("customer.region", OpExists, false), true},
		{"empty string", Compare("blank", OpEmpty, nil), true},
		{"empty nil", Compare("nothing", OpEmpty, nil), true},
		{"empty inverted", Compare("currency", OpEmpty, false), true},
		{"between inclusive low", Compare("amount", OpBetween, []any{1500, 2000}), true},
		{"between outside", Compare("amount", OpBetween, []any{0, 1000}), false},
		{"slice index path", Compare("items.1.sku", OpEq, "B-2"), true},
		{"missing path equals nil", Compare("customer.region", OpEq, nil), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.node
			assert.Equal(t, tc.want, e.Evaluate(&n, ctx))
		})
	}
}

func TestEvaluate_Composites(t *testing.T) {
	e := New()
	ctx := sampleContext()

	n := And(
		Compare("amount", OpGt, 1000),
		Or(Compare("currency", OpEq, "USD"), Compare("currency", OpEq, "EUR")),
		Not(Compare("flag", OpEq, false)),
	)
	assert.True(t, e.Evaluate(&n, ctx))

	n = And(Compare("amount", OpGt, 1000), Compare("currency", OpEq, "USD"))
	assert.False(t, e.Evaluate(&n, ctx))

	assert.True(t, e.Evaluate(nil, ctx))
	assert.False(t, e.Evaluate(Bool(false), ctx))
}

func TestEvaluate_UnknownOperatorFailsClosed(t *testing.T) {
	e := New()
	n := Compare("amount", "approximately", 1500)

	assert.NotPanics(t, func() {
		assert.False(t, e.Evaluate(&n, sampleContext()))
	})

	_, err := e.Check(&n, sampleContext())
	var se *StructuralError
	require.ErrorAs(t, err, &se)

	// an OR whose other branch is true still fails closed
	or := Or(n, *Bool(true))
	assert.False(t, e.Evaluate(&or, sampleContext()))
}

func TestEvaluate_DepthLimit(t *testing.T) {
	e := New(WithMaxDepth(3))
	n := *Bool(true)
	for i := 0; i < 5; i++ {
		n = Not(Not(n))
	}
	assert.False(t, e.Evaluate(&n, nil))
	require.Error(t, e.Validate(&n))

	shallow := Not(*Bool(false))
	assert.True(t, e.Evaluate(&shallow, nil))
}

func TestValidate_MalformedOperands(t *testing.T) {
	e := New()

	bad := Compare("amount", OpBetween, []any{1})
	require.Error(t, e.Validate(&bad))

	badRe := Compare("name", OpMatches, "([")
	require.Error(t, e.Validate(&badRe))

	badIn := Compare("name", OpIn, "gold")
	require.Error(t, e.Validate(&badIn))

	good := And(Compare("amount", OpBetween, []any{1, 2}), Compare("name", OpMatches, "^a"))
	require.NoError(t, e.Validate(&good))
}

func TestNode_DecodeJSONAndYAML(t *testing.T) {
	raw := `{"and":[{"field":"amount","operator":">=","value":1000},{"not":{"field":"currency","operator":"==","value":"USD"}},true]}`
	var fromJSON Node
	require.NoError(t, json.Unmarshal([]byte(raw), &fromJSON))
	assert.Equal(t, KindAnd, fromJSON.Kind)
	require.Len(t, fromJSON.Children, 3)
	assert.Equal(t, KindNot, fromJSON.Children[1].Kind)

	doc := `
and:
  - field: amount
    operator: ">="
    value: 1000
  - not:
      field: currency
      operator: "=="
      value: USD
  - true
`
	var fromYAML Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &fromYAML))

	e := New()
	ctx := sampleContext()
	assert.Equal(t, e.Evaluate(&fromJSON, ctx), e.Evaluate(&fromYAML, ctx))
	assert.True(t, e.Evaluate(&fromYAML, ctx))

	out, err := json.Marshal(fromJSON)
	require.NoError(t, err)
	var again Node
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, fromJSON.ToValue(), again.ToValue())
}

func TestNode_RejectsUnknownShape(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"xor":[true,false]}`), &n)
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	ctx := sampleContext()

	v, ok := Resolve(ctx, "customer.tags.0")
	require.True(t, ok)
	assert.Equal(t, "b2b", v)

	_, ok = Resolve(ctx, "customer.tags.9")
	assert.False(t, ok)

	_, ok = Resolve(ctx, "")
	assert.False(t, ok)
}
