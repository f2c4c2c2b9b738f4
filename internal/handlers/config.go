// Package handlers holds the built-in step handlers and registers them with the engine.
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/RealZimboGuy/stepflow/internal/condition"
)

func configString(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func configInt(cfg map[string]any, key string) (int64, bool) {
	switch v := cfg[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func configBool(cfg map[string]any, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// render executes text as a template over the instance context.
func render(name, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// stringList reads a string or list entry; "$path" entries are looked up in data.
func stringList(raw any, data map[string]any) []string {
	var entries []any
	switch v := raw.(type) {
	case string:
		entries = []any{v}
	case []string:
		for _, s := range v {
			entries = append(entries, s)
		}
	case []any:
		entries = v
	}
	var out []string
	for _, e := range entries {
		s := fmt.Sprint(e)
		if !strings.HasPrefix(s, "$") {
			out = append(out, s)
			continue
		}
		resolved, ok := condition.Resolve(data, strings.TrimPrefix(s, "$"))
		if !ok {
			continue
		}
		switch r := resolved.(type) {
		case []any:
			for _, item := range r {
				out = append(out, fmt.Sprint(item))
			}
		case []string:
			out = append(out, r...)
		default:
			out = append(out, fmt.Sprint(r))
		}
	}
	return out
}
