// SPDX-License-Identifier: MPL-2.0

// Package ginconfig loads .gin experiment configuration files.
//
// The supported grammar is the subset the benchmark configs actually use:
//
//	include "common/Mortality24.gin"   # pull in shared bindings
//	EMB = 231                          # macro definition
//	Transformer.hidden = %EMB          # macro reference
//	Transformer.heads = 8              # scoped binding
//	DLTrainer.lr = 3e-4
//	train.model = @Transformer         # opaque symbol reference
//	Recipe.steps = ["impute", "scale"] # list literal
//
// It is deliberately not a general dependency-injection system: bindings are
// one dotted level deep, values are plain literals, and references stay
// opaque symbols for the caller to resolve.
package ginconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownMacro is returned when a %NAME reference has no definition.
	ErrUnknownMacro = errors.New("unknown macro")
	// ErrIncludeCycle is returned when include directives form a cycle.
	ErrIncludeCycle = errors.New("include cycle")
	// ErrMissingKey is returned by Require* getters for absent bindings.
	ErrMissingKey = errors.New("missing binding")
	// ErrWrongType is returned when a binding has an unexpected type.
	ErrWrongType = errors.New("wrong binding type")
)

type (
	// Reference is an opaque @Name value. The trainer resolves it against its
	// model registry.
	Reference string

	// ParseError reports a syntax problem with file position.
	ParseError struct {
		File string
		Line int
		Msg  string
	}

	// Config holds the flattened bindings of a gin file and its includes.
	// Later bindings win, so a file overrides what it includes, and CLI
	// overrides applied through Apply win over the file.
	Config struct {
		bindings map[string]any
		macros   map[string]any
	}
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// Load reads and parses a gin file, following include directives relative to
// the file's directory.
func Load(path string) (*Config, error) {
	cfg := &Config{
		bindings: map[string]any{},
		macros:   map[string]any{},
	}
	if err := cfg.loadFile(path, map[string]bool{}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses gin content without include support; include directives are
// an error. Intended for tests and in-memory configs.
func Parse(data []byte, name string) (*Config, error) {
	cfg := &Config{
		bindings: map[string]any{},
		macros:   map[string]any{},
	}
	if err := cfg.parse(string(data), name, nil, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, visiting map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if visiting[abs] {
		return fmt.Errorf("%w: %s", ErrIncludeCycle, path)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	include := func(rel string) error {
		return c.loadFile(filepath.Join(filepath.Dir(path), rel), visiting)
	}
	return c.parse(string(data), path, include, visiting)
}

func (c *Config) parse(content, name string, include func(string) error, visiting map[string]bool) error {
	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "include "); ok {
			target, err := unquote(strings.TrimSpace(rest))
			if err != nil {
				return &ParseError{File: name, Line: lineNo, Msg: "include path must be a quoted string"}
			}
			if include == nil {
				return &ParseError{File: name, Line: lineNo, Msg: "include not allowed here"}
			}
			if err := include(target); err != nil {
				return fmt.Errorf("%s:%d: %w", name, lineNo, err)
			}
			continue
		}

		key, rawValue, found := strings.Cut(line, "=")
		if !found {
			return &ParseError{File: name, Line: lineNo, Msg: "expected 'key = value'"}
		}
		key = strings.TrimSpace(key)
		if !validKey(key) {
			return &ParseError{File: name, Line: lineNo, Msg: fmt.Sprintf("invalid binding key %q", key)}
		}

		value, err := parseValue(strings.TrimSpace(rawValue), c.macros)
		if err != nil {
			return &ParseError{File: name, Line: lineNo, Msg: err.Error()}
		}

		if strings.Contains(key, ".") {
			c.bindings[key] = value
		} else {
			c.macros[key] = value
		}
	}
	return nil
}

// Apply parses a single "Scope.param = literal" override and binds it over
// whatever the file set. This backs the CLI hyperparameter flags.
func (c *Config) Apply(override string) error {
	return c.parse(override, "<override>", nil, nil)
}

// stripComment removes a trailing # comment, respecting quoted strings.
func stripComment(line string) string {
	inSingle, inDouble := false, false
	for i, r := range line {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return line[:i]
			}
		}
	}
	return line
}

// validKey accepts MACRO_NAME or Scope.param style keys (at most one dot).
func validKey(key string) bool {
	if key == "" || strings.Count(key, ".") > 1 {
		return false
	}
	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			digit := r >= '0' && r <= '9'
			if !alpha && !(digit && i > 0) {
				return false
			}
		}
	}
	return true
}

// parseValue parses a gin literal: numbers, booleans, None, quoted strings,
// lists, %MACRO references, and opaque @Name references.
func parseValue(s string, macros map[string]any) (any, error) {
	switch {
	case s == "":
		return nil, errors.New("empty value")
	case s == "None":
		return nil, nil
	case s == "True" || s == "true":
		return true, nil
	case s == "False" || s == "false":
		return false, nil
	case strings.HasPrefix(s, "%"):
		name := s[1:]
		v, ok := macros[name]
		if !ok {
			return nil, fmt.Errorf("%w: %%%s", ErrUnknownMacro, name)
		}
		return v, nil
	case strings.HasPrefix(s, "@"):
		return Reference(s[1:]), nil
	case strings.HasPrefix(s, "'") || strings.HasPrefix(s, "\""):
		return unquote(s)
	case strings.HasPrefix(s, "["):
		return parseList(s, macros)
	}

	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("cannot parse value %q", s)
}

func parseList(s string, macros map[string]any) ([]any, error) {
	if !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("unterminated list %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []any{}, nil
	}

	var (
		items   []any
		depth   int
		start   int
		inQuote rune
	)
	flush := func(end int) error {
		elem := strings.TrimSpace(inner[start:end])
		if elem == "" {
			return errors.New("empty list element")
		}
		v, err := parseValue(elem, macros)
		if err != nil {
			return err
		}
		items = append(items, v)
		return nil
	}
	for i, r := range inner {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
		case r == '\'' || r == '"':
			inQuote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == ',' && depth == 0:
			if err := flush(i); err != nil {
				return nil, err
			}
			start = i + 1
		}
	}
	if err := flush(len(inner)); err != nil {
		return nil, err
	}
	return items, nil
}

func unquote(s string) (string, error) {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1], nil
		}
	}
	return "", fmt.Errorf("invalid string literal %q", s)
}

// Has reports whether a binding exists for key.
func (c *Config) Has(key string) bool {
	_, ok := c.bindings[key]
	return ok
}

// Keys returns all binding keys in sorted order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.bindings))
	for k := range c.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int returns the int binding for key, or def when absent.
func (c *Config) Int(key string, def int) int {
	v, ok := c.bindings[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// Float returns the float binding for key, or def when absent.
// Integer literals are accepted.
func (c *Config) Float(key string, def float64) float64 {
	v, ok := c.bindings[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// Bool returns the bool binding for key, or def when absent.
func (c *Config) Bool(key string, def bool) bool {
	if v, ok := c.bindings[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string binding for key, or def when absent.
func (c *Config) String(key, def string) string {
	if v, ok := c.bindings[key].(string); ok {
		return v
	}
	return def
}

// RequireRef returns the @Name reference bound at key.
func (c *Config) RequireRef(key string) (Reference, error) {
	v, ok := c.bindings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	ref, ok := v.(Reference)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want @reference", ErrWrongType, key, v)
	}
	return ref, nil
}

// Floats returns the list binding at key as float64s, or nil when absent.
func (c *Config) Floats(key string) ([]float64, error) {
	v, ok := c.bindings[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want list", ErrWrongType, key, v)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		switch n := item.(type) {
		case float64:
			out[i] = n
		case int:
			out[i] = float64(n)
		default:
			return nil, fmt.Errorf("%w: %s[%d] is %T, want number", ErrWrongType, key, i, item)
		}
	}
	return out, nil
}

// Strings returns the list binding at key as strings, or nil when absent.
func (c *Config) Strings(key string) ([]string, error) {
	v, ok := c.bindings[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want list", ErrWrongType, key, v)
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, want string", ErrWrongType, key, i, item)
		}
		out[i] = s
	}
	return out, nil
}

// List returns the raw list binding at key, when present.
func (c *Config) List(key string) ([]any, bool) {
	list, ok := c.bindings[key].([]any)
	return list, ok
}

// FormatValue renders a binding value back to gin syntax, the inverse of
// parseValue for everything but macros.
func FormatValue(v any) string { return formatValue(v) }

// Operative renders the effective bindings, sorted by key, in gin syntax.
// The result is written into the run directory so a finished run records
// exactly what it trained with, CLI overrides included.
func (c *Config) Operative() string {
	var b strings.Builder
	b.WriteString("# Effective configuration (file bindings plus CLI overrides).\n")
	for _, key := range c.Keys() {
		fmt.Fprintf(&b, "%s = %s\n", key, formatValue(c.bindings[key]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return "'" + t + "'"
	case Reference:
		return "@" + string(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
