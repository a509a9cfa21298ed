// Package template implements the template processor: substitution of
// `{{ ... }}` expressions inside node configuration against a node's
// JSON-like inputs (`json.<path>`) and execution metadata (`ctx.<path>`),
// plus a small set of built-in functions. Expressions are matched against
// a closed grammar of fixed shapes rather than letting arbitrary host
// expressions through, keeping the template language tiny and explicit.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowexec/internal/domainerr"
)

// exprPattern matches one `{{ ... }}` template expression.
var exprPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Data is the two namespaces a template expression can reference.
type Data struct {
	JSON map[string]any // previous node outputs / node inputs
	Ctx  map[string]any // execution metadata (executionId, workflowId, userId, ...)
}

// Mode selects strict-mode (unresolved expression is a TemplateError) vs.
// lenient-mode (unresolved expression becomes empty string, the default).
type Mode int

const (
	Lenient Mode = iota
	Strict
)

// Processor evaluates template expressions. It is stateless and safe for
// concurrent use across executions.
type Processor struct{}

// New creates a Processor.
func New() *Processor { return &Processor{} }

// ProcessString substitutes every `{{ ... }}` expression in s.
func (p *Processor) ProcessString(s string, data Data, mode Mode) (string, error) {
	var firstErr error
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := exprPattern.FindStringSubmatch(match)[1]
		val, err := p.evaluate(inner, data)
		if err != nil {
			if mode == Strict && firstErr == nil {
				firstErr = &domainerr.TemplateError{Expression: inner, Cause: err}
			}
			return ""
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ProcessValue recursively substitutes template expressions inside string
// leaves of maps/slices, leaving non-string leaves untouched. Only string
// leaves are substituted, never re-expanded (single pass).
func (p *Processor) ProcessValue(v any, data Data, mode Mode) (any, error) {
	switch x := v.(type) {
	case string:
		return p.ProcessString(x, data, mode)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			nv, err := p.ProcessValue(val, data, mode)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			nv, err := p.ProcessValue(val, data, mode)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// ProcessMap is a convenience wrapper for the common node.config case.
func (p *Processor) ProcessMap(m map[string]any, data Data, mode Mode) (map[string]any, error) {
	v, err := p.ProcessValue(m, data, mode)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Validate reports unbalanced `{{`/`}}` or an expression shape this grammar
// does not recognize, without executing anything.
func (p *Processor) Validate(s string) error {
	opens := strings.Count(s, "{{")
	closes := strings.Count(s, "}}")
	if opens != closes {
		return fmt.Errorf("unbalanced template braces: %d open, %d close", opens, closes)
	}
	for _, m := range exprPattern.FindAllStringSubmatch(s, -1) {
		if _, _, err := parseExpression(m[1]); err != nil {
			return err
		}
	}
	return nil
}

// evaluate dispatches one `{{ expr }}` body to its handler.
func (p *Processor) evaluate(expr string, data Data) (any, error) {
	kind, args, err := parseExpression(expr)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindJSONPath:
		return lookupPath(data.JSON, args[0])
	case kindCtxPath:
		return lookupPath(data.Ctx, args[0])
	case kindNow:
		return time.Now().UTC().Format(time.RFC3339), nil
	case kindUUID:
		return uuid.New().String(), nil
	case kindRandomInt:
		return randomInt(args[0], args[1])
	case kindRandomFloat:
		return randomFloat(args[0], args[1])
	case kindRandomString:
		return randomString(args[0])
	case kindFormatDate:
		return formatDate(data, args[0], args[1])
	case kindFormatNumber:
		return formatNumber(data, args[0], args[1])
	case kindFormatCurrency:
		return formatCurrency(data, args[0], args[1])
	case kindUppercase:
		return transformString(data, args[0], strings.ToUpper)
	case kindLowercase:
		return transformString(data, args[0], strings.ToLower)
	case kindSubstring:
		return substring(data, args[0], args[1], args[2])
	default:
		return nil, fmt.Errorf("unrecognized template expression %q", expr)
	}
}

type exprKind int

const (
	kindJSONPath exprKind = iota
	kindCtxPath
	kindNow
	kindUUID
	kindRandomInt
	kindRandomFloat
	kindRandomString
	kindFormatDate
	kindFormatNumber
	kindFormatCurrency
	kindUppercase
	kindLowercase
	kindSubstring
)

var callPattern = regexp.MustCompile(`^\$(\w+)\((.*)\)$`)

// parseExpression recognizes one of a fixed set of expression shapes and
// returns its kind plus raw (unparsed) arguments.
func parseExpression(expr string) (exprKind, []string, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "$now":
		return kindNow, nil, nil
	case expr == "$uuid":
		return kindUUID, nil, nil
	case strings.HasPrefix(expr, "json."):
		return kindJSONPath, []string{strings.TrimPrefix(expr, "json.")}, nil
	case strings.HasPrefix(expr, "ctx."):
		return kindCtxPath, []string{strings.TrimPrefix(expr, "ctx.")}, nil
	}

	m := callPattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, nil, fmt.Errorf("unknown expression shape %q", expr)
	}
	fn, argStr := m[1], splitArgs(m[2])
	switch fn {
	case "randomInt":
		if len(argStr) != 2 {
			return 0, nil, fmt.Errorf("$randomInt requires 2 arguments")
		}
		return kindRandomInt, argStr, nil
	case "randomFloat":
		if len(argStr) != 2 {
			return 0, nil, fmt.Errorf("$randomFloat requires 2 arguments")
		}
		return kindRandomFloat, argStr, nil
	case "randomString":
		if len(argStr) != 1 {
			return 0, nil, fmt.Errorf("$randomString requires 1 argument")
		}
		return kindRandomString, argStr, nil
	case "formatDate":
		if len(argStr) != 2 {
			return 0, nil, fmt.Errorf("$formatDate requires 2 arguments")
		}
		return kindFormatDate, argStr, nil
	case "formatNumber":
		if len(argStr) != 2 {
			return 0, nil, fmt.Errorf("$formatNumber requires 2 arguments")
		}
		return kindFormatNumber, argStr, nil
	case "formatCurrency":
		if len(argStr) != 2 {
			return 0, nil, fmt.Errorf("$formatCurrency requires 2 arguments")
		}
		return kindFormatCurrency, argStr, nil
	case "uppercase":
		if len(argStr) != 1 {
			return 0, nil, fmt.Errorf("$uppercase requires 1 argument")
		}
		return kindUppercase, argStr, nil
	case "lowercase":
		if len(argStr) != 1 {
			return 0, nil, fmt.Errorf("$lowercase requires 1 argument")
		}
		return kindLowercase, argStr, nil
	case "substring":
		if len(argStr) != 3 {
			return 0, nil, fmt.Errorf("$substring requires 3 arguments")
		}
		return kindSubstring, argStr, nil
	default:
		return 0, nil, fmt.Errorf("unknown function %q", fn)
	}
}

func splitArgs(s string) []string {
	var args []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(unquote(s[start:i])))
				start = i + 1
			}
		}
	}
	if start <= len(s) {
		tail := strings.TrimSpace(s[start:])
		if tail != "" {
			args = append(args, unquote(tail))
		}
	}
	return args
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// lookupPath resolves a dotted path with optional `[idx]` array indexing
// against m. Undefined -> (nil, nil); the caller stringifies nil as "".
func lookupPath(m map[string]any, path string) (any, error) {
	var cur any = m
	for _, segment := range strings.Split(path, ".") {
		name, idx, hasIdx := parseSegment(segment)
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		next, ok := asMap[name]
		if !ok {
			return nil, nil
		}
		cur = next
		if hasIdx {
			asSlice, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(asSlice) {
				return nil, nil
			}
			cur = asSlice[idx]
		}
	}
	return cur, nil
}

var segPattern = regexp.MustCompile(`^(\w+)(?:\[(\d+)\])?$`)

func parseSegment(segment string) (name string, idx int, hasIdx bool) {
	m := segPattern.FindStringSubmatch(segment)
	if m == nil {
		return segment, 0, false
	}
	if m[2] == "" {
		return m[1], 0, false
	}
	n, _ := strconv.Atoi(m[2])
	return m[1], n, true
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func randomInt(aStr, bStr string) (any, error) {
	a, err := strconv.Atoi(aStr)
	if err != nil {
		return nil, err
	}
	b, err := strconv.Atoi(bStr)
	if err != nil {
		return nil, err
	}
	if b < a {
		a, b = b, a
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(b-a+1)))
	if err != nil {
		return nil, err
	}
	return a + int(n.Int64()), nil
}

func randomFloat(aStr, bStr string) (any, error) {
	a, err := strconv.ParseFloat(aStr, 64)
	if err != nil {
		return nil, err
	}
	b, err := strconv.ParseFloat(bStr, 64)
	if err != nil {
		return nil, err
	}
	if b < a {
		a, b = b, a
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return nil, err
	}
	frac := float64(n.Int64()) / 1_000_000
	v := a + frac*(b-a)
	return math.Round(v*100) / 100, nil
}

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(nStr string) (any, error) {
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randomStringAlphabet))))
		if err != nil {
			return nil, err
		}
		out[i] = randomStringAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// resolvePath resolves a `json.<path>` or `ctx.<path>` reference used as an
// argument inside a $function(...) call, reusing the same namespace rule as
// top-level expressions.
func resolvePath(data Data, path string) (any, error) {
	switch {
	case strings.HasPrefix(path, "json."):
		return lookupPath(data.JSON, strings.TrimPrefix(path, "json."))
	case strings.HasPrefix(path, "ctx."):
		return lookupPath(data.Ctx, strings.TrimPrefix(path, "ctx."))
	default:
		return lookupPath(data.JSON, path)
	}
}

func formatDate(data Data, path, format string) (any, error) {
	v, _ := resolvePath(data, path)
	t, ok := asTime(v)
	if !ok {
		return nil, fmt.Errorf("%q is not a date", path)
	}
	switch format {
	case "YYYY-MM-DD":
		return t.Format("2006-01-02"), nil
	case "DD/MM/YYYY":
		return t.Format("02/01/2006"), nil
	case "MM/DD/YYYY":
		return t.Format("01/02/2006"), nil
	case "YYYY-MM-DD HH:mm:ss":
		return t.Format("2006-01-02 15:04:05"), nil
	default:
		return t.UTC().Format(time.RFC3339), nil
	}
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatNumber(data Data, path, precision string) (any, error) {
	v, _ := resolvePath(data, path)
	f, ok := asFloat(v)
	if !ok {
		return nil, fmt.Errorf("%q is not a number", path)
	}
	n, err := strconv.Atoi(precision)
	if err != nil {
		return nil, err
	}
	return strconv.FormatFloat(f, 'f', n, 64), nil
}

func formatCurrency(data Data, path, code string) (any, error) {
	v, _ := resolvePath(data, path)
	f, ok := asFloat(v)
	if !ok {
		return nil, fmt.Errorf("%q is not a number", path)
	}
	return fmt.Sprintf("%.2f %s", f, strings.ToUpper(code)), nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func transformString(data Data, path string, fn func(string) string) (any, error) {
	v, _ := resolvePath(data, path)
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%q is not a string", path)
	}
	return fn(s), nil
}

func substring(data Data, path, aStr, bStr string) (any, error) {
	v, _ := resolvePath(data, path)
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%q is not a string", path)
	}
	a, err := strconv.Atoi(aStr)
	if err != nil {
		return nil, err
	}
	b, err := strconv.Atoi(bStr)
	if err != nil {
		return nil, err
	}
	if a < 0 {
		a = 0
	}
	if b > len(s) {
		b = len(s)
	}
	if a > b {
		return "", nil
	}
	return s[a:b], nil
}

