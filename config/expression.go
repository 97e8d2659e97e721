package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"

	"github.com/simon020286/nightly/models"
)

const (
	exprOpen  = "${{"
	exprClose = "}}"
	fnPrefix  = "fn_"
)

var statusCallRegex = regexp.MustCompile(`(?i)\b(success|failure|always|cancelled)\s*\(`)

// EvalContext is the data and status source for `${{ }}` and `$js:` evaluation
type EvalContext struct {
	Data  map[string]any
	Env   map[string]string
	Scope *models.Scope
}

// NewEvalContext builds the evaluation context of a cell. env is the step environment.
func NewEvalContext(scope *models.Scope, env map[string]string) *EvalContext {
	return &EvalContext{Data: scope.Context(env), Env: env, Scope: scope}
}

// NewRunEvalContext builds a context exposing only run-level values (github, secrets, vars, env)
func NewRunEvalContext(run *models.RunContext) *EvalContext {
	return NewEvalContext(models.NewScope(run, "", nil), run.Env)
}

// WithEnv returns a copy of the context whose `env` reflects env
func (ec *EvalContext) WithEnv(env map[string]string) *EvalContext {
	data := make(map[string]any, len(ec.Data))
	for k, v := range ec.Data {
		data[k] = v
	}
	lowered := make(map[string]any, len(env))
	for k, v := range env {
		lowered[strings.ToLower(k)] = v
	}
	data["env"] = lowered
	return &EvalContext{Data: data, Env: env, Scope: ec.Scope}
}

// ContainsExpression reports whether s holds a `${{ }}` placeholder
func ContainsExpression(s string) bool {
	return strings.Contains(s, exprOpen)
}

// Interpolate replaces every `${{ expr }}` in s with its string value
func Interpolate(s string, ec *EvalContext) (string, error) {
	if !ContainsExpression(s) {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, exprOpen)
		if start == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		end := strings.Index(rest[start:], exprClose)
		if end == -1 {
			return "", errors.Wrapf(models.ErrExpression, "unclosed expression in %q", s)
		}
		end += start

		value, err := Evaluate(rest[start+len(exprOpen):end], ec)
		if err != nil {
			return "", err
		}
		b.WriteString(models.Stringify(value))
		rest = rest[end+len(exprClose):]
	}
	return b.String(), nil
}

// EvalCondition evaluates an `if:` condition. An empty condition means success().
// Conditions without a status function are implicitly `success() && (cond)`.
func EvalCondition(cond string, ec *EvalContext) (bool, error) {
	cond = strings.TrimSpace(cond)
	if strings.HasPrefix(cond, exprOpen) && strings.HasSuffix(cond, exprClose) &&
		strings.Count(cond, exprOpen) == 1 {
		cond = strings.TrimSpace(cond[len(exprOpen) : len(cond)-len(exprClose)])
	}
	if cond == "" {
		cond = "success()"
	}
	if !statusCallRegex.MatchString(cond) {
		cond = "success() && (" + cond + ")"
	}

	value, err := Evaluate(cond, ec)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

// Evaluate evaluates a single expression (without the `${{ }}` markers)
func Evaluate(expression string, ec *EvalContext) (any, error) {
	code, err := rewriteExpression(expression)
	if err != nil {
		return nil, errors.Wrapf(models.ErrExpression, "%q: %v", expression, err)
	}

	env := make(map[string]any, len(ec.Data)+12)
	for k, v := range ec.Data {
		env[k] = v
	}
	for name, fn := range expressionFunctions(ec.Scope) {
		env[fnPrefix+name] = fn
	}

	program, err := expr.Compile(code, expr.Env(env), expr.AllowUndefinedVariables(), expr.Patch(equalityPatcher{}))
	if err != nil {
		return nil, errors.Wrapf(models.ErrExpression, "%q: %v", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, errors.Wrapf(models.ErrExpression, "%q: %v", expression, err)
	}
	return out, nil
}

// Truthy coerces an expression value to a boolean
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func expressionFunctions(scope *models.Scope) map[string]any {
	status := func() models.Outcome {
		if scope == nil {
			return models.OutcomeSuccess
		}
		return scope.JobStatus()
	}
	cancelled := func() bool {
		return scope != nil && scope.Cancelled()
	}

	return map[string]any{
		"success":   func() bool { return status() == models.OutcomeSuccess && !cancelled() },
		"failure":   func() bool { return status() == models.OutcomeFailure },
		"always":    func() bool { return true },
		"cancelled": cancelled,
		"contains": func(search any, item any) bool {
			needle := strings.ToLower(models.Stringify(item))
			if list, ok := search.([]any); ok {
				for _, el := range list {
					if strings.ToLower(models.Stringify(el)) == needle {
						return true
					}
				}
				return false
			}
			return strings.Contains(strings.ToLower(models.Stringify(search)), needle)
		},
		"startswith": func(s any, prefix any) bool {
			return strings.HasPrefix(strings.ToLower(models.Stringify(s)), strings.ToLower(models.Stringify(prefix)))
		},
		"endswith": func(s any, suffix any) bool {
			return strings.HasSuffix(strings.ToLower(models.Stringify(s)), strings.ToLower(models.Stringify(suffix)))
		},
		"format": func(format string, args ...any) string {
			out := format
			for i, a := range args {
				out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", models.Stringify(a))
			}
			return out
		},
		"join": func(list any, sep ...string) string {
			separator := ","
			if len(sep) > 0 {
				separator = sep[0]
			}
			items, ok := list.([]any)
			if !ok {
				return models.Stringify(list)
			}
			parts := make([]string, len(items))
			for i, el := range items {
				parts[i] = models.Stringify(el)
			}
			return strings.Join(parts, separator)
		},
		"tojson": func(v any) string {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return ""
			}
			return string(b)
		},
		"_get": lookup,
		"_eq":  looseEqual,
		"fromjson": func(s string) any {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil
			}
			return v
		},
	}
}

// equalityPatcher routes == and != through fn__eq
type equalityPatcher struct{}

func (equalityPatcher) Visit(node *ast.Node) {
	bin, ok := (*node).(*ast.BinaryNode)
	if !ok || (bin.Operator != "==" && bin.Operator != "!=") {
		return
	}
	var call ast.Node = &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: fnPrefix + "_eq"},
		Arguments: []ast.Node{bin.Left, bin.Right},
	}
	if bin.Operator == "!=" {
		call = &ast.UnaryNode{Operator: "not", Node: call}
	}
	ast.Patch(node, call)
}

// looseEqual compares strings case-insensitively and numbers by value
func looseEqual(a, b any) bool {
	if as, ok := stringValue(a); ok {
		if bs, ok := stringValue(b); ok {
			return strings.EqualFold(as, bs)
		}
	}
	if af, ok := numberValue(a); ok {
		if bf, ok := numberValue(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func stringValue(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return "", false
	}
	return rv.String(), true
}

func numberValue(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// rewriteExpression translates the workflow expression syntax to expr-lang.
// Contexts are case-insensitive and property names may contain '-'.
// Inside single-quoted strings a doubled quote is a literal quote.
func rewriteExpression(src string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\'':
			j := i + 1
			var lit strings.Builder
			closed := false
			for j < len(src) {
				if src[j] == '\'' {
					if j+1 < len(src) && src[j+1] == '\'' {
						lit.WriteByte('\'')
						j += 2
						continue
					}
					closed = true
					break
				}
				lit.WriteByte(src[j])
				j++
			}
			if !closed {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			b.WriteString(strconv.Quote(lit.String()))
			i = j + 1

		case c == '.' && i+1 < len(src) && isIdentStart(src[i+1]):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			b.WriteString(`[` + strconv.Quote(strings.ToLower(src[i+1:j])) + `]`)
			i = j

		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := strings.ToLower(src[i:j])
			k := j
			for k < len(src) && src[k] == ' ' {
				k++
			}
			switch {
			case k < len(src) && src[k] == '(':
				b.WriteString(fnPrefix + word)
				i = j
				continue
			case word == "null":
				b.WriteString("nil")
				i = j
				continue
			case exprKeywords[word]:
				b.WriteString(word)
				i = j
				continue
			}

			path, next, err := readPath(src, j)
			if err != nil {
				return "", err
			}
			if len(path) == 0 {
				b.WriteString(word)
			} else {
				b.WriteString(fnPrefix + "_get(" + word + ", " + strings.Join(path, ", ") + ")")
			}
			i = next

		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' && j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9') {
				j++
			}
			b.WriteString(src[i:j])
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

var exprKeywords = map[string]bool{
	"true": true, "false": true, "nil": true, "and": true, "or": true, "not": true, "in": true,
}

// readPath reads the property chain following an identifier: `.name` and
// `['name']` / `[0]` segments. It returns the segments as expr literals.
func readPath(src string, i int) ([]string, int, error) {
	var path []string
	for i < len(src) {
		switch {
		case src[i] == '.' && i+1 < len(src) && isIdentStart(src[i+1]):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			path = append(path, strconv.Quote(strings.ToLower(src[i+1:j])))
			i = j
		case src[i] == '[':
			end := strings.IndexByte(src[i:], ']')
			if end == -1 {
				return nil, i, fmt.Errorf("unterminated index at offset %d", i)
			}
			inner := strings.TrimSpace(src[i+1 : i+end])
			switch {
			case len(inner) >= 2 && inner[0] == '\'' && inner[len(inner)-1] == '\'':
				path = append(path, strconv.Quote(strings.ToLower(strings.ReplaceAll(inner[1:len(inner)-1], "''", "'"))))
			case inner != "" && strings.Trim(inner, "0123456789") == "":
				path = append(path, inner)
			default:
				return nil, i, fmt.Errorf("unsupported index '%s' at offset %d", inner, i)
			}
			i += end + 1
		default:
			return path, i, nil
		}
	}
	return path, i, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-'
}

// lookup walks a context value; missing keys yield nil instead of an error
func lookup(root any, path ...any) any {
	cur := root
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[strings.ToLower(models.Stringify(seg))]
		case map[string]string:
			cur = v[strings.ToLower(models.Stringify(seg))]
		case []any:
			idx, ok := seg.(int)
			if !ok || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}
