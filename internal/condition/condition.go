// Package condition implements the Condition Evaluator: a recursive
// evaluation over the Condition tagged-variant tree, with a pre-pass
// that compiles every `matches` operator's regex once per rule.
package condition

import (
	"fmt"
	"math"
	"reflect"
	"regexp"

	"github.com/hamicek/ruleengine/internal/bindctx"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/pathutil"
	"github.com/hamicek/ruleengine/internal/ruleerr"
)

// absent is the sentinel a source resolution returns when the value is
// missing, distinct from a present nil/null value.
type absent struct{}

// Compiled is a Condition tree with its regexes pre-compiled, so
// `matches` does not recompile its pattern on every evaluation.
type Compiled struct {
	root    model.Condition
	regexes map[*model.Condition]*regexp.Regexp
}

// Compile walks conditions once, compiling every matches operator's
// literal regex pattern. A matches operator whose value is a {ref: ...}
// (resolved only at evaluation time) is compiled lazily instead.
func Compile(conditions []model.Condition) (*Compiled, error) {
	wrapper := model.Condition{Operator: model.OpAnd, Children: conditions}
	c := &Compiled{root: wrapper, regexes: make(map[*model.Condition]*regexp.Regexp)}
	if err := c.compileNode(&c.root); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Compiled) compileNode(n *model.Condition) error {
	if n.Operator == model.OpMatches && n.Value != nil && !n.Value.IsRef {
		pattern, ok := n.Value.Literal.(string)
		if !ok {
			return ruleerr.BadRequest("matches operator requires a string pattern", nil)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return ruleerr.BadRequest(fmt.Sprintf("unparseable regex %q", pattern), map[string]string{"pattern": pattern})
		}
		c.regexes[n] = re
	}
	for i := range n.Children {
		if err := c.compileNode(&n.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// Eval evaluates the compiled condition tree against ctx. An empty
// condition list (the Compile wrapper with no children) evaluates true.
func (c *Compiled) Eval(ctx bindctx.Context) (bool, error) {
	return c.evalNode(&c.root, ctx)
}

func (c *Compiled) evalNode(n *model.Condition, ctx bindctx.Context) (bool, error) {
	switch n.Operator {
	case model.OpAnd:
		for i := range n.Children {
			ok, err := c.evalNode(&n.Children[i], ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case model.OpOr:
		for i := range n.Children {
			ok, err := c.evalNode(&n.Children[i], ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case model.OpNot:
		if len(n.Children) != 1 {
			return false, ruleerr.BadRequest("not requires exactly one nested condition", nil)
		}
		ok, err := c.evalNode(&n.Children[0], ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return c.evalLeaf(n, ctx)
	}
}

func (c *Compiled) evalLeaf(n *model.Condition, ctx bindctx.Context) (bool, error) {
	if n.Source == nil {
		return false, ruleerr.BadRequest("leaf condition missing source", nil)
	}
	live := resolveSource(*n.Source, ctx)

	if model.UnaryOperators[n.Operator] {
		switch n.Operator {
		case model.OpExists:
			return live != absent{}, nil
		case model.OpNotExists:
			return live == absent{}, nil
		case model.OpIsNull:
			// isNull is vacuously true on an absent source, unlike
			// isNotNull and every other operator.
			return isAbsent(live) || live == nil, nil
		case model.OpIsNotNull:
			return live != nil && !isAbsent(live), nil
		}
	}

	if live == (absent{}) {
		// Absent compares false to every operator except the
		// vacuously-true set listed in the spec.
		switch n.Operator {
		case model.OpNotIn:
			return true, nil
		default:
			return false, nil
		}
	}

	want, err := resolveValue(n, ctx)
	if err != nil {
		return false, err
	}

	switch n.Operator {
	case model.OpEq:
		return valuesEqual(live, want), nil
	case model.OpNe:
		return !valuesEqual(live, want), nil
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		return compareNumeric(n.Operator, live, want)
	case model.OpIn:
		return inSlice(live, want)
	case model.OpNotIn:
		found, err := inSlice(live, want)
		return !found, err
	case model.OpContains:
		return contains(live, want)
	case model.OpStartsWith:
		return stringRelation(live, want, func(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p })
	case model.OpEndsWith:
		return stringRelation(live, want, func(s, p string) bool { return len(s) >= len(p) && s[len(s)-len(p):] == p })
	case model.OpMatches:
		return matchesRegex(c, n, live, want)
	case model.OpBetween:
		return between(live, want)
	default:
		return false, ruleerr.BadRequest(fmt.Sprintf("unsupported operator %q", n.Operator), nil)
	}
}

func isAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

func resolveSource(src model.Source, ctx bindctx.Context) any {
	switch src.Kind {
	case model.SourceFact:
		if ctx.Facts == nil {
			return absent{}
		}
		f, ok := ctx.Facts.FirstMatch(src.Pattern)
		if !ok {
			return absent{}
		}
		return f.Value
	case model.SourceEvent:
		data := ctx.EventData()
		if data == nil {
			return absent{}
		}
		v, ok := pathutil.Get(map[string]any(data), src.Field)
		if !ok {
			return absent{}
		}
		return v
	case model.SourceContext:
		v, ok := ctx.Get(src.Key)
		if !ok {
			return absent{}
		}
		return v
	case model.SourceLookup:
		if ctx.Lookups == nil {
			return absent{}
		}
		v, ok := ctx.Lookups.Lookup(src.Name)
		if !ok {
			return absent{}
		}
		if src.Field == "" {
			return v
		}
		fv, ok := pathutil.Get(v, src.Field)
		if !ok {
			return absent{}
		}
		return fv
	case model.SourceBaseline:
		return resolveBaseline(src, ctx)
	default:
		return absent{}
	}
}

// resolveBaseline compares the live metric value (read the same way an
// event{field} source would) against rolling baseline statistics, using
// sensitivity as a standard-deviation multiplier for every comparison
// mode — the spec leaves "standard deviations or relative fraction"
// ambiguous per comparison kind; a single consistent statistical
// definition was chosen to resolve it.
func resolveBaseline(src model.Source, ctx bindctx.Context) any {
	if ctx.Baselines == nil {
		return absent{}
	}
	mean, stddev, ok := ctx.Baselines.Baseline(src.Metric)
	if !ok {
		return absent{}
	}
	data := ctx.EventData()
	if data == nil {
		return absent{}
	}
	raw, ok := pathutil.Get(map[string]any(data), src.Metric)
	if !ok {
		return absent{}
	}
	live, ok := toFloat(raw)
	if !ok {
		return absent{}
	}
	sensitivity := src.ResolvedSensitivity()
	switch src.Comparison {
	case "above":
		return live > mean+sensitivity*stddev
	case "below":
		return live < mean-sensitivity*stddev
	case "deviates":
		return math.Abs(live-mean) > sensitivity*stddev
	default:
		return absent{}
	}
}

func resolveValue(n *model.Condition, ctx bindctx.Context) (any, error) {
	if n.Value == nil {
		return nil, nil
	}
	if !n.Value.IsRef {
		return n.Value.Literal, nil
	}
	v, ok := ctx.Get(n.Value.Ref)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	// []any/map[string]any are not comparable with ==, which panics at
	// runtime on uncomparable dynamic types; DeepEqual handles every
	// JSON-derived shape safely.
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareNumeric enforces "same-type wins": a string value never
// numerically compares to a number, even if it parses as one.
func compareNumeric(op model.Operator, live, want any) (bool, error) {
	lf, lok := toFloat(live)
	wf, wok := toFloat(want)
	if !lok || !wok {
		return false, nil
	}
	switch op {
	case model.OpGt:
		return lf > wf, nil
	case model.OpGte:
		return lf >= wf, nil
	case model.OpLt:
		return lf < wf, nil
	case model.OpLte:
		return lf <= wf, nil
	}
	return false, nil
}

func inSlice(live, want any) (bool, error) {
	arr, ok := want.([]any)
	if !ok {
		return false, ruleerr.BadRequest("in/notIn operator requires an array value", nil)
	}
	for _, candidate := range arr {
		if valuesEqual(live, candidate) {
			return true, nil
		}
	}
	return false, nil
}

func contains(live, want any) (bool, error) {
	switch l := live.(type) {
	case string:
		s, ok := want.(string)
		if !ok {
			return false, nil
		}
		return indexOf(l, s) >= 0, nil
	case []any:
		for _, e := range l {
			if valuesEqual(e, want) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func indexOf(s, substr string) int {
	if len(substr) == 0 {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func stringRelation(live, want any, rel func(s, p string) bool) (bool, error) {
	ls, lok := live.(string)
	ws, wok := want.(string)
	if !lok || !wok {
		return false, nil
	}
	return rel(ls, ws), nil
}

func matchesRegex(c *Compiled, n *model.Condition, live, want any) (bool, error) {
	s, ok := live.(string)
	if !ok {
		return false, nil
	}
	re := c.regexes[n]
	if re == nil {
		pattern, ok := want.(string)
		if !ok {
			return false, ruleerr.BadRequest("matches operator requires a string pattern", nil)
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, ruleerr.BadRequest(fmt.Sprintf("unparseable regex %q", pattern), nil)
		}
		re = compiled
	}
	return re.MatchString(s), nil
}

func between(live, want any) (bool, error) {
	bounds, ok := want.([]any)
	if !ok || len(bounds) != 2 {
		return false, ruleerr.BadRequest("between operator requires a [lo, hi] value", nil)
	}
	lf, lok := toFloat(live)
	lo, lookOk := toFloat(bounds[0])
	hi, hiOk := toFloat(bounds[1])
	if !lok || !lookOk || !hiOk {
		return false, nil
	}
	return lf >= lo && lf <= hi, nil
}
