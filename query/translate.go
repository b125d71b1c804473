package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// Translator compiles DSL filters and sort specs against one class into SQL
// fragments with bound parameters.
type Translator struct {
	H      *hierarchy.Hierarchy
	Schema *schema.Registry
}

// lookupAliasPrefix routes filter keys into joined tables, e.g.
// "$lookup.project.name" filters on the join produced for the "project"
// lookup key.
const lookupAliasPrefix = "$lookup."

// compileFilter renders the conjunction of all field predicates. The class
// predicate (hierarchy narrowing) is handled separately by classPredicate.
func (t *Translator) compileFilter(class types.ClassID, rootAlias string, filter types.Filter, joins []JoinDescriptor, args *argList) ([]string, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if k == schema.FieldClass {
			continue // consumed by classPredicate
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []string
	for _, key := range keys {
		alias, cls, field := rootAlias, class, key
		if strings.HasPrefix(key, lookupAliasPrefix) {
			rest := strings.TrimPrefix(key, lookupAliasPrefix)
			dot := strings.Index(rest, ".")
			if dot < 0 {
				return nil, fmt.Errorf("%w: %q", ErrBadLookupPath, key)
			}
			join := findJoin(joins, rest[:dot])
			if join == nil || join.Reverse || join.InMemory {
				return nil, fmt.Errorf("%w: no join for %q", ErrBadLookupPath, key)
			}
			alias, cls, field = join.Alias, join.Class, rest[dot+1:]
		}
		rk, err := resolveKey(t.H, t.Schema.For(mustDomain(t.H, cls)), cls, alias, field)
		if err != nil {
			return nil, err
		}
		p, err := t.compileField(rk, filter[key], args)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if p != "" {
			preds = append(preds, p)
		}
	}
	return preds, nil
}

func findJoin(joins []JoinDescriptor, path string) *JoinDescriptor {
	for i := range joins {
		if joins[i].Path == path {
			return &joins[i]
		}
	}
	return nil
}

func mustDomain(h *hierarchy.Hierarchy, c types.ClassID) types.Domain {
	d, err := h.DomainOf(c)
	if err != nil {
		return types.DomainDoc
	}
	return d
}

// compileField renders one field predicate: a literal, or an operator map.
func (t *Translator) compileField(rk resolvedKey, value any, args *argList) (string, error) {
	if m, ok := value.(map[string]any); ok {
		return t.compileOperators(rk, m, args)
	}
	return t.compileLiteral(rk, value, args), nil
}

func (t *Translator) compileLiteral(rk resolvedKey, value any, args *argList) string {
	if value == nil {
		return rk.textExpr + " IS NULL"
	}
	if rk.array {
		// Bare value against an array-typed field is containment, not
		// scalar equality.
		return rk.jsonExpr + " @> " + args.addJSON(mustJSON([]any{value}))
	}
	if rk.column {
		return rk.expr + " = " + args.add(value)
	}
	return rk.jsonExpr + " = " + args.addJSON(mustJSON(value))
}

// operatorOrder keeps compiled predicates deterministic regardless of map
// iteration order.
var operatorOrder = []string{
	types.OpIn, types.OpNin, types.OpLt, types.OpLte, types.OpGt, types.OpGte,
	types.OpNe, types.OpLike, types.OpExists, types.OpRegex, types.OpAll,
}

func (t *Translator) compileOperators(rk resolvedKey, ops map[string]any, args *argList) (string, error) {
	known := map[string]bool{types.OpOptions: true}
	for _, op := range operatorOrder {
		known[op] = true
	}
	for op := range ops {
		if !known[op] {
			// Unrecognized operator maps fall back to a contains-
			// sub-object predicate over the attribute blob.
			return rk.jsonExpr + " @> " + args.addJSON(mustJSON(ops)), nil
		}
	}

	var preds []string
	for _, op := range operatorOrder {
		v, ok := ops[op]
		if !ok {
			continue
		}
		p, err := t.compileOperator(rk, op, v, ops, args)
		if err != nil {
			return "", err
		}
		if p != "" {
			preds = append(preds, p)
		}
	}
	switch len(preds) {
	case 0:
		return "", nil
	case 1:
		return preds[0], nil
	default:
		return "(" + strings.Join(preds, " AND ") + ")", nil
	}
}

func (t *Translator) compileOperator(rk resolvedKey, op string, v any, ops map[string]any, args *argList) (string, error) {
	switch op {
	case types.OpIn:
		vals := asSlice(v)
		if len(vals) == 0 {
			// An empty $in can match nothing; guard instead of
			// emitting IN ().
			return "FALSE", nil
		}
		return rk.membership("IN", vals, args), nil

	case types.OpNin:
		vals := asSlice(v)
		if len(vals) == 0 {
			return "", nil
		}
		return rk.membership("NOT IN", vals, args), nil

	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		cmp := map[string]string{
			types.OpLt: "<", types.OpLte: "<=",
			types.OpGt: ">", types.OpGte: ">=",
		}[op]
		if rk.column {
			return rk.expr + " " + cmp + " " + args.add(v), nil
		}
		return rk.jsonExpr + " " + cmp + " " + args.addJSON(mustJSON(v)), nil

	case types.OpNe:
		if v == nil {
			return rk.textExpr + " IS NOT NULL", nil
		}
		if rk.column {
			return rk.expr + " <> " + args.add(v), nil
		}
		// Blob attributes may be absent; $ne matches those too.
		return "(" + rk.jsonExpr + " IS NULL OR " + rk.jsonExpr + " <> " + args.addJSON(mustJSON(v)) + ")", nil

	case types.OpLike:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("$like expects a string pattern")
		}
		return rk.textExpr + " ILIKE " + args.add(s), nil

	case types.OpExists:
		want, _ := v.(bool)
		expr := rk.textExpr
		if !rk.column {
			expr = rk.jsonExpr
		}
		if want {
			return expr + " IS NOT NULL", nil
		}
		return expr + " IS NULL", nil

	case types.OpRegex:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("$regex expects a string pattern")
		}
		match := "~"
		if opts, _ := ops[types.OpOptions].(string); strings.Contains(opts, "i") {
			match = "~*"
		}
		return rk.textExpr + " " + match + " " + args.add(s), nil

	case types.OpAll:
		vals := asSlice(v)
		return rk.jsonExpr + " @> " + args.addJSON(mustJSON(vals)), nil
	}
	return "", fmt.Errorf("unsupported operator %q", op)
}

// membership renders IN / NOT IN lists. Array-typed blob fields use
// containment per element instead.
func (k resolvedKey) membership(word string, vals []any, args *argList) string {
	if k.array {
		parts := make([]string, 0, len(vals))
		for _, v := range vals {
			parts = append(parts, k.jsonExpr+" @> "+args.addJSON(mustJSON([]any{v})))
		}
		joined := strings.Join(parts, " OR ")
		if word == "NOT IN" {
			return "NOT (" + joined + ")"
		}
		if len(parts) == 1 {
			return joined
		}
		return "(" + joined + ")"
	}
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if k.column {
			parts = append(parts, args.add(v))
		} else {
			parts = append(parts, args.addJSON(mustJSON(v)))
		}
	}
	return k.value() + " " + word + " (" + strings.Join(parts, ", ") + ")"
}

// classPredicate expands the queried class into its concrete descendant set,
// intersected with any caller-supplied narrowing on _class. It returns the
// predicate ("" when none is needed) or FALSE when the set is empty.
//
// A single remaining class compiles to plain equality: a one-element $in and
// a bare equality are observably identical here.
func (t *Translator) classPredicate(class types.ClassID, rootAlias string, filter types.Filter, args *argList) (string, error) {
	if !t.H.Has(class) {
		return "", fmt.Errorf("class %q is not registered", class)
	}

	// A mixin query matches its base class's documents that carry the
	// mixin bundle.
	mixinPred := ""
	if t.H.IsMixin(class) {
		mixinPred = rootAlias + "." + schema.Quote(schema.ColData) + "#>'{" + string(class) + "}' IS NOT NULL"
		base, err := t.H.MixinBase(class)
		if err != nil {
			return "", err
		}
		class = base
	}
	set := t.H.ConcreteDescendants(class)

	if raw, ok := filter[schema.FieldClass]; ok {
		switch v := raw.(type) {
		case map[string]any:
			// Class narrowing is a set operation; anything else on
			// _class cannot be honored and must not be dropped.
			for op := range v {
				switch op {
				case types.OpIn, types.OpNin, types.OpNe:
				default:
					return "", fmt.Errorf("operator %q is not supported on %s", op, schema.FieldClass)
				}
			}
			if in, ok := v[types.OpIn]; ok {
				set = intersect(set, asClassSlice(in))
			}
			if nin, ok := v[types.OpNin]; ok {
				set = subtract(set, asClassSlice(nin))
			}
			if ne, ok := v[types.OpNe]; ok {
				set = subtract(set, asClassSlice(ne))
			}
		default:
			set = intersect(set, asClassSlice(raw))
		}
	}

	col := rootAlias + "." + schema.Quote("class")
	var pred string
	switch len(set) {
	case 0:
		return "FALSE", nil
	case 1:
		pred = col + " = " + args.add(string(set[0]))
	default:
		parts := make([]string, 0, len(set))
		for _, c := range set {
			parts = append(parts, args.add(string(c)))
		}
		pred = col + " IN (" + strings.Join(parts, ", ") + ")"
	}
	if mixinPred != "" {
		pred = "(" + pred + " AND " + mixinPred + ")"
	}
	return pred, nil
}

// compileSort renders the ORDER BY clause body, with a trailing id tiebreak
// for stable pagination.
func (t *Translator) compileSort(class types.ClassID, rootAlias string, sortSpec types.SortOptions) (string, error) {
	if len(sortSpec) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(sortSpec))
	for k := range sortSpec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		rk, err := resolveKey(t.H, t.Schema.For(mustDomain(t.H, class)), class, rootAlias, key)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if sortSpec[key] == types.Descending {
			dir = "DESC"
		}
		parts = append(parts, rk.value()+" "+dir)
	}
	parts = append(parts, rootAlias+"."+schema.Quote("id")+" ASC")
	return strings.Join(parts, ", "), nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Filter values arrive from decoded JSON; re-encoding cannot
		// fail for them. Fall back to null rather than panic.
		return "null"
	}
	return string(b)
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func asClassSlice(v any) []types.ClassID {
	var out []types.ClassID
	for _, e := range asSlice(v) {
		switch c := e.(type) {
		case types.ClassID:
			out = append(out, c)
		case string:
			out = append(out, types.ClassID(c))
		}
	}
	return out
}

func intersect(a, b []types.ClassID) []types.ClassID {
	keep := make(map[types.ClassID]bool, len(b))
	for _, c := range b {
		keep[c] = true
	}
	out := make([]types.ClassID, 0, len(a))
	for _, c := range a {
		if keep[c] {
			out = append(out, c)
		}
	}
	return out
}

func subtract(a, b []types.ClassID) []types.ClassID {
	drop := make(map[types.ClassID]bool, len(b))
	for _, c := range b {
		drop[c] = true
	}
	out := make([]types.ClassID, 0, len(a))
	for _, c := range a {
		if !drop[c] {
			out = append(out, c)
		}
	}
	return out
}
