package pgdoc

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// needsLock reports whether the operations require a read-modify-write under
// a row lock. Bare top-level sets merge in a single statement; operators and
// dotted-path sets need the current attribute state first.
func needsLock(ops map[string]any) bool {
	for k := range ops {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			return true
		}
	}
	return false
}

// splitOperations separates bare field sets from update operators.
func splitOperations(ops map[string]any) (bare map[string]any, operators map[string]map[string]any) {
	bare = make(map[string]any)
	operators = make(map[string]map[string]any)
	for k, v := range ops {
		if strings.HasPrefix(k, "$") {
			operand, _ := v.(map[string]any)
			operators[k] = operand
			continue
		}
		bare[k] = v
	}
	return bare, operators
}

// applyBare sets fields on the attribute map, creating intermediate objects
// for dotted paths.
func applyBare(attrs map[string]any, bare map[string]any) {
	for k, v := range bare {
		setPath(attrs, strings.Split(k, "."), v)
	}
}

// applyUpdateOps applies a partial update to a decoded document. Bare sets of
// promoted built-in fields (space, attachedTo, audit fields) land on the
// document itself, never in the attribute blob; everything else goes through
// applyBare and applyOperators.
func applyUpdateOps(doc *types.Doc, ops map[string]any) error {
	bare, operators := splitOperations(ops)
	rest := make(map[string]any, len(bare))
	for k, v := range bare {
		if !strings.Contains(k, ".") && setFixedField(doc, k, v) {
			continue
		}
		rest[k] = v
	}
	applyBare(doc.Attributes, rest)
	return applyOperators(doc.Attributes, operators)
}

// setFixedField routes a bare set of a built-in promoted field onto the
// document. It reports false for fields stored in the attribute map.
func setFixedField(doc *types.Doc, field string, v any) bool {
	switch field {
	case schema.FieldSpace:
		doc.Space = refValue(v)
	case schema.FieldAttachedTo:
		doc.AttachedTo = refValue(v)
	case schema.FieldCreatedBy:
		doc.CreatedBy = refValue(v)
	case schema.FieldModifiedBy:
		doc.ModifiedBy = refValue(v)
	case schema.FieldCreatedOn:
		doc.CreatedOn = timestampValue(v)
	case schema.FieldModifiedOn:
		doc.ModifiedOn = timestampValue(v)
	default:
		return false
	}
	return true
}

func refValue(v any) types.Ref {
	switch r := v.(type) {
	case types.Ref:
		return r
	case string:
		return types.Ref(r)
	}
	return ""
}

func timestampValue(v any) types.Timestamp {
	switch n := v.(type) {
	case types.Timestamp:
		return n
	case int64:
		return types.Timestamp(n)
	case int:
		return types.Timestamp(n)
	case float64:
		return types.Timestamp(n)
	}
	return 0
}

// applyOperators applies update operators to the attribute map in place.
func applyOperators(attrs map[string]any, operators map[string]map[string]any) error {
	for op, operand := range operators {
		for field, v := range operand {
			path := strings.Split(field, ".")
			switch op {
			case types.OpInc:
				cur, _ := getPath(attrs, path)
				sum, err := addNumbers(cur, v)
				if err != nil {
					return fmt.Errorf("failed to apply $inc to %q: %w", field, err)
				}
				setPath(attrs, path, sum)
			case types.OpPush:
				cur, _ := getPath(attrs, path)
				arr, ok := asArray(cur)
				if !ok {
					return fmt.Errorf("failed to apply $push: %q is not an array", field)
				}
				setPath(attrs, path, append(arr, v))
			case types.OpPull:
				cur, _ := getPath(attrs, path)
				arr, ok := asArray(cur)
				if !ok {
					return fmt.Errorf("failed to apply $pull: %q is not an array", field)
				}
				kept := arr[:0:0]
				for _, el := range arr {
					if !valuesEqual(el, v) {
						kept = append(kept, el)
					}
				}
				setPath(attrs, path, kept)
			case types.OpUnset:
				deletePath(attrs, path)
			default:
				return fmt.Errorf("unsupported update operator %q", op)
			}
		}
	}
	return nil
}

// applyMixin merges attributes into the mixin bundle of the attribute map.
func applyMixin(attrs map[string]any, mixin types.ClassID, updates map[string]any) {
	bundle, _ := attrs[string(mixin)].(map[string]any)
	if bundle == nil {
		bundle = make(map[string]any)
		attrs[string(mixin)] = bundle
	}
	for k, v := range updates {
		setPath(bundle, strings.Split(k, "."), v)
	}
}

func setPath(m map[string]any, path []string, v any) {
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func getPath(m map[string]any, path []string) (any, bool) {
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

func deletePath(m map[string]any, path []string) {
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, path[len(path)-1])
}

// addNumbers adds two JSON numbers, keeping integer results integral. A nil
// current value counts as zero.
func addNumbers(cur, delta any) (any, error) {
	a, aInt, err := toNumber(cur)
	if err != nil {
		return nil, err
	}
	b, bInt, err := toNumber(delta)
	if err != nil {
		return nil, err
	}
	if aInt && bInt {
		return int64(a) + int64(b), nil
	}
	return a + b, nil
}

func toNumber(v any) (float64, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case float64:
		return n, n == float64(int64(n)), nil
	case float32:
		return float64(n), false, nil
	default:
		return 0, false, fmt.Errorf("value %T is not a number", v)
	}
}

func asArray(v any) ([]any, bool) {
	switch arr := v.(type) {
	case nil:
		return nil, true
	case []any:
		return arr, true
	default:
		return nil, false
	}
}

// valuesEqual compares two decoded JSON values structurally. Numbers compare
// by value regardless of their Go representation.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, _, aErr := toNumber(a)
	bn, _, bErr := toNumber(b)
	if aErr == nil || bErr == nil {
		return aErr == nil && bErr == nil && an == bn
	}
	return reflect.DeepEqual(a, b)
}
