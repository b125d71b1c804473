package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// JoinDescriptor describes one edge of a lookup spec: either a forward
// reference compiled to a LEFT JOIN, a reverse (collection) reference
// compiled to a correlated jsonb_agg subquery, or a model-domain reference
// resolved in memory after decoding. Descriptors are ordered exactly as
// their columns appear in the SELECT list.
type JoinDescriptor struct {
	// Field is the referencing field (forward) or the result alias
	// (reverse).
	Field string
	// Path locates the nested position in the reassembled document,
	// dotted from the root ("project", "project.owner", "comments").
	Path string
	// Alias is the SQL table alias, or the output column name for
	// reverse lookups.
	Alias string
	// SourceAlias is the alias of the table the join hangs off.
	SourceAlias string
	// SourceClass is the class the referencing field is resolved on.
	SourceClass types.ClassID
	// Class is the target class of the lookup.
	Class types.ClassID
	// Schema is the target domain layout.
	Schema schema.DomainSchema
	// Reverse marks collection lookups (child attachedTo -> parent id).
	Reverse bool
	// ReverseField is the child field pointing at the parent.
	ReverseField string
	// InMemory marks model-domain targets, excluded from SQL.
	InMemory bool
	// Columns is the number of physical columns this descriptor
	// contributes to the row (0 in-memory, 1 reverse, ColumnCount
	// forward).
	Columns int
}

// Planner walks lookup specifications into ordered join descriptors.
type Planner struct {
	H      *hierarchy.Hierarchy
	Schema *schema.Registry
}

// Plan builds the descriptor list for a lookup spec issued against class.
func (p *Planner) Plan(class types.ClassID, lookup types.Lookup, rootAlias string) ([]JoinDescriptor, error) {
	var joins []JoinDescriptor
	n := 0
	if err := p.walk(class, lookup, rootAlias, "", &joins, &n); err != nil {
		return nil, err
	}
	return joins, nil
}

func (p *Planner) walk(class types.ClassID, lookup types.Lookup, srcAlias, pathPrefix string, joins *[]JoinDescriptor, n *int) error {
	keys := make([]string, 0, len(lookup))
	for k := range lookup {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == types.ReverseLookupKey {
			if err := p.walkReverse(class, lookup[key], srcAlias, pathPrefix, joins); err != nil {
				return err
			}
			continue
		}

		target, nested, err := splitLookupValue(lookup[key])
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadLookupPath, key)
		}
		if !p.H.Has(target) {
			return fmt.Errorf("%w: %q targets unknown class %q", ErrBadLookupPath, key, target)
		}
		domain, err := p.H.DomainOf(target)
		if err != nil {
			return err
		}
		path := joinPath(pathPrefix, key)

		if domain == types.DomainModel {
			if len(nested) > 0 {
				return fmt.Errorf("%w: %q: nested lookup under a model-domain target", ErrBadLookupPath, key)
			}
			*joins = append(*joins, JoinDescriptor{
				Field: key, Path: path, SourceAlias: srcAlias,
				SourceClass: class, Class: target, InMemory: true,
			})
			continue
		}

		alias := "l" + strconv.Itoa(*n)
		*n++
		sch := p.Schema.For(domain)
		*joins = append(*joins, JoinDescriptor{
			Field: key, Path: path, Alias: alias, SourceAlias: srcAlias,
			SourceClass: class, Class: target, Schema: sch,
			Columns: sch.ColumnCount(),
		})
		if len(nested) > 0 {
			if err := p.walk(target, nested, alias, path, joins, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkReverse plans the reserved "_id" sub-map: alias -> class or
// [class, attachmentField]. Reverse results arrive pre-aggregated as one
// array column, so nested lookups under them cannot be planned.
func (p *Planner) walkReverse(class types.ClassID, raw any, srcAlias, pathPrefix string, joins *[]JoinDescriptor) error {
	spec, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: reverse lookup spec must be an object", ErrBadLookupPath)
	}
	aliases := make([]string, 0, len(spec))
	for a := range spec {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	for _, a := range aliases {
		target, field, err := splitReverseValue(spec[a])
		if err != nil {
			return fmt.Errorf("%w: reverse %q", ErrBadLookupPath, a)
		}
		if !p.H.Has(target) {
			return fmt.Errorf("%w: reverse %q targets unknown class %q", ErrBadLookupPath, a, target)
		}
		domain, err := p.H.DomainOf(target)
		if err != nil {
			return err
		}
		if domain == types.DomainModel {
			return fmt.Errorf("%w: reverse %q: model-domain target", ErrBadLookupPath, a)
		}
		*joins = append(*joins, JoinDescriptor{
			Field: a, Path: joinPath(pathPrefix, a),
			Alias: "r_" + sanitizeAlias(a), SourceAlias: srcAlias,
			SourceClass: class, Class: target, Schema: p.Schema.For(domain),
			Reverse: true, ReverseField: field, Columns: 1,
		})
	}
	return nil
}

func splitLookupValue(v any) (types.ClassID, types.Lookup, error) {
	switch val := v.(type) {
	case string:
		return types.ClassID(val), nil, nil
	case types.ClassID:
		return val, nil, nil
	case []any:
		if len(val) != 2 {
			return "", nil, fmt.Errorf("lookup pair must be [class, spec]")
		}
		cls, _, err := splitLookupValue(val[0])
		if err != nil {
			return "", nil, err
		}
		switch nested := val[1].(type) {
		case types.Lookup:
			return cls, nested, nil
		case map[string]any:
			return cls, types.Lookup(nested), nil
		}
		return "", nil, fmt.Errorf("nested lookup spec must be an object")
	}
	return "", nil, fmt.Errorf("lookup value must be a class or [class, spec]")
}

func splitReverseValue(v any) (types.ClassID, string, error) {
	switch val := v.(type) {
	case string:
		return types.ClassID(val), schema.FieldAttachedTo, nil
	case types.ClassID:
		return val, schema.FieldAttachedTo, nil
	case []any:
		if len(val) != 2 {
			return "", "", fmt.Errorf("reverse pair must be [class, field]")
		}
		cls, _, err := splitLookupValue(val[0])
		if err != nil {
			return "", "", err
		}
		field, ok := val[1].(string)
		if !ok || field == "" {
			return "", "", fmt.Errorf("attachment field must be a string")
		}
		return cls, field, nil
	}
	return "", "", fmt.Errorf("reverse value must be a class or [class, field]")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sanitizeAlias(a string) string {
	var b strings.Builder
	for _, r := range a {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
