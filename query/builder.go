package query

import (
	"strconv"
	"strings"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// FindQuery is a fully compiled findAll statement plus everything the row
// re-assembler needs to decode its results.
type FindQuery struct {
	SQL  string
	Args []any

	Root       schema.DomainSchema
	RootClass  types.ClassID
	Joins      []JoinDescriptor
	Projection types.Projection
	// Total is true when the statement carries a trailing window-count
	// column.
	Total bool
}

// Builder compiles complete findAll statements.
type Builder struct {
	H      *hierarchy.Hierarchy
	Schema *schema.Registry
	Model  *model.Db
}

// BuildFind compiles class+filter+options into one SELECT. The workspace is
// always the first bound parameter; every filter literal follows as its own
// parameter.
func (b *Builder) BuildFind(ws types.WorkspaceID, class types.ClassID, filter types.Filter, opts types.FindOptions, principal *types.Principal) (*FindQuery, error) {
	domain, err := b.H.DomainOf(class)
	if err != nil {
		return nil, err
	}
	root := b.Schema.For(domain)
	tr := &Translator{H: b.H, Schema: b.Schema}
	pl := &Planner{H: b.H, Schema: b.Schema}

	joins, err := pl.Plan(class, opts.Lookup, "t")
	if err != nil {
		return nil, err
	}

	args := &argList{}
	wsParam := args.add(string(ws))

	// SELECT list: root columns, then join columns in descriptor order,
	// then the optional window count.
	sel := []string{root.SelectList("t")}
	var joinClauses []string
	for i := range joins {
		j := &joins[i]
		switch {
		case j.InMemory:
			// Resolved post-decode; contributes no columns.
		case j.Reverse:
			sub, err := b.reverseSubquery(j, wsParam, args)
			if err != nil {
				return nil, err
			}
			sel = append(sel, sub+" AS "+schema.Quote(j.Alias))
		default:
			src, err := resolveKey(b.H, b.schemaOf(j.SourceClass), j.SourceClass, j.SourceAlias, j.Field)
			if err != nil {
				return nil, err
			}
			sel = append(sel, j.Schema.SelectList(j.Alias))
			joinClauses = append(joinClauses,
				" LEFT JOIN "+schema.Quote(j.Schema.Table)+" AS "+j.Alias+
					" ON "+j.Alias+"."+schema.Quote(schema.ColWorkspace)+" = "+wsParam+
					" AND "+j.Alias+"."+schema.Quote("id")+" = "+src.textExpr)
		}
	}
	if opts.Total {
		sel = append(sel, "count(*) OVER() AS "+schema.Quote("_total"))
	}

	security := securityJoin(principal, b.Model, filter, "t", b.Schema.For(types.DomainSpace), wsParam, args)

	where := []string{"t." + schema.Quote(schema.ColWorkspace) + " = " + wsParam}
	classPred, err := tr.classPredicate(class, "t", filter, args)
	if err != nil {
		return nil, err
	}
	if classPred != "" {
		where = append(where, classPred)
	}
	preds, err := tr.compileFilter(class, "t", filter, joins, args)
	if err != nil {
		return nil, err
	}
	where = append(where, preds...)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(sel, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(schema.Quote(root.Table))
	sb.WriteString(" AS t")
	for _, jc := range joinClauses {
		sb.WriteString(jc)
	}
	sb.WriteString(security)
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(where, " AND "))

	orderBy, err := tr.compileSort(class, "t", opts.Sort)
	if err != nil {
		return nil, err
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(opts.Limit))
	}

	return &FindQuery{
		SQL:        sb.String(),
		Args:       args.vals,
		Root:       root,
		RootClass:  class,
		Joins:      joins,
		Projection: opts.Projection,
		Total:      opts.Total,
	}, nil
}

// reverseSubquery renders the correlated aggregate for one reverse lookup:
// all child documents whose attachment field points at the current row, as a
// single jsonb array column.
func (b *Builder) reverseSubquery(j *JoinDescriptor, wsParam string, args *argList) (string, error) {
	childField, ok := j.Schema.ColumnFor(j.ReverseField)
	var childExpr string
	if ok {
		childExpr = "r." + schema.Quote(childField.Name)
	} else {
		rk, err := resolveKey(b.H, j.Schema, j.Class, "r", j.ReverseField)
		if err != nil {
			return "", err
		}
		childExpr = rk.textExpr
	}

	classes := b.H.ConcreteDescendants(j.Class)
	classPred := ""
	if len(classes) > 0 {
		parts := make([]string, 0, len(classes))
		for _, c := range classes {
			parts = append(parts, args.add(string(c)))
		}
		classPred = " AND r." + schema.Quote("class") + " IN (" + strings.Join(parts, ", ") + ")"
	}

	return "(SELECT jsonb_agg(to_jsonb(r.*)) FROM " + schema.Quote(j.Schema.Table) + " AS r" +
		" WHERE r." + schema.Quote(schema.ColWorkspace) + " = " + wsParam +
		" AND " + childExpr + " = " + j.SourceAlias + "." + schema.Quote("id") +
		classPred + ")", nil
}

func (b *Builder) schemaOf(class types.ClassID) schema.DomainSchema {
	return b.Schema.For(mustDomain(b.H, class))
}
