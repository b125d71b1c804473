package query

import "strconv"

// argList accumulates bound parameters in statement order. Every literal
// travels through here; nothing is interpolated into SQL text.
type argList struct {
	vals []any
}

// add binds a value and returns its placeholder.
func (a *argList) add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

// addJSON binds a value pre-encoded as JSON text and returns a placeholder
// cast to jsonb.
func (a *argList) addJSON(encoded string) string {
	return a.add(encoded) + "::jsonb"
}
