package query

import "errors"

var (
	// ErrBadField is returned when a filter or sort references a field
	// that is not declared on the queried class.
	ErrBadField = errors.New("unknown field")

	// ErrBadLookupPath is returned when a lookup spec cannot be planned
	// (unknown reference field, nested lookup under a reverse lookup,
	// malformed spec shape).
	ErrBadLookupPath = errors.New("malformed lookup path")
)
