package types

// Filter maps a field name to either a literal value or an operator map such
// as {"$gt": 10}. A literal compiles to equality (IS NULL for nil literals).
type Filter map[string]any

// Query operators understood by the translator.
const (
	OpIn      = "$in"
	OpNin     = "$nin"
	OpLt      = "$lt"
	OpLte     = "$lte"
	OpGt      = "$gt"
	OpGte     = "$gte"
	OpNe      = "$ne"
	OpLike    = "$like"
	OpExists  = "$exists"
	OpRegex   = "$regex"
	OpOptions = "$options"
	OpAll     = "$all"
)

// Update operators understood by the transaction processor. Fields not
// prefixed with an operator are bare field assignments.
const (
	OpInc   = "$inc"
	OpPush  = "$push"
	OpPull  = "$pull"
	OpUnset = "$unset"
)

// SortOrder is the direction of one sort key.
type SortOrder int

const (
	Ascending  SortOrder = 1
	Descending SortOrder = -1
)

// SortOptions maps field names to sort direction.
type SortOptions map[string]SortOrder

// Lookup describes which referenced documents to resolve alongside the main
// result. A key is a field name holding a forward reference; its value is
// either a target ClassID, or [ClassID, nested Lookup] for nested resolution.
// Reverse (collection) lookups are expressed under the reserved "_id" key as
// a sub-map from result alias to either a target ClassID (children found via
// their attachedTo field) or [ClassID, attachmentField].
type Lookup map[string]any

// ReverseLookupKey is the reserved Lookup key holding reverse lookups.
const ReverseLookupKey = "_id"

// Projection restricts which attribute-blob keys are retained on returned
// root documents. Fixed attributes are always present. A nil projection
// keeps everything.
type Projection map[string]int

// FindOptions tunes a FindAll call.
type FindOptions struct {
	Limit      int
	Sort       SortOptions
	Lookup     Lookup
	Projection Projection
	// Total requests the total matching row count alongside the
	// (possibly limited) result.
	Total bool
}

// FindResult is the outcome of a FindAll call.
type FindResult struct {
	Docs []*Doc
	// Total is the total number of matching documents, or -1 when not
	// requested.
	Total int
}
