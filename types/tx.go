package types

// Tx is one document mutation. The concrete variants form a closed set,
// sealed by the unexported marker method; the processor dispatches on the
// concrete type exactly once per transaction.
type Tx interface {
	tx()
}

// TxCreateDoc materializes a new document.
type TxCreateDoc struct {
	ID         Ref
	Class      ClassID
	Space      Ref
	AttachedTo Ref
	ModifiedBy Ref
	ModifiedOn Timestamp
	Attributes map[string]any
}

func (*TxCreateDoc) tx() {}

// TxUpdateDoc applies partial updates to an existing document. Operations
// maps either bare field names to new values, or update operators ($inc,
// $push, $pull, $unset) to their operand maps. Bare-only updates are applied
// as a single merge without reading the row; operator updates take a row
// lock for the read-modify-write.
type TxUpdateDoc struct {
	ID         Ref
	Class      ClassID
	ModifiedBy Ref
	ModifiedOn Timestamp
	Operations map[string]any
	// Retrieve requests the post-update document in the tx result.
	Retrieve bool
}

func (*TxUpdateDoc) tx() {}

// TxMixin merges attributes into the mixin-namespaced bundle of an existing
// document.
type TxMixin struct {
	ID         Ref
	Class      ClassID
	Mixin      ClassID
	ModifiedBy Ref
	ModifiedOn Timestamp
	Attributes map[string]any
}

func (*TxMixin) tx() {}

// TxRemoveDoc deletes a document by id.
type TxRemoveDoc struct {
	ID         Ref
	Class      ClassID
	ModifiedBy Ref
	ModifiedOn Timestamp
}

func (*TxRemoveDoc) tx() {}

// TxResult carries the per-transaction outcome. Doc is populated for creates
// and for updates that requested retrieval; it is nil for no-op updates
// against missing documents.
type TxResult struct {
	Doc *Doc
}
