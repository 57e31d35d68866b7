// Package txn defines the opaque transaction handle threaded through every
// hash-index operation. The hash engine never inspects a handle's
// contents; it exists so a future write-ahead-log collaborator (the
// directory page already carries an lsn field for exactly this purpose)
// has something to key its own bookkeeping on.
package txn

import "github.com/google/uuid"

// Txn is an opaque transaction handle. The hash engine accepts one on
// every public operation but does not interpret it.
type Txn struct {
	id uuid.UUID
}

// New creates a fresh transaction handle.
func New() *Txn {
	return &Txn{id: uuid.New()}
}

// ID returns the handle's identifier, for a collaborator (eg. a WAL) that
// wants to correlate edits with the transaction that produced them.
func (t *Txn) ID() uuid.UUID {
	return t.id
}
