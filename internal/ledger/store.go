package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a block does not exist.
var ErrNotFound = errors.New("block not found")

// Store is durable ordered block storage. Implementations guarantee that no
// partially applied transaction is ever visible to ReadAll.
type Store interface {
	// ReadAll returns every block ascending by ID from one consistent view.
	ReadAll(ctx context.Context) ([]*Block, error)

	// Atomic runs fn inside a single storage transaction that holds the
	// ledger's write lock. If fn returns an error nothing it did is kept.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside Store.Atomic.
type Tx interface {
	// LastHash returns the hash of the highest-ID block, or Sentinel when the
	// ledger is empty.
	LastHash(ctx context.Context) (string, error)

	// Insert persists b and returns its storage-assigned, monotonic ID.
	Insert(ctx context.Context, b *Block) (int64, error)

	// ReadAll returns every block visible to the transaction, ascending by ID.
	ReadAll(ctx context.Context) ([]*Block, error)

	// DeleteAll removes every block.
	DeleteAll(ctx context.Context) error
}
