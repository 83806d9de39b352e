package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Transactions work on a staged copy of
// the chain that replaces the committed one only when the callback succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks []*Block
	nextID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// ReadAll implements Store.
func (s *MemoryStore) ReadAll(_ context.Context) ([]*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBlocks(s.blocks), nil
}

// Atomic implements Store.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{blocks: cloneBlocks(s.blocks), nextID: s.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.blocks = tx.blocks
	s.nextID = tx.nextID
	return nil
}

type memoryTx struct {
	blocks []*Block
	nextID int64
}

func (t *memoryTx) LastHash(_ context.Context) (string, error) {
	if len(t.blocks) == 0 {
		return Sentinel, nil
	}
	return t.blocks[len(t.blocks)-1].Hash, nil
}

func (t *memoryTx) Insert(_ context.Context, b *Block) (int64, error) {
	stored := b.clone()
	stored.ID = t.nextID
	t.nextID++
	t.blocks = append(t.blocks, stored)
	return stored.ID, nil
}

func (t *memoryTx) ReadAll(_ context.Context) ([]*Block, error) {
	return cloneBlocks(t.blocks), nil
}

// DeleteAll keeps the ID counter, matching auto-increment storage.
func (t *memoryTx) DeleteAll(_ context.Context) error {
	t.blocks = nil
	return nil
}

func cloneBlocks(in []*Block) []*Block {
	out := make([]*Block, len(in))
	for i, b := range in {
		out[i] = b.clone()
	}
	return out
}
