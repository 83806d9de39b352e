// Package ledger implements the tamper-evident, hash-linked event ledger.
//
// The first block carries Sentinel as its previous hash. Every block stores
// Hash(payload, prev_hash), and every later block's prev_hash is its
// predecessor's stored hash, so editing a stored payload is detectable via
// Verify.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AppendRecorder is an optional callback invoked after every committed append.
type AppendRecorder func()

// Ledger owns the chain tail. Appends and repairs are mutually exclusive;
// verification runs concurrently with other verifications only.
type Ledger struct {
	mu       sync.RWMutex
	store    Store
	now      func() time.Time
	onAppend AppendRecorder
	logger   *zap.Logger
}

// New creates a Ledger over store.
func New(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the clock used to timestamp new blocks.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// SetAppendRecorder configures the append metrics callback.
func (l *Ledger) SetAppendRecorder(fn AppendRecorder) {
	l.onAppend = fn
}

// Append chains a new block carrying payload onto the tail. Reading the last
// hash and inserting the block happen in one critical section, so concurrent
// callers can never produce two blocks with the same prev_hash.
func (l *Ledger) Append(ctx context.Context, payload string, performanceRef *int64) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var block *Block
	err := l.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		prevHash, err := tx.LastHash(ctx)
		if err != nil {
			return err
		}
		b := &Block{
			PerformanceRef: performanceRef,
			Payload:        payload,
			PrevHash:       prevHash,
			Hash:           Hash(payload, prevHash),
			Timestamp:      l.now().UTC(),
		}
		id, err := tx.Insert(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		block = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append ledger block: %w", err)
	}

	if l.onAppend != nil {
		l.onAppend()
	}
	l.logger.Debug("ledger block appended",
		zap.Int64("block_id", block.ID),
		zap.String("hash", block.Hash),
	)
	return block, nil
}

// Verify walks the whole chain and reports every integrity issue. It never
// observes a ledger mid-repair.
func (l *Ledger) Verify(ctx context.Context) (*Report, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify ledger: %w", err)
	}
	return Check(blocks), nil
}

// Repair rebuilds the chain in place. Payloads, performance references,
// timestamps and order are preserved; prev_hash and hash are recomputed from
// Sentinel. The rebuild is one transaction: on any failure the ledger is left
// exactly as it was.
//
// Repair restores structural consistency only. A payload edited before the
// repair is re-sealed as if it were authentic.
func (l *Ledger) Repair(ctx context.Context) (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		blocks, err := tx.ReadAll(ctx)
		if err != nil {
			return err
		}
		if err := tx.DeleteAll(ctx); err != nil {
			return err
		}

		prevHash := Sentinel
		for _, old := range blocks {
			b := &Block{
				PerformanceRef: old.PerformanceRef,
				Payload:        old.Payload,
				PrevHash:       prevHash,
				Hash:           Hash(old.Payload, prevHash),
				Timestamp:      old.Timestamp,
			}
			if _, err := tx.Insert(ctx, b); err != nil {
				return fmt.Errorf("reinsert block %d: %w", old.ID, err)
			}
			prevHash = b.Hash
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repair ledger: %w", err)
	}

	blocks, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read repaired ledger: %w", err)
	}
	report := Check(blocks)
	l.logger.Info("ledger rebuilt",
		zap.Int("blocks", report.Total),
		zap.Bool("valid", report.Valid),
	)
	return report, nil
}

// Blocks returns the whole chain ascending by ID.
func (l *Ledger) Blocks(ctx context.Context) ([]*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.ReadAll(ctx)
}

// Get returns the block with the given ID.
func (l *Ledger) Get(ctx context.Context, id int64) (*Block, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, ErrNotFound
}

// Root returns the chain length and the hash of the tail block, which is
// Sentinel for an empty ledger.
func (l *Ledger) Root(ctx context.Context) (int, string, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return 0, "", err
	}
	if len(blocks) == 0 {
		return 0, Sentinel, nil
	}
	return len(blocks), blocks[len(blocks)-1].Hash, nil
}
