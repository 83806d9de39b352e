package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Sentinel is the previous-hash value carried by the genesis block.
const Sentinel = "0"

// Block is a single hash-linked record in the event ledger.
type Block struct {
	ID             int64     `json:"id"                        db:"id"`
	PerformanceRef *int64    `json:"performance_ref,omitempty" db:"performance_id"`
	Payload        string    `json:"payload"                   db:"payload"`
	PrevHash       string    `json:"prev_hash"                 db:"prev_hash"`
	Hash           string    `json:"hash"                      db:"hash"`
	Timestamp      time.Time `json:"timestamp"                 db:"created_at"`
}

// Hash returns the hex-encoded SHA-256 of payload followed by prevHash.
// Every block's stored hash must equal Hash(block.Payload, block.PrevHash).
func Hash(payload, prevHash string) string {
	sum := sha256.Sum256([]byte(payload + prevHash))
	return hex.EncodeToString(sum[:])
}

// Sealed reports whether the stored hash matches a recomputation over the
// block's payload and previous hash.
func (b *Block) Sealed() bool {
	return b.Hash == Hash(b.Payload, b.PrevHash)
}

func (b *Block) clone() *Block {
	cp := *b
	if b.PerformanceRef != nil {
		ref := *b.PerformanceRef
		cp.PerformanceRef = &ref
	}
	return &cp
}
