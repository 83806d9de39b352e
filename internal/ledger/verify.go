package ledger

// IssueKind classifies an integrity problem found by Check.
type IssueKind string

const (
	// IssueChainBreak means a block's prev_hash differs from its
	// predecessor's stored hash.
	IssueChainBreak IssueKind = "chain_break"
	// IssueHashMismatch means a block's stored hash differs from
	// Hash(payload, prev_hash).
	IssueHashMismatch IssueKind = "hash_mismatch"
)

// Issue is a single integrity problem at a block.
type Issue struct {
	BlockID int64     `json:"block_id"`
	Kind    IssueKind `json:"kind"`
}

// Report is the outcome of walking the chain.
type Report struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
	Total  int     `json:"blocks"`
}

// Check validates chain continuity and hash recomputation over blocks, which
// must be ordered ascending by ID. It never modifies its input.
//
// Links are checked against the predecessor's stored hash, so editing only a
// block's payload yields a hash_mismatch at that block and nothing downstream.
// A genesis block whose prev_hash is not Sentinel counts as a chain break.
func Check(blocks []*Block) *Report {
	issues := []Issue{}
	for i, b := range blocks {
		want := Sentinel
		if i > 0 {
			want = blocks[i-1].Hash
		}
		if b.PrevHash != want {
			issues = append(issues, Issue{BlockID: b.ID, Kind: IssueChainBreak})
		}
		if !b.Sealed() {
			issues = append(issues, Issue{BlockID: b.ID, Kind: IssueHashMismatch})
		}
	}
	return &Report{
		Valid:  len(issues) == 0,
		Issues: issues,
		Total:  len(blocks),
	}
}
