// Package validation implements the strict schema boundary every RPC block
// response crosses before entering the pipeline (spec §4.9).
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// hashPattern matches a lowercase 0x-prefixed 32-byte hex digest.
var hashPattern = regexp.MustCompile(`^0x[a-f0-9]{64}$`)

// zeroHash is the all-zero parent hash legal only for the genesis block.
var zeroHash = "0x" + strings.Repeat("0", 64)

// maxUint64Bound is 2^64, the exclusive upper bound on block numbers and
// timestamps per the spec.
var maxUint64Bound = new(big.Int).Lsh(big.NewInt(1), 64)

// futureTolerance bounds how far a block timestamp may sit ahead of wall
// clock time before it's rejected as a far-future stamp.
const futureTolerance = 86400 * time.Second

// RawBlock is the untrusted shape of a block as it arrives from RPC, before
// it is trusted enough to become a pkgstore.Block.
type RawBlock struct {
	ChainID    uint64   `json:"chain_id" jsonschema:"required,description=Chain identifier"`
	Number     *big.Int `json:"number" jsonschema:"required,description=Block height; non-negative, strictly less than 2^64"`
	Hash       string   `json:"hash" jsonschema:"required,pattern=^0x[a-f0-9]{64}$,description=Block hash; lowercase 0x-prefixed 64 hex characters"`
	ParentHash string   `json:"parent_hash" jsonschema:"required,pattern=^0x[a-f0-9]{64}$,description=Parent block hash; lowercase 0x-prefixed 64 hex characters"`
	Timestamp  *big.Int `json:"timestamp" jsonschema:"required,description=Seconds since epoch; non-negative, at most 86400s ahead of wall clock"`
}

// FieldError identifies exactly which constraint a block failed, so the
// caller's fail-fast batch error can point at the precise reason.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateBlock applies every constraint from spec §4.9 to a single block.
// isGenesis relaxes the parent_hash-is-nonzero rule for height 0.
func ValidateBlock(b RawBlock, now time.Time, isGenesis bool) error {
	if b.Number == nil {
		return &FieldError{"number", "must be present"}
	}
	if b.Number.Sign() < 0 {
		return &FieldError{"number", "must be non-negative"}
	}
	if b.Number.Cmp(maxUint64Bound) >= 0 {
		return &FieldError{"number", "must be < 2^64"}
	}

	if !hashPattern.MatchString(b.Hash) {
		return &FieldError{"hash", "must be a lowercase 0x-prefixed 64 hex character digest"}
	}
	if !hashPattern.MatchString(b.ParentHash) {
		return &FieldError{"parent_hash", "must be a lowercase 0x-prefixed 64 hex character digest"}
	}
	if b.ParentHash == b.Hash {
		return &FieldError{"parent_hash", "must not equal hash (loop guard)"}
	}
	if b.ParentHash == zeroHash && !isGenesis {
		return &FieldError{"parent_hash", "zero hash is only legal for the genesis block"}
	}

	if b.Timestamp == nil {
		return &FieldError{"timestamp", "must be present"}
	}
	if b.Timestamp.Sign() < 0 {
		return &FieldError{"timestamp", "must be non-negative"}
	}
	maxTimestamp := big.NewInt(now.Add(futureTolerance).Unix())
	if b.Timestamp.Cmp(maxTimestamp) > 0 {
		return &FieldError{"timestamp", "must not be more than 86400s in the future"}
	}

	return nil
}

// ValidateBatch validates every block in order and fails fast: the first
// invalid block fails the entire batch, matching the spec's all-or-nothing
// batch semantics.
func ValidateBatch(blocks []RawBlock, now time.Time, genesisNumber *big.Int) error {
	for i, b := range blocks {
		isGenesis := genesisNumber != nil && b.Number != nil && b.Number.Cmp(genesisNumber) == 0
		if err := ValidateBlock(b, now, isGenesis); err != nil {
			validationFailuresTotal.WithLabelValues(fieldOf(err)).Inc()
			return fmt.Errorf("batch validation failed at index %d (block %v): %w", i, b.Number, err)
		}
	}
	validationBatchesPassed.Inc()
	return nil
}

func fieldOf(err error) string {
	if fe, ok := err.(*FieldError); ok {
		return fe.Field
	}
	return "unknown"
}
