package validation

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validBlock() RawBlock {
	return RawBlock{
		ChainID:    1,
		Number:     big.NewInt(100),
		Hash:       "0x" + strings.Repeat("a", 64),
		ParentHash: "0x" + strings.Repeat("b", 64),
		Timestamp:  big.NewInt(time.Now().Unix()),
	}
}

func TestValidateBlock_AcceptsWellFormedBlock(t *testing.T) {
	require.NoError(t, ValidateBlock(validBlock(), time.Now(), false))
}

func TestValidateBlock_RejectsNilNumber(t *testing.T) {
	b := validBlock()
	b.Number = nil
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "number", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsNegativeNumber(t *testing.T) {
	b := validBlock()
	b.Number = big.NewInt(-1)
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "number", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsNumberAtOrAbove2Pow64(t *testing.T) {
	b := validBlock()
	b.Number = new(big.Int).Lsh(big.NewInt(1), 64)
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "number", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsMalformedHash(t *testing.T) {
	b := validBlock()
	b.Hash = "0xnothex"
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "hash", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsUppercaseHash(t *testing.T) {
	b := validBlock()
	b.Hash = "0x" + strings.ToUpper(strings.Repeat("a", 64))
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "hash", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsMissingPrefix(t *testing.T) {
	b := validBlock()
	b.ParentHash = strings.Repeat("b", 64)
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "parent_hash", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsParentHashEqualsHash(t *testing.T) {
	b := validBlock()
	b.ParentHash = b.Hash
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "parent_hash", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsZeroParentHashUnlessGenesis(t *testing.T) {
	b := validBlock()
	b.ParentHash = zeroHash

	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "parent_hash", err.(*FieldError).Field)

	require.NoError(t, ValidateBlock(b, time.Now(), true))
}

func TestValidateBlock_RejectsNegativeTimestamp(t *testing.T) {
	b := validBlock()
	b.Timestamp = big.NewInt(-1)
	err := ValidateBlock(b, time.Now(), false)
	require.Error(t, err)
	require.Equal(t, "timestamp", err.(*FieldError).Field)
}

func TestValidateBlock_RejectsFarFutureTimestamp(t *testing.T) {
	b := validBlock()
	now := time.Now()
	b.Timestamp = big.NewInt(now.Add(2 * 86400 * time.Second).Unix())
	err := ValidateBlock(b, now, false)
	require.Error(t, err)
	require.Equal(t, "timestamp", err.(*FieldError).Field)
}

func TestValidateBlock_AcceptsTimestampWithinTolerance(t *testing.T) {
	b := validBlock()
	now := time.Now()
	b.Timestamp = big.NewInt(now.Add(86399 * time.Second).Unix())
	require.NoError(t, ValidateBlock(b, now, false))
}

func TestValidateBatch_FailsFastOnFirstInvalidBlock(t *testing.T) {
	good := validBlock()
	bad := validBlock()
	bad.Number = big.NewInt(101)
	bad.Hash = "bad"

	err := ValidateBatch([]RawBlock{good, bad}, time.Now(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "index 1")
}

func TestValidateBatch_AllValidPasses(t *testing.T) {
	b1 := validBlock()
	b2 := validBlock()
	b2.Number = big.NewInt(101)
	b2.ParentHash = b1.Hash

	err := ValidateBatch([]RawBlock{b1, b2}, time.Now(), nil)
	require.NoError(t, err)
}

func TestValidateBatch_GenesisExemptFromZeroParentRule(t *testing.T) {
	genesis := validBlock()
	genesis.Number = big.NewInt(0)
	genesis.ParentHash = zeroHash

	err := ValidateBatch([]RawBlock{genesis}, time.Now(), big.NewInt(0))
	require.NoError(t, err)
}

func TestSchemaJSON_Generates(t *testing.T) {
	doc, err := SchemaJSON()
	require.NoError(t, err)
	require.Contains(t, doc, "parent_hash")
	require.Contains(t, doc, "hash")
}
