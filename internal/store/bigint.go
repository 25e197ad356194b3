package store

import (
	"database/sql"
	"math/big"
	"regexp"

	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

// plainDecimal matches a bare base-10 integer string. Anything containing an
// exponent marker ("e"/"E") or a decimal point is rejected outright rather
// than parsed loosely, per the spec's ban on crossing big integers through a
// float-shaped representation anywhere in the pipeline.
var plainDecimal = regexp.MustCompile(`^-?[0-9]+$`)

// scanBigInt parses a NUMERIC column value returned by the driver as text,
// rejecting scientific-notation forms explicitly rather than silently
// rounding them.
func scanBigInt(column, raw string) (*big.Int, error) {
	if !plainDecimal.MatchString(raw) {
		return nil, &pkgstore.ErrScientificNotation{Column: column, Raw: raw}
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, &pkgstore.ErrScientificNotation{Column: column, Raw: raw}
	}
	return n, nil
}

// scanNullableBigInt is scanBigInt for a column that may be SQL NULL.
func scanNullableBigInt(column string, raw sql.NullString) (*big.Int, error) {
	if !raw.Valid {
		return nil, nil
	}
	return scanBigInt(column, raw.String)
}
