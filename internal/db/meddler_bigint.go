//nolint:dupl
package db

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for *big.Int, stored in a NUMERIC
	// column so block numbers and timestamps above 2^53 never round-trip through
	// a float at any layer.
	meddler.Register("bignumeric", BigIntMeddler{})
}

// BigIntMeddler handles conversion between *big.Int and a Postgres NUMERIC
// column. Values are exchanged as decimal strings in both directions; a driver
// that stringifies NUMERIC as scientific notation would corrupt the round-trip,
// so PostRead rejects anything SetString cannot parse as a plain base-10 integer.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	if ptr, ok := fieldAddr.(**big.Int); ok {
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		n, valid := new(big.Int).SetString(ns.String, 10)
		if !valid {
			return fmt.Errorf("column value %q is not a valid base-10 integer", ns.String)
		}
		*ptr = n
		return nil
	}

	return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	ptr, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}
	if ptr == nil {
		return nil, nil
	}
	return ptr.String(), nil
}
