package model

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// Int64ToBigInt converts an int64 value to a *big.Int.
func Int64ToBigInt(value int64) *big.Int {
	return big.NewInt(value)
}

// ApplyPrecision converts a float amount into precise minor units by
// multiplying with the given precision factor. The multiplication is done
// with decimal arithmetic so amounts like 19.99 never pick up binary float
// error on the way into the ledger.
func ApplyPrecision(amount float64, precision float64) *big.Int {
	if precision == 0 {
		precision = 1
	}
	preciseAmount := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(precision))
	return preciseAmount.BigInt()
}

// compare compares two *big.Int values based on the provided condition (e.g., >, <, ==).
// Returns true if the condition holds, otherwise false.
func compare(value *big.Int, condition string, compareTo *big.Int) bool {
	cmp := value.Cmp(compareTo)
	switch condition {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case "!=":
		return cmp != 0
	case "==":
		return cmp == 0
	}
	return false
}
