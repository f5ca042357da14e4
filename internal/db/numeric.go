//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Numeric converts a decimal into a pgtype.Numeric without going through
// float64.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   new(big.Int).Set(d.Coefficient()),
		Exp:   d.Exponent(),
		Valid: true,
	}
}

// NullNumeric converts a nullable decimal; an invalid value becomes SQL NULL.
func NullNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return Numeric(d.Decimal)
}

// Decimal converts a scanned NUMERIC into a decimal. NULL yields an invalid
// NullDecimal; NaN and infinities are rejected.
func Decimal(n pgtype.Numeric) (decimal.NullDecimal, error) {
	if !n.Valid {
		return decimal.NullDecimal{}, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}, fmt.Errorf("numeric value is not finite")
	}
	if n.Int == nil {
		return decimal.NewNullDecimal(decimal.Zero), nil
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp)), nil
}

// RequiredDecimal is Decimal for NOT NULL columns; NULL is an error naming
// the column.
func RequiredDecimal(n pgtype.Numeric, column string) (decimal.Decimal, error) {
	d, err := Decimal(n)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", column, err)
	}
	if !d.Valid {
		return decimal.Zero, fmt.Errorf("%s: unexpected NULL", column)
	}
	return d.Decimal, nil
}
