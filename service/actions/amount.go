package actions

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	// DefaultAmount is used when neither the query nor the body carries an amount.
	DefaultAmount = 0.1

	// NativeDecimals is the precision of SOL (1 SOL = 10^9 lamports).
	NativeDecimals uint8 = 9

	// DefaultTokenDecimals applies to token Blinks created without stored decimals.
	DefaultTokenDecimals uint8 = 9

	// MaxTokenDecimals is the highest mint precision a token Blink accepts.
	// It matches the decimals CHECK on the blinks table.
	MaxTokenDecimals uint8 = 18
)

// ResolveAmount picks the transfer amount with a fixed precedence: the query
// parameter, then the body's input.amount, then fallback. A present value that
// does not parse to a finite positive number is rejected rather than replaced
// by the fallback.
func ResolveAmount(query, body *string, fallback float64) (float64, error) {
	var raw *string
	switch {
	case query != nil && strings.TrimSpace(*query) != "":
		raw = query
	case body != nil && strings.TrimSpace(*body) != "":
		raw = body
	default:
		return fallback, nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return 0, newError(KindInvalidAmount, "amount must be a number", err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, newError(KindInvalidAmount, "amount must be finite", nil)
	}
	if value <= 0 {
		return 0, newError(KindInvalidAmount, "amount must be greater than zero", nil)
	}
	return value, nil
}

// ToBaseUnits converts a human-unit amount into the asset's smallest unit.
// The float is first rendered in its shortest decimal form so that inputs such
// as 0.05 convert to exactly 50_000_000 at 9 decimals. Fractions smaller than
// one base unit are floored.
func ToBaseUnits(amount float64, decimals uint8) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, newError(KindInvalidAmount, "amount must be a finite non-negative number", nil)
	}

	r, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return 0, newError(KindInvalidAmount, "amount is not representable", nil)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))

	// Quo truncates toward zero, which is floor for non-negative values.
	units := new(big.Int).Quo(r.Num(), r.Denom())
	if !units.IsUint64() {
		return 0, newError(KindInvalidAmount, "amount is too large", nil)
	}
	return units.Uint64(), nil
}

// CommissionUnits returns floor(base * percentage). Percentages outside [0,1]
// yield zero.
func CommissionUnits(base uint64, percentage float64) uint64 {
	if percentage <= 0 || percentage > 1 || math.IsNaN(percentage) {
		return 0
	}

	p, ok := new(big.Rat).SetString(strconv.FormatFloat(percentage, 'f', -1, 64))
	if !ok {
		return 0
	}
	p.Mul(p, new(big.Rat).SetInt(new(big.Int).SetUint64(base)))
	return new(big.Int).Quo(p.Num(), p.Denom()).Uint64()
}

// FormatAmount renders an amount the way it appears in user-facing messages
// (1, 2.5, 0.1).
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
