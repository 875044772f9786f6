// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides types for transaction sizes and fee rates.
package btcunit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

const (
	// kilo is the multiplier of the kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimals shown by String. Three
	// places keep 1 sat/kvb visible as 0.001 sat/vb.
	floatStringPrecision = 3
)

var (
	// ErrInvalidFeeRate is returned when a fee rate string cannot be
	// parsed or is negative.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)
)

// baseFeeRate holds a fee rate in satoshis per kilo-weight-unit, the unit
// every other rate is converted through.
type baseFeeRate struct {
	satsPerKWU *big.Rat
}

// newBaseFeeRate returns fee/size as sat/kwu given a size in weight units.
// A zero size gives a zero rate.
func newBaseFeeRate(fee btcutil.Amount, wu uint64) baseFeeRate {
	if wu == 0 {
		return baseFeeRate{satsPerKWU: new(big.Rat)}
	}

	rate := new(big.Rat).SetFrac(
		big.NewInt(int64(fee)*kilo), new(big.Int).SetUint64(wu),
	)

	return baseFeeRate{satsPerKWU: rate}
}

// rat returns the rate, treating the zero value as zero.
func (f baseFeeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return new(big.Rat)
	}

	return f.satsPerKWU
}

// feeFor returns the exact fee of a weight as a rational number.
func (f baseFeeRate) feeFor(w WeightUnit) *big.Rat {
	weight := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(w.wu), big.NewInt(kilo),
	)

	return weight.Mul(weight, f.rat())
}

// FeeForWeight returns the fee of a weight, rounded down.
func (f baseFeeRate) FeeForWeight(w WeightUnit) btcutil.Amount {
	fee := f.feeFor(w)

	return btcutil.Amount(new(big.Int).Quo(fee.Num(), fee.Denom()).Int64())
}

// FeeForWeightRoundUp returns the fee of a weight, rounded up to the next
// whole satoshi.
func (f baseFeeRate) FeeForWeightRoundUp(w WeightUnit) btcutil.Amount {
	fee := f.feeFor(w)

	// (num + denom - 1) / denom
	num := new(big.Int).Add(fee.Num(), fee.Denom())
	num.Sub(num, big.NewInt(1))

	return btcutil.Amount(num.Quo(num, fee.Denom()).Int64())
}

// FeeForVByte returns ceil(vsize * rate).
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeightRoundUp(vb.ToWU())
}

func (f baseFeeRate) cmp(other baseFeeRate) int {
	return f.rat().Cmp(other.rat())
}

// SatPerVByte is a fee rate in sat/vbyte.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a whole sat/vb fee rate.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte returns the rate paying fee for a vsize.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	return SatPerVByte{newBaseFeeRate(fee, vb.wu)}
}

// ParseSatPerVByte parses a decimal sat/vb rate such as "2.5". The rate is
// kept exact.
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return SatPerVByte{}, fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
	}

	if d.IsNegative() {
		return SatPerVByte{}, fmt.Errorf("%w: %s is negative",
			ErrInvalidFeeRate, s)
	}

	// sat/vb to sat/kwu is a factor of 1000/4.
	rate := d.Rat()
	rate.Mul(rate, big.NewRat(kilo, blockchain.WitnessScaleFactor))

	return SatPerVByte{baseFeeRate{satsPerKWU: rate}}, nil
}

// ToSatPerKVByte converts the rate to sat/kvb.
func (s SatPerVByte) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte(s)
}

// String returns the rate in sat/vb.
func (s SatPerVByte) String() string {
	rate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return rate.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal reports whether both rates are the same.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// LessThan reports whether s is below other.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// SatPerKVByte is a fee rate in sat/kvbyte, the unit of relay fee policy.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a whole sat/kvb fee rate.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{newBaseFeeRate(rate, NewVByte(kilo).wu)}
}

// ToSatPerVByte converts the rate to sat/vb.
func (s SatPerKVByte) ToSatPerVByte() SatPerVByte {
	return SatPerVByte(s)
}

// Amount returns the rate in whole satoshis per kvb, rounded down.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return s.FeeForWeight(NewVByte(kilo).ToWU())
}

// String returns the rate in sat/kvb.
func (s SatPerKVByte) String() string {
	rate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, 1),
	)

	return rate.FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal reports whether both rates are the same.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}
