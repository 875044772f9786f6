// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeRateConversions checks that sat/vb and sat/kvb describe the same
// canonical rate.
func TestFeeRateConversions(t *testing.T) {
	t.Parallel()

	perVByte := NewSatPerVByte(1)
	perKVByte := NewSatPerKVByte(1000)

	require.True(t, perVByte.Equal(perKVByte.ToSatPerVByte()))
	require.True(t, perKVByte.Equal(perVByte.ToSatPerKVByte()))
	require.Equal(t, btcutil.Amount(1000),
		perVByte.ToSatPerKVByte().Amount())

	require.Equal(t, "1.000 sat/vb", perVByte.String())
	require.Equal(t, "1000.000 sat/kvb", perKVByte.String())
	require.Equal(t, "0.001 sat/vb",
		NewSatPerKVByte(1).ToSatPerVByte().String())

	require.True(t, ZeroSatPerVByte.LessThan(perVByte))
	require.False(t, perVByte.LessThan(perVByte))
	require.True(t, SatPerVByte{}.Equal(ZeroSatPerVByte))
}

// TestFeeRounding checks the rounding of fee calculations.
func TestFeeRounding(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		rate      SatPerVByte
		weight    WeightUnit
		feeDown   btcutil.Amount
		feeUp     btcutil.Amount
		feeVBytes btcutil.Amount
	}{
		{
			name:      "whole rate",
			rate:      NewSatPerVByte(2),
			weight:    NewWeightUnit(564),
			feeDown:   282,
			feeUp:     282,
			feeVBytes: 282,
		},
		{
			name:      "fractional fee",
			rate:      CalcSatPerVByte(5, NewVByte(2)),
			weight:    NewWeightUnit(564),
			feeDown:   352,
			feeUp:     353,
			feeVBytes: 353,
		},
		{
			name:      "partial vbyte",
			rate:      NewSatPerVByte(1),
			weight:    NewWeightUnit(561),
			feeDown:   140,
			feeUp:     141,
			feeVBytes: 141,
		},
		{
			name:      "zero rate",
			rate:      ZeroSatPerVByte,
			weight:    NewWeightUnit(1000),
			feeDown:   0,
			feeUp:     0,
			feeVBytes: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.feeDown, tc.rate.FeeForWeight(tc.weight))
			require.Equal(t, tc.feeUp,
				tc.rate.FeeForWeightRoundUp(tc.weight))
			require.Equal(t, tc.feeVBytes,
				tc.rate.FeeForVByte(tc.weight.ToVB()))
		})
	}
}

// TestParseSatPerVByte checks decimal fee rate parsing.
func TestParseSatPerVByte(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  SatPerVByte
		err   error
	}{
		{input: "1", want: NewSatPerVByte(1)},
		{input: "0", want: ZeroSatPerVByte},
		{input: "2.5", want: CalcSatPerVByte(5, NewVByte(2))},
		{input: "0.11", want: CalcSatPerVByte(11, NewVByte(100))},
		{input: "-1", err: ErrInvalidFeeRate},
		{input: "fast", err: ErrInvalidFeeRate},
		{input: "", err: ErrInvalidFeeRate},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSatPerVByte(tc.input)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %v", got)
		})
	}
}
