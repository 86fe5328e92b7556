package keyspace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "decimal", in: "590295810358705651712", want: "590295810358705651712"},
		{name: "hex lower", in: "0x400000000000000000", want: "18446744073709551616"},
		{name: "hex upper", in: "0X400000000000000000", want: "18446744073709551616"},
		{name: "zero", in: "0", want: "0"},
		{name: "empty", in: "", wantErr: true},
		{name: "negative", in: "-5", wantErr: true},
		{name: "garbage", in: "0xZZ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.String())
		})
	}
}

func TestKeyHex(t *testing.T) {
	k := MustParseKey("0x400000000000000000")
	assert.Equal(t, "400000000000000000", k.Hex())
	assert.Equal(t, "000400000000000000000", k.PaddedHex(21))

	// Padding never truncates.
	assert.Equal(t, "400000000000000000", k.PaddedHex(4))
}

func TestKeyJSONRoundTrip(t *testing.T) {
	k := PowerOfTwo(69)

	data, err := json.Marshal(k)
	require.NoError(t, err)
	assert.Equal(t, `"590295810358705651712"`, string(data))

	var back Key
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Zero(t, k.Cmp(back))
}

func TestKeyJSONRejectsNumbers(t *testing.T) {
	// A bare number would have passed through float64 somewhere upstream.
	var k Key
	err := json.Unmarshal([]byte(`590295810358705651712`), &k)
	require.Error(t, err)
}

func TestPercentExactAtKeyspaceMagnitude(t *testing.T) {
	// 2^68 of 2^69 must be exactly 50.00, with no floating-point drift.
	got := Percent(PowerOfTwo(68), PowerOfTwo(69))
	assert.Equal(t, 50.00, got)
	assert.Equal(t, "50.00", FormatPercent(got))
}

func TestPercentTruncatesToTwoDecimals(t *testing.T) {
	got := Percent(NewKey(1), NewKey(3))
	assert.Equal(t, 33.33, got)

	assert.Equal(t, 0.0, Percent(NewKey(5), Key{}))
}

func TestPercentOffset(t *testing.T) {
	min := PowerOfTwo(70)
	size := PowerOfTwo(70)

	tests := []struct {
		name    string
		percent float64
		want    Key
	}{
		{name: "zero", percent: 0, want: min},
		{name: "half", percent: 50, want: min.Add(PowerOfTwo(69))},
		{name: "full", percent: 100, want: min.Add(size)},
		{name: "quarter", percent: 25, want: min.Add(PowerOfTwo(68))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PercentOffset(tt.percent, min, size)
			require.NoError(t, err)
			assert.Zero(t, got.Cmp(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestPercentOffsetExactness(t *testing.T) {
	// 40% of 2^70 is exact in scaled-integer arithmetic: 2/5 of the width.
	size := PowerOfTwo(70)
	got, err := PercentOffset(40.0, Key{}, size)
	require.NoError(t, err)

	want := size.MulInt(400000).DivInt(1000000)
	assert.Zero(t, got.Cmp(want), "got %s want %s", got, want)
}

func TestPercentOffsetRejectsOutOfRange(t *testing.T) {
	for _, pct := range []float64{-0.01, 100.01, 200} {
		_, err := PercentOffset(pct, Key{}, PowerOfTwo(10))
		require.Error(t, err, "percent %v", pct)
	}
}

func TestKeyArithmetic(t *testing.T) {
	a := NewKey(1000)
	b := NewKey(400)

	assert.Equal(t, "1400", a.Add(b).String())
	assert.Equal(t, "600", a.Sub(b).String())
	assert.Equal(t, "333", a.DivInt(3).String())
	assert.Equal(t, "3000", a.MulInt(3).String())
	assert.Equal(t, 1, a.Cmp(b))
	assert.True(t, Key{}.IsZero())
}
