package archive

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in      string
		kind    byte
		size    int
		unit    string
		big     bool
		wantErr bool
	}{
		{in: "<f4", kind: 'f', size: 4},
		{in: ">f8", kind: 'f', size: 8, big: true},
		{in: "|u1", kind: 'u', size: 1},
		{in: "<i2", kind: 'i', size: 2},
		{in: "<M8[ns]", kind: 'M', size: 8, unit: "ns"},
		{in: "<M8[s]", kind: 'M', size: 8, unit: "s"},
		{in: "<m8", kind: 'm', size: 8, unit: "ns"},
		{in: "<f2", wantErr: true},
		{in: "<U8", wantErr: true},
		{in: "=f4", wantErr: true},
		{in: "f4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			dt, err := parseDType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, dt.kind)
			assert.Equal(t, tt.size, dt.size)
			assert.Equal(t, tt.unit, dt.unit)
			if tt.big {
				assert.Equal(t, binary.BigEndian, dt.order)
			} else {
				assert.Equal(t, binary.LittleEndian, dt.order)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("big endian float", func(t *testing.T) {
		dt, err := parseDType(">f4")
		require.NoError(t, err)
		vals, err := dt.decode(encodeValues(t, ">f4", []float64{1.5, -2}))
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, -2}, vals)
	})

	t.Run("signed ints", func(t *testing.T) {
		dt, err := parseDType("<i2")
		require.NoError(t, err)
		vals, err := dt.decode(encodeValues(t, "<i2", []float64{-3, 7}))
		require.NoError(t, err)
		assert.Equal(t, []float64{-3, 7}, vals)
	})

	t.Run("unsigned byte", func(t *testing.T) {
		dt, err := parseDType("|u1")
		require.NoError(t, err)
		vals, err := dt.decode([]byte{0, 200, 255})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 200, 255}, vals)
	})

	t.Run("datetime NaT", func(t *testing.T) {
		dt, err := parseDType("<M8[ns]")
		require.NoError(t, err)
		raw := make([]byte, 16)
		binary.LittleEndian.PutUint64(raw[:8], uint64(time.Hour))
		binary.LittleEndian.PutUint64(raw[8:], 1<<63)
		vals, err := dt.decode(raw)
		require.NoError(t, err)
		assert.Equal(t, float64(time.Hour), vals[0])
		assert.True(t, math.IsNaN(vals[1]))
	})

	t.Run("ragged length", func(t *testing.T) {
		dt, err := parseDType("<f4")
		require.NoError(t, err)
		_, err = dt.decode([]byte{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestFillValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
		nan    bool
	}{
		{name: "absent", in: nil},
		{name: "number", in: -9999.0, want: -9999, wantOK: true},
		{name: "nan string", in: "NaN", wantOK: true, nan: true},
		{name: "infinity", in: "Infinity", want: math.Inf(1), wantOK: true},
		{name: "negative infinity", in: "-Infinity", want: math.Inf(-1), wantOK: true},
		{name: "numeric string", in: "1e20", want: 1e20, wantOK: true},
		{name: "garbage", in: "n/a"},
		{name: "bool", in: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fillValue(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.nan {
				assert.True(t, math.IsNaN(got))
			} else if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMaskAndScale(t *testing.T) {
	vals := []float64{1, 2, 1e20, math.NaN()}
	maskAndScale(vals, ArrayMeta{FillValue: 1e20}, map[string]any{"scale_factor": 2.0})

	assert.Equal(t, 2.0, vals[0])
	assert.Equal(t, 4.0, vals[1])
	assert.True(t, math.IsNaN(vals[2]))
	assert.True(t, math.IsNaN(vals[3]))
}

func TestMaskAndScale_OffsetOnly(t *testing.T) {
	vals := []float64{0, 1}
	maskAndScale(vals, ArrayMeta{}, map[string]any{"add_offset": 273.15})
	assert.Equal(t, []float64{273.15, 274.15}, vals)
}
