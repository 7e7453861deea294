package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// dtype is a parsed numpy type string such as "<f4" or "<M8[ns]".
type dtype struct {
	order binary.ByteOrder
	kind  byte // f, i, u, M, m
	size  int
	// unit is the datetime/timedelta resolution ("ns", "s", ...).
	unit string
}

func parseDType(s string) (dtype, error) {
	if len(s) < 3 {
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	var dt dtype
	switch s[0] {
	case '<', '|':
		dt.order = binary.LittleEndian
	case '>':
		dt.order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("unsupported byte order in dtype %q", s)
	}
	dt.kind = s[1]
	rest := s[2:]
	if i := strings.IndexByte(rest, '['); i >= 0 {
		dt.unit = strings.TrimSuffix(rest[i+1:], "]")
		rest = rest[:i]
	}
	size, err := strconv.Atoi(rest)
	if err != nil {
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	dt.size = size

	switch {
	case dt.kind == 'f' && (size == 4 || size == 8):
	case (dt.kind == 'i' || dt.kind == 'u') && (size == 1 || size == 2 || size == 4 || size == 8):
	case (dt.kind == 'M' || dt.kind == 'm') && size == 8:
		if dt.unit == "" {
			dt.unit = "ns"
		}
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	return dt, nil
}

// natValue is numpy's NaT sentinel for datetime64/timedelta64.
const natValue = math.MinInt64

// decode converts raw chunk bytes to float64. Datetime and timedelta values
// stay in their native integer unit; NaT becomes NaN.
func (dt dtype) decode(raw []byte) ([]float64, error) {
	if len(raw)%dt.size != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d bytes", len(raw), dt.size)
	}
	n := len(raw) / dt.size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*dt.size : (i+1)*dt.size]
		switch dt.kind {
		case 'f':
			if dt.size == 4 {
				out[i] = float64(math.Float32frombits(dt.order.Uint32(b)))
			} else {
				out[i] = math.Float64frombits(dt.order.Uint64(b))
			}
		case 'i', 'M', 'm':
			v := dt.signed(b)
			if (dt.kind == 'M' || dt.kind == 'm') && v == natValue {
				out[i] = math.NaN()
			} else {
				out[i] = float64(v)
			}
		case 'u':
			out[i] = float64(dt.unsigned(b))
		}
	}
	return out, nil
}

func (dt dtype) signed(b []byte) int64 {
	switch dt.size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(dt.order.Uint16(b)))
	case 4:
		return int64(int32(dt.order.Uint32(b)))
	default:
		return int64(dt.order.Uint64(b))
	}
}

func (dt dtype) unsigned(b []byte) uint64 {
	switch dt.size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(dt.order.Uint16(b))
	case 4:
		return uint64(dt.order.Uint32(b))
	default:
		return dt.order.Uint64(b)
	}
}

// decompress undoes the array's chunk compressor.
func (s *Store) decompress(cfg *CompressorConfig, data []byte) ([]byte, error) {
	if cfg == nil {
		return data, nil
	}
	switch cfg.ID {
	case "zstd":
		decoder := s.decoderPool.Get().(*zstd.Decoder)
		defer s.decoderPool.Put(decoder)
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return out, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib header: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compressor %q", cfg.ID)
	}
}

// fillValue interprets the .zarray fill_value. ok is false when the array
// declares none.
func fillValue(v any) (fill float64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case string:
		switch x {
		case "NaN":
			return math.NaN(), true
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// maskAndScale applies fill/missing-value masking and CF scale_factor /
// add_offset unpacking in place.
func maskAndScale(vals []float64, meta ArrayMeta, attrs map[string]any) {
	var missing []float64
	if f, ok := fillValue(meta.FillValue); ok && !math.IsNaN(f) {
		missing = append(missing, f)
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if f, ok := fillValue(attrs[key]); ok && !math.IsNaN(f) {
			missing = append(missing, f)
		}
	}

	scale, hasScale := attrs["scale_factor"].(float64)
	offset, hasOffset := attrs["add_offset"].(float64)
	if !hasScale {
		scale = 1
	}

	for i, v := range vals {
		for _, m := range missing {
			if v == m {
				v = math.NaN()
				break
			}
		}
		if !math.IsNaN(v) && (hasScale || hasOffset) {
			v = v*scale + offset
		}
		vals[i] = v
	}
}
