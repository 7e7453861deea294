package archive

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// --- Mock S3 Client ---

type mockS3Client struct {
	objects  map[string][]byte
	failKeys map[string]error
	gets     []string
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:  make(map[string][]byte),
		failKeys: make(map[string]error),
	}
}

func (m *mockS3Client) putObject(bucket, key string, data []byte) {
	m.objects[bucket+"/"+key] = data
}

func (m *mockS3Client) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	fullKey := bucket + "/" + key
	m.gets = append(m.gets, fullKey)
	if err, ok := m.failKeys[fullKey]; ok {
		return nil, err
	}
	data, ok := m.objects[fullKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fullKey, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Zarr writer ---

type zarrFixture struct {
	t      *testing.T
	s3     *mockS3Client
	bucket string
	prefix string
	// consolidated collects metadata when writeConsolidated is called.
	meta map[string]json.RawMessage
}

func newZarrFixture(t *testing.T) *zarrFixture {
	f := &zarrFixture{
		t:      t,
		s3:     newMockS3Client(),
		bucket: "archive",
		prefix: "feeds/chirps.zarr",
		meta:   make(map[string]json.RawMessage),
	}
	f.put(".zgroup", []byte(`{"zarr_format": 2}`))
	return f
}

func (f *zarrFixture) url() string {
	return "s3://" + f.bucket + "/" + f.prefix
}

func (f *zarrFixture) put(rel string, data []byte) {
	f.s3.putObject(f.bucket, f.prefix+"/"+rel, data)
}

type arraySpec struct {
	name       string
	dims       []string
	shape      []int
	chunks     []int
	dtype      string
	compressor string
	fill       any
	attrs      map[string]any
	values     []float64
}

func (f *zarrFixture) putArray(spec arraySpec) {
	f.t.Helper()
	if spec.dtype == "" {
		spec.dtype = "<f4"
	}
	if spec.chunks == nil {
		spec.chunks = spec.shape
	}
	var comp any
	if spec.compressor != "" {
		comp = map[string]any{"id": spec.compressor, "level": 1}
	}
	zarray, err := json.Marshal(map[string]any{
		"chunks":      spec.chunks,
		"shape":       spec.shape,
		"dtype":       spec.dtype,
		"compressor":  comp,
		"fill_value":  spec.fill,
		"order":       "C",
		"filters":     nil,
		"zarr_format": 2,
	})
	require.NoError(f.t, err)

	attrs := map[string]any{"_ARRAY_DIMENSIONS": spec.dims}
	for k, v := range spec.attrs {
		attrs[k] = v
	}
	zattrs, err := json.Marshal(attrs)
	require.NoError(f.t, err)

	f.put(spec.name+"/.zarray", zarray)
	f.put(spec.name+"/.zattrs", zattrs)
	f.meta[spec.name+"/.zarray"] = zarray
	f.meta[spec.name+"/.zattrs"] = zattrs

	ndim := len(spec.shape)
	grid := make([]int, ndim)
	for d := range grid {
		grid[d] = (spec.shape[d] + spec.chunks[d] - 1) / spec.chunks[d]
	}
	strides := cOrderStrides(spec.shape)
	chunkSize := 1
	for _, c := range spec.chunks {
		chunkSize *= c
	}

	cidx := make([]int, ndim)
	for {
		buf := make([]float64, chunkSize)
		local := make([]int, ndim)
		for i := 0; i < chunkSize; i++ {
			src := 0
			inside := true
			for d := 0; d < ndim; d++ {
				g := cidx[d]*spec.chunks[d] + local[d]
				if g >= spec.shape[d] {
					inside = false
					break
				}
				src += g * strides[d]
			}
			if inside {
				buf[i] = spec.values[src]
			}
			advance(local, make([]int, ndim), spec.chunks)
		}
		raw := encodeValues(f.t, spec.dtype, buf)
		f.put(spec.name+"/"+chunkKey(cidx, "."), compress(f.t, spec.compressor, raw))
		if !advance(cidx, make([]int, ndim), grid) {
			break
		}
	}
}

func (f *zarrFixture) writeConsolidated() {
	doc, err := json.Marshal(map[string]any{
		"metadata":                 f.meta,
		"zarr_consolidated_format": 1,
	})
	require.NoError(f.t, err)
	f.put(".zmetadata", doc)
}

func (f *zarrFixture) open() *Store {
	f.t.Helper()
	s, err := Open(context.Background(), f.s3, f.url(), testLogger())
	require.NoError(f.t, err)
	return s
}

func encodeValues(t *testing.T, dt string, vals []float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	var order binary.ByteOrder = binary.LittleEndian
	if dt[0] == '>' {
		order = binary.BigEndian
	}
	for _, v := range vals {
		var err error
		switch dt[1:] {
		case "f4":
			err = binary.Write(&buf, order, math.Float32bits(float32(v)))
		case "f8":
			err = binary.Write(&buf, order, math.Float64bits(v))
		case "i2":
			err = binary.Write(&buf, order, int16(v))
		case "i4":
			err = binary.Write(&buf, order, int32(v))
		case "i8", "M8[ns]", "m8[ns]":
			err = binary.Write(&buf, order, int64(v))
		case "u1":
			err = binary.Write(&buf, order, uint8(v))
		default:
			t.Fatalf("unsupported fixture dtype %s", dt)
		}
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func compress(t *testing.T, id string, raw []byte) []byte {
	t.Helper()
	switch id {
	case "":
		return raw
	case "zstd":
		w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		require.NoError(t, err)
		defer w.Close()
		return w.EncodeAll(raw, nil)
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, err := w.Write(raw)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	case "zlib":
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, err := w.Write(raw)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}
	t.Fatalf("unsupported fixture compressor %s", id)
	return nil
}

func hoursSince(epoch time.Time, ts ...time.Time) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = t.Sub(epoch).Hours()
	}
	return out
}

func grid2D(rows, cols int, fn func(r, c int) float64) []float64 {
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, fn(r, c))
		}
	}
	return out
}
