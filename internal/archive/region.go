package archive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ReadAll reads an entire array, typically a 1-D coordinate.
func (s *Store) ReadAll(ctx context.Context, a *Array) ([]float64, error) {
	start := make([]int, len(a.Meta.Shape))
	return s.ReadRegion(ctx, a, start, a.Meta.Shape)
}

// ReadRegion reads the hyperslab [start, start+count) of a, in C order.
// Only chunks overlapping the region are fetched; missing chunks and fill
// values read as NaN.
func (s *Store) ReadRegion(ctx context.Context, a *Array, start, count []int) ([]float64, error) {
	ndim := len(a.Meta.Shape)
	if len(start) != ndim || len(count) != ndim {
		return nil, fmt.Errorf("region rank %d/%d does not match array %s rank %d", len(start), len(count), a.Name, ndim)
	}
	total := 1
	for d := 0; d < ndim; d++ {
		if start[d] < 0 || count[d] < 0 || start[d]+count[d] > a.Meta.Shape[d] {
			return nil, corruptError(fmt.Sprintf("region [%v +%v] outside array %s shape %v", start, count, a.Name, a.Meta.Shape), s.URL(), nil)
		}
		total *= count[d]
	}
	out := make([]float64, total)
	if total == 0 {
		return out, nil
	}

	chunks := a.Meta.Chunks
	lo := make([]int, ndim)
	hi := make([]int, ndim)
	for d := 0; d < ndim; d++ {
		lo[d] = start[d] / chunks[d]
		hi[d] = (start[d] + count[d] - 1) / chunks[d]
	}

	outStrides := cOrderStrides(count)
	chunkStrides := cOrderStrides(chunks)

	cidx := append([]int(nil), lo...)
	for {
		data, err := s.readChunk(ctx, a, cidx)
		if err != nil {
			return nil, err
		}

		// Intersection of this chunk with the region, in array coordinates.
		iLo := make([]int, ndim)
		iHi := make([]int, ndim)
		for d := 0; d < ndim; d++ {
			cStart := cidx[d] * chunks[d]
			iLo[d] = max(start[d], cStart)
			iHi[d] = min(start[d]+count[d], cStart+chunks[d])
		}

		pos := append([]int(nil), iLo...)
		for {
			src, dst := 0, 0
			for d := 0; d < ndim; d++ {
				src += (pos[d] - cidx[d]*chunks[d]) * chunkStrides[d]
				dst += (pos[d] - start[d]) * outStrides[d]
			}
			out[dst] = data[src]
			if !advance(pos, iLo, iHi) {
				break
			}
		}

		if !advance(cidx, lo, addOne(hi)) {
			break
		}
	}
	return out, nil
}

// readChunk fetches and decodes one chunk. A missing chunk object is a chunk
// of fill values.
func (s *Store) readChunk(ctx context.Context, a *Array, cidx []int) ([]float64, error) {
	size := 1
	for _, c := range a.Meta.Chunks {
		size *= c
	}

	key := s.key(a.Name + "/" + chunkKey(cidx, a.Meta.DimensionSeparator))
	raw, err := s.getObject(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			vals := make([]float64, size)
			for i := range vals {
				vals[i] = math.NaN()
			}
			return vals, nil
		}
		return nil, unavailableError("failed to fetch chunk "+key, s.URL(), err)
	}

	decompressed, err := s.decompress(a.Meta.Compressor, raw)
	if err != nil {
		return nil, corruptError("failed to decompress chunk "+key, s.URL(), err)
	}
	vals, err := a.dtype.decode(decompressed)
	if err != nil {
		return nil, corruptError("failed to decode chunk "+key, s.URL(), err)
	}
	if len(vals) != size {
		return nil, corruptError(fmt.Sprintf("chunk %s holds %d values, want %d", key, len(vals), size), s.URL(), nil)
	}
	if a.dtype.kind != 'M' && a.dtype.kind != 'm' {
		maskAndScale(vals, a.Meta, a.Attrs)
	}
	return vals, nil
}

// chunkKey renders chunk grid coordinates as "i.j.k" (or "i/j/k").
func chunkKey(cidx []int, sep string) string {
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(cidx))
	for i, c := range cidx {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}

func cOrderStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// advance steps pos through the box [lo, hi) in C order, returning false
// once every position has been visited.
func advance(pos, lo, hi []int) bool {
	for d := len(pos) - 1; d >= 0; d-- {
		pos[d]++
		if pos[d] < hi[d] {
			return true
		}
		pos[d] = lo[d]
	}
	return false
}

func addOne(xs []int) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = x + 1
	}
	return out
}
