// Package archive reads chunked Zarr v2 arrays and small JSON manifests from
// S3-compatible object storage.
//
// Only the pieces the reducer needs are implemented: array and attribute
// metadata (consolidated or per-array), little/big-endian numeric and
// datetime dtypes, zstd/gzip/zlib chunk compression, fill values, CF packing
// and CF time units, and windowed reads that fetch only the chunks a window
// touches.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"reducer/internal/types"
)

// ErrObjectNotFound is returned by S3Client implementations when the key does
// not exist. Missing chunks are read as fill values.
var ErrObjectNotFound = errors.New("object not found")

// S3Client abstracts S3 object retrieval for testability.
type S3Client interface {
	// GetObject fetches an object by bucket and key. Implementations return
	// an error wrapping ErrObjectNotFound for absent keys.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ArrayMeta is the .zarray document.
type ArrayMeta struct {
	Chunks             []int             `json:"chunks"`
	Shape              []int             `json:"shape"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          any               `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	ZarrFormat         int               `json:"zarr_format"`
	DimensionSeparator string            `json:"dimension_separator"`
}

// CompressorConfig is the codec section of .zarray.
type CompressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// Array is one opened Zarr array: its metadata, attributes and dimension
// names (from xarray's _ARRAY_DIMENSIONS attribute).
type Array struct {
	Name  string
	Meta  ArrayMeta
	Attrs map[string]any
	Dims  []string

	dtype dtype
}

// DimIndex returns the axis position of the named dimension, or -1.
func (a *Array) DimIndex(name string) int {
	for i, d := range a.Dims {
		if d == name {
			return i
		}
	}
	return -1
}

// Store reads arrays from one Zarr group under s3://bucket/prefix.
// A Store is used by a single run and is not safe for concurrent use.
type Store struct {
	s3     S3Client
	bucket string
	prefix string
	logger *slog.Logger

	// consolidated holds .zmetadata entries when the group has them.
	consolidated map[string]json.RawMessage
	arrays       map[string]*Array

	decoderPool sync.Pool
}

// consolidatedDoc is the .zmetadata document written by xarray/zarr.
type consolidatedDoc struct {
	Metadata            map[string]json.RawMessage `json:"metadata"`
	ZarrConsolidatedFmt int                        `json:"zarr_consolidated_format"`
}

// Open prepares a Store for the Zarr group at url (s3://bucket/prefix). It
// reads consolidated metadata when present and otherwise verifies the group
// marker exists.
func Open(ctx context.Context, client S3Client, url string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bucket, prefix, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	s := &Store{
		s3:     client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		arrays: make(map[string]*Array),
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}

	raw, err := s.getObject(ctx, s.key(".zmetadata"))
	switch {
	case err == nil:
		var doc consolidatedDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, corruptError("failed to parse consolidated metadata", url, err)
		}
		s.consolidated = doc.Metadata
		logger.DebugContext(ctx, "opened zarr store", "url", url, "consolidated", true, "entries", len(doc.Metadata))
		return s, nil
	case !errors.Is(err, ErrObjectNotFound):
		return nil, unavailableError("failed to open zarr store", url, err)
	}

	if _, err := s.getObject(ctx, s.key(".zgroup")); err != nil {
		return nil, unavailableError("zarr group marker not readable", url, err)
	}
	logger.DebugContext(ctx, "opened zarr store", "url", url, "consolidated", false)
	return s, nil
}

// URL returns the s3:// location of the store.
func (s *Store) URL() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// Array loads (and caches) the metadata for the named array.
func (s *Store) Array(ctx context.Context, name string) (*Array, error) {
	if a, ok := s.arrays[name]; ok {
		return a, nil
	}

	metaRaw, err := s.metadata(ctx, name+"/.zarray", true)
	if err != nil {
		return nil, err
	}
	var meta ArrayMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, corruptError("failed to parse .zarray for "+name, s.URL(), err)
	}
	if err := validateMeta(name, &meta); err != nil {
		return nil, err
	}
	dt, err := parseDType(meta.DType)
	if err != nil {
		return nil, corruptError(fmt.Sprintf("array %s: %v", name, err), s.URL(), err)
	}

	attrs := map[string]any{}
	attrsRaw, err := s.metadata(ctx, name+"/.zattrs", false)
	if err != nil {
		return nil, err
	}
	if attrsRaw != nil {
		if err := json.Unmarshal(attrsRaw, &attrs); err != nil {
			return nil, corruptError("failed to parse .zattrs for "+name, s.URL(), err)
		}
	}

	a := &Array{
		Name:  name,
		Meta:  meta,
		Attrs: attrs,
		Dims:  dimensionNames(attrs, len(meta.Shape)),
		dtype: dt,
	}
	s.arrays[name] = a
	return a, nil
}

// metadata returns a metadata document from the consolidated index or from
// its own object. When required is false a missing document yields nil.
func (s *Store) metadata(ctx context.Context, rel string, required bool) ([]byte, error) {
	if s.consolidated != nil {
		raw, ok := s.consolidated[rel]
		if !ok && required {
			return nil, unavailableError("array not found in consolidated metadata: "+rel, s.URL(), ErrObjectNotFound)
		}
		return raw, nil
	}

	raw, err := s.getObject(ctx, s.key(rel))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) && !required {
			return nil, nil
		}
		return nil, unavailableError("failed to fetch "+rel, s.URL(), err)
	}
	return raw, nil
}

func (s *Store) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	body, err := s.s3.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func validateMeta(name string, meta *ArrayMeta) error {
	switch {
	case meta.ZarrFormat != 0 && meta.ZarrFormat != 2:
		return corruptError(fmt.Sprintf("array %s: unsupported zarr_format %d", name, meta.ZarrFormat), "", nil)
	case len(meta.Shape) == 0 || len(meta.Shape) != len(meta.Chunks):
		return corruptError(fmt.Sprintf("array %s: shape %v and chunks %v disagree", name, meta.Shape, meta.Chunks), "", nil)
	case meta.Order != "" && meta.Order != "C":
		return corruptError(fmt.Sprintf("array %s: unsupported order %q", name, meta.Order), "", nil)
	}
	for _, f := range meta.Filters {
		if string(f) != "null" {
			return corruptError(fmt.Sprintf("array %s: filters are not supported", name), "", nil)
		}
	}
	for _, c := range meta.Chunks {
		if c <= 0 {
			return corruptError(fmt.Sprintf("array %s: invalid chunk shape %v", name, meta.Chunks), "", nil)
		}
	}
	return nil
}

func dimensionNames(attrs map[string]any, ndim int) []string {
	raw, ok := attrs["_ARRAY_DIMENSIONS"].([]any)
	if !ok || len(raw) != ndim {
		dims := make([]string, ndim)
		for i := range dims {
			dims[i] = fmt.Sprintf("dim_%d", i)
		}
		return dims
	}
	dims := make([]string, ndim)
	for i, d := range raw {
		dims[i], _ = d.(string)
	}
	return dims
}

// ParseURL splits s3://bucket/prefix into its parts. The prefix carries no
// leading or trailing slash.
func ParseURL(url string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok || rest == "" {
		return "", "", types.NewAppError(types.ErrCodeConfigInvalidManifest,
			fmt.Sprintf("archive url %q must use the s3:// scheme", url), nil)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", types.NewAppError(types.ErrCodeConfigInvalidManifest,
			fmt.Sprintf("archive url %q has no bucket", url), nil)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func unavailableError(msg, url string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamArchive, msg, err, map[string]any{"url": url})
}

func corruptError(msg, url string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeInternalArchiveCorrupt, msg, err, map[string]any{"url": url})
}

// IsArchiveError reports whether err came from reading an archive, either
// because it was unreachable or because its contents could not be decoded.
func IsArchiveError(err error) bool {
	code := types.CodeOf(err)
	return code == types.ErrCodeUpstreamArchive || code == types.ErrCodeInternalArchiveCorrupt
}
