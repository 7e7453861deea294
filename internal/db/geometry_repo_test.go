package db

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reducer/internal/types"
)

const (
	kabiniUUID  = "8d3c2b4e-7a51-4f0c-9a0e-1f2b3c4d5e6f"
	harangiUUID = "0f1e2d3c-4b5a-4968-8776-a5b4c3d2e1f0"
)

func encodeWKB(t *testing.T, g geom.Geom) []byte {
	t.Helper()
	b, err := wkb.Encode(g, binary.LittleEndian)
	require.NoError(t, err)
	return b
}

func square(x, y, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y},
		{X: x + size, Y: y},
		{X: x + size, Y: y + size},
		{X: x, Y: y + size},
		{X: x, Y: y},
	}}
}

func TestGeometryRepository_List_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db)
	ctx := context.Background()

	multi := geom.MultiPolygon{square(75.9, 11.8, 0.5), square(76.5, 11.9, 0.2)}
	rows := newMockRows([][]any{
		{harangiUUID, "harangi", encodeWKB(t, multi)},
		{kabiniUUID, "kabini", encodeWKB(t, square(76.1, 11.9, 0.4))},
	})
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ST_AsBinary(upstream_geom)") && strings.Contains(sql, "FROM tracked_reservoirs")
	}), mock.Anything).Return(rows, nil)

	geoms, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, geoms, 2)

	assert.Equal(t, "harangi", geoms[0].Name)
	assert.Equal(t, harangiUUID, geoms[0].UUID)
	assert.Len(t, geoms[0].Polygon.Polygons(), 2)

	assert.Equal(t, "kabini", geoms[1].Name)
	b := geoms[1].Polygon.Bounds()
	assert.InDelta(t, 76.1, b.Min.X, 1e-9)
	assert.InDelta(t, 12.3, b.Max.Y, 1e-9)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestGeometryRepository_List_Empty(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	geoms, err := NewGeometryRepository(db).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, geoms)
}

func TestGeometryRepository_List_QueryError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := NewGeometryRepository(db).List(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestGeometryRepository_List_RejectsBadRows(t *testing.T) {
	tests := []struct {
		name string
		rows [][]any
	}{
		{
			name: "invalid uuid",
			rows: [][]any{{"not-a-uuid", "kabini", []byte{}}},
		},
		{
			name: "undecodable wkb",
			rows: [][]any{{kabiniUUID, "kabini", []byte{0x01, 0x02}}},
		},
		{
			name: "point geometry",
			rows: [][]any{{kabiniUUID, "kabini", encodeWKB(t, geom.Point{X: 76, Y: 12})}},
		},
		{
			name: "duplicate name",
			rows: [][]any{
				{kabiniUUID, "kabini", encodeWKB(t, square(76, 12, 1))},
				{harangiUUID, "kabini", encodeWKB(t, square(76, 12, 1))},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
				Return(newMockRows(tt.rows), nil)

			_, err := NewGeometryRepository(db).List(context.Background())
			require.Error(t, err)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeGeometryInvalid, appErr.Code)
			assert.Equal(t, "kabini", appErr.Details["reservoir"])
		})
	}
}

func TestGeometryRepository_List_IterationError(t *testing.T) {
	rows := newMockRows(nil)
	rows.errVal = errors.New("unexpected EOF")
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := NewGeometryRepository(db).List(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}
