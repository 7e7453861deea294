package db

import (
	"context"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/wkb"
	"github.com/google/uuid"

	"reducer/internal/types"
)

// GeometryRepository reads the tracked reservoir catchments.
type GeometryRepository struct {
	db DBTX
}

// NewGeometryRepository creates a new GeometryRepository backed by the given
// database connection (pool or transaction).
func NewGeometryRepository(db DBTX) *GeometryRepository {
	return &GeometryRepository{db: db}
}

// List returns every tracked reservoir with its upstream catchment polygon,
// ordered by name. Geometries are fetched as WKB so no PostGIS types need to
// be registered on the connection.
func (r *GeometryRepository) List(ctx context.Context) ([]types.Geometry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT uuid::text, name, ST_AsBinary(upstream_geom)
		 FROM tracked_reservoirs
		 WHERE upstream_geom IS NOT NULL
		 ORDER BY name`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query tracked reservoirs", err)
	}
	defer rows.Close()

	var out []types.Geometry
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			id   string
			name string
			raw  []byte
		)
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tracked reservoir", err)
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, geometryError(name, fmt.Sprintf("invalid uuid %q", id), err)
		}
		if seen[name] {
			return nil, geometryError(name, "duplicate reservoir name", nil)
		}
		seen[name] = true

		poly, err := decodePolygonal(raw)
		if err != nil {
			return nil, geometryError(name, "failed to decode upstream geometry", err)
		}
		out = append(out, types.Geometry{UUID: id, Name: name, Polygon: poly})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tracked reservoirs", err)
	}

	return out, nil
}

func decodePolygonal(raw []byte) (geom.Polygonal, error) {
	g, err := wkb.Decode(raw)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("geometry is %T, not a polygon", g)
	}
	return poly, nil
}

func geometryError(name, msg string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeGeometryInvalid, msg, err, map[string]any{"reservoir": name})
}
