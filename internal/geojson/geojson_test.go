package geojson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertNullGeometry(t *testing.T) {
	f := Convert(EsriFeature{Geometry: nil, Attributes: map[string]interface{}{"id": float64(1)}})
	assert.Equal(t, "Feature", f.Type)
	assert.Nil(t, f.Geometry)
	assert.Equal(t, map[string]interface{}{"id": float64(1)}, f.Properties)
}

func TestConvertPointGeometry(t *testing.T) {
	f := Convert(EsriFeature{Geometry: map[string]interface{}{"x": float64(1), "y": float64(2)}})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{1, 2}, f.Geometry.Coordinates)
}

func TestConvertPointGeometryNullCoordinate(t *testing.T) {
	f := Convert(EsriFeature{Geometry: map[string]interface{}{"x": nil, "y": float64(2)}})
	assert.Nil(t, f.Geometry)
}

func TestConvertMultiPointSingle(t *testing.T) {
	g := map[string]interface{}{
		"points": []interface{}{[]interface{}{float64(1), float64(2)}},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "Point", f.Geometry.Type)
}

func TestConvertMultiPointMany(t *testing.T) {
	g := map[string]interface{}{
		"points": []interface{}{
			[]interface{}{float64(1), float64(2)},
			[]interface{}{float64(3), float64(4)},
		},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "MultiPoint", f.Geometry.Type)
}

func TestConvertPolylineSingle(t *testing.T) {
	g := map[string]interface{}{
		"paths": []interface{}{
			[]interface{}{
				[]interface{}{float64(0), float64(0)},
				[]interface{}{float64(1), float64(1)},
			},
		},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "LineString", f.Geometry.Type)
}

func TestConvertPolylineMany(t *testing.T) {
	g := map[string]interface{}{
		"paths": []interface{}{
			[]interface{}{[]interface{}{float64(0), float64(0)}, []interface{}{float64(1), float64(1)}},
			[]interface{}{[]interface{}{float64(2), float64(2)}, []interface{}{float64(3), float64(3)}},
		},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "MultiLineString", f.Geometry.Type)
}

// square returns a genuinely clockwise ring (BL -> TL -> TR -> BR -> close) per
// ringIsClockwise's Σ(x[i+1]-x[i])*(y[i+1]+y[i]) >= 0 test.
func square(x0, y0, x1, y1 float64) []interface{} {
	return []interface{}{
		[]interface{}{x0, y0},
		[]interface{}{x0, y1},
		[]interface{}{x1, y1},
		[]interface{}{x1, y0},
		[]interface{}{x0, y0},
	}
}

func TestConvertPolygonSingleOuter(t *testing.T) {
	// clockwise square: outer ring only
	g := map[string]interface{}{
		"rings": []interface{}{square(0, 0, 1, 1)},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "Polygon", f.Geometry.Type)
}

func TestConvertPolygonWithHole(t *testing.T) {
	outer := square(0, 0, 10, 10)
	// BL -> BR -> TR -> TL -> close: counter-clockwise, a genuine hole
	hole := []interface{}{
		[]interface{}{float64(1), float64(1)},
		[]interface{}{float64(2), float64(1)},
		[]interface{}{float64(2), float64(2)},
		[]interface{}{float64(1), float64(2)},
		[]interface{}{float64(1), float64(1)},
	}
	g := map[string]interface{}{
		"rings": []interface{}{outer, hole},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	coords, ok := f.Geometry.Coordinates.([][][]float64)
	require.True(t, ok)
	assert.Len(t, coords, 2)
}

func TestConvertPolygonMultiplePolygons(t *testing.T) {
	g := map[string]interface{}{
		"rings": []interface{}{
			square(0, 0, 1, 1),
			square(10, 10, 11, 11),
		},
	}
	f := Convert(EsriFeature{Geometry: g})
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "MultiPolygon", f.Geometry.Type)
}

func TestConvertPolygonDegenerateRingDropped(t *testing.T) {
	degenerate := []interface{}{
		[]interface{}{float64(0), float64(0)},
		[]interface{}{float64(1), float64(1)},
		[]interface{}{float64(0), float64(0)},
	}
	g := map[string]interface{}{"rings": []interface{}{degenerate}}
	f := Convert(EsriFeature{Geometry: g})
	assert.Nil(t, f.Geometry)
}

func TestConvertPolygonHoleBeforeOuterSkipped(t *testing.T) {
	// BL -> BR -> TR -> TL -> close: counter-clockwise, a hole with no outer ring before it
	hole := []interface{}{
		[]interface{}{float64(1), float64(1)},
		[]interface{}{float64(2), float64(1)},
		[]interface{}{float64(2), float64(2)},
		[]interface{}{float64(1), float64(2)},
		[]interface{}{float64(1), float64(1)},
	}
	g := map[string]interface{}{"rings": []interface{}{hole}}
	f := Convert(EsriFeature{Geometry: g})
	assert.Nil(t, f.Geometry)
}

func TestConvertAttributesVerbatim(t *testing.T) {
	attrs := map[string]interface{}{"OBJECTID": float64(5), "name": "x"}
	f := Convert(EsriFeature{Attributes: attrs})
	assert.Equal(t, attrs, f.Properties)
}

func TestConvertAbsentAttributesIsNil(t *testing.T) {
	f := Convert(EsriFeature{})
	assert.Nil(t, f.Properties)
}
