// Package geojson converts Esri-JSON features into GeoJSON features. Convert is a pure,
// total function: every Esri geometry shape in the Feature Service wire format maps to
// exactly one (possibly null) GeoJSON geometry, with no network or filesystem access.
package geojson

import "encoding/json"

// Feature is a GeoJSON Feature as emitted by the dumper's output_format=geojson mode.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Geometry is a GeoJSON geometry. Coordinates is left as interface{} because its shape
// (a point, a list of points, a list of lines, or a list of polygons) depends on Type.
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates interface{} `json:"coordinates"`
}

// EsriFeature is the raw wire shape returned in a Feature Service query response's
// "features" array.
type EsriFeature struct {
	Geometry   map[string]interface{} `json:"geometry"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Convert maps one Esri feature to one GeoJSON feature, per the rules in the Geometry
// Converter component: missing/null geometry maps to a null GeoJSON geometry; point,
// multipoint, polyline and polygon geometries map to their GeoJSON equivalents; absent
// attributes map to null properties.
func Convert(f EsriFeature) Feature {
	return Feature{
		Type:       "Feature",
		Geometry:   convertGeometry(f.Geometry),
		Properties: f.Attributes,
	}
}

func convertGeometry(g map[string]interface{}) *Geometry {
	if g == nil {
		return nil
	}
	switch {
	case hasKey(g, "x") || hasKey(g, "y"):
		return convertPoint(g)
	case hasKey(g, "points"):
		return convertMultiPoint(g)
	case hasKey(g, "paths"):
		return convertPolyline(g)
	case hasKey(g, "rings"):
		return convertPolygon(g)
	default:
		return nil
	}
}

func hasKey(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

func convertPoint(g map[string]interface{}) *Geometry {
	x, xOK := asFloat(g["x"])
	y, yOK := asFloat(g["y"])
	if !xOK || !yOK {
		return nil
	}
	return &Geometry{Type: "Point", Coordinates: []float64{x, y}}
}

func convertMultiPoint(g map[string]interface{}) *Geometry {
	points := asPointList(g["points"])
	if len(points) == 0 {
		return nil
	}
	if len(points) == 1 {
		return &Geometry{Type: "Point", Coordinates: points[0]}
	}
	return &Geometry{Type: "MultiPoint", Coordinates: points}
}

func convertPolyline(g map[string]interface{}) *Geometry {
	paths := asPathList(g["paths"])
	if len(paths) == 0 {
		return nil
	}
	if len(paths) == 1 {
		return &Geometry{Type: "LineString", Coordinates: paths[0]}
	}
	return &Geometry{Type: "MultiLineString", Coordinates: paths}
}

func convertPolygon(g map[string]interface{}) *Geometry {
	rings := asPathList(g["rings"])

	var cleanRings [][][]float64
	for _, ring := range rings {
		if isDegenerateRing(ring) {
			continue
		}
		cleanRings = append(cleanRings, ensureClosedRing(ring))
	}

	if len(cleanRings) == 0 {
		return nil
	}
	return decodePolygon(cleanRings)
}

// isDegenerateRing: a 3-point ring whose first and last coordinate are equal collapses to a
// line segment and is dropped before closure/orientation are considered.
func isDegenerateRing(ring [][]float64) bool {
	return len(ring) == 3 && coordEqual(ring[0], ring[2])
}

func coordEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ensureClosedRing(ring [][]float64) [][]float64 {
	if len(ring) == 0 {
		return ring
	}
	if coordEqual(ring[0], ring[len(ring)-1]) {
		return ring
	}
	closed := make([][]float64, len(ring)+1)
	copy(closed, ring)
	closed[len(ring)] = ring[0]
	return closed
}

// decodePolygon groups clean, closed rings into outer rings (clockwise) plus their holes
// (counter-clockwise, attached to the most recently seen outer ring). A hole arriving before
// any outer ring is silently skipped.
func decodePolygon(rings [][][]float64) *Geometry {
	var polygons [][][][]float64

	for _, ring := range rings {
		if ringIsClockwise(ring) {
			polygons = append(polygons, [][][]float64{ring})
		} else if len(polygons) > 0 {
			last := len(polygons) - 1
			polygons[last] = append(polygons[last], ring)
		}
		// else: hole before any outer ring — skip.
	}

	if len(polygons) == 0 {
		return nil
	}
	if len(polygons) == 1 {
		return &Geometry{Type: "Polygon", Coordinates: polygons[0]}
	}
	return &Geometry{Type: "MultiPolygon", Coordinates: polygons}
}

// ringIsClockwise implements the signed-area test: Σ (x[i+1]-x[i])*(y[i+1]+y[i]) >= 0 is
// clockwise (an outer ring); negative is counter-clockwise (a hole).
func ringIsClockwise(ring [][]float64) bool {
	var total float64
	for i := 0; i+1 < len(ring); i++ {
		p1, p2 := ring[i], ring[i+1]
		total += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return total >= 0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asPointList(v interface{}) [][]float64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([][]float64, 0, len(raw))
	for _, p := range raw {
		out = append(out, asCoord(p))
	}
	return out
}

func asPathList(v interface{}) [][][]float64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([][][]float64, 0, len(raw))
	for _, path := range raw {
		out = append(out, asPointList(path))
	}
	return out
}

func asCoord(v interface{}) []float64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, c := range raw {
		f, _ := asFloat(c)
		out = append(out, f)
	}
	return out
}
