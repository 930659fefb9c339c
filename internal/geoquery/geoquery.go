// Package geoquery is the pagination mode of last resort: a depth-first quadtree
// subdivision of a layer's extent, querying each node as a geometry-intersection request
// and splitting any node whose result saturates the page size.
//
// The tree lives as the string-keyed map carried on state.GeoQueries rather than a pointer
// tree, so it persists as plain JSON.
package geoquery

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/state"
)

// RootKey is the quadtree's root node key, covering the layer's full extent.
const RootKey = "0"

// Node is one query target: the tree key plus the extent it covers.
type Node struct {
	Key    string
	Extent esriapi.Extent
}

// Next performs a depth-first search for the next unexplored node: the first key that is
// either absent from the tree (never queried) or explicitly OPEN, descending into a SPLIT
// node's four children in order. Returns ok=false once every node is EXPLORED.
func Next(st *state.GeoQueries, extent esriapi.Extent) (Node, bool) {
	return find(st, extent, RootKey)
}

func find(st *state.GeoQueries, extent esriapi.Extent, key string) (Node, bool) {
	switch st.NodeStatus(key) {
	case state.TreeExplored:
		return Node{}, false
	case state.TreeSplit:
		for i := 0; i < 4; i++ {
			childKey := key + strconv.Itoa(i)
			if n, ok := find(st, quadrant(extent, i), childKey); ok {
				return n, true
			}
		}
		// All four children are complete: collapse the subtree into a single EXPLORED
		// entry (UpdateTree prunes the descendants).
		st.UpdateTree(key, state.TreeExplored)
		return Node{}, false
	default: // "" (never queried) or OPEN
		return Node{Key: key, Extent: extent}, true
	}
}

// Saturated reports whether a page of featureCount features hit the pageSize cap, meaning the
// server may have silently truncated it. ">=" rather than "==" — equality is brittle once a
// server exceeds the requested cap.
func Saturated(featureCount, pageSize int) bool {
	return pageSize > 0 && featureCount >= pageSize
}

// Record applies the saturation rule to a queried node: a saturated node must be split into
// quadrants; anything smaller is fully explored.
func Record(st *state.GeoQueries, key string, featureCount, pageSize int) {
	if Saturated(featureCount, pageSize) {
		st.UpdateTree(key, state.TreeSplit)
	} else {
		st.UpdateTree(key, state.TreeExplored)
	}
}

// quadrant returns the i'th quadrant (0=SW, 1=SE, 2=NW, 3=NE) of extent.
func quadrant(extent esriapi.Extent, i int) esriapi.Extent {
	xmid := (extent.XMin + extent.XMax) / 2
	ymid := (extent.YMin + extent.YMax) / 2

	q := extent
	switch i {
	case 0:
		q.XMax, q.YMax = xmid, ymid
	case 1:
		q.XMin, q.YMax = xmid, ymid
	case 2:
		q.XMax, q.YMin = xmid, ymid
	case 3:
		q.XMin, q.YMin = xmid, ymid
	}
	return q
}

// EnvelopeQueryParams builds the query parameter set for a geometry-intersection request
// over one quadtree node's extent. returnGeometry is always true here — unlike the
// deterministic modes, GEO_QUERIES exists specifically to recover geometry-bearing features a
// server won't otherwise paginate for.
func EnvelopeQueryParams(n Node, outFields string, extraQueryArgs map[string]string) *esriapi.QueryParams {
	if outFields == "" {
		outFields = "*"
	}

	q := esriapi.NewQueryParams()
	q.Set("geometry", envelopeJSON(n.Extent))
	q.Set("geometryType", "esriGeometryEnvelope")
	q.Set("spatialRel", "esriSpatialRelIntersects")
	q.Set("returnGeometry", "true")
	q.Set("outFields", outFields)
	return q.OverlayExtra(extraQueryArgs)
}

func envelopeJSON(e esriapi.Extent) string {
	payload := map[string]interface{}{
		"xmin": e.XMin,
		"ymin": e.YMin,
		"xmax": e.XMax,
		"ymax": e.YMax,
	}
	if e.SpatialReference != nil {
		payload["spatialReference"] = e.SpatialReference
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// payload is a fixed, JSON-safe shape; marshal failure would indicate a broken
		// build, not a runtime condition worth recovering from.
		panic(fmt.Sprintf("geoquery: envelope marshal: %v", err))
	}
	return string(raw)
}
