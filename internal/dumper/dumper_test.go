package dumper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, w http.ResponseWriter, body interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

// A layer with no pagination and no statistics support falls back to OID enumeration.
func TestDumperOidEnumeration(t *testing.T) {
	mux := http.NewServeMux()
	layerURL := ""
	var srv *httptest.Server

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount":     1000,
			"objectIdField":      "OBJECTID",
			"supportsPagination": false,
			"supportsStatistics": false,
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.FormValue("returnCountOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"count": 6})
		case r.FormValue("returnIdsOnly") == "true":
			ids := []interface{}{}
			for i := 1; i <= 6; i++ {
				ids = append(ids, float64(i))
			}
			writeJSON(t, w, map[string]interface{}{"objectIds": ids})
		default:
			where := r.FormValue("where")
			lo, hi := parseOidRange(t, where)
			features := []map[string]interface{}{}
			for oid := lo; oid <= hi; oid++ {
				features = append(features, map[string]interface{}{
					"attributes": map[string]interface{}{"OBJECTID": float64(oid)},
				})
			}
			writeJSON(t, w, map[string]interface{}{"features": features})
		}
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()
	layerURL = srv.URL

	d, err := New(context.Background(), Config{LayerURL: layerURL, MaxPageSize: 1000})
	require.NoError(t, err)

	var oids []int
	err = d.ForEach(context.Background(), func(it Item) error {
		oids = append(oids, int(it.GeoJSON.Properties["OBJECTID"].(float64)))
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6}, oids)
}

// A layer advertising pagination is walked with resultOffset pages capped by its
// maxRecordCount, yielding every row exactly once.
func TestDumperResultOffset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount":     500,
			"objectIdField":      "OBJECTID",
			"supportsPagination": true,
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("returnCountOnly") == "true" {
			writeJSON(t, w, map[string]interface{}{"count": 1000})
			return
		}
		offset, _ := strconv.Atoi(r.FormValue("resultOffset"))
		count, _ := strconv.Atoi(r.FormValue("resultRecordCount"))
		features := []map[string]interface{}{}
		for i := 0; i < count && offset+i < 1000; i++ {
			features = append(features, map[string]interface{}{
				"attributes": map[string]interface{}{"OBJECTID": float64(offset + i + 1)},
			})
		}
		writeJSON(t, w, map[string]interface{}{"features": features})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, err := New(context.Background(), Config{LayerURL: srv.URL, MaxPageSize: 1000})
	require.NoError(t, err)

	count := 0
	err = d.ForEach(context.Background(), func(Item) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, count)
}

// With no count/statistics/ids support, the first query over the full extent saturates and
// the recursor must subdivide, deduping features that appear in multiple quadrants.
func TestDumperGeoQueriesSubdivides(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount": 2,
			"objectIdField":  "OBJECTID",
			"extent":         map[string]interface{}{"xmin": 0, "ymin": 0, "xmax": 10, "ymax": 10},
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.FormValue("returnCountOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"error": map[string]interface{}{"message": "unsupported"}})
		case r.FormValue("returnIdsOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"error": map[string]interface{}{"message": "unsupported"}})
		default:
			var geom map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(r.FormValue("geometry")), &geom))
			xmin := geom["xmin"].(float64)
			xmax := geom["xmax"].(float64)
			if xmax-xmin > 5 {
				// root query: saturate with 2 features to force a split
				writeJSON(t, w, map[string]interface{}{"features": []map[string]interface{}{
					{"attributes": map[string]interface{}{"OBJECTID": 1.0}},
					{"attributes": map[string]interface{}{"OBJECTID": 2.0}},
				}})
			} else {
				writeJSON(t, w, map[string]interface{}{"features": []map[string]interface{}{
					{"attributes": map[string]interface{}{"OBJECTID": 1.0}},
				}})
			}
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, err := New(context.Background(), Config{LayerURL: srv.URL})
	require.NoError(t, err)

	var oids []int
	err = d.ForEach(context.Background(), func(it Item) error {
		oids = append(oids, int(it.GeoJSON.Properties["OBJECTID"].(float64)))
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, oids, 1)
	assert.LessOrEqual(t, len(oids), 10, "recursion must terminate")
}

// A caller-supplied where clause is AND-ed onto the planner's own window filter.
func TestDumperWhereOverride(t *testing.T) {
	var capturedWhere string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount":     1000,
			"objectIdField":      "OBJECTID",
			"supportsStatistics": true,
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.FormValue("returnCountOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"count": 1})
		case r.FormValue("outStatistics") != "":
			writeJSON(t, w, map[string]interface{}{
				"features": []map[string]interface{}{
					{"attributes": map[string]interface{}{"oid_min": 70194.0, "oid_max": 70194.0}},
				},
			})
		case r.FormValue("returnIdsOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"objectIds": []interface{}{70194.0}})
		default:
			capturedWhere = r.FormValue("where")
			writeJSON(t, w, map[string]interface{}{"features": []map[string]interface{}{
				{"attributes": map[string]interface{}{"OBJECTID": 70194.0}},
			}})
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, err := New(context.Background(), Config{
		LayerURL:       srv.URL,
		MaxPageSize:    1000,
		ExtraQueryArgs: map[string]string{"where": "foo=bar"},
	})
	require.NoError(t, err)

	err = d.ForEach(context.Background(), func(Item) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "(OBJECTID>70193 AND OBJECTID<=70194) AND (foo=bar)", capturedWhere)
}

func parseOidRange(t *testing.T, where string) (int, int) {
	t.Helper()
	var lo, hi int
	_, err := fmt.Sscanf(where, "OBJECTID>=%d AND OBJECTID<=%d", &lo, &hi)
	require.NoError(t, err)
	return lo, hi
}
