package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilvedi/esrigeo/internal/httpclient"
)

func serveDescriptor(t *testing.T, body map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

func TestFetchDerivesCapabilitiesAndExtent(t *testing.T) {
	srv := serveDescriptor(t, map[string]interface{}{
		"maxRecordCount":     2000,
		"objectIdField":      "FID",
		"geometryType":       "esriGeometryPolygon",
		"supportsPagination": true,
		"supportsStatistics": true,
		"advancedQueryCapabilities": map[string]interface{}{
			"supportsPagination": true,
		},
		"extent": map[string]interface{}{
			"xmin": -10.0, "ymin": -20.0, "xmax": 10.0, "ymax": 20.0,
			"spatialReference": map[string]interface{}{"wkid": 4326.0},
		},
	})
	defer srv.Close()

	meta, err := Fetch(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, true, nil)
	require.NoError(t, err)

	assert.Equal(t, 2000, meta.MaxRecordCount)
	assert.Equal(t, "FID", meta.OIDField)
	assert.Equal(t, "Polygon", meta.GeometryType)
	assert.True(t, meta.SupportsPagination)
	assert.True(t, meta.SupportsStatistics)
	assert.True(t, meta.SupportsAdvancedPagination)
	require.NotNil(t, meta.Extent)
	assert.Equal(t, -10.0, meta.Extent.XMin)
	assert.Equal(t, 20.0, meta.Extent.YMax)
}

func TestFetchDefaultsMaxRecordCount(t *testing.T) {
	srv := serveDescriptor(t, map[string]interface{}{"objectIdField": "OBJECTID"})
	defer srv.Close()

	meta, err := Fetch(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, meta.MaxRecordCount)
}

func TestFetchSkipsGeometryTypeWhenGeometryNotRequested(t *testing.T) {
	srv := serveDescriptor(t, map[string]interface{}{
		"objectIdField": "OBJECTID",
		"geometryType":  "esriGeometryPoint",
	})
	defer srv.Close()

	meta, err := Fetch(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, false, nil)
	require.NoError(t, err)
	assert.Empty(t, meta.GeometryType)
}

func TestOIDFieldDiscoveryPrecedence(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{
			name: "objectIdField descriptor wins",
			body: map[string]interface{}{
				"objectIdField": "FID",
				"fields": []interface{}{
					map[string]interface{}{"name": "OID_1", "type": "esriFieldTypeOID"},
				},
			},
			want: "FID",
		},
		{
			name: "first field of OID type",
			body: map[string]interface{}{
				"fields": []interface{}{
					map[string]interface{}{"name": "shape", "type": "esriFieldTypeGeometry"},
					map[string]interface{}{"name": "OID_1", "type": "esriFieldTypeOID"},
					map[string]interface{}{"name": "OID_2", "type": "esriFieldTypeOID"},
				},
			},
			want: "OID_1",
		},
		{
			name: "case-insensitive objectid name as last resort",
			body: map[string]interface{}{
				"fields": []interface{}{
					map[string]interface{}{"name": "shape", "type": "esriFieldTypeGeometry"},
					map[string]interface{}{"name": "ObjectID", "type": "esriFieldTypeInteger"},
				},
			},
			want: "ObjectID",
		},
		{
			name: "no OID field found",
			body: map[string]interface{}{
				"fields": []interface{}{
					map[string]interface{}{"name": "shape", "type": "esriFieldTypeGeometry"},
				},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveDescriptor(t, tt.body)
			defer srv.Close()

			meta, err := Fetch(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, false, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, meta.OIDField)
		})
	}
}

func TestFetchFeatureCountOverlaysUserWhere(t *testing.T) {
	var capturedWhere string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		capturedWhere = r.FormValue("where")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"count": 7}))
	}))
	defer srv.Close()

	count, err := FetchFeatureCount(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, map[string]string{"where": "foo=bar"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
	assert.Equal(t, "(1=1) AND (foo=bar)", capturedWhere)
}

func TestFetchFeatureCountMissingCountIsDownloadError(t *testing.T) {
	srv := serveDescriptor(t, map[string]interface{}{})
	defer srv.Close()

	_, err := FetchFeatureCount(context.Background(), httpclient.New(httpclient.Options{}), srv.URL, nil)
	require.Error(t, err)
}
