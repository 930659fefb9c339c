// Package metadata fetches a layer's descriptor and derives max page size, OID field,
// geometry type, extent, and advertised capabilities.
package metadata

import (
	"context"
	"strings"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/httpclient"
)

// Fetch requests the layer descriptor (GET <layerURL>?f=json) and derives LayerMetadata.
// The OID field is discovered by precedence: the objectIdField descriptor, then the first
// field of Esri OID type, then a
// case-insensitive match on the name "objectid". requestGeometry=false means the caller
// doesn't want geometry, so GeometryType is left empty even if the server reports one.
// Caller extra query args ride along — a secured layer's descriptor is unreadable without
// its token.
func Fetch(ctx context.Context, req *httpclient.Requester, layerURL string, requestGeometry bool, extraQueryArgs map[string]string) (*esriapi.LayerMetadata, error) {
	params := esriapi.NewQueryParams().OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodGet, layerURL, params.Map(), nil, "fetch layer metadata", false)
	if err != nil {
		return nil, err
	}

	meta := &esriapi.LayerMetadata{
		MaxRecordCount: 1000,
	}

	if v, ok := asInt(body["maxRecordCount"]); ok && v > 0 {
		meta.MaxRecordCount = v
	}

	if requestGeometry {
		if gt, ok := body["geometryType"].(string); ok {
			meta.GeometryType = stripEsriPrefix(gt)
		}
	}

	meta.Extent = parseExtent(body["extent"])

	meta.OIDField = discoverOIDField(body)

	meta.SupportsPagination, _ = body["supportsPagination"].(bool)
	meta.SupportsStatistics, _ = body["supportsStatistics"].(bool)
	meta.SupportsAdvancedPagination = advancedPaginationSupported(body)

	return meta, nil
}

// FetchFeatureCount requests returnCountOnly and returns the server's row count, used by the
// Strategy Selector's NO_DATA short-circuit. Caller-supplied extra query args are overlaid so
// a user where clause narrows the count the same way it narrows every feature page.
func FetchFeatureCount(ctx context.Context, req *httpclient.Requester, queryURL string, extraQueryArgs map[string]string) (int64, error) {
	params := esriapi.NewQueryParams().
		Set("where", "1=1").
		Set("returnCountOnly", "true").
		OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, "fetch feature count", false)
	if err != nil {
		return 0, err
	}
	if n, ok := asInt(body["count"]); ok {
		return int64(n), nil
	}
	return 0, esrierrors.NewDownload("fetch feature count", 200, "response missing count", "")
}

func discoverOIDField(body map[string]interface{}) string {
	if v, ok := body["objectIdField"].(string); ok && v != "" {
		return v
	}

	if fieldsRaw, ok := body["fields"].([]interface{}); ok {
		for _, fRaw := range fieldsRaw {
			f, ok := fRaw.(map[string]interface{})
			if !ok {
				continue
			}
			fType, _ := f["type"].(string)
			if esriapi.IsOIDFieldType(fType) {
				if name, ok := f["name"].(string); ok {
					return name
				}
			}
		}
		for _, fRaw := range fieldsRaw {
			f, ok := fRaw.(map[string]interface{})
			if !ok {
				continue
			}
			if name, ok := f["name"].(string); ok && strings.EqualFold(name, "objectid") {
				return name
			}
		}
	}

	return ""
}

func advancedPaginationSupported(body map[string]interface{}) bool {
	aqc, ok := body["advancedQueryCapabilities"].(map[string]interface{})
	if !ok {
		return false
	}
	supports, _ := aqc["supportsPagination"].(bool)
	return supports
}

func parseExtent(v interface{}) *esriapi.Extent {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	e := &esriapi.Extent{}
	e.XMin, _ = asFloat(m["xmin"])
	e.YMin, _ = asFloat(m["ymin"])
	e.XMax, _ = asFloat(m["xmax"])
	e.YMax, _ = asFloat(m["ymax"])
	if sr, ok := m["spatialReference"].(map[string]interface{}); ok {
		e.SpatialReference = sr
	}
	return e
}

func stripEsriPrefix(geometryType string) string {
	return strings.TrimPrefix(geometryType, "esriGeometry")
}

func asInt(v interface{}) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
