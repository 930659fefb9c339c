// Package strategy picks one of the five pagination modes for a layer, probing server
// capabilities in order of increasing server cost: offset pagination first, statistics
// next, ID enumeration next, geometry queries last.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/httpclient"
	"github.com/nikhilvedi/esrigeo/internal/metadata"
	"github.com/nikhilvedi/esrigeo/internal/state"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// Options carries the caller's choices that influence strategy selection.
type Options struct {
	ForceOIDPagination bool
	OutFields          string // "*" unless the caller restricted the field list
	ExtraQueryArgs     map[string]string
}

var logger = utils.NewLogger("strategy")

// Select runs the mode decision tree and returns the chosen state, ready for the planner
// and runner to drive.
func Select(ctx context.Context, req *httpclient.Requester, layerURL, queryURL string, meta *esriapi.LayerMetadata, opts Options) (state.State, error) {
	count, countKnown, err := fetchCount(ctx, req, queryURL, opts.ExtraQueryArgs)
	if err != nil {
		return nil, err
	}
	if countKnown && count == 0 {
		return &state.NoData{}, nil
	}

	if countKnown && !opts.ForceOIDPagination && supportsResultOffset(meta) {
		paginationOK := true
		if opts.OutFields != "" && opts.OutFields != "*" {
			paginationOK, err = probePagination(ctx, req, queryURL, opts.OutFields, opts.ExtraQueryArgs)
			if err != nil {
				return nil, err
			}
		}
		return &state.ResultOffset{RowCount: count, StartWith: 0, FieldsPaginationOK: paginationOK}, nil
	}

	if meta.OIDField == "" {
		return nil, esrierrors.NewMissingOID("strategy selection")
	}

	if meta.SupportsStatistics {
		st, ok, err := tryStatistics(ctx, req, queryURL, meta.OIDField, opts.ExtraQueryArgs)
		if err != nil {
			return nil, err
		}
		if ok {
			return st, nil
		}
		logger.Info("statistics-based OID range unusable for %s, falling back to enumeration", layerURL)
	}

	st, ok, err := tryEnumeration(ctx, req, queryURL, meta.OIDField, opts.ExtraQueryArgs)
	if err != nil {
		return nil, err
	}
	if ok {
		return st, nil
	}
	logger.Info("OID enumeration unsupported, falling back to geo queries")

	return state.NewGeoQueries(meta.OIDField), nil
}

// fetchCount wraps metadata.FetchFeatureCount and tolerates a server that rejects
// returnCountOnly entirely: that degrades the row count to "unknown" rather than aborting
// the whole selection, so the decision tree can still fall through to the OID-based
// strategies. Timeout/Parse/transport failures still propagate as fatal.
func fetchCount(ctx context.Context, req *httpclient.Requester, queryURL string, extraQueryArgs map[string]string) (count int64, known bool, err error) {
	count, err = metadata.FetchFeatureCount(ctx, req, queryURL, extraQueryArgs)
	if err == nil {
		return count, true, nil
	}
	if esriErr, ok := err.(*esrierrors.Error); ok && esriErr.Kind == esrierrors.KindDownload {
		logger.Info("server does not support returnCountOnly, row count unknown")
		return 0, false, nil
	}
	return 0, false, err
}

func supportsResultOffset(meta *esriapi.LayerMetadata) bool {
	return meta.SupportsPagination || meta.SupportsAdvancedPagination
}

// probePagination issues a single restricted-fields probe to check whether the server's
// pagination support breaks down once outFields no longer asks for everything.
func probePagination(ctx context.Context, req *httpclient.Requester, queryURL, outFields string, extraQueryArgs map[string]string) (bool, error) {
	params := esriapi.NewQueryParams().
		Set("resultOffset", "0").
		Set("resultRecordCount", "1").
		Set("returnGeometry", "false").
		Set("outFields", outFields).
		OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, "pagination probe", true)
	if err != nil {
		return false, err
	}

	errObj, hasError := body["error"]
	if !hasError {
		return true, nil
	}
	msg, _ := errObj.(map[string]interface{})
	if m, ok := msg["message"].(string); ok && m == "Failed to execute query." {
		return true, nil
	}
	return false, nil
}

// tryStatistics discovers oid_min/oid_max via outStatistics, then verifies both endpoints
// actually exist via a returnIdsOnly probe — some servers report statistics for rows they
// then refuse to return.
func tryStatistics(ctx context.Context, req *httpclient.Requester, queryURL, oidField string, extraQueryArgs map[string]string) (state.State, bool, error) {
	outStats := fmt.Sprintf(`[{"statisticType":"min","onStatisticField":"%s","outStatisticFieldName":"oid_min"},{"statisticType":"max","onStatisticField":"%s","outStatisticFieldName":"oid_max"}]`, oidField, oidField)

	params := esriapi.NewQueryParams().
		Set("outStatistics", outStats).
		Set("returnGeometry", "false").
		OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, "oid statistics", false)
	if err != nil {
		return nil, false, err
	}

	oidMin, oidMax, ok := extractMinMax(body)
	if !ok {
		return nil, false, nil
	}

	verified, err := verifyBothEndpoints(ctx, req, queryURL, oidField, oidMin, oidMax, extraQueryArgs)
	if err != nil {
		return nil, false, err
	}
	if !verified {
		return nil, false, nil
	}

	return state.NewOidWhereClause(oidField, oidMin, oidMax), true, nil
}

// extractMinMax scans the returned attribute *values*, not field names, since some servers
// relabel the requested outStatisticFieldName.
func extractMinMax(body map[string]interface{}) (oidMin, oidMax int64, ok bool) {
	featuresRaw, ok2 := body["features"].([]interface{})
	if !ok2 || len(featuresRaw) == 0 {
		return 0, 0, false
	}
	f, ok3 := featuresRaw[0].(map[string]interface{})
	if !ok3 {
		return 0, 0, false
	}
	attrs, ok4 := f["attributes"].(map[string]interface{})
	if !ok4 || len(attrs) == 0 {
		return 0, 0, false
	}

	var values []int64
	for _, v := range attrs {
		n, isNum := asInt64(v)
		if !isNum {
			return 0, 0, false
		}
		values = append(values, n)
	}
	if len(values) < 2 {
		return 0, 0, false
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[0], values[len(values)-1], true
}

func verifyBothEndpoints(ctx context.Context, req *httpclient.Requester, queryURL, oidField string, oidMin, oidMax int64, extraQueryArgs map[string]string) (bool, error) {
	where := fmt.Sprintf("%s=%d OR %s=%d", oidField, oidMin, oidField, oidMax)
	params := esriapi.NewQueryParams().
		Set("where", where).
		Set("returnIdsOnly", "true").
		OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, "verify oid endpoints", false)
	if err != nil {
		return false, err
	}

	ids := asInt64Slice(body["objectIds"])
	seenMin, seenMax := false, false
	for _, id := range ids {
		if id == oidMin {
			seenMin = true
		}
		if id == oidMax {
			seenMax = true
		}
	}
	return seenMin && seenMax, nil
}

// tryEnumeration fetches every OID via returnIdsOnly. A server that rejects the request
// with an error payload (returnIdsOnly unsupported) is not fatal — that falls through to
// geometry queries, same as a statistics failure falls through to enumeration. Any other
// failure kind (timeout, malformed body, transport) means the server or network is broken,
// not missing a capability, and propagates as fatal.
func tryEnumeration(ctx context.Context, req *httpclient.Requester, queryURL, oidField string, extraQueryArgs map[string]string) (state.State, bool, error) {
	params := esriapi.NewQueryParams().
		Set("where", "1=1").
		Set("returnIdsOnly", "true").
		OverlayExtra(extraQueryArgs)
	body, err := req.Request(ctx, httpclient.MethodPost, queryURL, params.Map(), nil, "enumerate oids", false)
	if err != nil {
		if esriErr, ok := err.(*esrierrors.Error); ok && esriErr.Kind == esrierrors.KindDownload {
			return nil, false, nil
		}
		return nil, false, err
	}

	ids := asInt64Slice(body["objectIds"])
	if len(ids) == 0 {
		return &state.NoData{}, true, nil
	}
	return state.NewOidEnumeration(oidField, ids), true, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func asInt64Slice(v interface{}) []int64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		if n, ok := asInt64(item); ok {
			out = append(out, n)
		}
	}
	return out
}
