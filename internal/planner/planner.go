// Package planner builds page plans for the three deterministic pagination modes: a finite,
// ordered sequence of query parameter sets that together cover the layer without overlap.
package planner

import (
	"fmt"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/state"
)

// CommonParams are the caller-level query options applied to every planned page, before the
// mode-specific where/objectIds/resultOffset keys are layered on.
type CommonParams struct {
	ReturnGeometry    bool
	OutSR             string
	GeometryPrecision string
	OutFields         string
	ExtraQueryArgs    map[string]string
}

// Page is one planned request: its ready-to-send params. State is updated per yielded
// feature by the dumper, not per page, so a Page carries no other metadata.
type Page struct {
	Params *esriapi.QueryParams
}

// BuildResultOffset emits {where:"1=1", resultOffset, resultRecordCount:P, ...} pages for
// offset in [start_with, start_with+P, ...) while offset < row_count.
func BuildResultOffset(st *state.ResultOffset, meta *esriapi.LayerMetadata, pageSize int, common CommonParams) []Page {
	outFields := common.OutFields
	if outFields == "" || !st.FieldsPaginationOK {
		outFields = "*"
	}

	var pages []Page
	for offset := st.StartWith; offset < st.RowCount; offset += int64(pageSize) {
		q := basePageParams(common, outFields)
		q.Set("where", "1=1")
		q.Set("resultOffset", fmt.Sprintf("%d", offset))
		q.Set("resultRecordCount", fmt.Sprintf("%d", pageSize))
		pages = append(pages, Page{Params: q.OverlayExtra(common.ExtraQueryArgs)})
	}
	return pages
}

// BuildOidWhereClause emits half-open (page_min, page_max] windows covering
// (done_till, oid_max], each no wider than pageSize.
func BuildOidWhereClause(st *state.OidWhereClause, pageSize int, common CommonParams) []Page {
	outFields := common.OutFields
	if outFields == "" {
		outFields = "*"
	}

	var pages []Page
	doneTill := st.DoneTill()
	for pageMin := doneTill; pageMin < st.OIDMax; pageMin += int64(pageSize) {
		pageMax := pageMin + int64(pageSize)
		if pageMax > st.OIDMax {
			pageMax = st.OIDMax
		}
		q := basePageParams(common, outFields)
		q.Set("where", fmt.Sprintf("%s>%d AND %s<=%d", st.OIDField, pageMin, st.OIDField, pageMax))
		pages = append(pages, Page{Params: q.OverlayExtra(common.ExtraQueryArgs)})
	}
	return pages
}

// BuildOidEnumeration partitions the sorted OID list into chunks of at most pageSize and
// emits a closed-interval where clause per chunk (preferred over objectIds=c1,c2,... because
// some servers truncate long URLs).
func BuildOidEnumeration(st *state.OidEnumeration, pageSize int, common CommonParams) []Page {
	outFields := common.OutFields
	if outFields == "" {
		outFields = "*"
	}

	var pages []Page
	for start := 0; start < len(st.AllOIDs); start += pageSize {
		end := start + pageSize
		if end > len(st.AllOIDs) {
			end = len(st.AllOIDs)
		}
		chunk := st.AllOIDs[start:end]
		if chunkFullyDone(st, chunk) {
			continue
		}
		q := basePageParams(common, outFields)
		q.Set("where", fmt.Sprintf("%s>=%d AND %s<=%d", st.OIDField, chunk[0], st.OIDField, chunk[len(chunk)-1]))
		pages = append(pages, Page{Params: q.OverlayExtra(common.ExtraQueryArgs)})
	}
	return pages
}

func chunkFullyDone(st *state.OidEnumeration, chunk []int64) bool {
	for _, oid := range chunk {
		if !st.Done[oid] {
			return false
		}
	}
	return true
}

func basePageParams(common CommonParams, outFields string) *esriapi.QueryParams {
	q := esriapi.NewQueryParams()
	q.Set("returnGeometry", boolString(common.ReturnGeometry))
	q.Set("outFields", outFields)
	if common.OutSR != "" {
		q.Set("outSR", common.OutSR)
	}
	if common.GeometryPrecision != "" {
		q.Set("geometryPrecision", common.GeometryPrecision)
	}
	return q
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
