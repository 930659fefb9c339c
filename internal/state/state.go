// Package state is the persistable record of a dump's pagination mode and progress: a
// tagged union over mode, with a table-driven factory mapping a mode tag to its variant,
// JSON (de)serialization, validation, and dedup bookkeeping.
package state

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
)

// Mode tags the active pagination strategy.
type Mode string

const (
	ModeNoData         Mode = "no_data"
	ModeResultOffset   Mode = "result_offset"
	ModeOidWhereClause Mode = "oid_where_clause"
	ModeOidEnumeration Mode = "oid_enumeration"
	ModeGeoQueries     Mode = "geo_queries"
)

// TreeStatus is the exploration status of one quadtree node in GeoQueries.
type TreeStatus string

const (
	TreeOpen     TreeStatus = "OPEN"
	TreeSplit    TreeStatus = "SPLIT"
	TreeExplored TreeStatus = "EXPLORED"
)

// State is the shared capability every mode variant implements.
type State interface {
	Mode() Mode
	Validate() error
	// AlreadyCovered reports whether a feature has already been yielded.
	AlreadyCovered(f esriapi.EsriFeature) bool
	// Update records that a feature has been yielded.
	Update(f esriapi.EsriFeature)
}

// FeatureOID extracts the OID attribute value from a feature's attributes using oidField.
// Esri attribute values may decode as float64 (typical encoding/json numbers); this always
// normalizes to int64.
func FeatureOID(f esriapi.EsriFeature, oidField string) (int64, bool) {
	if f.Attributes == nil {
		return 0, false
	}
	v, ok := f.Attributes[oidField]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// ---- NoData ----

// NoData: the layer has zero features. Never a duplicate, nothing to update.
type NoData struct{}

func (NoData) Mode() Mode                              { return ModeNoData }
func (NoData) Validate() error                         { return nil }
func (NoData) AlreadyCovered(esriapi.EsriFeature) bool { return false }
func (*NoData) Update(esriapi.EsriFeature)             {}

// ---- ResultOffset ----

// ResultOffset paginates by index offset. Disjoint offsets mean a feature is never a
// duplicate; Update advances the cursor by one for every feature the runner hands it.
type ResultOffset struct {
	RowCount           int64 `json:"row_count"`
	StartWith          int64 `json:"start_with"`
	FieldsPaginationOK bool  `json:"fields_pagination_ok"`
}

func (r *ResultOffset) Mode() Mode { return ModeResultOffset }

func (r *ResultOffset) Validate() error {
	if r.StartWith < 0 || r.StartWith > r.RowCount {
		return fmt.Errorf("state: invalid ResultOffset: start_with=%d row_count=%d", r.StartWith, r.RowCount)
	}
	return nil
}

func (r *ResultOffset) AlreadyCovered(esriapi.EsriFeature) bool { return false }

func (r *ResultOffset) Update(esriapi.EsriFeature) {
	r.StartWith++
}

// ---- OidWhereClause ----

// OidWhereClause paginates with half-open (page_min, page_max] windows over an OID range
// discovered via statistics. DoneTill advances monotonically as features are yielded.
type OidWhereClause struct {
	OIDField string         `json:"oid_field"`
	OIDMin   int64          `json:"oid_min"`
	OIDMax   int64          `json:"oid_max"`
	Done     map[int64]bool `json:"done"`
}

func NewOidWhereClause(oidField string, oidMin, oidMax int64) *OidWhereClause {
	return &OidWhereClause{OIDField: oidField, OIDMin: oidMin, OIDMax: oidMax, Done: map[int64]bool{}}
}

func (o *OidWhereClause) Mode() Mode { return ModeOidWhereClause }

func (o *OidWhereClause) Validate() error {
	if o.OIDMin > o.OIDMax {
		return fmt.Errorf("state: invalid OidWhereClause: oid_min=%d > oid_max=%d", o.OIDMin, o.OIDMax)
	}
	for oid := range o.Done {
		if oid < o.OIDMin || oid > o.OIDMax {
			return fmt.Errorf("state: invalid OidWhereClause: done oid %d outside [%d,%d]", oid, o.OIDMin, o.OIDMax)
		}
	}
	return nil
}

// DoneTill returns max(done ∪ {oid_min-1}).
func (o *OidWhereClause) DoneTill() int64 {
	till := o.OIDMin - 1
	for oid := range o.Done {
		if oid > till {
			till = oid
		}
	}
	return till
}

func (o *OidWhereClause) AlreadyCovered(f esriapi.EsriFeature) bool {
	oid, ok := FeatureOID(f, o.OIDField)
	return ok && o.Done[oid]
}

func (o *OidWhereClause) Update(f esriapi.EsriFeature) {
	oid, ok := FeatureOID(f, o.OIDField)
	if !ok {
		return
	}
	if o.Done == nil {
		o.Done = map[int64]bool{}
	}
	o.Done[oid] = true
}

// ---- OidEnumeration ----

// OidEnumeration paginates over a fixed, pre-fetched list of OIDs, chunked by page size.
type OidEnumeration struct {
	OIDField string         `json:"oid_field"`
	AllOIDs  []int64        `json:"all_oids"`
	Done     map[int64]bool `json:"done"`
}

func NewOidEnumeration(oidField string, oids []int64) *OidEnumeration {
	sorted := append([]int64(nil), oids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = dedupSorted(sorted)
	return &OidEnumeration{OIDField: oidField, AllOIDs: sorted, Done: map[int64]bool{}}
}

func dedupSorted(sorted []int64) []int64 {
	out := sorted[:0]
	var prev int64
	first := true
	for _, v := range sorted {
		if first || v != prev {
			out = append(out, v)
			prev = v
			first = false
		}
	}
	return out
}

func (o *OidEnumeration) Mode() Mode { return ModeOidEnumeration }

func (o *OidEnumeration) Validate() error {
	all := make(map[int64]bool, len(o.AllOIDs))
	for _, oid := range o.AllOIDs {
		all[oid] = true
	}
	for oid := range o.Done {
		if !all[oid] {
			return fmt.Errorf("state: invalid OidEnumeration: done oid %d not in all_oids", oid)
		}
	}
	return nil
}

func (o *OidEnumeration) AlreadyCovered(f esriapi.EsriFeature) bool {
	oid, ok := FeatureOID(f, o.OIDField)
	return ok && o.Done[oid]
}

func (o *OidEnumeration) Update(f esriapi.EsriFeature) {
	oid, ok := FeatureOID(f, o.OIDField)
	if !ok {
		return
	}
	if o.Done == nil {
		o.Done = map[int64]bool{}
	}
	o.Done[oid] = true
}

// ---- GeoQueries ----

// GeoQueries tracks quadtree exploration. The tree key is a string over {0,1,2,3}
// denoting the path from the root ("0"); marking a key EXPLORED prunes its strict descendants.
type GeoQueries struct {
	OIDField     string                `json:"oid_field"`
	ExploredTree map[string]TreeStatus `json:"explored_tree"`
	Done         map[int64]bool        `json:"done"`
}

func NewGeoQueries(oidField string) *GeoQueries {
	return &GeoQueries{OIDField: oidField, ExploredTree: map[string]TreeStatus{}, Done: map[int64]bool{}}
}

func (g *GeoQueries) Mode() Mode { return ModeGeoQueries }

func (g *GeoQueries) Validate() error {
	for key, status := range g.ExploredTree {
		switch status {
		case TreeOpen, TreeSplit, TreeExplored:
		default:
			return fmt.Errorf("state: invalid GeoQueries: node %q has unknown status %q", key, status)
		}
	}
	return nil
}

func (g *GeoQueries) AlreadyCovered(f esriapi.EsriFeature) bool {
	oid, ok := FeatureOID(f, g.OIDField)
	return ok && g.Done[oid]
}

func (g *GeoQueries) Update(f esriapi.EsriFeature) {
	oid, ok := FeatureOID(f, g.OIDField)
	if !ok {
		return
	}
	if g.Done == nil {
		g.Done = map[int64]bool{}
	}
	g.Done[oid] = true
}

// NodeStatus reads a node's exploration status; "" means the node has never been queried.
func (g *GeoQueries) NodeStatus(key string) TreeStatus {
	if g.ExploredTree == nil {
		return ""
	}
	return g.ExploredTree[key]
}

// UpdateTree sets a node's status and, when the status is EXPLORED, prunes every strict
// descendant key from the map.
func (g *GeoQueries) UpdateTree(key string, status TreeStatus) {
	if g.ExploredTree == nil {
		g.ExploredTree = map[string]TreeStatus{}
	}
	g.ExploredTree[key] = status
	if status != TreeExplored {
		return
	}
	for existing := range g.ExploredTree {
		if existing != key && len(existing) > len(key) && existing[:len(key)] == key {
			delete(g.ExploredTree, existing)
		}
	}
}
