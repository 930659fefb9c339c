// Package dumper is the public entry point: a lazy, restartable sequence of GeoJSON (or raw
// Esri JSON) Features pulled from a single layer endpoint. Exposed as a pull-based Next()
// plus a convenience ForEach callback.
package dumper

import (
	"context"
	"fmt"

	"github.com/nikhilvedi/esrigeo/internal/esriapi"
	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/geojson"
	"github.com/nikhilvedi/esrigeo/internal/geoquery"
	"github.com/nikhilvedi/esrigeo/internal/httpclient"
	"github.com/nikhilvedi/esrigeo/internal/metadata"
	"github.com/nikhilvedi/esrigeo/internal/planner"
	"github.com/nikhilvedi/esrigeo/internal/runner"
	"github.com/nikhilvedi/esrigeo/internal/state"
	"github.com/nikhilvedi/esrigeo/internal/strategy"
)

// OutputFormat selects the shape fed to the caller: converted GeoJSON or the raw server
// feature.
type OutputFormat string

const (
	OutputGeoJSON  OutputFormat = "geojson"
	OutputEsriJSON OutputFormat = "esrijson"
)

// Config is the constructor's input: layer URL, extra args/headers, timeouts, field list,
// pacing/retry knobs, and resumable state.
type Config struct {
	LayerURL          string
	ExtraQueryArgs    map[string]string
	ExtraHeaders      map[string]string
	TimeoutSeconds    int
	OutFields         string // "" means "*"
	RequestGeometry   bool
	OutSR             string
	ProxyURL          string
	StartWith         int64
	GeometryPrecision string
	PaginateOID       bool
	MaxPageSize       int
	State             state.State // optional resumable state; nil means "select fresh"
	UseOnlyGet        bool
	PauseSeconds      int
	RequestsToPause   int
	NumRetry          int
	OutputFormat      OutputFormat
}

// Item is one yielded record: either a converted GeoJSON Feature or, for esrijson output, the
// raw server feature.
type Item struct {
	GeoJSON *geojson.Feature
	Raw     *esriapi.EsriFeature
}

// Dumper drives one layer dump. Call Next repeatedly until ok is false; a non-nil Err()
// means the iteration stopped on a fatal condition, not just exhaustion.
type Dumper struct {
	cfg      Config
	req      *httpclient.Requester
	run      *runner.Runner
	meta     *esriapi.LayerMetadata
	queryURL string
	state    state.State
	pending  []planner.Page
	pageIdx  int
	current  []esriapi.EsriFeature
	curIdx   int
	// geoPendingExplored holds the key of a geo node whose page has been loaded into current
	// but not yet fully consumed; it is marked EXPLORED on the next fetch, so a state object
	// persisted mid-page still re-queries the node on resume.
	geoPendingExplored string
	done               bool
	err                error
}

// New builds a Dumper, fetching layer metadata and selecting (or adopting the caller's
// persisted) pagination strategy. Metadata fetch and strategy selection both happen eagerly
// here, before the first Next() call, so an unreachable layer fails fast.
func New(ctx context.Context, cfg Config) (*Dumper, error) {
	httpOpts := httpclient.Options{
		TimeoutSeconds: cfg.TimeoutSeconds,
		ProxyURL:       cfg.ProxyURL,
		UseOnlyGet:     cfg.UseOnlyGet,
		Headers:        cfg.ExtraHeaders,
	}
	req := httpclient.New(httpOpts)

	meta, err := metadata.Fetch(ctx, req, cfg.LayerURL, cfg.RequestGeometry, cfg.ExtraQueryArgs)
	if err != nil {
		return nil, err
	}

	queryURL := cfg.LayerURL + "/query"

	st := cfg.State
	if st == nil {
		st, err = strategy.Select(ctx, req, cfg.LayerURL, queryURL, meta, strategy.Options{
			ForceOIDPagination: cfg.PaginateOID,
			OutFields:          effectiveOutFields(cfg.OutFields),
			ExtraQueryArgs:     cfg.ExtraQueryArgs,
		})
		if err != nil {
			return nil, err
		}
		if ro, ok := st.(*state.ResultOffset); ok && cfg.StartWith > 0 {
			ro.StartWith = cfg.StartWith
		}
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	run := runner.New(req, runner.Options{
		PauseSeconds:    cfg.PauseSeconds,
		RequestsToPause: cfg.RequestsToPause,
		NumRetry:        cfg.NumRetry,
	}, nil)

	d := &Dumper{cfg: cfg, req: req, run: run, meta: meta, queryURL: queryURL, state: st}
	d.buildPlan()
	return d, nil
}

// State returns the live, mutating state object so a caller can persist it between pulls.
func (d *Dumper) State() state.State { return d.state }

func effectiveOutFields(f string) string {
	if f == "" {
		return "*"
	}
	return f
}

func (d *Dumper) common() planner.CommonParams {
	outSR := d.cfg.OutSR
	if outSR == "" {
		outSR = "4326"
	}
	precision := d.cfg.GeometryPrecision
	if precision == "" {
		precision = "7"
	}
	return planner.CommonParams{
		ReturnGeometry:    d.cfg.RequestGeometry,
		OutSR:             outSR,
		GeometryPrecision: precision,
		OutFields:         effectiveOutFields(d.cfg.OutFields),
		ExtraQueryArgs:    d.cfg.ExtraQueryArgs,
	}
}

func (d *Dumper) pageSize() int {
	maxPageSize := d.cfg.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = 1000
	}
	return d.meta.EffectivePageSize(maxPageSize)
}

// buildPlan materializes the finite page plan for the three deterministic modes; GEO_QUERIES
// has no upfront plan because each page's extent depends on the previous page's saturation.
func (d *Dumper) buildPlan() {
	switch st := d.state.(type) {
	case *state.NoData:
		d.done = true
	case *state.ResultOffset:
		d.pending = planner.BuildResultOffset(st, d.meta, d.pageSize(), d.common())
	case *state.OidWhereClause:
		d.pending = planner.BuildOidWhereClause(st, d.pageSize(), d.common())
	case *state.OidEnumeration:
		d.pending = planner.BuildOidEnumeration(st, d.pageSize(), d.common())
	case *state.GeoQueries:
		// plan is generated lazily, one node at a time, in fetchNextPage
	default:
		d.err = fmt.Errorf("dumper: unrecognized state type %T", st)
		d.done = true
	}
}

// Next pulls the next Item. ok is false once the iteration is finished; check Err() to
// distinguish normal exhaustion from a fatal error.
func (d *Dumper) Next(ctx context.Context) (Item, bool) {
	for {
		if d.curIdx < len(d.current) {
			f := d.current[d.curIdx]
			d.curIdx++

			if d.state.AlreadyCovered(f) {
				continue
			}
			d.state.Update(f)
			return d.toItem(f), true
		}

		if d.done || d.err != nil {
			return Item{}, false
		}

		if !d.fetchNextPage(ctx) {
			return Item{}, false
		}
	}
}

// Err returns the fatal error that stopped iteration, if any.
func (d *Dumper) Err() error { return d.err }

// ForEach drives the iterator to completion, invoking fn for every yielded Item. It returns
// the first error fn returns, or the iterator's own fatal error.
func (d *Dumper) ForEach(ctx context.Context, fn func(Item) error) error {
	for {
		item, ok := d.Next(ctx)
		if !ok {
			return d.Err()
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}

func (d *Dumper) toItem(f esriapi.EsriFeature) Item {
	if d.cfg.OutputFormat == OutputEsriJSON {
		raw := f
		return Item{Raw: &raw}
	}
	gf := geojson.Convert(geojson.EsriFeature{Geometry: f.Geometry, Attributes: f.Attributes})
	return Item{GeoJSON: &gf}
}

// fetchNextPage runs the next planned query (deterministic modes) or the next quadtree node
// (GEO_QUERIES), loading d.current. Returns false when there is nothing left to fetch.
func (d *Dumper) fetchNextPage(ctx context.Context) bool {
	if gq, ok := d.state.(*state.GeoQueries); ok {
		return d.fetchNextGeoNode(ctx, gq)
	}

	if d.pageIdx >= len(d.pending) {
		d.done = true
		return false
	}
	page := d.pending[d.pageIdx]
	d.pageIdx++

	res, err := d.run.RunPage(ctx, d.queryURL, page.Params, "query page")
	if err != nil {
		d.err = err
		d.done = true
		return false
	}

	d.current = res.Features
	d.curIdx = 0
	return true
}

func (d *Dumper) fetchNextGeoNode(ctx context.Context, gq *state.GeoQueries) bool {
	if d.geoPendingExplored != "" {
		gq.UpdateTree(d.geoPendingExplored, state.TreeExplored)
		d.geoPendingExplored = ""
	}

	if d.meta.Extent == nil {
		d.err = esrierrors.NewDownload("geo query", 0, "layer has no extent for geo queries", "")
		d.done = true
		return false
	}

	node, ok := geoquery.Next(gq, *d.meta.Extent)
	if !ok {
		d.done = true
		return false
	}

	params := geoquery.EnvelopeQueryParams(node, effectiveOutFields(d.cfg.OutFields), d.cfg.ExtraQueryArgs)
	res, err := d.run.RunPage(ctx, d.queryURL, params, fmt.Sprintf("geo query %s", node.Key))
	if err != nil {
		d.err = err
		d.done = true
		return false
	}

	gq.UpdateTree(node.Key, state.TreeOpen)

	if geoquery.Saturated(len(res.Features), d.pageSize()) {
		// The server may have truncated this page; discard it, split the node, and let the
		// four child queries re-fetch everything inside.
		gq.UpdateTree(node.Key, state.TreeSplit)
		d.current = nil
		d.curIdx = 0
		return true
	}

	d.geoPendingExplored = node.Key
	d.current = res.Features
	d.curIdx = 0
	return true
}
