package vector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	overpass "github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/paulmach/orb"
)

// OverpassConfig mirrors the teacher's datasource.OverpassConfig: same
// endpoint/worker/retry knobs, reused as-is since the retry-with-backoff
// client this wraps is exactly what a global vector source needs too.
type OverpassConfig struct {
	Endpoint    string
	Workers     int
	RetryConfig *overpass.RetryConfig
	HTTPClient  *http.Client
}

// DefaultOverpassConfig returns the same defaults the teacher ships for
// the public Overpass API.
func DefaultOverpassConfig() OverpassConfig {
	retry := overpass.DefaultRetryConfig()
	return OverpassConfig{
		Endpoint:    "https://overpass-api.de/api/interpreter",
		Workers:     2,
		RetryConfig: &retry,
		HTTPClient:  http.DefaultClient,
	}
}

// OverpassSource is the concrete VectorSource backing a planet's vector
// layer: every tile-level refine job ultimately bottoms out in an Overpass
// QL query scoped to that tile's extents.
type OverpassSource struct {
	client overpass.Client
}

// NewOverpassSource builds an OverpassSource with the given config,
// defaulting any zero fields the way the teacher's
// NewOverpassDataSourceWithConfig does.
func NewOverpassSource(cfg OverpassConfig) *OverpassSource {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://overpass-api.de/api/interpreter"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	var client overpass.Client
	if cfg.RetryConfig != nil {
		client = overpass.NewWithRetry(cfg.Endpoint, cfg.Workers, cfg.HTTPClient, *cfg.RetryConfig)
	} else {
		client = overpass.NewWithSettings(cfg.Endpoint, cfg.Workers, cfg.HTTPClient)
	}

	return &OverpassSource{client: client}
}

// Fetch queries Overpass for the ways, nodes and multipolygon relations
// inside ext and converts the ways and the tagged nodes into a FeatureSet;
// relations in the result are not converted. Unlike the teacher's zoom-gated
// query builder (which filters by OSM feature category), this queries
// everything in the bbox — category-specific filtering belongs to
// the caller's Refine step, since a planetary body has no fixed "road vs
// water vs park" taxonomy baked into the tile engine itself.
func (s *OverpassSource) Fetch(ctx context.Context, ext extents.Extents) (*FeatureSet, error) {
	query := buildBBoxQuery(ext)

	type queryResult struct {
		res overpass.Result
		err error
	}
	done := make(chan queryResult, 1)
	go func() {
		res, err := s.client.Query(query)
		done <- queryResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("vector: overpass query failed: %w", r.err)
		}
		return convertResult(&r.res), nil
	}
}

func buildBBoxQuery(ext extents.Extents) string {
	return fmt.Sprintf(`
		[out:json][timeout:25];
		(
		  way(%f,%f,%f,%f);
		  node(%f,%f,%f,%f);
		  relation(%f,%f,%f,%f)["type"="multipolygon"];
		);
		out geom qt;
	`,
		ext.MinLat(), ext.MinLon(), ext.MaxLat(), ext.MaxLon(),
		ext.MinLat(), ext.MinLon(), ext.MaxLat(), ext.MaxLon(),
		ext.MinLat(), ext.MinLon(), ext.MaxLat(), ext.MaxLon(),
	)
}

func convertResult(result *overpass.Result) *FeatureSet {
	out := &FeatureSet{}
	if result == nil {
		return out
	}

	for _, way := range result.Ways {
		if len(way.Nodes) < 2 {
			continue
		}
		line := make(orb.LineString, 0, len(way.Nodes))
		for _, n := range way.Nodes {
			line = append(line, orb.Point{n.Lon, n.Lat})
		}

		var geom orb.Geometry = line
		if len(line) >= 4 && line[0] == line[len(line)-1] {
			geom = orb.Polygon{orb.Ring(line)}
		}

		out.Features = append(out.Features, Feature{
			ID:         fmt.Sprintf("way/%d", way.ID),
			Geometry:   geom,
			Properties: tagsToProps(way.Tags),
		})
	}

	for _, node := range result.Nodes {
		if len(node.Tags) == 0 {
			continue
		}
		out.Features = append(out.Features, Feature{
			ID:         fmt.Sprintf("node/%d", node.ID),
			Geometry:   orb.Point{node.Lon, node.Lat},
			Properties: tagsToProps(node.Tags),
		})
	}

	return out
}

func tagsToProps(tags map[string]string) map[string]any {
	props := make(map[string]any, len(tags))
	for k, v := range tags {
		props[k] = v
	}
	return props
}

// fetchTimeout is a 30 s budget for one tile's Overpass round trip: the
// query's [timeout:25] server-side cap plus headroom for network time.
// Nothing in this package applies it; Fetch is bounded only by ctx.
const fetchTimeout = 30 * time.Second
