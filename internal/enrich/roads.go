package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/httputil"
	"github.com/firesentinel/firesentinel/internal/models"
)

const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// noRoadDistanceM is reported when no mapped road exists within the
// query radius.
const noRoadDistanceM = 10000.0

type RoadsClient struct {
	baseURL string
	client  *http.Client
	cfg     config.Enrichment

	mu    sync.Mutex
	cache map[gridCell]cachedRoads
}

type cachedRoads struct {
	ways      []roadWay
	fetchedAt time.Time
}

type roadWay struct {
	highway string
	path    [][2]float64
}

func NewRoadsClient(cfg config.Enrichment) *RoadsClient {
	return &RoadsClient{
		baseURL: DefaultOverpassURL,
		client:  httputil.NewClient(),
		cfg:     cfg,
		cache:   make(map[gridCell]cachedRoads),
	}
}

// SetBaseURL overrides the Overpass endpoint. Used in tests.
func (r *RoadsClient) SetBaseURL(u string) { r.baseURL = u }

type overpassResponse struct {
	Elements []struct {
		Type string `json:"type"`
		Tags struct {
			Highway string `json:"highway"`
		} `json:"tags"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
	} `json:"elements"`
}

// NearestRoad returns the distance to the closest mapped road and its
// highway classification. Road geometry is cached per grid cell; the
// distance itself is computed per point.
func (r *RoadsClient) NearestRoad(ctx context.Context, lat, lon float64) (*models.RoadContext, error) {
	cell := gridCell{
		lat: int(math.Floor(lat / r.cfg.RoadCacheDeg)),
		lon: int(math.Floor(lon / r.cfg.RoadCacheDeg)),
	}

	r.mu.Lock()
	cached, ok := r.cache[cell]
	r.mu.Unlock()

	ttl := time.Duration(r.cfg.RoadCacheTTLHours) * time.Hour
	if !ok || time.Since(cached.fetchedAt) > ttl {
		// Query from the cell centre so every point in the cell is
		// covered by the same response.
		centerLat := (float64(cell.lat) + 0.5) * r.cfg.RoadCacheDeg
		centerLon := (float64(cell.lon) + 0.5) * r.cfg.RoadCacheDeg
		ways, err := r.fetch(ctx, centerLat, centerLon)
		if err != nil {
			return nil, err
		}
		cached = cachedRoads{ways: ways, fetchedAt: time.Now()}
		r.mu.Lock()
		r.cache[cell] = cached
		r.mu.Unlock()
	}

	best := math.Inf(1)
	highway := ""
	for _, way := range cached.ways {
		d := geo.MinDistanceToPath(lat, lon, way.path)
		if d < best {
			best = d
			highway = way.highway
		}
	}

	if math.IsInf(best, 1) || best > noRoadDistanceM {
		return &models.RoadContext{DistanceM: noRoadDistanceM, HighwayType: "none"}, nil
	}
	return &models.RoadContext{DistanceM: best, HighwayType: highway}, nil
}

func (r *RoadsClient) fetch(ctx context.Context, lat, lon float64) ([]roadWay, error) {
	query := fmt.Sprintf(`[out:json][timeout:25];way["highway"](around:%.0f,%.5f,%.5f);out geom;`,
		r.cfg.RoadQueryRadiusM, lat, lon)

	body := url.Values{"data": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roads: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch roads: status %d: %s", resp.StatusCode, string(b))
	}

	var data overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode roads: %w", err)
	}

	var ways []roadWay
	for _, el := range data.Elements {
		if el.Type != "way" || len(el.Geometry) == 0 {
			continue
		}
		path := make([][2]float64, 0, len(el.Geometry))
		for _, g := range el.Geometry {
			path = append(path, [2]float64{g.Lat, g.Lon})
		}
		ways = append(ways, roadWay{highway: el.Tags.Highway, path: path})
	}
	return ways, nil
}
