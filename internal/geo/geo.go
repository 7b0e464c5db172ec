package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// Filter narrows a nearest-provider query. A zero Filter matches everyone.
type Filter struct {
	ServiceType string
}

// Index is the minimal surface the coordinator and handlers need. Reads
// operate on a point-in-time snapshot; an update landing mid-query may or
// may not be reflected, which is fine since approximate locality is the
// contract here, not exact consistency.
type Index interface {
	Upsert(p models.Provider)
	Get(id string) (models.Provider, bool)
	Nearest(at models.Coord, limit int, f Filter) []models.Provider
}

type MemoryIndex struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{providers: make(map[string]models.Provider)}
}

func (g *MemoryIndex) Upsert(p models.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.Updated = time.Now()
	g.providers[p.ID] = p
}

func (g *MemoryIndex) Get(id string) (models.Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[id]
	return p, ok
}

// Nearest scans all known providers; fine at roadside-assistance fleet
// sizes, swap in a geohash bucket scheme if that stops being true.
func (g *MemoryIndex) Nearest(at models.Coord, limit int, f Filter) []models.Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.Provider
		dist float64
	}
	arr := make([]pair, 0, len(g.providers))
	for _, p := range g.providers {
		if !p.Available || !p.Capable(f.ServiceType) {
			continue
		}
		arr = append(arr, pair{p, Haversine(at.Lat, at.Lon, p.Loc.Lat, p.Loc.Lon)})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].p.ID < arr[j].p.ID
	})
	if limit > 0 && limit < len(arr) {
		arr = arr[:limit]
	}
	out := make([]models.Provider, 0, len(arr))
	for _, e := range arr {
		out = append(out, e.p)
	}
	return out
}

// Haversine is the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
