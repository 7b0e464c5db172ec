package geo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/models"
)

// RedisIndex implements Index using Redis GEO commands, so multiple server
// processes can share one provider index. Availability and capabilities ride
// along in a hash per provider.
type RedisIndex struct {
	client  *redis.Client
	key     string
	radiusM float64
	ctx     context.Context
}

func NewRedisIndex(addr, password, key string, radiusM float64) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if radiusM <= 0 {
		radiusM = 10000
	}
	return &RedisIndex{client: c, key: key, radiusM: radiusM, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(p models.Provider) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(p.ID), map[string]interface{}{
		"available":    strconv.FormatBool(p.Available),
		"capabilities": strings.Join(p.Capabilities, ","),
		"updated":      time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Get(id string) (models.Provider, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Provider{}, false
	}
	p := models.Provider{ID: id, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	r.fillMeta(&p)
	return p, true
}

func (r *RedisIndex) Nearest(at models.Coord, limit int, f Filter) []models.Provider {
	res, err := r.client.GeoRadius(r.ctx, r.key, at.Lon, at.Lat, &redis.GeoRadiusQuery{
		Radius: r.radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Provider, 0, len(res))
	for _, g := range res {
		p := models.Provider{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		r.fillMeta(&p)
		if !p.Available || !p.Capable(f.ServiceType) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *RedisIndex) fillMeta(p *models.Provider) {
	m, err := r.client.HGetAll(r.ctx, metaKey(p.ID)).Result()
	if err != nil {
		return
	}
	if v, ok := m["available"]; ok {
		p.Available = v == "true"
	}
	if v, ok := m["capabilities"]; ok && v != "" {
		p.Capabilities = strings.Split(v, ",")
	}
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			p.Updated = ts
		}
	}
}

func metaKey(id string) string { return "provider:meta:" + id }
