package monitor

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"
)

// GeoResolver maps a source IP to a coarse location. Resolution is
// best-effort: a nil result means the lookup failed and the request is
// evaluated without geographic signals.
type GeoResolver interface {
	Resolve(ip string) *GeoLocation
	Close() error
}

// geoipResolver backs GeoResolver with a MaxMind city database.
type geoipResolver struct {
	db     *geoip2.Reader
	logger zerolog.Logger
}

// NewGeoResolver opens the city database at path. An empty path disables
// geographic resolution entirely.
func NewGeoResolver(path string, logger zerolog.Logger) (GeoResolver, error) {
	if path == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	return &geoipResolver{db: db, logger: logger.With().Str("component", "geo").Logger()}, nil
}

func (g *geoipResolver) Resolve(ip string) *GeoLocation {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}
	record, err := g.db.City(parsed)
	if err != nil {
		g.logger.Debug().Err(err).Str("ip", ip).Msg("geoip lookup failed")
		return nil
	}
	if record.Country.IsoCode == "" {
		return nil
	}
	loc := &GeoLocation{
		Country:   record.Country.IsoCode,
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}
	if name, ok := record.City.Names["en"]; ok {
		loc.City = name
	}
	return loc
}

func (g *geoipResolver) Close() error {
	return g.db.Close()
}

// GeoHistory tracks the countries each principal has been seen from. A
// request from a country not in the principal's history is flagged
// anomalous; the new country is recorded so the flag fires once per
// transition, not on every request.
type GeoHistory struct {
	mu        sync.Mutex
	countries map[string]map[string]bool
	maxKeys   int
}

func NewGeoHistory() *GeoHistory {
	return &GeoHistory{
		countries: make(map[string]map[string]bool),
		maxKeys:   10000,
	}
}

// Observe records the principal's country and reports whether this is a
// previously unseen country for an already-known principal. First sightings
// of a principal are never anomalous.
func (h *GeoHistory) Observe(principalID, country string) bool {
	if principalID == "" || country == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	seen, ok := h.countries[principalID]
	if !ok {
		if len(h.countries) >= h.maxKeys {
			// Drop the whole table rather than inventing an eviction
			// order; history rebuilds within a few requests.
			h.countries = make(map[string]map[string]bool)
		}
		h.countries[principalID] = map[string]bool{country: true}
		return false
	}
	if seen[country] {
		return false
	}
	seen[country] = true
	return true
}
