// Package geo resolves visitor IP addresses to ISO country codes so journey
// events stored without a country can still be broken down geographically.
package geo

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/ipick/shop-analytics/internal/metrics"
	"github.com/ipick/shop-analytics/internal/models"
)

// ErrInvalidIP is returned for addresses that do not parse.
var ErrInvalidIP = errors.New("invalid IP address")

// Locator maps an IP address to an ISO 3166 country code.
type Locator interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindLocator reads country codes from a GeoLite2/GeoIP2 mmdb file.
type MaxMindLocator struct {
	reader *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindLocator{reader: reader}, nil
}

// Country returns the country code for ip, or "" when the database has no entry.
func (m *MaxMindLocator) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	var record countryRecord
	if err := m.reader.Lookup(parsed, &record); err != nil {
		return "", err
	}
	if record.Country.ISOCode != "" {
		return record.Country.ISOCode, nil
	}
	return record.RegisteredCountry.ISOCode, nil
}

// Close closes the GeoIP database.
func (m *MaxMindLocator) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// StaticLocator answers from a fixed table. Used in tests and local runs.
type StaticLocator struct {
	data map[string]string
}

func NewStaticLocator(entries map[string]string) *StaticLocator {
	data := make(map[string]string, len(entries))
	for ip, cc := range entries {
		data[ip] = cc
	}
	return &StaticLocator{data: data}
}

func (s *StaticLocator) Country(ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}
	return s.data[ip], nil
}

func (s *StaticLocator) Close() error {
	return nil
}

// Resolver wraps a Locator with a bounded TTL cache.
type Resolver struct {
	locator Locator
	cache   *countryCache
	metrics *metrics.Metrics
}

type countryCache struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	country   string
	expiresAt time.Time
}

// NewResolver creates a resolver. m may be nil.
func NewResolver(locator Locator, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Resolver{
		locator: locator,
		cache: &countryCache{
			data:    make(map[string]cacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
			now:     time.Now,
		},
		metrics: m,
	}
}

// Country resolves ip through the cache.
func (r *Resolver) Country(ip string) (string, error) {
	start := time.Now()
	if cc, ok := r.cache.get(ip); ok {
		if r.metrics != nil {
			r.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return cc, nil
	}

	cc, err := r.locator.Country(ip)
	if err != nil {
		return "", err
	}

	r.cache.set(ip, cc)
	if r.metrics != nil {
		r.metrics.RecordGeoLookup(false, time.Since(start))
	}
	return cc, nil
}

// Close closes the underlying locator.
func (r *Resolver) Close() error {
	return r.locator.Close()
}

// Backfill sets Country on events that carry an IP address but no country.
// Events are modified in place; lookup failures leave the event untouched.
// It returns the number of events filled.
func (r *Resolver) Backfill(events []models.JourneyEvent) int {
	filled := 0
	for i := range events {
		ev := &events[i]
		if strings.TrimSpace(ev.Country) != "" || ev.IPAddress == "" {
			continue
		}
		cc, err := r.Country(ev.IPAddress)
		if err != nil || cc == "" {
			continue
		}
		ev.Country = cc
		filled++
	}
	return filled
}

func (c *countryCache) get(ip string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok || c.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.country, true
}

func (c *countryCache) set(ip, country string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple eviction: drop everything once full.
	if len(c.data) >= c.maxSize {
		c.data = make(map[string]cacheEntry)
	}

	c.data[ip] = cacheEntry{
		country:   country,
		expiresAt: c.now().Add(c.ttl),
	}
}
