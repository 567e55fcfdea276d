// Package geoip resolves the origin country of a crawled catalog listing
// from the listing URL's host. The crawl processor uses it to tag each
// crawled place with that country code (places.country_code); the region
// sweep does not read the tag.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Resolver performs listing-host -> country lookups.
type Resolver interface {
	// CountryForURL returns the ISO country code and first subdivision code
	// for the host serving rawURL.
	CountryForURL(rawURL string) (country string, subdivision string, err error)
}

type resolver struct {
	once sync.Once
	db   *geoip2.Reader
	err  error

	mu    sync.Mutex
	cache map[string]hostCountry
}

type hostCountry struct {
	country     string
	subdivision string
}

// NewResolver constructs a GeoLite2-backed resolver. The database file is
// opened lazily on first use from GEOIP_DB_PATH (GeoLite2-City.mmdb).
func NewResolver() Resolver {
	return &resolver{cache: make(map[string]hostCountry)}
}

func (r *resolver) open() error {
	r.once.Do(func() {
		path := os.Getenv("GEOIP_DB_PATH")
		if path == "" {
			r.err = errors.New("GEOIP_DB_PATH not set")
			return
		}
		db, err := geoip2.Open(path)
		if err != nil {
			r.err = fmt.Errorf("failed to open GeoIP DB: %w", err)
			return
		}
		r.db = db
	})
	return r.err
}

func (r *resolver) CountryForURL(rawURL string) (string, string, error) {
	if err := r.open(); err != nil {
		return "", "", err
	}

	host, err := hostFromURL(rawURL)
	if err != nil {
		return "", "", err
	}

	r.mu.Lock()
	cached, ok := r.cache[host]
	r.mu.Unlock()
	if ok {
		return cached.country, cached.subdivision, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return "", "", fmt.Errorf("cannot resolve listing host %q: %w", host, err)
		}
		ip = addrs[0]
	}

	rec, err := r.db.City(ip)
	if err != nil {
		return "", "", fmt.Errorf("geoip lookup error for %q: %w", host, err)
	}

	hc := hostCountry{country: rec.Country.IsoCode}
	if len(rec.Subdivisions) > 0 {
		hc.subdivision = rec.Subdivisions[0].IsoCode
	}

	r.mu.Lock()
	r.cache[host] = hc
	r.mu.Unlock()
	return hc.country, hc.subdivision, nil
}

// hostFromURL extracts the lookup host from a listing URL. Bare hosts
// without a scheme are accepted since some catalogs return them that way.
func hostFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err == nil && u.Hostname() != "" {
		return u.Hostname(), nil
	}
	if err == nil && u.Scheme == "" && u.Path != "" && !strings.Contains(u.Path, "/") {
		return u.Path, nil
	}
	return "", fmt.Errorf("invalid listing url: %q", rawURL)
}
