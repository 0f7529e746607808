// Package geoip resolves ISO country codes from client IPs. The request
// logger and locale middleware use it; the generation pipeline does not
// depend on it.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned when no database is loaded.
var ErrUnavailable = errors.New("geoip: no database loaded")

// Resolver answers country lookups from a MaxMind GeoIP2 database. The zero
// value and the nil resolver are valid and report ErrUnavailable.
type Resolver struct {
	db *geoip2.Reader
}

// NewResolver opens the database at path. An empty path is not an error; it
// yields a nil resolver and lookups are skipped.
func NewResolver(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Resolver{db: db}, nil
}

// CountryCode returns the ISO country code for ip, or "" when the database
// has no record for it.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.db == nil {
		return "", ErrUnavailable
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	rec, err := r.db.Country(addr)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup: %w", err)
	}
	if rec == nil {
		return "", nil
	}
	return rec.Country.IsoCode, nil
}

// LookupFunc adapts the resolver to the middleware lookup signature. A nil
// resolver yields nil, which the middleware treats as "no lookup".
func (r *Resolver) LookupFunc() func(ip string) (string, error) {
	if r == nil || r.db == nil {
		return nil
	}
	return r.CountryCode
}

// Close releases the database reader.
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
