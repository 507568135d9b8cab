package enrichment

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pterm/pterm"
)

// CountryResolver maps client IPs to ISO country codes for the snapshot's
// traffic-by-country tally. It is optional: without a database every
// lookup returns "" and metrics simply carry no country dimension.
type CountryResolver struct {
	db        *geoip2.Reader
	logger    *pterm.Logger
	cache     map[string]string
	cacheMu   sync.RWMutex
	cacheSize int
	enabled   bool
}

// NewCountryResolver opens the MaxMind country database at dbPath. An
// empty path or an unreadable file disables enrichment rather than
// failing startup.
func NewCountryResolver(dbPath string, logger *pterm.Logger, cacheSize int) *CountryResolver {
	if cacheSize <= 0 {
		cacheSize = 10000
	}

	resolver := &CountryResolver{
		logger:    logger,
		cache:     make(map[string]string, cacheSize),
		cacheSize: cacheSize,
	}

	if dbPath == "" {
		logger.Debug("GeoIP enrichment disabled - no database configured")
		return resolver
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		logger.Warn("GeoIP Country database not available",
			logger.Args("path", dbPath, "error", err))
		return resolver
	}

	resolver.db = db
	resolver.enabled = true
	logger.Info("Loaded GeoIP Country database", logger.Args("path", dbPath))
	return resolver
}

// Resolve returns the ISO country code for clientIP, or "" when
// enrichment is disabled, the IP is invalid or the database has no
// record for it.
func (r *CountryResolver) Resolve(clientIP string) string {
	if !r.enabled || clientIP == "" {
		return ""
	}

	r.cacheMu.RLock()
	country, exists := r.cache[clientIP]
	r.cacheMu.RUnlock()
	if exists {
		return country
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		r.logger.Debug("Invalid IP address for GeoIP lookup", r.logger.Args("ip", clientIP))
		return ""
	}

	record, err := r.db.Country(ip)
	if err != nil {
		r.logger.Debug("GeoIP Country lookup failed", r.logger.Args("ip", clientIP, "error", err))
		return ""
	}
	country = record.Country.IsoCode

	r.cacheMu.Lock()
	if len(r.cache) >= r.cacheSize {
		// Full cache: drop it rather than track recency. Lookups are
		// cheap enough that a rebuild beats bookkeeping per hit.
		r.cache = make(map[string]string, r.cacheSize)
	}
	r.cache[clientIP] = country
	r.cacheMu.Unlock()

	return country
}

// IsEnabled returns whether a country database is loaded.
func (r *CountryResolver) IsEnabled() bool {
	return r.enabled
}

// Close closes the GeoIP database.
func (r *CountryResolver) Close() error {
	if r.db != nil {
		r.db.Close()
	}
	return nil
}
