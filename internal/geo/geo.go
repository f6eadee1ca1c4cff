package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

// Country is the result of resolving an IP address. Both fields may be
// empty: an unknown country is a normal outcome, never an error at the
// tracking layer.
type Country struct {
	Code string
	Name string
}

// Resolver maps an IP address to a country.
type Resolver interface {
	Resolve(ip string) (Country, error)
}

// MaxMindResolver resolves countries from a MaxMind GeoLite2 database.
type MaxMindResolver struct {
	reader *maxminddb.Reader
}

// NewMaxMindResolver opens the database at dbPath.
func NewMaxMindResolver(dbPath string) (*MaxMindResolver, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

type countryRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// Resolve returns the country for an IP address.
func (m *MaxMindResolver) Resolve(ip string) (Country, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Country{}, fmt.Errorf("invalid IP address: %s", ip)
	}

	var rec countryRecord
	if err := m.reader.Lookup(parsed, &rec); err != nil {
		return Country{}, fmt.Errorf("geo lookup failed: %w", err)
	}

	return Country{
		Code: rec.Country.ISOCode,
		Name: rec.Country.Names["en"],
	}, nil
}

// Close closes the GeoIP database.
func (m *MaxMindResolver) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// Chain tries resolvers in order until one returns a non-empty country.
// It implements the prioritized provider fallback as a single composed
// Resolver.
type Chain struct {
	resolvers []Resolver
	logger    *zap.Logger
}

// NewChain composes resolvers in priority order.
func NewChain(logger *zap.Logger, resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers, logger: logger}
}

// Resolve returns the first non-empty result. If every provider fails or
// returns empty, an empty Country is returned with no error.
func (c *Chain) Resolve(ip string) (Country, error) {
	for _, r := range c.resolvers {
		country, err := r.Resolve(ip)
		if err != nil {
			c.logger.Debug("geo provider failed, trying next", zap.Error(err), zap.String("ip", ip))
			continue
		}
		if country.Code != "" {
			return country, nil
		}
	}
	return Country{}, nil
}

// Noop resolves every IP to the unknown country.
type Noop struct{}

func (Noop) Resolve(string) (Country, error) {
	return Country{}, nil
}
