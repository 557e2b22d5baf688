// Package geo resolves relay client addresses to a coarse location.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"
	"hubcom/pkg/cache"

	"github.com/oschwald/geoip2-golang"
)

var ErrUnavailable = errors.New("geo lookup unavailable")

// MaxMindLocator reads a GeoIP2 or GeoLite2 City database.
type MaxMindLocator struct {
	reader *geoip2.Reader
	lang   string
}

func NewMaxMindLocator(path string) (*MaxMindLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	return &MaxMindLocator{reader: reader, lang: "en"}, nil
}

func (l *MaxMindLocator) Lookup(ctx context.Context, ip string) (domain.GeoInfo, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return domain.GeoInfo{}, fmt.Errorf("invalid ip %q", ip)
	}
	if err := ctx.Err(); err != nil {
		return domain.GeoInfo{}, err
	}
	rec, err := l.reader.City(addr)
	if err != nil {
		return domain.GeoInfo{}, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	return domain.GeoInfo{
		City:    rec.City.Names[l.lang],
		Country: rec.Country.Names[l.lang],
	}, nil
}

func (l *MaxMindLocator) Close() error {
	return l.reader.Close()
}

// NopLocator is used when no database is configured.
type NopLocator struct{}

func (NopLocator) Lookup(ctx context.Context, ip string) (domain.GeoInfo, error) {
	return domain.GeoInfo{}, ErrUnavailable
}

// CachedLocator memoizes successful lookups per IP.
type CachedLocator struct {
	next  ports.GeoLocator
	cache *cache.Cache[domain.GeoInfo]
}

func NewCachedLocator(next ports.GeoLocator, ttl time.Duration) *CachedLocator {
	return &CachedLocator{
		next:  next,
		cache: cache.NewCache[domain.GeoInfo](ttl),
	}
}

func (c *CachedLocator) Lookup(ctx context.Context, ip string) (domain.GeoInfo, error) {
	return c.cache.GetOrLoad(ctx, ip, func(ctx context.Context) (domain.GeoInfo, error) {
		return c.next.Lookup(ctx, ip)
	})
}

func (c *CachedLocator) Close() {
	c.cache.Stop()
}

// New returns a cached MaxMind locator for path, or a NopLocator when path
// is empty. On error the NopLocator is returned along with it.
func New(path string, ttl time.Duration) (ports.GeoLocator, func(), error) {
	if path == "" {
		return NopLocator{}, func() {}, nil
	}
	mm, err := NewMaxMindLocator(path)
	if err != nil {
		return NopLocator{}, func() {}, err
	}
	cached := NewCachedLocator(mm, ttl)
	return cached, func() {
		cached.Close()
		_ = mm.Close()
	}, nil
}
