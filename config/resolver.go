package config

import (
	"context"
	"net"
	"sync"
)

// CachingResolver wraps net.Resolver with a run-scoped lookup cache. The
// same handful of directory hosts are resolved over and over during
// collection; caching keeps that off the wire.
type CachingResolver struct {
	resolver *net.Resolver

	mu      sync.RWMutex
	entries map[string]any
}

func NewCachingResolver(base *net.Resolver) *CachingResolver {
	return &CachingResolver{
		resolver: base,
		entries:  make(map[string]any),
	}
}

// cachedLookup returns the cached value for key or runs fetch and caches
// its result. Failed lookups are not cached, so transient DNS errors do
// not stick for the rest of the run.
func cachedLookup[T any](cr *CachingResolver, key string, fetch func() (T, error)) (T, error) {
	cr.mu.RLock()
	v, ok := cr.entries[key]
	cr.mu.RUnlock()
	if ok {
		return v.(T), nil
	}

	result, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	cr.mu.Lock()
	cr.entries[key] = result
	cr.mu.Unlock()

	return result, nil
}

func (cr *CachingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return cachedLookup(cr, "host:"+host, func() ([]string, error) {
		return cr.resolver.LookupHost(ctx, host)
	})
}

func (cr *CachingResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return cachedLookup(cr, "addr:"+addr, func() ([]string, error) {
		return cr.resolver.LookupAddr(ctx, addr)
	})
}

func (cr *CachingResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return cachedLookup(cr, "ip:"+network+":"+host, func() ([]net.IP, error) {
		return cr.resolver.LookupIP(ctx, network, host)
	})
}

func (cr *CachingResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return cachedLookup(cr, "ipaddr:"+host, func() ([]net.IPAddr, error) {
		return cr.resolver.LookupIPAddr(ctx, host)
	})
}

func (cr *CachingResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	return cachedLookup(cr, "cname:"+host, func() (string, error) {
		return cr.resolver.LookupCNAME(ctx, host)
	})
}

func (cr *CachingResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return cachedLookup(cr, "mx:"+name, func() ([]*net.MX, error) {
		return cr.resolver.LookupMX(ctx, name)
	})
}

func (cr *CachingResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, error) {
	return cachedLookup(cr, "ns:"+name, func() ([]*net.NS, error) {
		return cr.resolver.LookupNS(ctx, name)
	})
}

func (cr *CachingResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	return cachedLookup(cr, "port:"+network+":"+service, func() (int, error) {
		return cr.resolver.LookupPort(ctx, network, service)
	})
}

// srvResult bundles the two values of an SRV lookup for caching.
type srvResult struct {
	cname string
	recs  []*net.SRV
}

func (cr *CachingResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	res, err := cachedLookup(cr, "srv:"+service+":"+proto+":"+name, func() (srvResult, error) {
		cname, recs, err := cr.resolver.LookupSRV(ctx, service, proto, name)
		return srvResult{cname: cname, recs: recs}, err
	})
	return res.cname, res.recs, err
}

func (cr *CachingResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return cachedLookup(cr, "txt:"+name, func() ([]string, error) {
		return cr.resolver.LookupTXT(ctx, name)
	})
}
