package main

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/jedisct1/dlog"
	"github.com/miekg/dns"
)

const (
	resolvConfPath   = "/etc/resolv.conf"
	fallbackResolver = "9.9.9.9:53"
)

type resolverInfo struct {
	addr string
	rtt  ewma.MovingAverage
}

// ResolverPool tracks the upstream resolvers queries are sent to, ranked by
// a moving average of their round-trip times.
type ResolverPool struct {
	sync.RWMutex
	inner []*resolverInfo
}

func NewResolverPool(addrs []string) *ResolverPool {
	pool := &ResolverPool{}
	for _, addr := range addrs {
		pool.registerResolver(addr)
	}
	return pool
}

func (pool *ResolverPool) registerResolver(addr string) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	pool.Lock()
	defer pool.Unlock()
	for _, resolver := range pool.inner {
		if resolver.addr == addr {
			return
		}
	}
	pool.inner = append(pool.inner, &resolverInfo{addr: addr, rtt: ewma.NewMovingAverage()})
}

func (pool *ResolverPool) empty() bool {
	pool.RLock()
	defer pool.RUnlock()
	return len(pool.inner) == 0
}

// getOne returns the fastest known resolver. One pick out of eight is random
// so that a resolver with a stale estimate can recover; an unmeasured
// resolver ranks first, which probes it.
func (pool *ResolverPool) getOne() string {
	pool.RLock()
	defer pool.RUnlock()
	if len(pool.inner) == 0 {
		return ""
	}
	if rand.Intn(8) == 0 {
		return pool.inner[rand.Intn(len(pool.inner))].addr
	}
	best := pool.inner[0]
	for _, resolver := range pool.inner[1:] {
		if resolver.rtt.Value() < best.rtt.Value() {
			best = resolver
		}
	}
	return best.addr
}

func (pool *ResolverPool) markRTT(addr string, rtt time.Duration) {
	pool.Lock()
	defer pool.Unlock()
	for _, resolver := range pool.inner {
		if resolver.addr == addr {
			resolver.rtt.Add(float64(rtt.Milliseconds()))
			return
		}
	}
}

// systemResolvers reads the system resolver list, falling back to a public
// resolver when none is usable.
func systemResolvers() []string {
	config, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(config.Servers) == 0 {
		dlog.Warnf("Unable to read [%s], falling back to [%s]", resolvConfPath, fallbackResolver)
		return []string{fallbackResolver}
	}
	addrs := make([]string, 0, len(config.Servers))
	for _, server := range config.Servers {
		addrs = append(addrs, net.JoinHostPort(server, config.Port))
	}
	return addrs
}
