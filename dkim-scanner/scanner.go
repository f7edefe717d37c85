package main

import (
	"context"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jedisct1/dlog"
	"golang.org/x/sync/semaphore"
)

type moduliProber interface {
	Probe(ctx context.Context, domain string, selector string) *big.Int
}

// Scanner drives the prober over the selector catalog for each domain.
// Discovery is a heuristic, not an exhaustive search: only cataloged
// selectors are tried, and misses are silent.
type Scanner struct {
	prober     moduliProber
	selectors  []string
	queries    *semaphore.Weighted
	probeCache *lru.Cache
	hitLog     *HitLog
}

func NewScanner(prober moduliProber, selectors []string, maxInflightQueries int, probeCacheSize int, hitLog *HitLog) *Scanner {
	scanner := &Scanner{
		prober:    prober,
		selectors: selectors,
		queries:   semaphore.NewWeighted(int64(Max(1, maxInflightQueries))),
		hitLog:    hitLog,
	}
	if probeCacheSize > 0 {
		// errors only on a non-positive size
		scanner.probeCache, _ = lru.New(probeCacheSize)
	}
	return scanner
}

// Scan probes every selector for every domain and returns the deduplicated
// moduli discovered per domain. Domains without any key are absent from the
// result. Cancelling the context stops new per-domain batches and discards
// the interrupted ones, so no batch is ever half-aggregated.
func (scanner *Scanner) Scan(ctx context.Context, domains []string, domainWorkers int) map[string][]*big.Int {
	results := make(map[string][]*big.Int)
	var resultsLock sync.Mutex
	var wg sync.WaitGroup
	slots := make(chan struct{}, Max(1, Min(domainWorkers, len(domains))))
	for i, domain := range domains {
		if ctx.Err() != nil {
			dlog.Noticef("Scan interrupted, %d domains left unprocessed", len(domains)-i)
			break
		}
		slots <- struct{}{}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer func() { <-slots }()
			moduli := scanner.scanDomain(ctx, domain)
			if ctx.Err() != nil || len(moduli) == 0 {
				return
			}
			resultsLock.Lock()
			results[domain] = moduli
			resultsLock.Unlock()
		}(domain)
	}
	wg.Wait()
	return results
}

// scanDomain runs one concurrent probe per selector and aggregates only
// after the whole batch has completed. Results are kept in catalog order so
// that deduplication is deterministic; the dedup key is the modulus value,
// not the selector or its text.
func (scanner *Scanner) scanDomain(ctx context.Context, domain string) []*big.Int {
	found := make([]*big.Int, len(scanner.selectors))
	var wg sync.WaitGroup
	for i, selector := range scanner.selectors {
		wg.Add(1)
		go func(i int, selector string) {
			defer wg.Done()
			found[i] = scanner.probeCached(ctx, domain, selector)
		}(i, selector)
	}
	wg.Wait()

	var moduli []*big.Int
	for i, modulus := range found {
		if modulus == nil {
			continue
		}
		duplicate := false
		for _, seen := range moduli {
			if seen.Cmp(modulus) == 0 {
				duplicate = true
				break
			}
		}
		if duplicate {
			dlog.Debugf("Selector [%s] for [%s] repeats an already discovered key", scanner.selectors[i], domain)
			continue
		}
		dlog.Noticef("Found a DKIM key for [%s] with selector [%s] (%d bits)", domain, scanner.selectors[i], modulus.BitLen())
		scanner.hitLog.Log(domain, scanner.selectors[i], modulus.BitLen())
		moduli = append(moduli, modulus)
	}
	return moduli
}

func (scanner *Scanner) probeCached(ctx context.Context, domain string, selector string) *big.Int {
	qName := selector + "._domainkey." + domain
	if scanner.probeCache != nil {
		if cached, ok := scanner.probeCache.Get(qName); ok {
			return cached.(*big.Int)
		}
	}
	if err := scanner.queries.Acquire(ctx, 1); err != nil {
		return nil
	}
	modulus := scanner.prober.Probe(ctx, domain, selector)
	scanner.queries.Release(1)
	// only discovered keys are cached: a miss may be a transient DNS
	// failure, and a duplicate domain later in the list deserves a fresh
	// probe
	if scanner.probeCache != nil && modulus != nil {
		scanner.probeCache.Add(qName, modulus)
	}
	return modulus
}
