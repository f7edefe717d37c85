package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedisct1/dlog"
	"github.com/jedisct1/go-clocksmith"

	"github.com/dacarva/zk-email-verify/chunked"
	"github.com/dacarva/zk-email-verify/registry"
)

// KeyRecord is one discovered key, fully derived: its modulus, the
// byte-layout limbs exported for circuit witnesses, and the hash-layout
// commitment published on-chain.
type KeyRecord struct {
	Modulus    *big.Int
	Limbs      []*big.Int
	Commitment *big.Int
}

type DomainKeys struct {
	Domain string
	Keys   []KeyRecord
}

func (domainKeys DomainKeys) Commitments() []*big.Int {
	commitments := make([]*big.Int, 0, len(domainKeys.Keys))
	for _, key := range domainKeys.Keys {
		commitments = append(commitments, key.Commitment)
	}
	return commitments
}

type Job struct {
	domainsFile   string
	scanner       *Scanner
	domainWorkers int

	byteLayout chunked.Layout
	hashLayout chunked.Layout

	moduliFile      string
	encodingsFile   string
	commitmentsFile string

	publish        bool
	rpcURL         string
	contract       common.Address
	signKey        *ecdsa.PrivateKey
	confirmTimeout time.Duration
	publishPause   time.Duration
}

type Summary struct {
	Domains         int
	DomainsWithKeys int
	KeysFound       int
	KeysSkipped     int
	Published       int
	PublishFailed   int
}

func (summary Summary) Report() {
	dlog.Noticef("Scan complete: %d domains processed, %d with at least one key, %d keys found", summary.Domains, summary.DomainsWithKeys, summary.KeysFound)
	if summary.KeysSkipped > 0 {
		dlog.Warnf("%d keys were skipped because they overflow the configured chunk layouts", summary.KeysSkipped)
	}
	if summary.Published > 0 || summary.PublishFailed > 0 {
		dlog.Noticef("Registry: %d domains published, %d failed", summary.Published, summary.PublishFailed)
	}
}

func (job *Job) Run(ctx context.Context) Summary {
	summary := Summary{}
	domains, err := ReadDomainsFile(job.domainsFile)
	if err != nil {
		dlog.Fatalf("Unable to read the domain list from [%s]: [%v]", job.domainsFile, err)
	}
	summary.Domains = len(domains)
	dlog.Noticef("Scanning %d domains against %d selectors", len(domains), len(job.scanner.selectors))

	keySets := job.scanner.Scan(ctx, domains, job.domainWorkers)
	results := job.deriveRecords(keySets, &summary)

	job.writeSnapshots(results)
	if job.publish {
		job.publishAll(ctx, results, &summary)
	}
	return summary
}

// deriveRecords turns raw per-domain moduli into exportable records. A key
// that overflows a layout is dropped with an error, without affecting the
// other keys of its domain. Domains are sorted so artifacts and publication
// order are stable between runs.
func (job *Job) deriveRecords(keySets map[string][]*big.Int, summary *Summary) []DomainKeys {
	domains := make([]string, 0, len(keySets))
	for domain := range keySets {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	results := make([]DomainKeys, 0, len(domains))
	for _, domain := range domains {
		domainKeys := DomainKeys{Domain: domain}
		for _, modulus := range keySets[domain] {
			limbs, err := chunked.Encode(modulus, job.byteLayout)
			if err != nil {
				dlog.Errorf("Skipping a %d-bit key for [%s]: [%v]", modulus.BitLen(), domain, err)
				summary.KeysSkipped++
				continue
			}
			commitment, err := chunked.Commitment(modulus, job.hashLayout)
			if err != nil {
				dlog.Errorf("Skipping a %d-bit key for [%s]: [%v]", modulus.BitLen(), domain, err)
				summary.KeysSkipped++
				continue
			}
			domainKeys.Keys = append(domainKeys.Keys, KeyRecord{Modulus: modulus, Limbs: limbs, Commitment: commitment})
			summary.KeysFound++
		}
		if len(domainKeys.Keys) > 0 {
			results = append(results, domainKeys)
			summary.DomainsWithKeys++
		}
	}
	return results
}

func (job *Job) writeSnapshots(results []DomainKeys) {
	type snapshot struct {
		path  string
		write func(string, []DomainKeys) error
	}
	for _, snap := range []snapshot{
		{job.moduliFile, WriteModuliSnapshot},
		{job.encodingsFile, WriteEncodingsSnapshot},
		{job.commitmentsFile, WriteCommitmentsSnapshot},
	} {
		if len(snap.path) == 0 {
			continue
		}
		if err := snap.write(snap.path, results); err != nil {
			dlog.Errorf("Unable to write [%s]: [%v]", snap.path, err)
		} else {
			dlog.Infof("Wrote [%s]", snap.path)
		}
	}
}

// publishAll submits one transaction per domain, sequentially: the registry
// is not guaranteed to tolerate concurrent writers, and a single signer's
// nonces must stay ordered anyway.
func (job *Job) publishAll(ctx context.Context, results []DomainKeys, summary *Summary) {
	if len(results) == 0 {
		dlog.Notice("Nothing to publish")
		return
	}
	publisher, err := registry.Dial(ctx, job.rpcURL, job.contract, job.signKey, job.confirmTimeout)
	if err != nil {
		dlog.Errorf("Unable to reach the registry: [%v]", err)
		summary.PublishFailed = len(results)
		return
	}
	dlog.Noticef("Publishing as [%s] to contract [%s]", publisher.Sender().Hex(), job.contract.Hex())
	for i, domainKeys := range results {
		if err := ctx.Err(); err != nil {
			summary.PublishFailed += len(results) - i
			dlog.Warnf("Publication interrupted, %d domains not submitted", len(results)-i)
			return
		}
		txHash, err := publisher.Publish(ctx, domainKeys.Domain, domainKeys.Commitments())
		if err != nil {
			if errors.Is(err, registry.ErrReverted) {
				dlog.Errorf("Registry rejected the commitments for [%s]: [%v]", domainKeys.Domain, err)
			} else {
				dlog.Errorf("Publication failed for [%s]: [%v]", domainKeys.Domain, err)
			}
			summary.PublishFailed++
			continue
		}
		dlog.Noticef("Published %d commitments for [%s] in transaction [%s]", len(domainKeys.Keys), domainKeys.Domain, txHash.Hex())
		summary.Published++
		if i < len(results)-1 && job.publishPause > 0 {
			clocksmith.Sleep(job.publishPause)
		}
	}
}
