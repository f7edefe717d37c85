package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jedisct1/dlog"

	"github.com/dacarva/zk-email-verify/chunked"
	"github.com/dacarva/zk-email-verify/registry"
)

type Config struct {
	LogLevel int    `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	DomainsFile string   `toml:"domains_file"`
	Selectors   []string `toml:"selectors"`
	Resolvers   []string `toml:"resolvers"`

	Timeout            int `toml:"timeout_ms"`
	MaxInflightQueries int `toml:"max_inflight_queries"`
	DomainWorkers      int `toml:"domain_workers"`
	ProbeCacheSize     int `toml:"probe_cache_size"`

	HitLogFile       string `toml:"hit_log_file"`
	HitLogMaxSize    int    `toml:"hit_log_max_size"`
	HitLogMaxAge     int    `toml:"hit_log_max_age"`
	HitLogMaxBackups int    `toml:"hit_log_max_backups"`

	ModuliFile      string `toml:"moduli_file"`
	EncodingsFile   string `toml:"encodings_file"`
	CommitmentsFile string `toml:"commitments_file"`

	Chunking ChunkingConfig `toml:"chunking"`
	Registry RegistryConfig `toml:"registry"`
}

type ChunkingConfig struct {
	ByteChunkBits  int `toml:"byte_chunk_bits"`
	ByteChunkCount int `toml:"byte_chunk_count"`
	HashChunkBits  int `toml:"hash_chunk_bits"`
	HashChunkCount int `toml:"hash_chunk_count"`
}

type RegistryConfig struct {
	Enabled           bool   `toml:"enabled"`
	RPCURL            string `toml:"rpc_url"`
	ContractAddress   string `toml:"contract_address"`
	PrivateKeyEnv     string `toml:"private_key_env"`
	ConfirmTimeoutSec int    `toml:"confirm_timeout_sec"`
	PublishPauseMs    int    `toml:"publish_pause_ms"`
}

func newConfig() Config {
	return Config{
		LogLevel:           int(dlog.SeverityNotice),
		DomainsFile:        "domains.txt",
		Timeout:            2500,
		MaxInflightQueries: 32,
		DomainWorkers:      4,
		ProbeCacheSize:     512,
		HitLogMaxSize:      10,
		HitLogMaxAge:       7,
		HitLogMaxBackups:   1,
		ModuliFile:         "moduli.json",
		EncodingsFile:      "encodings.json",
		CommitmentsFile:    "commitments.json",
		Chunking: ChunkingConfig{
			ByteChunkBits:  chunked.ByteLayout.Bits,
			ByteChunkCount: chunked.ByteLayout.Count,
			HashChunkBits:  chunked.HashLayout.Bits,
			HashChunkCount: chunked.HashLayout.Count,
		},
		Registry: RegistryConfig{
			PrivateKeyEnv:     "DKIM_REGISTRY_KEY",
			ConfirmTimeoutSec: 120,
			PublishPauseMs:    250,
		},
	}
}

func ConfigLoad(job *Job, configFile string, domainsFileOverride string, dryRun bool) error {
	config := newConfig()
	md, err := toml.DecodeFile(configFile, &config)
	if err != nil {
		if os.IsNotExist(err) && configFile == DefaultConfigFileName {
			dlog.Debug("No configuration file, using built-in defaults")
		} else {
			return err
		}
	} else if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unsupported key in configuration file: [%s]", undecoded[0])
	}
	if config.LogLevel >= 0 && config.LogLevel < int(dlog.SeverityLast) {
		dlog.SetLogLevel(dlog.Severity(config.LogLevel))
	}
	if len(config.LogFile) > 0 {
		dlog.UseLogFile(config.LogFile)
	}
	if len(domainsFileOverride) > 0 {
		config.DomainsFile = domainsFileOverride
	}
	if len(config.DomainsFile) == 0 {
		return errors.New("no domain list configured")
	}

	selectors := config.Selectors
	if len(selectors) == 0 {
		selectors = DefaultSelectors
		dlog.Debugf("Using the built-in selector catalog [%s]", SelectorCatalogVersion)
	}
	for _, selector := range selectors {
		if !ValidSelector(selector) {
			return fmt.Errorf("invalid selector [%s]", selector)
		}
	}

	byteLayout := chunked.Layout{Bits: config.Chunking.ByteChunkBits, Count: config.Chunking.ByteChunkCount}
	if err := byteLayout.Validate(); err != nil {
		return err
	}
	hashLayout := chunked.Layout{Bits: config.Chunking.HashChunkBits, Count: config.Chunking.HashChunkCount}
	if err := hashLayout.ValidateForHashing(); err != nil {
		return err
	}
	if byteLayout.Capacity() < 2048 || hashLayout.Capacity() < 2048 {
		return errors.New("chunk layouts must hold at least a 2048-bit modulus")
	}

	resolvers := config.Resolvers
	if len(resolvers) == 0 {
		resolvers = systemResolvers()
	}
	pool := NewResolverPool(resolvers)
	if pool.empty() {
		return errors.New("no usable resolvers")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout_ms must be positive")
	}
	prober := NewSelectorProber(pool, time.Duration(config.Timeout)*time.Millisecond)

	var hitLog *HitLog
	if len(config.HitLogFile) > 0 {
		hitLog = NewHitLog(Logger(config.HitLogMaxSize, config.HitLogMaxAge, config.HitLogMaxBackups, config.HitLogFile))
	}

	job.domainsFile = config.DomainsFile
	job.scanner = NewScanner(prober, selectors, config.MaxInflightQueries, config.ProbeCacheSize, hitLog)
	job.domainWorkers = Max(1, config.DomainWorkers)
	job.byteLayout = byteLayout
	job.hashLayout = hashLayout
	job.moduliFile = config.ModuliFile
	job.encodingsFile = config.EncodingsFile
	job.commitmentsFile = config.CommitmentsFile

	job.publish = config.Registry.Enabled && !dryRun
	if config.Registry.Enabled && dryRun {
		dlog.Notice("Dry run: registry publication disabled")
	}
	if !job.publish {
		return nil
	}
	if len(config.Registry.RPCURL) == 0 || len(config.Registry.ContractAddress) == 0 {
		return errors.New("registry publication requires rpc_url and contract_address")
	}
	if len(config.Registry.PrivateKeyEnv) == 0 {
		return errors.New("registry publication requires private_key_env")
	}
	keyHex := os.Getenv(config.Registry.PrivateKeyEnv)
	if len(keyHex) == 0 {
		return fmt.Errorf("registry publication requires a signing key in $%s", config.Registry.PrivateKeyEnv)
	}
	signKey, err := registry.ParseKey(keyHex)
	if err != nil {
		return err
	}
	contract, err := registry.ParseAddress(config.Registry.ContractAddress)
	if err != nil {
		return err
	}
	job.rpcURL = config.Registry.RPCURL
	job.contract = contract
	job.signKey = signKey
	job.confirmTimeout = time.Duration(config.Registry.ConfirmTimeoutSec) * time.Second
	job.publishPause = time.Duration(config.Registry.PublishPauseMs) * time.Millisecond
	return nil
}
