package main

import (
	"encoding/json"

	"github.com/dchest/safefile"
)

// Snapshots are written whole and renamed into place; a crashed run never
// leaves a partial artifact behind.

func WriteModuliSnapshot(path string, results []DomainKeys) error {
	out := make(map[string][]string, len(results))
	for _, domainKeys := range results {
		for _, key := range domainKeys.Keys {
			out[domainKeys.Domain] = append(out[domainKeys.Domain], key.Modulus.String())
		}
	}
	return writeJSONAtomic(path, out)
}

func WriteEncodingsSnapshot(path string, results []DomainKeys) error {
	out := make(map[string][][]string, len(results))
	for _, domainKeys := range results {
		for _, key := range domainKeys.Keys {
			limbs := make([]string, 0, len(key.Limbs))
			for _, limb := range key.Limbs {
				limbs = append(limbs, limb.String())
			}
			out[domainKeys.Domain] = append(out[domainKeys.Domain], limbs)
		}
	}
	return writeJSONAtomic(path, out)
}

func WriteCommitmentsSnapshot(path string, results []DomainKeys) error {
	out := make(map[string][]string, len(results))
	for _, domainKeys := range results {
		for _, key := range domainKeys.Keys {
			out[domainKeys.Domain] = append(out[domainKeys.Domain], key.Commitment.String())
		}
	}
	return writeJSONAtomic(path, out)
}

func writeJSONAtomic(path string, v interface{}) error {
	bin, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	bin = append(bin, '\n')
	return safefile.WriteFile(path, bin, 0644)
}
