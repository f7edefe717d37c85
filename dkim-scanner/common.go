package main

import (
	"fmt"
	"os"
	"strings"
)

const MaxDNSPacketSize = 4096

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ReadDomainsFile reads a newline-delimited domain list. Blank lines and
// comments are skipped; entries are lowercased and stripped of a trailing dot.
func ReadDomainsFile(path string) ([]string, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var domains []string
	for lineNo, line := range strings.Split(string(bin), "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		domain := strings.ToLower(strings.TrimSuffix(line, "."))
		if strings.ContainsAny(domain, " \t") {
			return nil, fmt.Errorf("unexpected whitespace in domain [%s] at line %d of %s", domain, lineNo+1, path)
		}
		domains = append(domains, domain)
	}
	return domains, nil
}

// ValidSelector reports whether a selector is usable as the leftmost part of
// a DKIM query name: one or more DNS labels of letters, digits, hyphens and
// underscores.
func ValidSelector(selector string) bool {
	if len(selector) == 0 {
		return false
	}
	for _, label := range strings.Split(selector, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' && c != '_' {
				return false
			}
		}
	}
	return true
}
