package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/jedisct1/dlog"
	"github.com/miekg/dns"
)

// SelectorProber looks up a single (domain, selector) DKIM record and
// extracts the RSA modulus from it.
type SelectorProber struct {
	pool    *ResolverPool
	timeout time.Duration
}

func NewSelectorProber(pool *ResolverPool, timeout time.Duration) *SelectorProber {
	return &SelectorProber{pool: pool, timeout: timeout}
}

// Probe returns the modulus published at <selector>._domainkey.<domain>, or
// nil. Probing is best effort: DNS failures, absent records, malformed
// records and unparseable keys all map to nil, logged at debug severity.
func (prober *SelectorProber) Probe(ctx context.Context, domain string, selector string) *big.Int {
	qName := selector + "._domainkey." + domain
	record, err := prober.fetchTXT(ctx, qName)
	if err != nil {
		dlog.Debugf("No DKIM record at [%s]: [%v]", qName, err)
		return nil
	}
	modulus, err := dkimRecordModulus(record)
	if err != nil {
		dlog.Debugf("Unusable DKIM record at [%s]: [%v]", qName, err)
		return nil
	}
	return modulus
}

// fetchTXT resolves a TXT record and joins the character-strings of the
// first answer, in record order. The query is retried once with a doubled
// timeout, and repeated over TCP when the response comes back truncated
// (2048-bit keys do not always fit a UDP answer).
func (prober *SelectorProber) fetchTXT(ctx context.Context, qName string) (string, error) {
	server := prober.pool.getOne()
	if len(server) == 0 {
		return "", errors.New("no resolvers configured")
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(qName), dns.TypeTXT)
	msg.SetEdns0(MaxDNSPacketSize, false)

	var response *dns.Msg
	readTimeout := prober.timeout
	for i := 0; i < 2; i++ {
		client := &dns.Client{Timeout: readTimeout}
		in, rtt, err := client.ExchangeContext(ctx, msg, server)
		if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
			readTimeout *= 2
			continue
		}
		if err != nil {
			return "", err
		}
		prober.pool.markRTT(server, rtt)
		response = in
		break
	}
	if response == nil {
		return "", errors.New("timeout")
	}
	if response.Truncated {
		client := &dns.Client{Net: "tcp", Timeout: prober.timeout}
		in, rtt, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return "", err
		}
		prober.pool.markRTT(server, rtt)
		response = in
	}
	if response.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("query returned %s", dns.RcodeToString[response.Rcode])
	}
	for _, answer := range response.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		return strings.Join(txt.Txt, ""), nil
	}
	return "", errors.New("no TXT records in the answer")
}

// dkimRecordModulus extracts the p= tag from a DKIM TXT record and
// normalizes the key it carries down to its RSA modulus.
func dkimRecordModulus(record string) (*big.Int, error) {
	pubKeyB64, err := dkimPublicKeyTag(record)
	if err != nil {
		return nil, err
	}
	return rsaModulusFromBase64(pubKeyB64)
}

func dkimPublicKeyTag(record string) (string, error) {
	for _, tag := range strings.Split(record, ";") {
		tag = strings.TrimSpace(tag)
		value, ok := strings.CutPrefix(tag, "p=")
		if !ok {
			continue
		}
		// folding whitespace is allowed inside tag values
		value = strings.Join(strings.Fields(value), "")
		if len(value) == 0 {
			return "", errors.New("empty p= tag, key revoked")
		}
		return value, nil
	}
	return "", errors.New("no p= tag")
}

// rsaModulusFromBase64 frames an already-base64 key into a PEM block and
// parses it. The tag value is decoded exactly once, by the PEM parser.
func rsaModulusFromBase64(pubKeyB64 string) (*big.Int, error) {
	var pemBuilder strings.Builder
	pemBuilder.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(pubKeyB64) > 64 {
		pemBuilder.WriteString(pubKeyB64[:64])
		pemBuilder.WriteString("\n")
		pubKeyB64 = pubKeyB64[64:]
	}
	pemBuilder.WriteString(pubKeyB64)
	pemBuilder.WriteString("\n-----END PUBLIC KEY-----\n")
	block, _ := pem.Decode([]byte(pemBuilder.String()))
	if block == nil {
		return nil, errors.New("invalid base64 in p= tag")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// some providers publish a bare RSAPublicKey structure
		rsaPub, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, err
		}
		pub = rsaPub
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	if rsaPub.N == nil || rsaPub.N.Sign() <= 0 {
		return nil, errors.New("invalid RSA modulus")
	}
	return rsaPub.N, nil
}
