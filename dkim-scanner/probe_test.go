package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unable to generate an RSA key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("unable to marshal the public key: %v", err)
	}
	return key, base64.StdEncoding.EncodeToString(der)
}

// splitTXT slices a record into DNS character-strings of at most 255 bytes,
// the way large DKIM records arrive on the wire.
func splitTXT(record string) []string {
	var parts []string
	for len(record) > 255 {
		parts = append(parts, record[:255])
		record = record[255:]
	}
	return append(parts, record)
}

func startTestDNS(t *testing.T, records map[string][]string) string {
	t.Helper()
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		question := req.Question[0]
		txts, ok := records[strings.ToLower(question.Name)]
		if ok && question.Qtype == dns.TypeTXT {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
				Txt: txts,
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	server := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })
	return pc.LocalAddr().String()
}

func testProber(addr string) *SelectorProber {
	return NewSelectorProber(NewResolverPool([]string{addr}), 2*time.Second)
}

func TestProbeFindsKey(t *testing.T) {
	key, pubKeyB64 := generateTestKey(t)
	addr := startTestDNS(t, map[string][]string{
		"google._domainkey.example.com.": splitTXT("v=DKIM1; k=rsa; p=" + pubKeyB64),
	})
	prober := testProber(addr)

	modulus := prober.Probe(context.Background(), "example.com", "google")
	if modulus == nil {
		t.Fatal("expected a modulus")
	}
	if modulus.Cmp(key.PublicKey.N) != 0 {
		t.Error("extracted modulus does not match the published key")
	}
}

func TestProbeMissesAreNil(t *testing.T) {
	_, pubKeyB64 := generateTestKey(t)
	addr := startTestDNS(t, map[string][]string{
		"nop._domainkey.example.com.":     {"v=DKIM1; k=rsa"},
		"revoked._domainkey.example.com.": {"v=DKIM1; p="},
		"garbage._domainkey.example.com.": {"v=DKIM1; p=!!not-base64!!"},
		"notkey._domainkey.example.com.":  {"just some text"},
		"valid._domainkey.example.com.":   splitTXT("v=DKIM1; p=" + pubKeyB64),
	})
	prober := testProber(addr)
	ctx := context.Background()

	for _, selector := range []string{"nop", "revoked", "garbage", "notkey", "absent"} {
		if modulus := prober.Probe(ctx, "example.com", selector); modulus != nil {
			t.Errorf("selector %q: expected no result, got a modulus", selector)
		}
	}
	if modulus := prober.Probe(ctx, "example.com", "valid"); modulus == nil {
		t.Error("control selector should have resolved")
	}
}

// A truncated UDP answer must be retried over TCP against the same resolver
// before the record is given up on.
func TestProbeRetriesOverTCPOnTruncation(t *testing.T) {
	key, pubKeyB64 := generateTestKey(t)
	record := splitTXT("v=DKIM1; k=rsa; p=" + pubKeyB64)

	fullAnswer := func(req *dns.Msg) *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(req)
		question := req.Question[0]
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
			Txt: record,
		})
		return m
	}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	ln, err := net.Listen("tcp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("unable to listen on TCP: %v", err)
	}
	// the UDP side only ever admits that the answer did not fit
	udpServer := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Truncated = true
		_ = w.WriteMsg(m)
	})}
	tcpServer := &dns.Server{Listener: ln, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		_ = w.WriteMsg(fullAnswer(req))
	})}
	go func() { _ = udpServer.ActivateAndServe() }()
	go func() { _ = tcpServer.ActivateAndServe() }()
	t.Cleanup(func() {
		_ = udpServer.Shutdown()
		_ = tcpServer.Shutdown()
	})

	prober := testProber(pc.LocalAddr().String())
	modulus := prober.Probe(context.Background(), "example.com", "google")
	if modulus == nil {
		t.Fatal("expected the truncated answer to be refetched over TCP")
	}
	if modulus.Cmp(key.PublicKey.N) != 0 {
		t.Error("extracted modulus does not match the published key")
	}
}

// A resolver that stays silent past the timeout gets one more chance, with a
// doubled timeout, before the probe counts as a miss.
func TestProbeRetriesAfterTimeout(t *testing.T) {
	key, pubKeyB64 := generateTestKey(t)
	record := splitTXT("v=DKIM1; k=rsa; p=" + pubKeyB64)

	var queries atomic.Int32
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		if queries.Add(1) == 1 {
			// swallow the first query without answering
			return
		}
		m := new(dns.Msg)
		m.SetReply(req)
		question := req.Question[0]
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
			Txt: record,
		})
		_ = w.WriteMsg(m)
	})
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	server := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	prober := NewSelectorProber(NewResolverPool([]string{pc.LocalAddr().String()}), 250*time.Millisecond)
	modulus := prober.Probe(context.Background(), "example.com", "google")
	if modulus == nil {
		t.Fatal("expected the probe to be retried after the timeout")
	}
	if modulus.Cmp(key.PublicKey.N) != 0 {
		t.Error("extracted modulus does not match the published key")
	}
	if queries.Load() < 2 {
		t.Errorf("expected at least 2 queries, saw %d", queries.Load())
	}
}

func TestDKIMPublicKeyTag(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		want    string
		wantErr bool
	}{
		{"plain", "v=DKIM1; k=rsa; p=AAAA", "AAAA", false},
		{"no spaces", "v=DKIM1;p=BBBB", "BBBB", false},
		{"trailing semicolon", "p=CCCC;", "CCCC", false},
		{"folded whitespace", "p=DD DD\tDD", "DDDDDD", false},
		{"sp tag is not p", "sp=XXXX; p=EEEE", "EEEE", false},
		{"missing", "v=DKIM1; k=rsa", "", true},
		{"revoked", "v=DKIM1; p=", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dkimPublicKeyTag(tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRSAModulusFromBase64PKCS1Fallback(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pkcs1 := base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	modulus, err := rsaModulusFromBase64(pkcs1)
	if err != nil {
		t.Fatalf("PKCS#1 key rejected: %v", err)
	}
	if modulus.Cmp(key.PublicKey.N) != 0 {
		t.Error("modulus mismatch")
	}
}

func TestRSAModulusRejectsNonRSAKeys(t *testing.T) {
	// an Ed25519 SubjectPublicKeyInfo is a valid PKIX blob but not RSA
	const ed25519SPKI = "MCowBQYDK2VwAyEAGb9ECWmEzf6FQbrBZ9w7lshQhqowtrbLDFw4rXAxZuE="
	if _, err := rsaModulusFromBase64(ed25519SPKI); err == nil {
		t.Error("expected a non-RSA key to be rejected")
	}
}
