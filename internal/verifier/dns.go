package verifier

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Result reports a single ownership check.
type Result struct {
	Verified      bool
	FailureReason string
}

// DNSVerifier proves domain ownership via a TXT record challenge. Pure
// I/O boundary, no internal state.
type DNSVerifier interface {
	Verify(ctx context.Context, domainName, token string) (Result, error)
}

// Resolver checks for the verification token in TXT records at
// <recordPrefix>.<domain>, e.g. _storeward.shop.example.com.
type Resolver struct {
	client       *dns.Client
	fallback     *net.Resolver
	serverAddr   string
	recordPrefix string
}

func NewResolver(serverAddr, recordPrefix string, timeout time.Duration) *Resolver {
	return &Resolver{
		client: &dns.Client{Timeout: timeout},
		fallback: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, network, address)
			},
		},
		serverAddr:   serverAddr,
		recordPrefix: recordPrefix,
	}
}

func (r *Resolver) Verify(ctx context.Context, domainName, token string) (Result, error) {
	recordName := fmt.Sprintf("%s.%s", r.recordPrefix, domainName)

	records, err := r.lookupTXT(ctx, recordName)
	if err != nil {
		return Result{}, fmt.Errorf("txt lookup for %s: %w", recordName, err)
	}

	for _, record := range records {
		if strings.TrimSpace(record) == token {
			return Result{Verified: true}, nil
		}
	}

	if len(records) == 0 {
		return Result{FailureReason: "no TXT record found at " + recordName}, nil
	}

	return Result{FailureReason: "TXT record at " + recordName + " does not match the verification token"}, nil
}

func (r *Resolver) lookupTXT(ctx context.Context, recordName string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(recordName), dns.TypeTXT)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.serverAddr)
	if err != nil {
		// Configured resolver unreachable; the system resolver may still
		// answer.
		return r.fallback.LookupTXT(ctx, recordName)
	}

	if resp.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query failed with code %s", dns.RcodeToString[resp.Rcode])
	}

	var records []string
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}

	return records, nil
}
