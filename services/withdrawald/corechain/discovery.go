package corechain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultService is the SRV service label advertising core RPC endpoints.
const DefaultService = "_corerpc._tcp"

// DiscoveryConfig selects the SRV record used to locate core nodes.
type DiscoveryConfig struct {
	Domain  string
	Server  string
	Service string
	Scheme  string
	Timeout time.Duration
}

// Discover resolves core RPC endpoints from SRV records, ordered by priority
// and then by descending weight.
func Discover(ctx context.Context, cfg DiscoveryConfig) ([]string, error) {
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, errors.New("corechain: discovery domain required")
	}
	server := strings.TrimSpace(cfg.Server)
	if server == "" {
		return nil, errors.New("corechain: discovery dns server required")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = DefaultService
	}
	scheme := strings.TrimSpace(cfg.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	name := dns.Fqdn(service + "." + domain)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeSRV)
	msg.RecursionDesired = true

	client := &dns.Client{Net: "udp", Timeout: timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("%w: srv lookup %s: %v", ErrUnavailable, name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("corechain: srv lookup %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	records := make([]*dns.SRV, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("corechain: no srv records for %s", name)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	endpoints := make([]string, 0, len(records))
	for _, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints = append(endpoints, scheme+"://"+net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
	}
	return endpoints, nil
}
