package storage

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ruteri/storage-distribution/interfaces"
)

// DefaultResolverAddress is the local stub resolver queried for SRV records.
const DefaultResolverAddress = "127.0.0.53:53"

// SRVResolver resolves offer endpoints published as DNS SRV records.
type SRVResolver struct {
	Address string
	Timeout time.Duration
}

// NewSRVResolver creates a resolver querying address, or the local stub
// resolver when address is empty.
func NewSRVResolver(address string) *SRVResolver {
	if address == "" {
		address = DefaultResolverAddress
	}
	return &SRVResolver{Address: address, Timeout: 5 * time.Second}
}

// Resolve returns "host:port" of the best SRV target for name: lowest
// priority first, then highest weight.
func (r *SRVResolver) Resolve(ctx context.Context, name string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: r.Timeout}
	in, _, err := c.ExchangeContext(ctx, m, r.Address)
	if err != nil {
		return "", fmt.Errorf("%w: SRV lookup %s: %v", interfaces.ErrBackendUnavailable, name, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w: SRV lookup %s: %s", interfaces.ErrBackendUnavailable, name, dns.RcodeToString[in.Rcode])
	}

	records := make([]*dns.SRV, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: no SRV record for %s", interfaces.ErrBackendUnavailable, name)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	best := records[0]
	return net.JoinHostPort(strings.TrimSuffix(best.Target, "."), strconv.Itoa(int(best.Port))), nil
}
