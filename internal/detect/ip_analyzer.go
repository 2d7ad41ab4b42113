package detect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// IP Analyzer
//
// Classifies the client address as datacenter-hosted or residential.
// Three sources, in priority order:
//
//   1. Prefix hints  — fast static guess over well-known cloud blocks
//   2. ASN lookup    — injected resolver; its answer OVERRIDES the guess
//   3. Dynamic CIDRs — operator-maintained list, consulted when neither
//                      of the above concluded
//
// A datacenter origin raises ip.is_datacenter and contributes bot
// evidence scaled by the configured datacenter confidence.
// ──────────────────────────────────────────────────────────────────────

const ipAnalyzerName = "ip_analyzer"

// ASNLookup resolves an address to its autonomous system. Implementations
// are external collaborators (MMDB files, BGP APIs); the detector only
// needs the datacenter verdict.
type ASNLookup interface {
	Lookup(ctx context.Context, ip string) (asn int, isDatacenter bool, err error)
}

// cloudPrefixHints are coarse first-octet blocks of the big cloud
// providers, the cheap guess consulted before any lookup.
var cloudPrefixHints = []string{
	"3.", "13.", "18.", "34.", "35.", "52.", "54.", // AWS + GCP
	"20.", "40.", "104.", // Azure
	"139.59.", "142.93.", "165.227.", "167.99.", "159.65.", // DigitalOcean
	"5.9.", "88.99.", "95.216.", "135.181.", // Hetzner
}

// CIDRSet is a mutable, concurrency-safe set of datacenter CIDR ranges —
// the operator-maintained dynamic list.
type CIDRSet struct {
	mu   sync.RWMutex
	nets []*net.IPNet
}

// NewCIDRSet parses the given CIDR strings; invalid entries are rejected.
func NewCIDRSet(cidrs []string) (*CIDRSet, error) {
	s := &CIDRSet{}
	for _, c := range cidrs {
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add parses and inserts one CIDR range.
func (s *CIDRSet) Add(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	s.mu.Lock()
	s.nets = append(s.nets, network)
	s.mu.Unlock()
	return nil
}

// Contains reports whether the address falls in any range.
func (s *CIDRSet) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// IPAnalyzerConfig parametrises the datacenter detector.
type IPAnalyzerConfig struct {
	DatacenterConfidence float64 // Contribution delta for a datacenter hit, default 0.6
	Weight               float64 // Fusion weight, default 1.5
	ASN                  ASNLookup
	DynamicCIDRs         *CIDRSet
}

// NewIPAnalyzer builds the datacenter-origin detector.
func NewIPAnalyzer(cfg IPAnalyzerConfig) *Detector {
	if cfg.DatacenterConfidence <= 0 {
		cfg.DatacenterConfidence = 0.6
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1.5
	}
	return &Detector{
		Name:            ipAnalyzerName,
		Category:        "Network",
		Priority:        30,
		Timeout:         150 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		AccessesPII:     true,
		RequiredSignals: []string{"ip.present"},
		Detect: func(ctx context.Context, req *Request) ([]models.Contribution, error) {
			return detectDatacenter(ctx, req, cfg)
		},
	}
}

func detectDatacenter(ctx context.Context, req *Request, cfg IPAnalyzerConfig) ([]models.Contribution, error) {
	data := req.PII()
	if data == nil || data.ClientIP == "" {
		return nil, nil
	}
	ip := data.ClientIP

	isDatacenter := false
	source := ""

	// 1. Prefix hint guess.
	for _, prefix := range cloudPrefixHints {
		if strings.HasPrefix(ip, prefix) {
			isDatacenter = true
			source = "prefix_hint"
			break
		}
	}

	// 2. ASN lookup overrides the guess either way.
	if cfg.ASN != nil {
		if _, dc, err := cfg.ASN.Lookup(ctx, ip); err == nil {
			isDatacenter = dc
			source = "asn"
		} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}

	// 3. Dynamic CIDR list, when nothing concluded yet.
	if !isDatacenter && cfg.DynamicCIDRs != nil && cfg.DynamicCIDRs.Contains(ip) {
		isDatacenter = true
		source = "dynamic_cidr"
	}

	if !isDatacenter {
		return nil, nil
	}

	req.Sink.RaiseValue("ip.is_datacenter", req.SessionID, true)
	c := contribution(ipAnalyzerName, "Network", cfg.DatacenterConfidence, cfg.Weight, "Client address in datacenter range")
	c.Signals = map[string]string{"ip.datacenter_source": source}
	return []models.Contribution{c}, nil
}
