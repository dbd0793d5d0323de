package discovery

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultScanDuration bounds a scan whose request sets no duration.
const DefaultScanDuration = 3 * time.Second

// MDNSResolver is the interface for mDNS browsing.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ScannerConfig holds configuration for a MeshCoPScanner.
type ScannerConfig struct {
	// MDNSResolver browses for services. Nil uses zeroconf.
	MDNSResolver MDNSResolver

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// MeshCoPScanner discovers Thread networks from border agent records.
type MeshCoPScanner struct {
	resolver MDNSResolver
	log      logging.LeveledLogger

	mu       sync.Mutex
	scanning bool
}

// NewMeshCoPScanner creates a scanner.
func NewMeshCoPScanner(config ScannerConfig) (*MeshCoPScanner, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	s := &MeshCoPScanner{resolver: resolver}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("scan")
	}
	return s, nil
}

// Scan implements Scanner. Records are collected until the request
// duration elapses or ctx is done, deduplicated by extended PAN id, filtered
// by the request and delivered in preference order.
func (s *MeshCoPScanner) Scan(ctx context.Context, req ScanRequest, cb ScanCallback) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	s.scanning = true
	s.mu.Unlock()

	d := req.Duration
	if d <= 0 {
		d = DefaultScanDuration
	}

	go func() {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		entries := make(chan *zeroconf.ServiceEntry)
		browseErr := make(chan error, 1)
		go func() {
			defer close(entries)
			browseErr <- s.resolver.Browse(ctx, ServiceMeshCoP, DefaultDomain, entries)
		}()

		var found []Network
		for entry := range entries {
			n, ok := s.toNetwork(entry)
			if !ok || !req.Matches(n) {
				continue
			}
			if i := slices.IndexFunc(found, func(f Network) bool { return f.ExtendedPanID == n.ExtendedPanID }); i >= 0 {
				continue
			}
			found = append(found, n)
		}
		err := <-browseErr

		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()

		SortByPreference(found)
		if s.log != nil {
			s.log.Debugf("scan found %d networks", len(found))
		}
		if err != nil && len(found) == 0 {
			cb(nil, err)
			return
		}
		cb(found, nil)
	}()
	return nil
}

func (s *MeshCoPScanner) toNetwork(entry *zeroconf.ServiceEntry) (Network, bool) {
	txt, err := ParseMeshCoPTXT(entry.Text)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("skip %s: %v", entry.Instance, err)
		}
		return Network{}, false
	}

	n := Network{
		PanID:         txt.PanID,
		ExtendedPanID: txt.ExtendedPanID,
		NetworkName:   txt.NetworkName,
		Channel:       txt.Channel,
		RSSI:          RSSIUnknown,
		ExtAddress:    txt.ExtAddress,
	}
	if ip, ok := preferredAddr(entry); ok {
		n.Agent = net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(entry.Port)))
	}
	return n, true
}

// preferredAddr picks a ULA or global IPv6 address first, then link-local
// IPv6, then IPv4.
func preferredAddr(entry *zeroconf.ServiceEntry) (netip.Addr, bool) {
	var addrs []netip.Addr
	for _, ip := range entry.AddrIPv6 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	for _, ip := range entry.AddrIPv4 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	if len(addrs) == 0 {
		return netip.Addr{}, false
	}
	slices.SortStableFunc(addrs, func(a, b netip.Addr) int {
		return addrRank(a) - addrRank(b)
	})
	return addrs[0], true
}

func addrRank(a netip.Addr) int {
	switch {
	case a.Is4():
		return 3
	case a.IsLinkLocalUnicast():
		return 2
	case a.IsGlobalUnicast() || a.IsPrivate():
		return 0
	default:
		return 1
	}
}

var _ Scanner = (*MeshCoPScanner)(nil)
