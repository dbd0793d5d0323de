package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DNS-SD names for the Thread border agent service.
const (
	ServiceMeshCoP = "_meshcop._udp"
	DefaultDomain  = "local."
)

// DefaultAgentPort is the border agent UDP port.
const DefaultAgentPort = 49191

// MDNSServer is the interface for a registered mDNS service.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Port is the border agent port to advertise.
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory creates mDNS servers. Nil uses zeroconf.
	ServerFactory MDNSServerFactory

	// NewBackOff returns the retry policy for registration. Nil uses an
	// exponential policy capped at 30 seconds of retrying.
	NewBackOff func() backoff.BackOff

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes this node's _meshcop._udp record.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu       sync.Mutex
	server   MDNSServer
	instance string
	txt      MeshCoPTXT
	closed   bool
}

// NewAdvertiser creates a new Advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultAgentPort
	}
	if config.NewBackOff == nil {
		config.NewBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(200*time.Millisecond),
				backoff.WithMaxInterval(5*time.Second),
				backoff.WithMaxElapsedTime(30*time.Second),
			)
		}
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{config: config, factory: factory}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a
}

// InstanceName derives the DNS-SD instance name from the network name and
// the tail of the node's extended address.
func InstanceName(txt *MeshCoPTXT) string {
	return fmt.Sprintf("%s-%02X%02X", txt.NetworkName, txt.ExtAddress[6], txt.ExtAddress[7])
}

// Start registers the record, retrying transient registration failures
// until ctx is done or the retry policy gives up.
func (a *Advertiser) Start(ctx context.Context, txt MeshCoPTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}
	return a.registerLocked(ctx, txt)
}

// Update republishes the record with new TXT values.
func (a *Advertiser) Update(ctx context.Context, txt MeshCoPTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	return a.registerLocked(ctx, txt)
}

func (a *Advertiser) registerLocked(ctx context.Context, txt MeshCoPTXT) error {
	instance := InstanceName(&txt)
	records := txt.Encode()

	attempt := 0
	server, err := backoff.RetryWithData(func() (MDNSServer, error) {
		attempt++
		s, err := a.factory.Register(instance, ServiceMeshCoP, DefaultDomain, a.config.Port, records, a.config.Interfaces)
		if err != nil && a.log != nil {
			a.log.Debugf("register %s attempt %d: %v", instance, attempt, err)
		}
		return s, err
	}, backoff.WithContext(a.config.NewBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", instance, err)
	}

	if a.log != nil {
		a.log.Infof("advertising %s.%s on port %d", instance, ServiceMeshCoP, a.config.Port)
	}
	a.server = server
	a.instance = instance
	a.txt = txt
	return nil
}

// Stop withdraws the record.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	a.instance = ""
	return nil
}

// Close withdraws the record and rejects further use.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising reports whether a record is published.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Instance returns the published instance name, or "" when not advertising.
func (a *Advertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}
