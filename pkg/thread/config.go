package thread

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
	"github.com/backkem/thread/pkg/transport"
	"github.com/pion/logging"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// Node defaults.
const (
	DefaultTickInterval = time.Second

	// DefaultAdvertiseInterval is the number of ticks between leader data
	// advertisements of a router.
	DefaultAdvertiseInterval = 32
)

// NodeConfig holds all configuration for a Node.
type NodeConfig struct {
	Interfaces []InterfaceConfig `yaml:"interfaces"`

	// StoragePath is a SQLite database file. Empty keeps state in memory.
	// Ignored when Storage is set.
	StoragePath string `yaml:"storage"`

	// TickInterval is the wall time of one engine second. Default: 1s.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Engine tuning. Zero selects the bootstrap defaults.
	ScanDuration          time.Duration `yaml:"scan_duration"`
	RoleRetryLimit        int           `yaml:"role_retry_limit"`
	ReattachRetryLimit    int           `yaml:"reattach_retry_limit"`
	RouterSelectionJitter int           `yaml:"router_selection_jitter"`

	// AdvertiseInterval is the number of ticks between leader data
	// advertisements. Default: 32.
	AdvertiseInterval int `yaml:"advertise_interval"`

	// Injected collaborators - Optional
	Storage           storage.Storage               `yaml:"-"`
	Scanner           discovery.Scanner             `yaml:"-"` // default: mDNS MeshCoP scanner
	MDNSServerFactory discovery.MDNSServerFactory   `yaml:"-"` // default: zeroconf
	TracerProvider    trace.TracerProvider          `yaml:"-"`
	Rand              *rand.Rand                    `yaml:"-"`
	LoggerFactory     logging.LoggerFactory         `yaml:"-"`
	OnStateChanged    func(state NodeState)         `yaml:"-"`
	OnStatusChanged   func(status bootstrap.Status) `yaml:"-"`
}

// InterfaceConfig configures one Thread interface of a Node.
type InterfaceConfig struct {
	ID link.InterfaceID `yaml:"id"`

	// EUI64 is 16 hex digits. Empty derives one from ID.
	EUI64 string `yaml:"eui64"`

	// Mode is "router", "reed" or "end-device". Default: router.
	Mode string `yaml:"mode"`

	// ListenAddress is the UDP address of the link. Default: ":61631".
	ListenAddress string `yaml:"listen"`

	// Broadcast is where announces, leader data and parentless requests go.
	// A multicast group is joined on NetworkInterface. Empty disables them.
	Broadcast string `yaml:"broadcast"`

	// NetworkInterface is the host interface multicast is joined on.
	NetworkInterface string `yaml:"interface"`

	// ActiveDataset is hex encoded dataset TLVs installed when nothing is
	// persisted.
	ActiveDataset string `yaml:"active_dataset"`

	// Weighting is used when the interface forms a partition.
	Weighting uint8 `yaml:"weighting"`

	// Advertise publishes a _meshcop._udp record while attached.
	Advertise bool `yaml:"advertise"`

	// Conn replaces the UDP socket, e.g. with one end of a transport.Pipe.
	Conn net.PacketConn `yaml:"-"`

	// BroadcastAddr overrides Broadcast.
	BroadcastAddr net.Addr `yaml:"-"`
}

// Validate checks the configuration for errors.
func (c *NodeConfig) Validate() error {
	if len(c.Interfaces) == 0 {
		return ErrNoInterfaces
	}
	if c.TickInterval < 0 || c.ScanDuration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.RoleRetryLimit < 0 || c.ReattachRetryLimit < 0 || c.RouterSelectionJitter < 0 || c.AdvertiseInterval < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}

	ids := make(map[link.InterfaceID]bool)
	listen := make(map[string]bool)
	for i := range c.Interfaces {
		ic := &c.Interfaces[i]
		if ids[ic.ID] {
			return fmt.Errorf("%w: duplicate interface %s", ErrInvalidConfig, ic.ID)
		}
		ids[ic.ID] = true
		if err := ic.validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ic.ID, err)
		}
		if ic.Conn == nil && ic.ListenAddress != "" {
			if listen[ic.ListenAddress] {
				return fmt.Errorf("%w: %s: listen address %s in use", ErrInvalidConfig, ic.ID, ic.ListenAddress)
			}
			listen[ic.ListenAddress] = true
		}
	}
	return nil
}

func (ic *InterfaceConfig) validate() error {
	if _, err := ic.role(); err != nil {
		return err
	}
	if _, err := ic.eui64(); err != nil {
		return err
	}
	if _, err := ic.activeDataset(); err != nil {
		return err
	}
	if _, err := ic.broadcastAddr(); err != nil {
		return err
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *NodeConfig) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.AdvertiseInterval == 0 {
		c.AdvertiseInterval = DefaultAdvertiseInterval
	}
	for i := range c.Interfaces {
		ic := &c.Interfaces[i]
		if ic.Mode == "" {
			ic.Mode = bootstrap.RoleRouter.String()
		}
		if ic.ListenAddress == "" && ic.Conn == nil {
			ic.ListenAddress = fmt.Sprintf(":%d", transport.ManagementPort)
		}
	}
}

func (ic *InterfaceConfig) role() (bootstrap.Role, error) {
	if ic.Mode == "" {
		return bootstrap.RoleRouter, nil
	}
	r, err := bootstrap.ParseRole(ic.Mode)
	if err != nil {
		return 0, err
	}
	switch r {
	case bootstrap.RoleEndDevice, bootstrap.RoleREED, bootstrap.RoleRouter:
		return r, nil
	default:
		return 0, fmt.Errorf("mode %q cannot be configured", ic.Mode)
	}
}

func (ic *InterfaceConfig) eui64() (link.ExtAddress, error) {
	var a link.ExtAddress
	if ic.EUI64 == "" {
		a[0] = 0x02
		a[7] = byte(ic.ID)
		return a, nil
	}
	b, err := hex.DecodeString(ic.EUI64)
	if err != nil {
		return a, fmt.Errorf("eui64: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("eui64 must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (ic *InterfaceConfig) activeDataset() ([]byte, error) {
	if ic.ActiveDataset == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(ic.ActiveDataset)
	if err != nil {
		return nil, fmt.Errorf("active dataset: %w", err)
	}
	if _, err := dataset.DecodeLinkConfiguration(b); err != nil {
		return nil, fmt.Errorf("active dataset: %w", err)
	}
	return b, nil
}

func (ic *InterfaceConfig) broadcastAddr() (net.Addr, error) {
	if ic.BroadcastAddr != nil {
		return ic.BroadcastAddr, nil
	}
	if ic.Broadcast == "" {
		return nil, nil
	}
	addr, err := transport.ParseUDPAddr(ic.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return addr, nil
}

// ParseConfig decodes a YAML node configuration.
func ParseConfig(data []byte) (NodeConfig, error) {
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML node configuration file.
func LoadConfig(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
