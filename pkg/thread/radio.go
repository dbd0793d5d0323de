package thread

import (
	"sync"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/link"
	"github.com/pion/logging"
)

// RadioState is a snapshot of a VirtualRadio.
type RadioState struct {
	Running      bool
	Channel      link.Channel
	PanID        link.PanID
	Role         bootstrap.Role
	ShortAddress link.ShortAddress
}

// VirtualRadio stands in for an IEEE 802.15.4 radio when the link runs over
// UDP. It validates and records what the engine asks of it.
type VirtualRadio struct {
	log logging.LeveledLogger

	mu    sync.Mutex
	state RadioState

	// onResetNeighbors is called after ResetNeighbors.
	onResetNeighbors func()
}

// NewVirtualRadio creates a stopped radio.
func NewVirtualRadio(lf logging.LoggerFactory) *VirtualRadio {
	r := &VirtualRadio{state: RadioState{ShortAddress: link.ShortAddressInvalid}}
	if lf != nil {
		r.log = lf.NewLogger("radio")
	}
	return r
}

// Start tunes the radio.
func (r *VirtualRadio) Start(channel link.Channel, panID link.PanID, role bootstrap.Role) error {
	if err := channel.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.state.Running = true
	r.state.Channel = channel
	r.state.PanID = panID
	r.state.Role = role
	r.mu.Unlock()
	if r.log != nil {
		r.log.Debugf("start channel=%d pan=%s role=%s", channel, panID, role)
	}
	return nil
}

// Stop idles the radio.
func (r *VirtualRadio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Running = false
	return nil
}

// SetShortAddress sets the address frames are accepted for.
func (r *VirtualRadio) SetShortAddress(short link.ShortAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ShortAddress = short
	return nil
}

// ResetNeighbors forgets link-layer neighbors.
func (r *VirtualRadio) ResetNeighbors() {
	r.mu.Lock()
	fn := r.onResetNeighbors
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// State returns a snapshot of the radio.
func (r *VirtualRadio) State() RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *VirtualRadio) setResetHook(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResetNeighbors = fn
}

var _ bootstrap.Radio = (*VirtualRadio)(nil)
