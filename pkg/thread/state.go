package thread

// NodeState is the lifecycle of a Node. States only move forward; a stopped
// node cannot be restarted.
type NodeState int

const (
	NodeStateInitialized NodeState = iota
	NodeStateStarting
	NodeStateRunning
	NodeStateStopping
	NodeStateStopped
)

var nodeStateNames = [...]string{"Initialized", "Starting", "Running", "Stopping", "Stopped"}

func (s NodeState) String() string {
	if s < 0 || int(s) >= len(nodeStateNames) {
		return "Unknown"
	}
	return nodeStateNames[s]
}

// CanStart reports whether Start is allowed. A failed start returns the
// node to Initialized.
func (s NodeState) CanStart() bool { return s == NodeStateInitialized }

// CanStop reports whether Stop has work to do.
func (s NodeState) CanStop() bool { return s == NodeStateStarting || s == NodeStateRunning }
