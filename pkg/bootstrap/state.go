package bootstrap

import "fmt"

// State is the bootstrap state of an interface.
type State uint8

const (
	// StateDisabled is the state before Init.
	StateDisabled State = iota
	StateActiveScan
	StateScan
	StateMleSync
	StateMleAttachReady
	StateChildIdRequest
	StateBootstrapDone
	StateScanFailed
	StateLeaderUp
	StateNewPartitionFragment
)

var stateNames = [...]string{
	StateDisabled:             "Disabled",
	StateActiveScan:           "ActiveScan",
	StateScan:                 "Scan",
	StateMleSync:              "MleSync",
	StateMleAttachReady:       "MleAttachReady",
	StateChildIdRequest:       "ChildIdRequest",
	StateBootstrapDone:        "BootstrapDone",
	StateScanFailed:           "ScanFailed",
	StateLeaderUp:             "LeaderUp",
	StateNewPartitionFragment: "NewPartitionFragment",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Attached reports whether the interface is part of a partition.
func (s State) Attached() bool {
	return s == StateBootstrapDone || s == StateLeaderUp
}

// AttachState tracks how the interface is attaching or attached.
type AttachState uint8

const (
	AttachNetworkDiscover AttachState = iota
	AttachReattach
	AttachReattachRetry
	AttachAny
	AttachConnected
	AttachConnectedRouter
)

var attachNames = [...]string{
	AttachNetworkDiscover: "NetworkDiscover",
	AttachReattach:        "Reattach",
	AttachReattachRetry:   "ReattachRetry",
	AttachAny:             "AttachAny",
	AttachConnected:       "Connected",
	AttachConnectedRouter: "ConnectedRouter",
}

func (a AttachState) String() string {
	if int(a) < len(attachNames) {
		return attachNames[a]
	}
	return fmt.Sprintf("AttachState(%d)", a)
}

// Role is a Thread device role. Roles are ordered by capability.
type Role uint8

const (
	RoleDetached Role = iota
	RoleEndDevice
	RoleREED
	RoleRouter
	RoleLeader
)

var roleNames = [...]string{
	RoleDetached:  "detached",
	RoleEndDevice: "end-device",
	RoleREED:      "reed",
	RoleRouter:    "router",
	RoleLeader:    "leader",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", r)
}

// ParseRole parses the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return Role(r), nil
		}
	}
	return RoleDetached, fmt.Errorf("bootstrap: unknown role %q", s)
}

// RouterEligible reports whether a device mode may act as a router.
func (r Role) RouterEligible() bool {
	return r >= RoleREED
}

// downgrade returns the next less capable attempt role.
func (r Role) downgrade() Role {
	switch r {
	case RoleLeader, RoleRouter:
		return RoleREED
	default:
		return RoleEndDevice
	}
}
