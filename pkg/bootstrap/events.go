package bootstrap

import (
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/netdata"
)

// Event is an input to the state machine. The set of events is closed.
type Event interface {
	eventName() string
}

// ResetReason says why a Reset was queued.
type ResetReason uint8

const (
	ResetRequested ResetReason = iota
	ResetPartitionMerge
	ResetAnnounce
	ResetDatasetChanged
)

func (r ResetReason) String() string {
	switch r {
	case ResetRequested:
		return "requested"
	case ResetPartitionMerge:
		return "partition-merge"
	case ResetAnnounce:
		return "announce"
	case ResetDatasetChanged:
		return "dataset-changed"
	default:
		return "unknown"
	}
}

// Init starts the interface.
type Init struct{}

// Reset tears down the attachment and restarts at Scan.
type Reset struct {
	Reason ResetReason
}

// AttachReady reports a successful child id exchange with Parent.
type AttachReady struct {
	Parent       link.ExtAddress
	ParentShort  link.ShortAddress
	ShortAddress link.ShortAddress
	LeaderData   netdata.LeaderData
	RouterCount  uint8

	// NetworkData is the partition's network data, if delivered.
	NetworkData []byte

	// ActiveDataset replaces active dataset TLVs when delivered by the parent.
	ActiveDataset []byte
}

// UpgradeToRouter asks a REED to request a router id.
type UpgradeToRouter struct{}

// DowngradeToReed asks a router to release its router id.
type DowngradeToReed struct{}

// ActiveRouterAttach reports that the leader granted RouterID.
type ActiveRouterAttach struct {
	RouterID uint8
}

// RouterIdGetFailed reports that the leader refused a router id.
type RouterIdGetFailed struct{}

// RouterIdReleased reports that the leader withdrew this node's router id.
type RouterIdReleased struct{}

// RouterAdded reports that this node, as leader, granted a router id.
type RouterAdded struct {
	Router link.ExtAddress
}

// RouterRemoved reports that a router gave its id back to this leader.
type RouterRemoved struct {
	Router link.ExtAddress
}

// ChildIdRequestReceived reports a child trying to attach through this node.
type ChildIdRequestReceived struct {
	Child link.ExtAddress
}

// ChildUpdate reports a child update response from the parent.
type ChildUpdate struct{}

// AnnounceActive reports an MLE Announce heard from the same network.
type AnnounceActive struct {
	Channel         link.Channel
	Page            uint8
	PanID           link.PanID
	ActiveTimestamp uint64
}

// TimerKind names the engine's countdown timers.
type TimerKind uint8

const (
	TimerScanBackoff TimerKind = iota
	TimerRouterUpgrade
	TimerAnnounce
	numTimers
)

func (k TimerKind) String() string {
	switch k {
	case TimerScanBackoff:
		return "scan-backoff"
	case TimerRouterUpgrade:
		return "router-upgrade"
	case TimerAnnounce:
		return "announce"
	default:
		return "unknown"
	}
}

// Timer is posted when a countdown reaches zero.
type Timer struct {
	Kind TimerKind
}

// ScanComplete carries the results of a discovery scan.
type ScanComplete struct {
	Networks []discovery.Network
	Err      error
}

// ConnectionError reports that a request ran out of retries.
type ConnectionError struct {
	Handle         messaging.Handle
	UsedAllRetries bool
}

// SecurityRejected reports that Peer refused a request on security grounds
// or answered with something that failed validation. The peer is
// blacklisted.
type SecurityRejected struct {
	Handle messaging.Handle
	Peer   link.ExtAddress
	Reason string
}

// LeaderDataHeard reports leader data of another partition.
type LeaderDataHeard struct {
	LeaderData  netdata.LeaderData
	RouterCount uint8
}

// AnnounceBegin starts an announce sequence on the channels in ChannelMask.
type AnnounceBegin struct {
	ChannelMask uint32
	Count       uint8
	PeriodSec   uint16
}

// DatasetChanged reports that the active dataset was replaced.
type DatasetChanged struct {
	// ChannelChanged is set when the channel or PAN id moved.
	ChannelChanged  bool
	PreviousChannel link.Channel
}

type tick struct{}

func (Init) eventName() string                   { return "Init" }
func (Reset) eventName() string                  { return "Reset" }
func (AttachReady) eventName() string            { return "AttachReady" }
func (UpgradeToRouter) eventName() string        { return "UpgradeToRouter" }
func (DowngradeToReed) eventName() string        { return "DowngradeToReed" }
func (ActiveRouterAttach) eventName() string     { return "ActiveRouterAttach" }
func (RouterIdGetFailed) eventName() string      { return "RouterIdGetFailed" }
func (RouterIdReleased) eventName() string       { return "RouterIdReleased" }
func (RouterAdded) eventName() string            { return "RouterAdded" }
func (RouterRemoved) eventName() string          { return "RouterRemoved" }
func (ChildIdRequestReceived) eventName() string { return "ChildIdRequestReceived" }
func (ChildUpdate) eventName() string            { return "ChildUpdate" }
func (AnnounceActive) eventName() string         { return "AnnounceActive" }
func (Timer) eventName() string                  { return "Timer" }
func (ScanComplete) eventName() string           { return "ScanComplete" }
func (ConnectionError) eventName() string        { return "ConnectionError" }
func (SecurityRejected) eventName() string       { return "SecurityRejected" }
func (LeaderDataHeard) eventName() string        { return "LeaderDataHeard" }
func (AnnounceBegin) eventName() string          { return "AnnounceBegin" }
func (DatasetChanged) eventName() string         { return "DatasetChanged" }
func (tick) eventName() string                   { return "Tick" }
