// Package bootstrap drives a Thread interface from power-on to an attached
// role.
//
// An Engine runs one state machine per interface. Events are queued with
// OnEvent and Tick and processed strictly in arrival order by a single
// goroutine (Run) or synchronously (RunPending). Handlers never block: scans,
// message exchanges and delays complete later as new events.
//
// The main path is
//
//	ActiveScan -> Scan -> ChildIdRequest -> MleAttachReady -> BootstrapDone
//
// with MleSync replacing the scan when a persisted parent allows a direct
// reattach, and NewPartitionFragment -> LeaderUp when a router-eligible node
// gives up looking for a parent and forms its own partition. Failures
// re-enter Scan after min(2*scanCount, 600) seconds plus jitter and walk the
// attempted role down from router to REED to end device before attaching to
// any partition.
//
// Partition merges and channel announcements never re-enter the machine
// directly; they queue a Reset, and a second Reset queued before the first is
// handled is dropped.
package bootstrap
