// Package netdata keeps the local copy of a partition's network data and
// applies it.
//
// Receiving and applying are separate steps. Synchronizer.Save validates a
// network data blob and records it together with the leader data it came
// with, reporting whether the stable or full data version moved forward.
// Synchronizer.Activate then walks the stored blob and brings the effective
// state in line with it: 6LoWPAN contexts, the on-mesh prefix and external
// route table, service servers, the commissioning data cache, and SLAAC or
// DHCP address requests issued through AddressEffects.
//
// Activate marks every entry it sees with the current generation and purges
// the rest afterwards. Effects fire only on change, so activating the same
// blob twice is a no-op.
package netdata
