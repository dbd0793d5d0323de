// Package discovery finds Thread networks for the bootstrap engine and
// publishes this node's border agent record.
//
// The bootstrap engine depends only on the Scanner contract: a scan request
// in, one callback with the discovered networks out. MeshCoPScanner
// implements it by browsing the _meshcop._udp DNS-SD service with
// grandcat/zeroconf; Advertiser publishes the same record for other nodes.
package discovery
