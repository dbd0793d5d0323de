// Package management serves the Thread management commands that read and
// change operational datasets and start commissioner-driven scans.
//
// Server registers handlers on a messaging.Service for the leader-side
// resources:
//
//	c/ag  MGMT_ACTIVE_GET
//	c/as  MGMT_ACTIVE_SET
//	c/pg  MGMT_PENDING_GET
//	c/ps  MGMT_PENDING_SET
//	c/pq  MGMT_PANID_QUERY
//	c/es  MGMT_ED_SCAN
//	c/ab  MGMT_ANNOUNCE_BEGIN
//
// plus the commissioner-side report resources c/pc and c/ed. Client issues
// the same commands. Payloads are MeshCoP TLV streams; dataset responses
// are built by the dataset package.
package management
