// Package dataset manages the operational datasets of a Thread interface.
//
// Each interface owns three configuration sets: the active set in force now,
// an optional pending set that replaces it once its delay timer expires, and
// the old set kept while a pending activation can still be reverted. Sets are
// MeshCoP TLV streams held in fixed 254 byte buffers and are edited by
// selective TLV copy (AddFields, AddAllFields, CopyMissing, CopyMandatory).
//
// An Instance derives a decoded LinkConfiguration from the active set and
// persists every change through storage.Storage. Persistence failures are
// logged; the in-memory sets stay authoritative.
//
// Instances are created and looked up through a Registry keyed by
// link.InterfaceID.
package dataset
