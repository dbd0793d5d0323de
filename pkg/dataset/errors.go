package dataset

import "errors"

var (
	// ErrSetFull is returned when a configuration set would exceed MaxSetSize.
	ErrSetFull = errors.New("dataset: configuration set full")

	// ErrMalformed is returned for TLV streams with broken framing.
	ErrMalformed = errors.New("dataset: malformed TLVs")

	// ErrMissingMandatory is returned when a mandatory TLV is absent.
	ErrMissingMandatory = errors.New("dataset: mandatory TLV missing")

	// ErrInvalidValue is returned when a TLV has an invalid length or value.
	ErrInvalidValue = errors.New("dataset: invalid TLV value")

	// ErrNoActive is returned when no active dataset exists.
	ErrNoActive = errors.New("dataset: no active dataset")

	// ErrNoPending is returned when no pending dataset exists.
	ErrNoPending = errors.New("dataset: no pending dataset")

	// ErrStalePending is returned when a pending set is not newer than the one it replaces.
	ErrStalePending = errors.New("dataset: pending timestamp not newer")

	// ErrTimestampRollback is returned when a pending activation would move the
	// active timestamp backwards without changing the network key.
	ErrTimestampRollback = errors.New("dataset: active timestamp rollback")

	// ErrNothingToRestore is returned by OldConfigActivate when no old set exists.
	ErrNothingToRestore = errors.New("dataset: nothing to restore")

	// ErrInterfaceExists is returned when initializing an interface twice.
	ErrInterfaceExists = errors.New("dataset: interface already initialized")

	// ErrInterfaceNotFound is returned for an unknown interface.
	ErrInterfaceNotFound = errors.New("dataset: interface not found")

	// ErrRegistryFull is returned when the registry is at capacity.
	ErrRegistryFull = errors.New("dataset: registry full")
)
