package bootstrap

import "errors"

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bootstrap: engine closed")

	// ErrUnknownInterface is returned for an interface that was not added.
	ErrUnknownInterface = errors.New("bootstrap: unknown interface")

	// ErrInterfaceExists is returned when adding an interface twice.
	ErrInterfaceExists = errors.New("bootstrap: interface already added")

	// ErrInvalidConfig is returned when a required collaborator is missing.
	ErrInvalidConfig = errors.New("bootstrap: invalid config")
)
