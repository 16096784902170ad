package entity

import "errors"

var (
	// ErrClosed is returned for operations started after Registry.Shutdown.
	ErrClosed = errors.New("entity: registry is shut down")

	// ErrPending is returned by Mutation.Result before the mutation settles.
	ErrPending = errors.New("entity: mutation still pending")
)
