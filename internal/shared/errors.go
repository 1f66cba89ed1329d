package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Connection precondition errors. These abort a sync before any
	// external call is made.
	ErrNoConnection       = fmt.Errorf("no spotify connection found")
	ErrInactiveConnection = fmt.Errorf("spotify connection is inactive")

	// Persistence errors
	ErrNotFound       = fmt.Errorf("record not found")
	ErrUpsertConflict = fmt.Errorf("upsert conflict")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
