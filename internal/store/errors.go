package store

import "errors"

// ErrAlreadyInProgress is returned by ClaimAccountExecution when another work
// item for the same account currently holds the IN_PROGRESS slot.
var ErrAlreadyInProgress = errors.New("another execution is in progress for this account")

// ErrClaimLost is returned by ClaimAccountExecution when the work item is no
// longer claimable, usually because it already reached a terminal status.
var ErrClaimLost = errors.New("work item is no longer claimable")
