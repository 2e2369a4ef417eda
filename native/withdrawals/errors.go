package withdrawals

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParams reports a configuration that must be rejected at startup.
	ErrInvalidParams = errors.New("withdrawals: invalid parameters")
	// ErrInvariantViolation is fatal: the engine state can no longer be trusted
	// and block processing must stop without committing.
	ErrInvariantViolation = errors.New("withdrawals: invariant violation")
	// ErrLedgerUnderflow is raised when a release exceeds the locked total.
	ErrLedgerUnderflow = fmt.Errorf("%w: locked ledger underflow", ErrInvariantViolation)
	// ErrLedgerOverflow is raised when a lock would overflow the locked total.
	ErrLedgerOverflow = fmt.Errorf("%w: locked ledger overflow", ErrInvariantViolation)
	// ErrInvalidTransition is raised when a status change is not permitted.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrInvariantViolation)

	// ErrChainUnavailable marks transport failures talking to the core chain.
	// The engine stops submitting for the rest of the block when it sees one.
	ErrChainUnavailable = errors.New("withdrawals: core chain unavailable")

	ErrNotFound            = errors.New("withdrawals: request not found")
	ErrInvalidAmount       = errors.New("withdrawals: invalid amount")
	ErrOwnerRequired       = errors.New("withdrawals: owner required")
	ErrDestinationRequired = errors.New("withdrawals: destination required")
	ErrInvalidHeight       = errors.New("withdrawals: invalid block height")

	errNilEngine = errors.New("withdrawals: engine not initialised")
	errNilStore  = errors.New("withdrawals: store not initialised")
)

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
