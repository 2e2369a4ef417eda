package withdrawals

import (
	"fmt"
	"math"
)

// Lock reserves amount in the ledger.
func (l *Ledger) Lock(amount uint64) error {
	if amount > math.MaxUint64-l.Total {
		return fmt.Errorf("%w: lock %d on top of %d", ErrLedgerOverflow, amount, l.Total)
	}
	l.Total += amount
	return nil
}

// Release returns amount from the ledger. Releasing more than is locked is an
// invariant violation.
func (l *Ledger) Release(amount uint64) error {
	if amount > l.Total {
		return fmt.Errorf("%w: release %d from %d", ErrLedgerUnderflow, amount, l.Total)
	}
	l.Total -= amount
	return nil
}

// lockedSum totals the amounts of every request that holds a reservation.
func (s *Store) lockedSum() (uint64, error) {
	var total uint64
	for _, status := range AllStatuses {
		if !status.Locked() {
			continue
		}
		reqs, err := s.ListByStatus(status, 0, 0)
		if err != nil {
			return 0, err
		}
		for _, req := range reqs {
			if req.Amount > math.MaxUint64-total {
				return 0, invariantf("locked sum overflow")
			}
			total += req.Amount
		}
	}
	return total, nil
}

// VerifyConservation checks that the ledger equals the sum of locked requests.
func (s *Store) VerifyConservation(ledger Ledger) error {
	sum, err := s.lockedSum()
	if err != nil {
		return err
	}
	if sum != ledger.Total {
		return invariantf("locked ledger %d does not match in-flight sum %d", ledger.Total, sum)
	}
	return nil
}
