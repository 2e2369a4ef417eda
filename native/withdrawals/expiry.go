package withdrawals

const (
	expiryReasonDeadline = "deadline"
	expiryReasonRejected = "rejected"
)

// Overdue reports whether a broadcast request has passed its deadline at the
// given chain-locked core height.
func Overdue(req *Request, coreHeight uint64) bool {
	if req == nil || req.Status != StatusBroadcasted || coreHeight == 0 {
		return false
	}
	return req.ExpiryDeadline <= coreHeight
}

// expire marks a broadcast request for resubmission. The lock is kept, so the
// ledger does not change.
func (e *Engine) expire(blk *blockTx, req *Request, reason string) error {
	if err := e.store.Transition(req, StatusExpired, blk.info.PlatformHeight); err != nil {
		return err
	}
	blk.report.Expired++
	blk.report.touch(req.ID)
	e.emit(eventsKindExpired, req, blk.info.PlatformHeight, reason)
	return nil
}
