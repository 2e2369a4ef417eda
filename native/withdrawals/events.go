package withdrawals

import (
	"creditchain/core/events"
	"creditchain/crypto"
)

const (
	eventsKindQueued      = events.TypeWithdrawalQueued
	eventsKindPooled      = events.TypeWithdrawalPooled
	eventsKindBroadcasted = events.TypeWithdrawalBroadcasted
	eventsKindExpired     = events.TypeWithdrawalExpired
	eventsKindCompleted   = events.TypeWithdrawalCompleted
)

// NewEvent renders the lifecycle event for a request.
func NewEvent(kind string, req *Request, height uint64, denom, reason string) events.Withdrawal {
	return events.Withdrawal{
		Kind:     kind,
		ID:       req.ID,
		Owner:    crypto.FormatOwner(req.Owner),
		Amount:   req.Amount,
		Denom:    denom,
		Status:   req.Status.String(),
		Height:   height,
		TxIndex:  req.TxIndex,
		HasIndex: req.HasIndex,
		Deadline: req.ExpiryDeadline,
		Attempts: req.Attempts,
		Reason:   reason,
	}
}

func (e *Engine) emit(kind string, req *Request, height uint64, reason string) {
	if e.emitter == nil || req == nil {
		return
	}
	e.emitter.Emit(NewEvent(kind, req, height, e.params.Denom, reason))
}
