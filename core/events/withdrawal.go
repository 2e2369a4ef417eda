package events

import (
	"encoding/hex"
	"strconv"
	"strings"

	"creditchain/core/types"
)

const (
	TypeWithdrawalQueued      = "withdrawal.queued"
	TypeWithdrawalPooled      = "withdrawal.pooled"
	TypeWithdrawalBroadcasted = "withdrawal.broadcasted"
	TypeWithdrawalExpired     = "withdrawal.expired"
	TypeWithdrawalCompleted   = "withdrawal.completed"
)

// Withdrawal captures a lifecycle transition of a withdrawal request.
type Withdrawal struct {
	Kind     string
	ID       [32]byte
	Owner    string
	Amount   uint64
	Denom    string
	Status   string
	Height   uint64
	TxIndex  uint64
	HasIndex bool
	Deadline uint64
	Attempts uint32
	Reason   string
}

func (e Withdrawal) EventType() string { return e.Kind }

// Event renders the lifecycle transition for downstream consumers.
func (e Withdrawal) Event() *types.Event {
	attrs := map[string]string{
		"id":     hex.EncodeToString(e.ID[:]),
		"amount": strconv.FormatUint(e.Amount, 10),
		"status": e.Status,
		"height": strconv.FormatUint(e.Height, 10),
	}
	if owner := strings.TrimSpace(e.Owner); owner != "" {
		attrs["owner"] = owner
	}
	if denom := normalizeAsset(e.Denom); denom != "" {
		attrs["denom"] = denom
	}
	if e.HasIndex {
		attrs["txIndex"] = strconv.FormatUint(e.TxIndex, 10)
	}
	if e.Deadline > 0 {
		attrs["deadline"] = strconv.FormatUint(e.Deadline, 10)
	}
	if e.Attempts > 0 {
		attrs["attempts"] = strconv.FormatUint(uint64(e.Attempts), 10)
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

// Recorder collects emitted events in memory. Block drivers use it to gather a
// block's events before fanning them out once the block commits.
type Recorder struct {
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.events = append(r.events, evt)
}

// Drain returns the recorded events and clears the buffer.
func (r *Recorder) Drain() []Event {
	if r == nil {
		return nil
	}
	out := r.events
	r.events = nil
	return out
}
