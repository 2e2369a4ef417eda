package withdrawals

import (
	"context"
	"errors"
)

// broadcast resubmits expired requests first, then submits pooled requests,
// sharing one per-block cap. Expired requests already hold quota and a lock.
// Retries resolved by reconcile earlier in the block are skipped.
func (e *Engine) broadcast(ctx context.Context, blk *blockTx, retries []*Request) error {
	slots := int(e.params.MaxBroadcastPerBlock)
	for _, listed := range retries {
		if slots == 0 {
			return nil
		}
		req, err := e.store.BySeq(listed.Seq)
		if err != nil {
			return err
		}
		if req.Status != StatusExpired {
			continue
		}
		slots--
		halt, err := e.submit(ctx, blk, req)
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}
	if slots == 0 {
		return nil
	}
	pooled, err := e.store.ListByStatus(StatusPooled, 0, slots)
	if err != nil {
		return err
	}
	for _, req := range pooled {
		halt, err := e.submit(ctx, blk, req)
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}
	return nil
}

// submit sends one request to the core chain. A rejected submission leaves the
// request in its current status; halt reports that the chain is unreachable
// and no further submissions should be attempted this block.
func (e *Engine) submit(ctx context.Context, blk *blockTx, req *Request) (halt bool, err error) {
	retry := req.Status == StatusExpired
	if err := e.store.AssignTxIndex(req); err != nil {
		return false, err
	}
	tx := UnlockTx{
		Index:         req.TxIndex,
		RequestID:     req.ID,
		Amount:        req.Amount,
		Destination:   append([]byte(nil), req.Destination...),
		RequestHeight: blk.info.PlatformHeight,
		CoreHeight:    blk.coreHeight,
		Attempt:       req.Attempts + 1,
	}
	if submitErr := e.client.Submit(ctx, tx); submitErr != nil {
		blk.report.Failed++
		e.logger.Warn("asset unlock submission failed",
			"id", req.ID.String(),
			"txIndex", req.TxIndex,
			"status", req.Status.String(),
			"error", submitErr)
		return errors.Is(submitErr, ErrChainUnavailable) || ctx.Err() != nil, nil
	}

	req.Attempts++
	req.BroadcastAt = blk.info.PlatformHeight
	req.CoreHeightAtBroadcast = blk.coreHeight
	req.ExpiryDeadline = blk.coreHeight + e.params.ExpiryCoreBlocks
	if err := e.store.Transition(req, StatusBroadcasted, blk.info.PlatformHeight); err != nil {
		return false, err
	}
	if retry {
		blk.report.Rebroadcast++
	} else {
		blk.report.Broadcasted++
	}
	blk.report.touch(req.ID)
	e.emit(eventsKindBroadcasted, req, blk.info.PlatformHeight, "")
	return false, nil
}
