package withdrawals

import (
	"context"
)

const observedReason = "observed"

// reconcile queries the core chain once for every request holding a
// transaction index: broadcast requests, plus pooled or expired requests
// whose index may already have been relayed by an earlier submission the
// node rejected as a duplicate. Confirmed requests complete and release
// their lock; rejected or overdue broadcasts expire and keep it; a pending
// index on an unbroadcast request is adopted as a broadcast. A failed query
// changes nothing.
func (e *Engine) reconcile(ctx context.Context, blk *blockTx) error {
	tracked, err := e.trackedRequests()
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		return nil
	}
	indices := make([]uint64, 0, len(tracked))
	for _, req := range tracked {
		indices = append(indices, req.TxIndex)
	}
	statuses, err := e.client.QueryStatuses(ctx, indices, blk.coreHeight)
	if err != nil {
		blk.report.skip("reconcile", err)
		e.logger.Warn("asset unlock status query failed", "height", blk.info.PlatformHeight, "indices", len(indices), "error", err)
		return nil
	}

	for _, req := range tracked {
		status := statuses[req.TxIndex]
		if req.Status != StatusBroadcasted {
			if err := e.adopt(blk, req, status); err != nil {
				return err
			}
			continue
		}
		switch status {
		case ExternalChainlocked:
			if err := e.complete(blk, req); err != nil {
				return err
			}
		case ExternalRejected:
			if err := e.expire(blk, req, expiryReasonRejected); err != nil {
				return err
			}
		default:
			if Overdue(req, blk.coreHeight) {
				if err := e.expire(blk, req, expiryReasonDeadline); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// trackedRequests lists every broadcast request and every pooled or expired
// request that already holds a transaction index.
func (e *Engine) trackedRequests() ([]*Request, error) {
	broadcasted, err := e.store.ListByStatus(StatusBroadcasted, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, req := range broadcasted {
		if !req.HasIndex {
			return nil, invariantf("broadcast request %s has no transaction index", req.ID)
		}
	}
	tracked := broadcasted
	for _, status := range []Status{StatusPooled, StatusExpired} {
		reqs, err := e.store.ListByStatus(status, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			if req.HasIndex {
				tracked = append(tracked, req)
			}
		}
	}
	return tracked, nil
}

// adopt applies the core chain's view of an index whose last submission was
// not recorded as a broadcast. Unknown or rejected indices are left for the
// broadcast pass to resubmit.
func (e *Engine) adopt(blk *blockTx, req *Request, status ExternalStatus) error {
	switch status {
	case ExternalChainlocked:
		return e.complete(blk, req)
	case ExternalPending:
		retry := req.Status == StatusExpired
		req.Attempts++
		req.BroadcastAt = blk.info.PlatformHeight
		req.CoreHeightAtBroadcast = blk.coreHeight
		req.ExpiryDeadline = blk.coreHeight + e.params.ExpiryCoreBlocks
		if err := e.store.Transition(req, StatusBroadcasted, blk.info.PlatformHeight); err != nil {
			return err
		}
		if retry {
			blk.report.Rebroadcast++
		} else {
			blk.report.Broadcasted++
		}
		blk.report.touch(req.ID)
		e.emit(eventsKindBroadcasted, req, blk.info.PlatformHeight, observedReason)
	}
	return nil
}

func (e *Engine) complete(blk *blockTx, req *Request) error {
	height := blk.info.PlatformHeight
	if err := blk.ledger.Release(req.Amount); err != nil {
		return err
	}
	req.CompletedAt = height
	if err := e.store.Transition(req, StatusComplete, height); err != nil {
		return err
	}
	blk.report.Completed++
	blk.report.Released += req.Amount
	blk.report.touch(req.ID)
	e.emit(eventsKindCompleted, req, height, "")
	return nil
}
