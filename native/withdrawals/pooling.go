package withdrawals

// SelectForPooling picks queued requests in order while the cumulative amount
// fits in remaining and the count stays within maxCount. Requests larger than
// what is left are skipped so smaller ones behind them can still be admitted.
func SelectForPooling(queue []*Request, remaining uint64, maxCount int) []*Request {
	if maxCount <= 0 || remaining == 0 {
		return nil
	}
	selected := make([]*Request, 0, maxCount)
	for _, req := range queue {
		if len(selected) == maxCount || remaining == 0 {
			break
		}
		if req == nil || req.Amount == 0 || req.Amount > remaining {
			continue
		}
		selected = append(selected, req)
		remaining -= req.Amount
	}
	return selected
}

// pool admits queued requests for this block and locks their amounts.
func (e *Engine) pool(blk *blockTx) error {
	remaining := blk.window.Remaining(blk.supply, e.params)
	maxCount := int(e.params.MaxPooledPerBlock)
	pageSize := int(e.params.PageSize)

	var cursor uint64
	admitted := 0
	for admitted < maxCount && remaining > 0 {
		page, err := e.store.ListByStatus(StatusQueued, cursor, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].Seq

		for _, req := range SelectForPooling(page, remaining, maxCount-admitted) {
			if err := blk.ledger.Lock(req.Amount); err != nil {
				return err
			}
			blk.window.Commit(req.Amount)
			remaining -= req.Amount
			req.PooledAt = blk.info.PlatformHeight
			if err := e.store.Transition(req, StatusPooled, blk.info.PlatformHeight); err != nil {
				return err
			}
			admitted++
			blk.report.Pooled++
			blk.report.touch(req.ID)
			e.emit(eventsKindPooled, req, blk.info.PlatformHeight, "")
		}
		if len(page) < pageSize {
			break
		}
	}
	return nil
}
