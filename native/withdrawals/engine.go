package withdrawals

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"creditchain/core/events"
)

// SupplySource reports the total platform credit supply.
type SupplySource interface {
	TotalSupply() (*big.Int, error)
}

// SupplyFunc adapts a function into a SupplySource.
type SupplyFunc func() (*big.Int, error)

func (f SupplyFunc) TotalSupply() (*big.Int, error) { return f() }

// ChainClient is the engine's view of the core chain.
type ChainClient interface {
	Submit(ctx context.Context, tx UnlockTx) error
	QueryStatuses(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]ExternalStatus, error)
	BestChainLockHeight(ctx context.Context) (uint64, error)
}

// Engine drives withdrawal requests through their lifecycle one block at a
// time. It is not safe for concurrent use; the block driver serialises access.
type Engine struct {
	store   *Store
	supply  SupplySource
	client  ChainClient
	params  Params
	emitter events.Emitter
	logger  *slog.Logger
	paused  atomic.Bool
}

// Option customises the engine.
type Option func(*Engine)

// WithEmitter configures the lifecycle event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine validates params and wires the engine collaborators.
func NewEngine(state StoreState, supply SupplySource, client ChainClient, params Params, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errNilStore
	}
	if supply == nil {
		return nil, fmt.Errorf("withdrawals: supply source required")
	}
	if client == nil {
		return nil, fmt.Errorf("withdrawals: chain client required")
	}
	engine := &Engine{
		store:   NewStore(state),
		supply:  supply,
		client:  client,
		params:  params,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.emitter == nil {
		engine.emitter = events.NoopEmitter{}
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	engine.logger = engine.logger.With("component", "withdrawals")
	return engine, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Pause suspends pooling and broadcasting. Reconciliation keeps running so
// confirmations are still recorded.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume lifts a pause.
func (e *Engine) Resume() { e.paused.Store(false) }

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Submit records an authorised withdrawal intent as a queued request.
func (e *Engine) Submit(intent Intent, height uint64) (*Request, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	if len(intent.Owner) == 0 {
		return nil, ErrOwnerRequired
	}
	if len(intent.Destination) == 0 {
		return nil, ErrDestinationRequired
	}
	if intent.Amount < e.params.MinAmount {
		return nil, fmt.Errorf("%w: %d below minimum %d", ErrInvalidAmount, intent.Amount, e.params.MinAmount)
	}
	if e.params.MaxAmount > 0 && intent.Amount > e.params.MaxAmount {
		return nil, fmt.Errorf("%w: %d above maximum %d", ErrInvalidAmount, intent.Amount, e.params.MaxAmount)
	}
	req, err := e.store.Create(intent, height)
	if err != nil {
		return nil, err
	}
	e.emit(eventsKindQueued, req, height, "")
	return req, nil
}

// Request loads a request by id.
func (e *Engine) Request(id RequestID) (*Request, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	return e.store.Get(id)
}

// List pages through requests in a status, oldest first.
func (e *Engine) List(status Status, after uint64, limit int) ([]*Request, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	if !status.Valid() {
		return nil, fmt.Errorf("withdrawals: unknown status %d", status)
	}
	return e.store.ListByStatus(status, after, limit)
}

// Counts returns the number of requests per status.
func (e *Engine) Counts() (map[Status]int, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	counts := make(map[Status]int, len(AllStatuses))
	for _, status := range AllStatuses {
		n, err := e.store.CountByStatus(status)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// Ledger returns the persisted locked-amount ledger.
func (e *Engine) Ledger() (Ledger, error) {
	if e == nil || e.store == nil {
		return Ledger{}, errNilEngine
	}
	return e.store.Ledger()
}

// Window returns the persisted rolling window.
func (e *Engine) Window() (Window, error) {
	if e == nil || e.store == nil {
		return Window{}, errNilEngine
	}
	return e.store.Window()
}

// blockTx carries the mutable counters for one block. They are loaded once,
// threaded through every step and written back once.
type blockTx struct {
	info       BlockInfo
	coreHeight uint64
	haveCore   bool
	supply     *big.Int
	ledger     Ledger
	window     Window
	paused     bool
	report     *Report
}

// ProcessBlock runs the per-block pipeline: reconcile and expire broadcast
// requests, broadcast expired and pooled requests, admit queued requests and
// verify the locked-amount ledger. Any returned error means the block's
// withdrawal state must be discarded.
func (e *Engine) ProcessBlock(ctx context.Context, info BlockInfo) (*Report, error) {
	if e == nil || e.store == nil {
		return nil, errNilEngine
	}
	if info.PlatformHeight == 0 {
		return nil, ErrInvalidHeight
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blk, err := e.begin(ctx, info)
	if err != nil {
		return nil, err
	}

	// Requests expired before this block are resubmitted now; requests that
	// expire during this block wait for the next one.
	var retries []*Request
	if !blk.paused && blk.haveCore {
		retries, err = e.store.ListByStatus(StatusExpired, 0, e.params.retryLimit())
		if err != nil {
			return nil, err
		}
	}

	if blk.haveCore {
		if err := e.reconcile(ctx, blk); err != nil {
			return nil, err
		}
	}
	if !blk.paused && blk.haveCore {
		if err := e.broadcast(ctx, blk, retries); err != nil {
			return nil, err
		}
	}

	blk.window = blk.window.Roll(info.PlatformHeight, blk.supply, e.params.WindowBlocks)
	if !blk.paused {
		if err := e.pool(blk); err != nil {
			return nil, err
		}
	}
	return e.finish(blk)
}

func (e *Engine) begin(ctx context.Context, info BlockInfo) (*blockTx, error) {
	ledger, err := e.store.Ledger()
	if err != nil {
		return nil, err
	}
	window, err := e.store.Window()
	if err != nil {
		return nil, err
	}
	supply, err := e.supply.TotalSupply()
	if err != nil {
		return nil, fmt.Errorf("withdrawals: read total supply: %w", err)
	}
	if supply == nil {
		supply = new(big.Int)
	}
	blk := &blockTx{
		info:   info,
		supply: supply,
		ledger: ledger,
		window: window,
		paused: e.Paused(),
		report: &Report{Height: info.PlatformHeight},
	}
	blk.report.Paused = blk.paused

	blk.coreHeight = info.CoreHeight
	if blk.coreHeight == 0 {
		height, err := e.client.BestChainLockHeight(ctx)
		if err != nil {
			blk.report.skip("chainlock", err)
			e.logger.Warn("best chain lock unavailable", "height", info.PlatformHeight, "error", err)
		} else {
			blk.coreHeight = height
		}
	}
	blk.haveCore = blk.coreHeight > 0
	blk.report.CoreHeight = blk.coreHeight
	return blk, nil
}

func (e *Engine) finish(blk *blockTx) (*Report, error) {
	if err := e.store.VerifyConservation(blk.ledger); err != nil {
		e.logger.Error("withdrawal ledger diverged", "height", blk.info.PlatformHeight, "locked", blk.ledger.Total, "error", err)
		return nil, err
	}
	if err := e.store.PutLedger(blk.ledger); err != nil {
		return nil, err
	}
	if err := e.store.PutWindow(blk.window); err != nil {
		return nil, err
	}
	report := blk.report
	report.Locked = blk.ledger.Total
	report.Remaining = blk.window.Remaining(blk.supply, e.params)
	report.WindowStart = blk.window.Start
	report.Committed = blk.window.Committed
	return report, nil
}
