package withdrawald

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"creditchain/core/events"
	"creditchain/core/state"
	"creditchain/core/types"
	"creditchain/native/withdrawals"
	"creditchain/observability"
	"creditchain/services/withdrawald/audit"
	"creditchain/storage/trie"
)

// Per-height checkpoints older than checkpointRetention blocks are pruned every
// checkpointPruneEvery blocks.
const (
	checkpointRetention  = 1024
	checkpointPruneEvery = 128
)

var (
	// ErrHalted is returned once an invariant violation has stopped the driver.
	ErrHalted = errors.New("withdrawald: block processing halted")
	// ErrZeroSupplyDelta rejects supply adjustments that change nothing.
	ErrZeroSupplyDelta = errors.New("withdrawald: supply delta must be non-zero")
)

// Status is the operator-facing snapshot served by the admin API.
type Status struct {
	Height      uint64              `json:"height"`
	Root        string              `json:"root"`
	Paused      bool                `json:"paused"`
	Halted      string              `json:"halted,omitempty"`
	Locked      uint64              `json:"locked"`
	Supply      string              `json:"supply"`
	WindowStart uint64              `json:"windowStart"`
	Committed   uint64              `json:"committed"`
	Counts      map[string]int      `json:"counts"`
	Params      withdrawals.Params  `json:"params"`
	LastReport  *withdrawals.Report `json:"lastReport,omitempty"`
	LastBlockAt time.Time           `json:"lastBlockAt,omitempty"`
	Denom       string              `json:"denom"`
	Sinks       []string            `json:"sinks,omitempty"`
}

// Driver owns the state trie and feeds blocks to the withdrawal engine. Every
// engine call is serialised through it; admin handlers never touch the trie
// directly.
type Driver struct {
	mu sync.Mutex

	trie        *trie.Trie
	manager     *state.Manager
	engine      *withdrawals.Engine
	recorder    *events.Recorder
	checkpoints *CheckpointStore
	archive     *audit.Archive
	sinks       []EventSink
	metrics     *observability.WithdrawaldMetrics
	tracer      trace.Tracer
	logger      *slog.Logger
	health      *HealthReporter
	now         func() time.Time

	height      uint64
	halted      error
	lastReport  *withdrawals.Report
	lastBlockAt time.Time
}

// DriverOption customises the driver.
type DriverOption func(*Driver)

// WithArchive records every block in the audit archive.
func WithArchive(archive *audit.Archive) DriverOption {
	return func(d *Driver) { d.archive = archive }
}

// WithSinks adds lifecycle event sinks.
func WithSinks(sinks ...EventSink) DriverOption {
	return func(d *Driver) {
		for _, sink := range sinks {
			if sink != nil {
				d.sinks = append(d.sinks, sink)
			}
		}
	}
}

// WithMetrics overrides the metrics registry.
func WithMetrics(metrics *observability.WithdrawaldMetrics) DriverOption {
	return func(d *Driver) { d.metrics = metrics }
}

// WithDriverLogger overrides the structured logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHealth reports serving status changes.
func WithHealth(health *HealthReporter) DriverOption {
	return func(d *Driver) { d.health = health }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDriver restores the last checkpoint, if any, and wires the engine to the
// trie. Engine construction is delegated to build so the engine shares the
// driver's state manager and recorder.
func NewDriver(tr *trie.Trie, checkpoints *CheckpointStore, build func(*state.Manager, events.Emitter) (*withdrawals.Engine, error), opts ...DriverOption) (*Driver, error) {
	if tr == nil {
		return nil, errors.New("withdrawald: trie required")
	}
	if checkpoints == nil {
		return nil, errors.New("withdrawald: checkpoint store required")
	}
	d := &Driver{
		trie:        tr,
		checkpoints: checkpoints,
		recorder:    &events.Recorder{},
		tracer:      otel.Tracer("creditchain/withdrawald"),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "driver")

	cp, ok, err := checkpoints.Latest()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		if err := tr.Reset(cp.Root); err != nil {
			return nil, fmt.Errorf("restore root %s: %w", cp.Root, err)
		}
		d.height = cp.Height
		d.logger.Info("restored checkpoint", "height", cp.Height, "root", cp.Root.Hex())
	}
	d.manager = state.NewManager(tr)
	engine, err := build(d.manager, d.recorder)
	if err != nil {
		return nil, err
	}
	d.engine = engine
	d.health.SetServing(true)
	return d, nil
}

// Height returns the last committed platform height.
func (d *Driver) Height() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height
}

// Run processes a block every interval until ctx ends or the driver halts.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.Step(ctx); err != nil {
				if errors.Is(err, ErrHalted) || errors.Is(err, withdrawals.ErrInvariantViolation) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Warn("block failed; state rolled back", "error", err)
			}
		}
	}
}

// Step processes one platform block. On any engine error the trie is reset
// to the previous root so no partial block is ever committed.
func (d *Driver) Step(ctx context.Context) (*withdrawals.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, d.halted)
	}

	height := d.height + 1
	ctx, span := d.tracer.Start(ctx, "withdrawald.ProcessBlock",
		trace.WithAttributes(attribute.Int64("platform.height", int64(height))))
	defer span.End()

	start := d.now()
	parent := d.trie.Root()
	d.recorder.Drain()

	report, err := d.engine.ProcessBlock(ctx, withdrawals.BlockInfo{PlatformHeight: height, Time: start})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, d.rollback(parent, height, err)
	}
	root, err := d.trie.Commit(parent, height)
	if err != nil {
		return nil, d.rollback(parent, height, fmt.Errorf("commit state: %w", err))
	}
	if err := d.checkpoints.Save(Checkpoint{Height: height, CoreHeight: report.CoreHeight, Root: root, SavedAt: start.UTC()}); err != nil {
		return nil, d.rollback(parent, height, fmt.Errorf("save checkpoint: %w", err))
	}
	d.height = height
	d.lastReport = report
	d.lastBlockAt = start
	if height > checkpointRetention && height%checkpointPruneEvery == 0 {
		if _, err := d.checkpoints.Prune(height - checkpointRetention); err != nil {
			d.logger.Warn("prune checkpoints", "height", height, "error", err)
		}
	}
	span.SetAttributes(
		attribute.Int64("core.height", int64(report.CoreHeight)),
		attribute.Int("withdrawals.pooled", report.Pooled),
		attribute.Int("withdrawals.broadcasted", report.Broadcasted),
		attribute.Int("withdrawals.completed", report.Completed),
	)

	d.afterCommit(ctx, report, root.Hex())
	d.metrics.ObserveBlock(d.now().Sub(start))
	if len(report.Skipped) > 0 {
		d.logger.Warn("block steps skipped", "height", height, "skipped", report.Skipped)
	} else {
		d.logger.Debug("block processed", "height", height, "core", report.CoreHeight,
			"pooled", report.Pooled, "broadcasted", report.Broadcasted, "completed", report.Completed)
	}
	return report, nil
}

func (d *Driver) rollback(parent common.Hash, height uint64, cause error) error {
	d.recorder.Drain()
	if err := d.trie.Reset(parent); err != nil {
		cause = errors.Join(cause, fmt.Errorf("reset state: %w", err))
	}
	d.metrics.RecordError(errorReason(cause))
	if errors.Is(cause, withdrawals.ErrInvariantViolation) {
		d.halted = cause
		d.health.SetServing(false)
		d.logger.Error("invariant violated; halting", "height", height, "error", cause)
	}
	return cause
}

// afterCommit fans out side effects of a committed block. Failures are logged
// and never undo the block.
func (d *Driver) afterCommit(ctx context.Context, report *withdrawals.Report, root string) {
	emitted := d.recorder.Drain()
	if d.archive != nil {
		changed := make([]*withdrawals.Request, 0, len(report.Changed))
		for _, id := range report.Changed {
			req, err := d.engine.Request(id)
			if err != nil {
				d.logger.Warn("load changed request", "id", id.String(), "error", err)
				continue
			}
			changed = append(changed, req)
		}
		if err := d.archive.Record(ctx, report, root, changed); err != nil {
			d.metrics.RecordError("audit")
			d.logger.Warn("archive block", "height", report.Height, "error", err)
		}
	}
	d.publish(ctx, emitted)

	d.metrics.RecordTransitions(withdrawals.StatusPooled.String(), report.Pooled)
	d.metrics.RecordTransitions(withdrawals.StatusBroadcasted.String(), report.Broadcasted+report.Rebroadcast)
	d.metrics.RecordTransitions(withdrawals.StatusExpired.String(), report.Expired)
	d.metrics.RecordTransitions(withdrawals.StatusComplete.String(), report.Completed)
	d.metrics.RecordLedger(report.Locked, report.Remaining, report.Committed)
	d.metrics.RecordHeights(report.Height, report.CoreHeight)
	d.metrics.SetPause(report.Paused)
	if counts, err := d.engine.Counts(); err == nil {
		for status, n := range counts {
			d.metrics.SetRequests(status.String(), n)
		}
	}
}

type renderable interface {
	Event() *types.Event
}

func (d *Driver) publish(ctx context.Context, emitted []events.Event) {
	for _, evt := range emitted {
		r, ok := evt.(renderable)
		if !ok {
			continue
		}
		rendered := r.Event()
		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, rendered); err != nil {
				d.logger.Warn("publish event", "sink", sink.Name(), "type", rendered.Type, "error", err)
			}
		}
	}
}

// commitLocked persists an out-of-block mutation at the current height.
func (d *Driver) commitLocked(mutate func() error) error {
	if d.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, d.halted)
	}
	parent := d.trie.Root()
	d.recorder.Drain()
	if err := mutate(); err != nil {
		d.recorder.Drain()
		if resetErr := d.trie.Reset(parent); resetErr != nil {
			return errors.Join(err, resetErr)
		}
		return err
	}
	root, err := d.trie.Commit(parent, d.height)
	if err != nil {
		d.recorder.Drain()
		return errors.Join(err, d.trie.Reset(parent))
	}
	cp := Checkpoint{Height: d.height, Root: root, SavedAt: d.now().UTC()}
	if d.lastReport != nil {
		cp.CoreHeight = d.lastReport.CoreHeight
	}
	if err := d.checkpoints.Save(cp); err != nil {
		d.recorder.Drain()
		return errors.Join(err, d.trie.Reset(parent))
	}
	return nil
}

// Submit records an authorised intent and commits it immediately.
func (d *Driver) Submit(ctx context.Context, intent withdrawals.Intent) (*withdrawals.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var req *withdrawals.Request
	err := d.commitLocked(func() error {
		var err error
		req, err = d.engine.Submit(intent, d.height)
		return err
	})
	if err != nil {
		return nil, err
	}
	if d.archive != nil {
		if err := d.archive.RecordRequest(ctx, req); err != nil {
			d.logger.Warn("archive request", "id", req.ID.String(), "error", err)
		}
	}
	d.publish(ctx, d.recorder.Drain())
	return req, nil
}

// AdjustSupply mints (positive) or burns (negative) platform credits.
func (d *Driver) AdjustSupply(ctx context.Context, delta *big.Int) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if delta == nil || delta.Sign() == 0 {
		return nil, ErrZeroSupplyDelta
	}
	denom := d.engine.Params().Denom
	var total *big.Int
	err := d.commitLocked(func() error {
		var err error
		total, err = d.manager.AdjustTokenSupply(denom, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, []events.Event{events.SupplyChange(denom, d.height, total, delta)})
	d.logger.Info("supply adjusted", "denom", denom, "delta", delta.String(), "total", total.String())
	return total, nil
}

// SeedSupply sets the initial supply when none is recorded yet.
func (d *Driver) SeedSupply(amount *big.Int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, err := d.manager.TokenSupply(d.engine.Params().Denom)
	if err != nil {
		return err
	}
	if current.Sign() != 0 || amount == nil || amount.Sign() == 0 {
		return nil
	}
	return d.commitLocked(func() error {
		return d.manager.SetTokenSupply(d.engine.Params().Denom, amount)
	})
}

// Pause suspends pooling and broadcasting.
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.Pause()
	d.metrics.SetPause(true)
	d.logger.Info("withdrawals paused")
}

// Resume lifts a pause.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.Resume()
	d.metrics.SetPause(false)
	d.logger.Info("withdrawals resumed")
}

// Request loads a request by id.
func (d *Driver) Request(id withdrawals.RequestID) (*withdrawals.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.Request(id)
}

// List pages through requests in a status.
func (d *Driver) List(status withdrawals.Status, after uint64, limit int) ([]*withdrawals.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > int(d.engine.Params().PageSize) {
		limit = int(d.engine.Params().PageSize)
	}
	return d.engine.List(status, after, limit)
}

// Status returns the operator snapshot.
func (d *Driver) Status() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	params := d.engine.Params()
	ledger, err := d.engine.Ledger()
	if err != nil {
		return Status{}, err
	}
	window, err := d.engine.Window()
	if err != nil {
		return Status{}, err
	}
	counts, err := d.engine.Counts()
	if err != nil {
		return Status{}, err
	}
	supply, err := d.manager.TokenSupply(params.Denom)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		Height:      d.height,
		Root:        d.trie.Root().Hex(),
		Paused:      d.engine.Paused(),
		Locked:      ledger.Total,
		Supply:      supply.String(),
		WindowStart: window.Start,
		Committed:   window.Committed,
		Counts:      make(map[string]int, len(counts)),
		Params:      params,
		LastReport:  d.lastReport,
		LastBlockAt: d.lastBlockAt,
		Denom:       params.Denom,
	}
	for s, n := range counts {
		status.Counts[s.String()] = n
	}
	for _, sink := range d.sinks {
		status.Sinks = append(status.Sinks, sink.Name())
	}
	if d.halted != nil {
		status.Halted = d.halted.Error()
	}
	return status, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, withdrawals.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, withdrawals.ErrChainUnavailable):
		return "chain_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "block"
	}
}
