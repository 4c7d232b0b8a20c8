package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

var (
	// ErrNilLogger indicates that a nil logger was provided.
	ErrNilLogger = errors.New("progress: logger cannot be nil")
	// ErrAlreadyActive indicates that Start was called for an id that already
	// denotes an active operation.
	ErrAlreadyActive = errors.New("progress: operation already active")
)

// operation is the registry's mutable state for one id. record and the
// subscriber list are guarded by mu; notifications are delivered while mu is
// held, which serializes them per id.
type operation struct {
	mu       sync.Mutex
	record   Record
	cancelFn func()
	cancelCh chan struct{}
	subs     []*Subscription
	removeAt time.Time
}

// Registry tracks all operations of one process. Construct with NewRegistry
// and release the sweeper with Close when done.
type Registry struct {
	logger         log.Logger
	clk            clock.Clock
	metricsFactory *metrics.MetricsFactory
	sweepInterval  time.Duration
	grace          GracePeriods
	history        *durationHistory
	activeCount    atomic.Int64

	mu          sync.RWMutex
	ops         map[string]*operation
	pendingSubs map[string][]*Subscription
	globalSubs  []*Subscription

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistry creates a Registry and starts its background sweeper.
func NewRegistry(logger log.Logger, opts ...Option) (*Registry, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	r := &Registry{
		logger:        logger,
		clk:           clock.New(),
		sweepInterval: DefaultSweepInterval,
		grace:         DefaultGracePeriods(),
		history:       newDurationHistory(),
		ops:           make(map[string]*operation),
		pendingSubs:   make(map[string][]*Subscription),
		stopChan:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)

	go r.sweeper()

	return r, nil
}

// Close stops the background sweeper. Records already tracked stay readable
// but terminal records are no longer removed.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopChan)
	})

	r.wg.Wait()
}

// Start begins tracking an operation at 0% in the initializing stage. An
// empty id gets a generated one; the tracked id is returned either way.
// Starting an id that is still active fails with ErrAlreadyActive; restarting
// a finished id replaces the old record.
//
// When metadata carries a "type" key with recorded duration history, the new
// record is seeded with the median historical duration as its estimate.
func (r *Registry) Start(id, message string, cancelAllowed bool, metadata map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()

	if existing, ok := r.ops[id]; ok {
		existing.mu.Lock()
		terminal := existing.record.Stage.Terminal()
		existing.mu.Unlock()

		if !terminal {
			r.mu.Unlock()

			return "", fmt.Errorf("%w: %q", ErrAlreadyActive, id)
		}

		delete(r.ops, id)
	}

	now := r.clk.Now()
	op := &operation{
		record: Record{
			ID:            id,
			Stage:         StageInitializing,
			Message:       message,
			StartedAt:     now,
			UpdatedAt:     now,
			CancelAllowed: cancelAllowed,
			Metadata:      copyMetadata(metadata),
		},
		cancelCh: make(chan struct{}),
		subs:     r.pendingSubs[id],
	}
	delete(r.pendingSubs, id)

	if seed, ok := r.history.estimate(op.record.operationType()); ok {
		op.record.EstimatedRemaining = &seed
	}

	r.ops[id] = op
	globals := r.copyGlobalSubs()

	// Holding op.mu before releasing the registry lock keeps the initial
	// notification ahead of any concurrent Update for the same id.
	op.mu.Lock()
	r.mu.Unlock()

	r.activeCount.Add(1)
	r.recordActive()

	r.logger.Log(context.Background(), log.LevelDebug, "operation started",
		log.String("operation_id", id))

	op.notify(r, globals)
	op.mu.Unlock()

	return id, nil
}

// Update reports progress for an operation. Unknown ids and already terminal
// records are benign no-ops so late or duplicate updates after cleanup never
// fail. The percentage is clamped to [0, 100] and never decreases; message,
// stage, and metadata adjustments ride along via options.
func (r *Registry) Update(id string, percentage float64, opts ...UpdateOption) {
	var params updateParams
	for _, opt := range opts {
		opt(&params)
	}

	op, globals := r.lookup(id)
	if op == nil {
		r.logger.Log(context.Background(), log.LevelDebug, "progress update for unknown operation",
			log.String("operation_id", id))

		return
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.record.Stage.Terminal() {
		return
	}

	now := r.clk.Now()

	if pct := math.Min(100, math.Max(0, percentage)); pct > op.record.Percentage {
		op.record.Percentage = pct
	}

	r.recomputeEstimate(op, now)

	if params.hasMsg {
		op.record.Message = params.message
	}

	switch {
	case params.hasStage && params.stage.Terminal():
		r.logger.Log(context.Background(), log.LevelDebug, "ignoring terminal stage in progress update",
			log.String("operation_id", id), log.String("stage", string(params.stage)))
	case params.hasStage:
		op.record.Stage = params.stage
	case op.record.Stage == StageInitializing && op.record.Percentage > 0:
		op.record.Stage = StageProcessing
	}

	if params.metadata != nil {
		if op.record.Metadata == nil {
			op.record.Metadata = make(map[string]any, len(params.metadata))
		}

		for k, v := range params.metadata {
			op.record.Metadata[k] = v
		}
	}

	op.record.UpdatedAt = now
	op.notify(r, globals)
}

// recomputeEstimate projects remaining time from elapsed time and completion
// so far. No projection exists at the boundaries: 0% would divide away and
// 100% is done. Must be called with op.mu held.
func (r *Registry) recomputeEstimate(op *operation, now time.Time) {
	pct := op.record.Percentage
	if pct <= 0 {
		return
	}

	if pct >= 100 {
		op.record.EstimatedRemaining = nil

		return
	}

	elapsed := now.Sub(op.record.StartedAt)
	estimate := time.Duration(float64(elapsed) * (100/pct - 1))
	op.record.EstimatedRemaining = &estimate
}

// Complete marks an operation finished at 100%. A non-empty message replaces
// the status line. The record stays readable for the completed grace period.
func (r *Registry) Complete(id, message string) {
	r.finish(id, StageCompleted, message)
}

// Fail marks an operation failed. The message is prefixed so subscribers can
// render it as a failure; the record lingers for the error grace period,
// which is the longest, so the error can be read.
func (r *Registry) Fail(id, errMessage string) {
	r.finish(id, StageError, "failed: "+errMessage)
}

// Cancel requests cooperative cancellation. It returns false without touching
// any state when the id is unknown, the record is already terminal, or the
// operation was started with cancelAllowed false. Otherwise the registered
// cancel function is invoked (panics are recovered and logged, never
// propagated), the record turns terminal, and true is returned.
func (r *Registry) Cancel(id string) bool {
	op, globals := r.lookup(id)
	if op == nil {
		r.logger.Log(context.Background(), log.LevelDebug, "cancel for unknown operation",
			log.String("operation_id", id))

		return false
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.record.Stage.Terminal() || !op.record.CancelAllowed {
		return false
	}

	if op.cancelFn != nil {
		r.invokeCancelFn(id, op.cancelFn)
	}

	close(op.cancelCh)
	r.finishLocked(op, globals, StageCancelled, "cancelled")

	return true
}

func (r *Registry) invokeCancelFn(id string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Log(context.Background(), log.LevelError, "cancellation callback panicked",
				log.String("operation_id", id), log.Any("panic", rec))
		}
	}()

	fn()
}

// SetCancelFunc registers the function Cancel invokes to signal the tracked
// work. At most one function per id; the last write wins. Unknown or terminal
// ids are no-ops.
func (r *Registry) SetCancelFunc(id string, fn func()) {
	op, _ := r.lookup(id)
	if op == nil {
		r.logger.Log(context.Background(), log.LevelDebug, "cancel func for unknown operation",
			log.String("operation_id", id))

		return
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.record.Stage.Terminal() {
		return
	}

	op.cancelFn = fn
}

// CancelContext derives a context that is cancelled when the operation is
// cancelled through the registry, in addition to the parent's own
// cancellation. Work that observes contexts can pass the result straight
// down. For unknown ids the derived context only follows the parent.
func (r *Registry) CancelContext(ctx context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	op, _ := r.lookup(id)
	if op == nil {
		return ctx, cancel
	}

	op.mu.Lock()
	ch := op.cancelCh
	op.mu.Unlock()

	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	op, _ := r.lookup(id)
	if op == nil {
		return Record{}, false
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	return op.record.clone(), true
}

// All returns snapshots of every tracked record, terminal ones included while
// their grace period lasts. Order is unspecified.
func (r *Registry) All() []Record {
	r.mu.RLock()
	ops := make([]*operation, 0, len(r.ops))

	for _, op := range r.ops {
		ops = append(ops, op)
	}
	r.mu.RUnlock()

	records := make([]Record, 0, len(ops))

	for _, op := range ops {
		op.mu.Lock()
		records = append(records, op.record.clone())
		op.mu.Unlock()
	}

	return records
}

// IsActive reports whether id denotes a tracked, non-terminal operation.
func (r *Registry) IsActive(id string) bool {
	op, _ := r.lookup(id)
	if op == nil {
		return false
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	return !op.record.Stage.Terminal()
}

// Subscribe registers an observer for one operation id. If the record exists
// its current state is replayed immediately, so a subscriber never misses the
// state it joined at; subscribing before Start delivers nothing until the
// operation's first event. The returned handle stops delivery.
func (r *Registry) Subscribe(id string, subscriber Subscriber) *Subscription {
	sub := newSubscription(subscriber)
	if subscriber == nil {
		r.logger.Log(context.Background(), log.LevelWarn, "attempted to subscribe with a nil subscriber")
		sub.Unsubscribe()

		return sub
	}

	r.mu.Lock()

	op, ok := r.ops[id]
	if !ok {
		r.pendingSubs[id] = append(r.pendingSubs[id], sub)
		r.mu.Unlock()

		return sub
	}

	op.mu.Lock()
	r.mu.Unlock()

	op.subs = append(op.subs, sub)
	r.safeNotify(sub, op.record.clone())
	op.mu.Unlock()

	return sub
}

// SubscribeAll registers an observer for every operation, current and future.
// All existing records are replayed immediately.
func (r *Registry) SubscribeAll(subscriber Subscriber) *Subscription {
	sub := newSubscription(subscriber)
	if subscriber == nil {
		r.logger.Log(context.Background(), log.LevelWarn, "attempted to subscribe with a nil subscriber")
		sub.Unsubscribe()

		return sub
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.globalSubs = append(r.globalSubs, sub)

	for _, op := range r.ops {
		op.mu.Lock()
		snapshot := op.record.clone()
		op.mu.Unlock()

		r.safeNotify(sub, snapshot)
	}

	return sub
}

// RecordTiming feeds the duration history for an operation type directly,
// for callers that time work outside the registry. Completions do this
// automatically.
func (r *Registry) RecordTiming(opType string, d time.Duration) {
	r.history.record(opType, d)
}

// EstimatedDuration returns the median recorded duration for an operation
// type, false until at least one timing exists.
func (r *Registry) EstimatedDuration(opType string) (time.Duration, bool) {
	return r.history.estimate(opType)
}

// lookup finds the operation for id and snapshots the global subscriber list
// under the registry lock.
func (r *Registry) lookup(id string) (*operation, []*Subscription) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ops[id], r.copyGlobalSubs()
}

// copyGlobalSubs must be called with r.mu held.
func (r *Registry) copyGlobalSubs() []*Subscription {
	if len(r.globalSubs) == 0 {
		return nil
	}

	globals := make([]*Subscription, len(r.globalSubs))
	copy(globals, r.globalSubs)

	return globals
}

// finish applies a terminal transition. Later terminal calls for the same id
// are no-ops, so exactly one terminal stage is ever observed per id.
func (r *Registry) finish(id string, stage Stage, message string) {
	op, globals := r.lookup(id)
	if op == nil {
		r.logger.Log(context.Background(), log.LevelDebug, "terminal transition for unknown operation",
			log.String("operation_id", id), log.String("stage", string(stage)))

		return
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.record.Stage.Terminal() {
		return
	}

	r.finishLocked(op, globals, stage, message)
}

// finishLocked performs the terminal bookkeeping. Must be called with op.mu
// held on a non-terminal record.
func (r *Registry) finishLocked(op *operation, globals []*Subscription, stage Stage, message string) {
	now := r.clk.Now()

	if stage == StageCompleted {
		op.record.Percentage = 100
	}

	op.record.Stage = stage

	if message != "" {
		op.record.Message = message
	}

	zero := time.Duration(0)
	op.record.EstimatedRemaining = &zero
	op.record.UpdatedAt = now
	op.removeAt = now.Add(r.graceFor(stage))

	duration := now.Sub(op.record.StartedAt)
	if stage == StageCompleted {
		r.history.record(op.record.operationType(), duration)
	}

	r.activeCount.Add(-1)
	r.recordTerminal(stage, duration)
	r.recordActive()

	r.logger.Log(context.Background(), log.LevelDebug, "operation finished",
		log.String("operation_id", op.record.ID),
		log.String("stage", string(stage)),
		log.Duration("duration", duration))

	op.notify(r, globals)
}

func (r *Registry) graceFor(stage Stage) time.Duration {
	switch stage {
	case StageError:
		return r.grace.Error
	case StageCancelled:
		return r.grace.Cancelled
	default:
		return r.grace.Completed
	}
}

// notify delivers the current record to per-operation and global subscribers.
// Must be called with op.mu held; holding the lock through delivery is what
// gives subscribers a total order of updates per id.
func (op *operation) notify(r *Registry, globals []*Subscription) {
	snapshot := op.record.clone()
	op.subs = deliver(op.subs, snapshot, r.safeNotify)
	deliver(globals, snapshot, r.safeNotify)
}

func (r *Registry) safeNotify(sub *Subscription, record Record) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Log(context.Background(), log.LevelError, "progress subscriber panicked",
				log.String("operation_id", record.ID), log.Any("panic", rec))
		}
	}()

	sub.subscriber.OnUpdate(record)
}

func (r *Registry) sweeper() {
	defer r.wg.Done()

	ticker := r.clk.Ticker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopChan:
			return
		}
	}
}

// sweep removes terminal records whose grace period elapsed and prunes
// cancelled subscriptions. Active records are never touched.
func (r *Registry) sweep() {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, op := range r.ops {
		op.mu.Lock()
		expired := op.record.Stage.Terminal() && !op.removeAt.IsZero() && !now.Before(op.removeAt)
		op.mu.Unlock()

		if expired {
			delete(r.ops, id)
		}
	}

	kept := r.globalSubs[:0]

	for _, sub := range r.globalSubs {
		if sub.active() {
			kept = append(kept, sub)
		}
	}

	r.globalSubs = kept

	for id, subs := range r.pendingSubs {
		keptPending := subs[:0]

		for _, sub := range subs {
			if sub.active() {
				keptPending = append(keptPending, sub)
			}
		}

		if len(keptPending) == 0 {
			delete(r.pendingSubs, id)
		} else {
			r.pendingSubs[id] = keptPending
		}
	}
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}

	return out
}
