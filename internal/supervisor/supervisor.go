// Package supervisor implements the supervisor (C8): the sole owner of the
// engine worker. It accepts commands over a bounded inbound queue, appends
// each mutating command to the command log before it touches engine state,
// applies it to the right asset's engine, and routes the reply back over a
// per-command channel. It is the only thing that calls into package
// matching's mutating methods, satisfying the single-writer requirement in
// spec.md §5.
//
// Grounded on the original implementation's exchange/src/spawn_trading_engine.rs:
// a command enum dispatched one at a time by a dedicated task, a
// try_event_log!-style append-then-apply sequencing, and bootstrap replay
// that streams the event source back through the same apply path with
// outbound replies suppressed.
package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/abdoElHodaky/exchange-core/internal/commandlog"
	"github.com/abdoElHodaky/exchange-core/internal/matching"
	"github.com/abdoElHodaky/exchange-core/internal/metrics"
	"github.com/abdoElHodaky/exchange-core/internal/slab"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
	"go.uber.org/zap"
)

type kind uint8

const (
	kindPlace kind = iota
	kindCancel
	kindAmend
	kindSuspend
	kindResume
	kindEnterReduceOnly
)

func (k kind) String() string {
	switch k {
	case kindPlace:
		return "place"
	case kindCancel:
		return "cancel"
	case kindAmend:
		return "amend"
	case kindSuspend:
		return "suspend"
	case kindResume:
		return "resume"
	case kindEnterReduceOnly:
		return "enter_reduce_only"
	default:
		return "unknown"
	}
}

// inbound is one entry on the supervisor's bounded queue.
type inbound struct {
	kind   kind
	asset  coretypes.Asset
	place  matching.PlaceRequest
	cancel slab.Index
	amend  matching.AmendRequest
	reply  chan outbound
}

// outbound is the worker's reply to one inbound command.
type outbound struct {
	place *matching.PlaceResult
	index slab.Index
	err   error
}

// Supervisor owns the bounded inbound queue, the single engine worker, and
// the command log writer. One Engine per tradable asset; commands route by
// the asset carried on the request (Place) or the asset embedded in the
// slab.Index handle (Cancel, Amend).
type Supervisor struct {
	logger    *zap.Logger
	log       *commandlog.Log
	notify    *NotificationBus
	metrics   *metrics.Metrics
	engines   map[coretypes.Asset]*matching.Engine
	enginesMu sync.RWMutex
	inbox     chan inbound
	done      chan struct{}
}

// New returns a Supervisor with one freshly Suspended engine per asset in
// assets, and an inbound queue bounded at queueDepth.
func New(logger *zap.Logger, log *commandlog.Log, notify *NotificationBus, assets []coretypes.Asset, queueDepth int) *Supervisor {
	engines := make(map[coretypes.Asset]*matching.Engine, len(assets))
	for _, a := range assets {
		engines[a] = matching.New(a)
	}
	return &Supervisor{
		logger:  logger,
		log:     log,
		notify:  notify,
		engines: engines,
		inbox:   make(chan inbound, queueDepth),
		done:    make(chan struct{}),
	}
}

// WithMetrics attaches m to s, reporting commands processed, inbound queue
// depth, and bootstrap replay duration. Returns s for chaining at
// construction time.
func (s *Supervisor) WithMetrics(m *metrics.Metrics) *Supervisor {
	s.metrics = m
	return s
}

func (s *Supervisor) engine(asset coretypes.Asset) (*matching.Engine, bool) {
	s.enginesMu.RLock()
	defer s.enginesMu.RUnlock()
	e, ok := s.engines[asset]
	return e, ok
}

// Engine exposes the read-only engine for asset, for metrics and test
// inspection. Mutation must always go through SubmitPlace/SubmitCancel/
// SubmitAmend so the single-writer guarantee holds.
func (s *Supervisor) Engine(asset coretypes.Asset) (*matching.Engine, bool) {
	return s.engine(asset)
}

// Bootstrap replays the entire command log (id ascending, from empty
// engines) before the worker starts accepting new commands. Every engine
// begins Suspended and this is the only path that ever moves one out of
// Suspended on its own: every known engine is set to Running before replay
// so replayed commands pass the engine's state gate, and once replay
// finishes without error every known asset's engine is set to Running again
// (whatever state a replayed control record left it in), the transition is
// published, and the worker loop may start.
func (s *Supervisor) Bootstrap(ctx context.Context, batchSize int) error {
	s.enginesMu.Lock()
	for _, e := range s.engines {
		e.SetState(matching.Running)
	}
	s.enginesMu.Unlock()

	start := time.Now()
	err := s.log.ReplayFrom(ctx, 0, batchSize, s.applyReplayRecord)
	if s.metrics != nil {
		s.metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	s.enginesMu.RLock()
	defer s.enginesMu.RUnlock()
	for asset, e := range s.engines {
		e.SetState(matching.Running)
		s.notify.PublishStateChange(asset, matching.Running)
	}
	return nil
}

// applyReplayRecord feeds one logged command back through the same apply
// path live commands use, in replay mode: the record was already logged
// once, so this only ever mutates engine state, never the log again. An
// engine-level rejection (e.g. a cancel of an order some other replayed
// command already removed) is not a replay failure — the log only promises
// the command was presented to the engine, not that it always mutated
// anything — so those errors are swallowed and replay continues.
func (s *Supervisor) applyReplayRecord(rec commandlog.Record) error {
	asset := coretypes.Asset(rec.Asset)
	s.enginesMu.Lock()
	e, ok := s.engines[asset]
	if !ok {
		e = matching.New(asset)
		e.SetState(matching.Running)
		s.engines[asset] = e
	}
	s.enginesMu.Unlock()

	switch commandlog.Kind(rec.Kind) {
	case commandlog.KindPlace:
		var req matching.PlaceRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return err
		}
		if _, err := e.Place(req); err != nil && !xerrors.Is(err, xerrors.Internal) {
			s.logger.Debug("replay: place rejected by engine", zap.Uint64("record_id", rec.ID), zap.Error(err))
		}
	case commandlog.KindCancel:
		var ix slab.Index
		if err := json.Unmarshal(rec.Payload, &ix); err != nil {
			return err
		}
		if err := e.Cancel(ix); err != nil {
			s.logger.Debug("replay: cancel rejected by engine", zap.Uint64("record_id", rec.ID), zap.Error(err))
		}
	case commandlog.KindAmend:
		var req matching.AmendRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return err
		}
		if _, err := e.Amend(req); err != nil {
			s.logger.Debug("replay: amend rejected by engine", zap.Uint64("record_id", rec.ID), zap.Error(err))
		}
	case commandlog.KindSuspend:
		e.SetState(matching.Suspended)
	case commandlog.KindResume:
		e.SetState(matching.Running)
	case commandlog.KindEnterReduceOnly:
		e.SetState(matching.ReduceOnly)
	}
	return nil
}

// Run is the single dedicated worker: it owns every engine exclusively and
// processes one command to completion at a time, suspending only when the
// inbox is empty. Callers start this as exactly one goroutine, typically
// from an fx.Lifecycle OnStart hook, after Bootstrap has completed.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.inbox:
			if !ok {
				return
			}
			s.process(ctx, cmd)
		}
	}
}

func (s *Supervisor) process(ctx context.Context, cmd inbound) {
	if s.metrics != nil {
		s.metrics.CommandsProcessed.WithLabelValues(string(cmd.asset), cmd.kind.String()).Inc()
	}

	e, ok := s.engine(cmd.asset)
	if !ok {
		cmd.reply <- outbound{err: xerrors.New(xerrors.NotFound, "unknown asset")}
		return
	}

	switch cmd.kind {
	case kindPlace:
		s.processPlace(ctx, e, cmd)
	case kindCancel:
		s.processCancel(ctx, e, cmd)
	case kindAmend:
		s.processAmend(ctx, e, cmd)
	case kindSuspend:
		s.processControl(ctx, e, cmd, commandlog.KindSuspend, matching.Suspended)
	case kindResume:
		s.processControl(ctx, e, cmd, commandlog.KindResume, matching.Running)
	case kindEnterReduceOnly:
		s.processControl(ctx, e, cmd, commandlog.KindEnterReduceOnly, matching.ReduceOnly)
	}
}

func (s *Supervisor) processPlace(ctx context.Context, e *matching.Engine, cmd inbound) {
	if e.State() != matching.Running {
		cmd.reply <- outbound{err: xerrors.New(xerrors.Unresponsive, "engine not running")}
		return
	}

	if _, err := s.log.Append(ctx, string(cmd.asset), commandlog.KindPlace, cmd.place); err != nil {
		cmd.reply <- outbound{err: err}
		return
	}

	result, err := e.Place(cmd.place)
	if err != nil {
		s.onEngineError(cmd.asset, e, err)
		cmd.reply <- outbound{err: err}
		return
	}
	s.notify.PublishFill(cmd.asset, result)
	cmd.reply <- outbound{place: result}
}

func (s *Supervisor) processCancel(ctx context.Context, e *matching.Engine, cmd inbound) {
	if e.State() == matching.Suspended {
		cmd.reply <- outbound{err: xerrors.New(xerrors.Unresponsive, "engine is suspended")}
		return
	}

	if _, err := s.log.Append(ctx, string(cmd.asset), commandlog.KindCancel, cmd.cancel); err != nil {
		cmd.reply <- outbound{err: err}
		return
	}

	if err := e.Cancel(cmd.cancel); err != nil {
		s.onEngineError(cmd.asset, e, err)
		cmd.reply <- outbound{err: err}
		return
	}
	cmd.reply <- outbound{index: cmd.cancel}
}

func (s *Supervisor) processAmend(ctx context.Context, e *matching.Engine, cmd inbound) {
	if e.State() == matching.Suspended {
		cmd.reply <- outbound{err: xerrors.New(xerrors.Unresponsive, "engine is suspended")}
		return
	}
	if e.State() == matching.ReduceOnly && cmd.amend.Quantity == nil {
		cmd.reply <- outbound{err: xerrors.New(xerrors.Unresponsive, "reduce-only accepts only quantity-decreasing amends")}
		return
	}

	if _, err := s.log.Append(ctx, string(cmd.asset), commandlog.KindAmend, cmd.amend); err != nil {
		cmd.reply <- outbound{err: err}
		return
	}

	ix, err := e.Amend(cmd.amend)
	if err != nil {
		s.onEngineError(cmd.asset, e, err)
		cmd.reply <- outbound{err: err}
		return
	}
	cmd.reply <- outbound{index: ix}
}

func (s *Supervisor) processControl(ctx context.Context, e *matching.Engine, cmd inbound, k commandlog.Kind, newState matching.State) {
	if _, err := s.log.Append(ctx, string(cmd.asset), k, struct{}{}); err != nil {
		cmd.reply <- outbound{err: err}
		return
	}
	e.SetState(newState)
	s.notify.PublishStateChange(cmd.asset, newState)
	cmd.reply <- outbound{}
}

// onEngineError handles the one fatal error kind: a defensive invariant
// violation found during commit. Per spec.md §7, it is fatal to the engine
// worker — the asset's engine transitions to Suspended; the command log
// remains the recovery point and outstanding reservations are reverted by
// the coordinator's revert guards once the reply carries the error back.
func (s *Supervisor) onEngineError(asset coretypes.Asset, e *matching.Engine, err error) {
	if !xerrors.Is(err, xerrors.Internal) {
		return
	}
	s.logger.Error("engine invariant violation, suspending", zap.String("asset", string(asset)), zap.Error(err))
	e.SetState(matching.Suspended)
	s.notify.PublishStateChange(asset, matching.Suspended)
}

// SubmitPlace implements coordinator.Submitter: enqueue req and await the
// engine's reply. Blocks on the inbound queue when it is full (backpressure)
// and returns Unresponsive if the queue is closed.
func (s *Supervisor) SubmitPlace(ctx context.Context, req matching.PlaceRequest) (*matching.PlaceResult, error) {
	reply := make(chan outbound, 1)
	cmd := inbound{kind: kindPlace, asset: req.Asset, place: req, reply: reply}
	if err := s.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	out := s.await(ctx, reply)
	return out.place, out.err
}

// SubmitCancel implements coordinator.Submitter.
func (s *Supervisor) SubmitCancel(ctx context.Context, ix slab.Index) error {
	reply := make(chan outbound, 1)
	cmd := inbound{kind: kindCancel, asset: ix.Asset, cancel: ix, reply: reply}
	if err := s.enqueue(ctx, cmd); err != nil {
		return err
	}
	return s.await(ctx, reply).err
}

// SubmitAmend implements coordinator.Submitter.
func (s *Supervisor) SubmitAmend(ctx context.Context, req matching.AmendRequest) (slab.Index, error) {
	reply := make(chan outbound, 1)
	cmd := inbound{kind: kindAmend, asset: req.Index.Asset, amend: req, reply: reply}
	if err := s.enqueue(ctx, cmd); err != nil {
		return slab.Index{}, err
	}
	out := s.await(ctx, reply)
	return out.index, out.err
}

// Suspend, Resume, and EnterReduceOnly are the operator-only control
// commands of spec.md §4.4.7, scoped to one asset's engine.
func (s *Supervisor) Suspend(ctx context.Context, asset coretypes.Asset) error {
	return s.control(ctx, kindSuspend, asset)
}

func (s *Supervisor) Resume(ctx context.Context, asset coretypes.Asset) error {
	return s.control(ctx, kindResume, asset)
}

func (s *Supervisor) EnterReduceOnly(ctx context.Context, asset coretypes.Asset) error {
	return s.control(ctx, kindEnterReduceOnly, asset)
}

func (s *Supervisor) control(ctx context.Context, k kind, asset coretypes.Asset) error {
	reply := make(chan outbound, 1)
	cmd := inbound{kind: k, asset: asset, reply: reply}
	if err := s.enqueue(ctx, cmd); err != nil {
		return err
	}
	return s.await(ctx, reply).err
}

// Shutdown is terminal: it closes the inbound queue so Run returns once it
// drains whatever is already enqueued, and refuses any further submission.
func (s *Supervisor) Shutdown() {
	close(s.inbox)
	<-s.done
}

func (s *Supervisor) enqueue(ctx context.Context, cmd inbound) (err error) {
	// Sending on the inbox after Shutdown closed it panics; report that as
	// an unresponsive engine instead.
	defer func() {
		if recover() != nil {
			err = xerrors.New(xerrors.Unresponsive, "supervisor inbound queue closed")
		}
	}()
	select {
	case s.inbox <- cmd:
		if s.metrics != nil {
			s.metrics.QueueDepth.WithLabelValues(string(cmd.asset)).Set(float64(len(s.inbox)))
		}
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(ctx.Err(), xerrors.Unresponsive, "enqueue canceled")
	}
}

func (s *Supervisor) await(ctx context.Context, reply chan outbound) outbound {
	select {
	case out, ok := <-reply:
		if !ok {
			return outbound{err: xerrors.New(xerrors.Unresponsive, "engine reply channel closed")}
		}
		return out
	case <-ctx.Done():
		// The caller stops waiting; the worker still completes the command
		// and the reply is discarded into the buffered channel. Engine
		// state is never affected by a caller losing interest.
		return outbound{err: xerrors.Wrap(ctx.Err(), xerrors.Unresponsive, "await canceled")}
	}
}
