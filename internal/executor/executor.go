// Package executor is the Command Executor (spec §4.8): it validates
// resolved entities, builds service-call payloads from extracted slots,
// dispatches over the Entity Mirror's connection, and races safe-set
// intents speculatively ahead of response generation.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/barnabee/core/internal/errs"
	"github.com/barnabee/core/internal/session"
)

// callCap bounds total executor time per call (spec §4.8).
const callCap = 500 * time.Millisecond

// retryBackoff is the fixed wait before a single transport-error retry
// (spec §4.8).
const retryBackoff = 200 * time.Millisecond

// entityLockTTL is the per-entity command-serialization window (spec §5
// Backpressure): a retry storm against the same entity is throttled by
// letting the lock outlive the call that took it, not by releasing it
// the instant that call returns.
const entityLockTTL = 30 * time.Second

// EntityMirror is the narrow surface the executor dispatches through.
type EntityMirror interface {
	GetByID(id string) (Entity, bool)
	CallService(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error
}

// Entity is the availability-check projection of mirror.Entity.
type Entity struct {
	ID        string
	Domain    string
	Available bool
}

// Locker is the narrow per-entity lock surface, satisfied by *session.Store.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*session.Lock, error)
}

// Request is one command to dispatch.
type Request struct {
	RequestID  string
	Intent     string
	EntityIDs  []string
	Slots      map[string]any
	Confidence float64
	SpeakerID  string // empty means the command cannot be made speculative
}

// Result is the executor's outcome (spec §4.8's success-with-warnings
// semantics and the downstream executor_result contract).
type Result struct {
	Success         bool
	EntityIDs       []string
	Action          string
	Error           string
	ExecutionTimeMS int64
	Warnings        []string

	// Pending is set by DispatchSpeculative when the head-start budget
	// elapsed before the underlying call finished; the dispatch keeps
	// running in the background (still cancelable via Cancel) and this
	// Result carries no outcome.
	Pending bool
}

// Executor dispatches commands and tracks speculative tasks.
type Executor struct {
	mirror   EntityMirror
	locker   Locker
	registry map[string]ServiceMapping

	mu    sync.Mutex
	tasks map[string]context.CancelFunc // request ID -> cancel
}

// New builds an Executor from a service-mapping registry (see DefaultRegistry).
func New(mirror EntityMirror, locker Locker, registry map[string]ServiceMapping) *Executor {
	return &Executor{mirror: mirror, locker: locker, registry: registry, tasks: make(map[string]context.CancelFunc)}
}

// Dispatch validates entities, builds the payload, and issues the
// service call, capped at 500ms total (spec §4.8).
func (e *Executor) Dispatch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	mapping, ok := e.registry[req.Intent]
	if !ok {
		return Result{}, errs.New(errs.KindValidation, "executor.Dispatch", "no service mapping for intent "+req.Intent, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, callCap)
	defer cancel()
	e.track(req.RequestID, cancel)
	defer e.untrack(req.RequestID)

	valid, warnings := e.validateEntities(req.EntityIDs)
	if len(valid) == 0 {
		return Result{Success: false, Action: mapping.Service, Warnings: warnings,
			Error: "no target entity is available", ExecutionTimeMS: time.Since(start).Milliseconds()}, nil
	}

	unlock, err := e.acquireLocks(ctx, valid)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	data := mapping.BuildData(req.Slots)
	callErr := e.callWithRetry(ctx, mapping.Domain, mapping.Service, valid, data)

	result := Result{
		Success:         callErr == nil,
		EntityIDs:       valid,
		Action:          mapping.Service,
		Warnings:        warnings,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	if callErr != nil {
		result.Error = callErr.Error()
	}
	// Success-with-warnings (spec §4.8): a partial entity list that still
	// dispatched successfully is reported as success, with the skipped
	// entities surfaced via Warnings rather than failing the whole call.
	return result, nil
}

// IsSpeculativeEligible reports whether req qualifies for speculative
// execution (spec §4.8's safe set + confidence threshold + known speaker).
func IsSpeculativeEligible(intent string, confidence, threshold float64, speakerID string) bool {
	return SafeSet[intent] && confidence >= threshold && speakerID != ""
}

// DispatchSpeculative begins the service call immediately in the
// background and races it against headStart (spec §4.8): it returns as
// soon as the call finishes, or as soon as headStart elapses, whichever
// comes first. The caller is expected to run its own response-generation
// pipeline concurrently with this call, not after it. If headStart wins
// the race, the dispatch is still in flight (tracked under req.RequestID
// for Cancel) and the returned Result has Pending set.
func (e *Executor) DispatchSpeculative(ctx context.Context, req Request, headStart time.Duration) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.Dispatch(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(headStart)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return Result{Pending: true, Action: req.Intent}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel aborts a live speculative task for requestID, used when a later
// classification change (e.g. a correction) invalidates it (spec §4.8).
func (e *Executor) Cancel(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.tasks[requestID]; ok {
		cancel()
		delete(e.tasks, requestID)
	}
}

func (e *Executor) track(requestID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks[requestID] = cancel
}

func (e *Executor) untrack(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tasks, requestID)
}

func (e *Executor) validateEntities(ids []string) (valid []string, warnings []string) {
	for _, id := range ids {
		ent, ok := e.mirror.GetByID(id)
		if !ok {
			warnings = append(warnings, id+": unknown entity")
			continue
		}
		if !ent.Available {
			warnings = append(warnings, id+": unavailable")
			continue
		}
		valid = append(valid, id)
	}
	return valid, warnings
}

// acquireLocks takes a 30s-TTL lock per entity (spec §5 Backpressure).
// On success the locks are left to expire on their own rather than
// released when Dispatch returns: a short-lived release would let a
// retry storm against the same entity re-acquire immediately, defeating
// the throttle. Locks are only released early here if acquisition itself
// fails partway through the batch, since in that case the call never
// dispatched anything worth serializing against.
func (e *Executor) acquireLocks(ctx context.Context, entityIDs []string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	locks := make([]*session.Lock, 0, len(entityIDs))
	for _, id := range entityIDs {
		lock, err := e.locker.AcquireLock(ctx, "entity:"+id, entityLockTTL)
		if err != nil {
			for _, l := range locks {
				_ = l.Release(ctx)
			}
			return nil, err
		}
		locks = append(locks, lock)
	}
	return func() {}, nil
}

// callWithRetry issues the service call, retrying exactly once on a
// transient-upstream error with a fixed 200ms backoff (spec §4.8).
// Non-transient errors are returned immediately without retry.
func (e *Executor) callWithRetry(ctx context.Context, domain, service string, entityIDs []string, data map[string]any) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), 1), ctx)
	return backoff.Retry(func() error {
		err := e.mirror.CallService(ctx, domain, service, entityIDs, data)
		if err != nil && errs.KindOf(err) != errs.KindTransientUpstream {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
