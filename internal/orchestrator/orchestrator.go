// Package orchestrator is the Request Orchestrator (spec §5): it binds
// the cascade, resolver, injector, executor, and session store behind
// one narrow-dependency struct, enforces a per-request deadline, and
// degrades gracefully when an upstream is unhealthy.
//
// Grounded on the teacher's pkg/chat/service.go: a struct wrapping a
// handful of narrow interfaces with verb methods and no back-references,
// generalized from per-thread chat orchestration to per-utterance
// request orchestration (spec §9's redesign note on cyclic object
// graphs: every dependency here is passed once at construction, and
// nothing is handed a pointer back to the Orchestrator itself).
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/executor"
	"github.com/barnabee/core/internal/injector"
	"github.com/barnabee/core/internal/logctx"
	"github.com/barnabee/core/internal/resolver"
	"github.com/barnabee/core/internal/session"
)

// Request is the downstream contract's input (spec §5).
type Request struct {
	UtteranceText  string
	DeviceID       string
	SpeakerID      string
	ConversationID string
}

// Response is the downstream contract's output (spec §5).
type Response struct {
	Intent         string
	Confidence     float64
	Entities       []resolver.Resolved
	ResponseText   string
	ExecutorResult *executor.Result
	LatencyMS      int64
	Stage          cascade.Stage
	Degraded       bool
	Warnings       []string
}

// MirrorHealth reports whether the live entity connection is usable, so
// the orchestrator can degrade instead of resolving against a stale or
// empty mirror (spec §7).
type MirrorHealth interface {
	Healthy() bool
}

// Responder generates the natural-language response text for a decided
// intent, given the entities the injector selected for the prompt.
type Responder interface {
	Respond(ctx context.Context, intent string, slots map[string]any, snippets []injector.Snippet) (string, error)
}

// Orchestrator binds one request's full pipeline.
type Orchestrator struct {
	cascade  *cascade.Cascade
	resolver *resolver.Resolver
	injector *injector.Injector
	executor *executor.Executor
	sessions  *session.Store
	mirror    MirrorHealth
	responder Responder

	registry map[string]executor.ServiceMapping

	requestDeadline       time.Duration
	speculativeConfidence float64
	speculativeHeadStart  time.Duration

	turnLocks sync.Map // conversationID -> *sync.Mutex
}

// Config bundles the Orchestrator's tunables (spec §6).
type Config struct {
	RequestDeadline       time.Duration
	SpeculativeConfidence float64
	SpeculativeHeadStart  time.Duration
}

// New builds an Orchestrator.
func New(c *cascade.Cascade, r *resolver.Resolver, inj *injector.Injector, ex *executor.Executor,
	sessions *session.Store, mirror MirrorHealth, responder Responder,
	registry map[string]executor.ServiceMapping, cfg Config) *Orchestrator {
	return &Orchestrator{
		cascade: c, resolver: r, injector: inj, executor: ex,
		sessions: sessions, mirror: mirror, responder: responder,
		registry:              registry,
		requestDeadline:       cfg.RequestDeadline,
		speculativeConfidence: cfg.SpeculativeConfidence,
		speculativeHeadStart:  cfg.SpeculativeHeadStart,
	}
}

// Handle runs one utterance through the full pipeline, serialized by
// conversation ID (spec §5's turn-ordering guarantee) and bounded by the
// configured request deadline.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = logctx.WithRequest(ctx, requestID, req.DeviceID, req.ConversationID)

	unlock := o.lockConversation(req.ConversationID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.requestDeadline)
	defer cancel()

	result, err := o.cascade.Classify(ctx, req.UtteranceText)
	if err != nil {
		return o.degrade(result, start, "classification unavailable: "+err.Error()), nil
	}

	resp := Response{Intent: result.Intent, Confidence: result.Confidence, Stage: result.Stage}

	st, sessErr := o.sessions.Get(ctx, req.DeviceID)
	speakerArea := ""
	if sessErr == nil {
		speakerArea = st.Speaker
	}

	family := intentFamily(result.Intent)
	mapping, hasMapping := o.registry[result.Intent]

	var resolved []resolver.Resolved
	var warnings []string
	var entityIDs []string

	if hasMapping && o.mirror != nil && o.mirror.Healthy() {
		mentions := mentionsFor(result)
		for _, mention := range mentions {
			r, rerr := o.resolver.Resolve(ctx, mention, result.Intent, mapping.Domain, speakerArea)
			if rerr != nil {
				warnings = append(warnings, rerr.Error())
				continue
			}
			resolved = append(resolved, r)
			entityIDs = append(entityIDs, r.EntityID)
		}
	} else if hasMapping {
		warnings = append(warnings, "entity mirror unavailable; skipping entity resolution")
	}
	resp.Entities = resolved
	resp.Warnings = warnings

	var snippets []injector.Snippet
	if o.injector != nil {
		snippets = o.injector.Select(family, "", speakerArea)
	}

	haveExec := hasMapping && len(entityIDs) > 0 && o.executor != nil
	var execReq executor.Request
	if haveExec {
		execReq = executor.Request{
			RequestID: requestID, Intent: result.Intent, EntityIDs: entityIDs,
			Slots: result.Entities.RawSlots, Confidence: result.Confidence, SpeakerID: req.SpeakerID,
		}
	}
	speculative := haveExec && executor.IsSpeculativeEligible(family, result.Confidence, o.speculativeConfidence, req.SpeakerID)

	var responseText string
	var respErr error
	var execResult executor.Result
	var execErr error

	if speculative {
		// Spec §4.8: the service call begins immediately after
		// classification, before response generation, and races the
		// response pipeline with a head-start budget — so the two run
		// concurrently rather than the executor waiting on response text
		// that has nothing to do with its dispatch.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			execResult, execErr = o.executor.DispatchSpeculative(gctx, execReq, o.speculativeHeadStart)
			return nil
		})
		g.Go(func() error {
			if o.responder != nil {
				responseText, respErr = o.responder.Respond(gctx, result.Intent, result.Entities.RawSlots, snippets)
			}
			return nil
		})
		_ = g.Wait()
	} else {
		if o.responder != nil {
			responseText, respErr = o.responder.Respond(ctx, result.Intent, result.Entities.RawSlots, snippets)
		}
		if haveExec {
			execResult, execErr = o.executor.Dispatch(ctx, execReq)
		}
	}

	if respErr != nil {
		resp.ResponseText = "I heard you, but I'm having trouble responding right now."
		resp.Warnings = append(resp.Warnings, "response generation failed: "+respErr.Error())
	} else {
		resp.ResponseText = responseText
	}

	if haveExec {
		switch {
		case execErr != nil:
			resp.Warnings = append(resp.Warnings, "command execution failed: "+execErr.Error())
			resp.ResponseText = amendForExecutionFailure(resp.ResponseText)
		case execResult.Pending:
			resp.ExecutorResult = &execResult
			resp.Warnings = append(resp.Warnings, "command dispatched; outcome still pending")
		default:
			resp.ExecutorResult = &execResult
			if !execResult.Success {
				resp.ResponseText = amendForExecutionFailure(resp.ResponseText)
			}
		}
	}

	_ = o.sessions.Put(ctx, session.State{
		DeviceID: req.DeviceID, ConversationID: req.ConversationID,
		Mode: session.ModeIdle, Speaker: req.SpeakerID,
		LastIntent: result.Intent, LastEntities: entityIDs, UpdatedAt: time.Now().Unix(),
	})

	resp.LatencyMS = time.Since(start).Milliseconds()
	return resp, nil
}

// degrade builds a best-effort response when classification itself
// failed, per spec §7's graceful-degradation contract.
func (o *Orchestrator) degrade(result cascade.Result, start time.Time, reason string) Response {
	return Response{
		Intent:       result.Intent,
		Confidence:   result.Confidence,
		ResponseText: "I'm having trouble understanding requests right now.",
		Degraded:     true,
		Warnings:     []string{reason},
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}

// amendForExecutionFailure appends a failure notice without throwing
// away a response that was already generated (spec §7: "executor
// failure after response generated -> amended response").
func amendForExecutionFailure(text string) string {
	if text == "" {
		return "I understood, but couldn't complete that action."
	}
	return text + " (though I wasn't able to complete the action)"
}

// lockConversation serializes turns within one conversation (spec §5).
func (o *Orchestrator) lockConversation(conversationID string) func() {
	if conversationID == "" {
		return func() {}
	}
	v, _ := o.turnLocks.LoadOrStore(conversationID, &sync.Mutex{})
	lock := v.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

// intentFamily maps a concrete intent to the family the injector and
// executor's safe set key on.
func intentFamily(intent string) string {
	switch {
	case strings.HasPrefix(intent, "light_"):
		return "light"
	case strings.HasPrefix(intent, "cover_"):
		return "cover"
	case strings.HasPrefix(intent, "media_"):
		return "media"
	case strings.HasPrefix(intent, "climate_"):
		return "climate"
	case strings.HasPrefix(intent, "lock_"):
		return "lock"
	case intent == "weather_query":
		return "weather"
	case intent == "time_query" || strings.HasPrefix(intent, "timer_"):
		return "timer"
	case strings.HasPrefix(intent, "location_"):
		return "location"
	default:
		return "general"
	}
}

// mentionsFor derives entity-mention strings to resolve from the
// cascade's extracted slots, falling back to the device mention if the
// classifier didn't extract an explicit device.
func mentionsFor(result cascade.Result) []string {
	if len(result.Entities.Devices) > 0 {
		return result.Entities.Devices
	}
	if len(result.Entities.Locations) > 0 {
		return result.Entities.Locations
	}
	return []string{result.NormalizedText}
}
