package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barnabee/core/internal/cascade"
	"github.com/barnabee/core/internal/config"
	"github.com/barnabee/core/internal/executor"
	"github.com/barnabee/core/internal/golden"
	"github.com/barnabee/core/internal/improve"
	"github.com/barnabee/core/internal/injector"
	"github.com/barnabee/core/internal/llm"
	"github.com/barnabee/core/internal/mirror"
	"github.com/barnabee/core/internal/normalizer"
	"github.com/barnabee/core/internal/orchestrator"
	"github.com/barnabee/core/internal/resolver"
	"github.com/barnabee/core/internal/responder"
	"github.com/barnabee/core/internal/session"
	"github.com/barnabee/core/internal/signals"
	"github.com/barnabee/core/internal/store"
	"github.com/barnabee/core/internal/workerpool"
)

// services bundles every constructed component a subcommand might need,
// so serve/migrate/ingest-golden/sync-entities/improve-now can each pick
// out what they use without repeating construction logic.
type services struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *store.SQLiteStore
	sessions *session.Store
	mirror   *mirror.Mirror
	signals  *signals.Collector
	cascade  *cascade.Cascade
	resolver *resolver.Resolver
	injector *injector.Injector
	executor *executor.Executor
	responder *responder.Generator
	pipeline *improve.Pipeline
	orch     *orchestrator.Orchestrator
}

// build wires every component from cfg. ctx bounds the startup-time LLM
// calls (S2's centroid embedding, S3's reference classifier).
func build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*services, error) {
	st, err := store.NewSQLiteStoreWithDSN(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	chatClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey: cfg.LLMAPIKey, BaseURL: cfg.LLMBaseURL,
		ChatModel: cfg.LLMModel, EmbeddingModel: cfg.EmbeddingModel,
	})

	norm, err := normalizer.New([]string{"hey barnabee", "ok barnabee", "barnabee"})
	if err != nil {
		return nil, err
	}

	// gpuPool gates S2/S3 so at most one inference call runs at a time
	// regardless of how many requests are in flight concurrently (spec §5).
	gpuPool := workerpool.NewGPUBound()

	s1 := cascade.NewStage1(seedPhrases())
	s2, err := cascade.NewStage2(ctx, chatClient, seedExamples(), gpuPool)
	if err != nil {
		return nil, err
	}
	localClassifier, err := llm.NewCentroidClassifier(ctx, chatClient, seedExamples())
	if err != nil {
		return nil, err
	}
	s3 := cascade.NewStage3(localClassifier, gpuPool)
	s4 := cascade.NewStage4(chatClient, seedIntents())

	sigCollector := signals.New(st, 1024, uuid.NewString)
	casc := cascade.New(norm, s1, s2, s3, s4, cascade.DefaultThresholds(), sigCollector, uuid.NewString)

	sessions := session.New(cfg.RedisAddr, cfg.RedisDB, time.Duration(cfg.SessionTTLSeconds)*time.Second)

	mir := mirror.New(mirror.Config{
		WebsocketURL: websocketURL(cfg.HomeAssistantURL), HTTPBaseURL: cfg.HomeAssistantURL, Token: cfg.HomeAssistantToken,
	}, sessions, st, log)

	res := resolver.New(resolver.MirrorAdapter{Mirror: mir}, chatClient, resolverSignalRecorder{store: st, signals: sigCollector}, 0.85)
	inj := injector.New(mir, cfg.ContextTokenBudget)
	reg := executor.DefaultRegistry()
	exec := executor.New(executor.MirrorAdapter{Mirror: mir}, sessions, reg)
	resp := responder.New(responder.DefaultTemplates())

	applier := improve.NewClassifierApplier(s1, mir, st, casc, uuid.NewString)
	baseline := golden.NewCascadeEvaluator(casc)
	monitor := improve.NewLiveMonitor(casc, st, st)
	pipeline := improve.New(st, chatClient, baseline, applier, monitor)

	orch := orchestrator.New(casc, res, inj, exec, sessions, mir, resp, reg, orchestrator.Config{
		RequestDeadline:       time.Duration(cfg.RequestDeadlineMS) * time.Millisecond,
		SpeculativeConfidence: cfg.SpeculativeConfidenceThresh,
		SpeculativeHeadStart:  time.Duration(cfg.SpeculativeHeadStartMS) * time.Millisecond,
	})

	return &services{
		cfg: cfg, log: log, store: st, sessions: sessions, mirror: mir, signals: sigCollector,
		cascade: casc, resolver: res, injector: inj, executor: exec, responder: resp,
		pipeline: pipeline, orch: orch,
	}, nil
}

func (s *services) Close() {
	_ = s.store.Close()
	_ = s.sessions.Close()
}

// websocketURL derives Home Assistant's websocket API endpoint from its
// configured HTTP base URL.
func websocketURL(httpBaseURL string) string {
	url := strings.Replace(httpBaseURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/api/websocket"
}

// resolverSignalRecorder routes the resolver's alias-improvement creation
// straight to durable storage (it must survive a crash before the next
// nightly pass reads it) while buffering its telemetry signals through
// the same bounded Collector the cascade uses, so a resolver call on the
// hot request path never blocks on a synchronous SQLite write.
type resolverSignalRecorder struct {
	store   *store.SQLiteStore
	signals *signals.Collector
}

func (r resolverSignalRecorder) CreateImprovement(ctx context.Context, imp *store.Improvement) error {
	return r.store.CreateImprovement(ctx, imp)
}

func (r resolverSignalRecorder) RecordSignal(ctx context.Context, sig *store.Signal) error {
	return r.signals.RecordSignal(ctx, sig)
}
