package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCreateGetSoftDelete(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	m := &Memory{
		ID:        "mem1",
		Summary:   "likes jazz",
		Content:   "The user mentioned they like jazz music on weekends.",
		Keywords:  []string{"jazz", "music"},
		Type:      MemoryPreference,
		Source:    SourceExtracted,
		Owner:     "alice",
		Visibility: VisibilityOwner,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, "mem1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "likes jazz", got.Summary)
	require.Equal(t, []string{"jazz", "music"}, got.Keywords)
	require.Equal(t, StatusActive, got.Status)

	require.NoError(t, s.TouchMemory(ctx, "mem1", now+10))
	got, err = s.GetMemory(ctx, "mem1")
	require.NoError(t, err)
	require.Equal(t, 1, got.AccessCount)

	require.NoError(t, s.SoftDeleteMemory(ctx, "mem1", now+20))
	got, err = s.GetMemory(ctx, "mem1")
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, got.Status)

	list, err := s.ListMemoriesByOwner(ctx, "alice", Page{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, list) // deleted memories are excluded
}

func TestMemoryEmbeddingAndHybridSearch(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	m := &Memory{
		ID: "mem2", Summary: "favorite restaurant", Content: "The user's favorite restaurant is Luigi's on Main Street.",
		Keywords: []string{"restaurant", "luigi"}, Type: MemoryFact, Source: SourceExplicit,
		Owner: "alice", Visibility: VisibilityOwner, Status: StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateMemory(ctx, m))

	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = float32(i) / 8
	}
	require.NoError(t, s.PutMemoryEmbedding(ctx, MemoryEmbedding{
		MemoryID: "mem2", Model: "test-embed", Dimension: 1536, Vector: vec, CreatedAt: now,
	}))

	results, err := s.HybridSearch(ctx, "restaurant", vec, 0.5, 0.5, Page{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "mem2", results[0].Memory.ID)
}

func TestHybridSearchRanksByScoreNotRecency(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	query := make([]float32, 1536)
	query[0] = 1

	orthogonal := make([]float32, 1536)
	orthogonal[7] = 1

	// memOld has a near-perfect vector match but is far older than the
	// three memRecent rows, which only share the query's recency, not its
	// content. A recency-first page of size 1 would wrongly return a
	// memRecent row; ranking by blended score must surface memOld instead.
	memOld := &Memory{
		ID: "mem-old", Summary: "old but relevant", Content: "old but relevant",
		Type: MemoryFact, Source: SourceExplicit, Visibility: VisibilityOwner,
		Status: StatusActive, CreatedAt: now - 1_000_000, UpdatedAt: now - 1_000_000,
	}
	require.NoError(t, s.CreateMemory(ctx, memOld))
	require.NoError(t, s.PutMemoryEmbedding(ctx, MemoryEmbedding{
		MemoryID: "mem-old", Model: "test-embed", Dimension: 1536, Vector: query, CreatedAt: now - 1_000_000,
	}))

	for i, id := range []string{"mem-recent-1", "mem-recent-2", "mem-recent-3"} {
		created := now + int64(i)
		m := &Memory{
			ID: id, Summary: "recent but unrelated", Content: "recent but unrelated",
			Type: MemoryFact, Source: SourceExplicit, Visibility: VisibilityOwner,
			Status: StatusActive, CreatedAt: created, UpdatedAt: created,
		}
		require.NoError(t, s.CreateMemory(ctx, m))
		require.NoError(t, s.PutMemoryEmbedding(ctx, MemoryEmbedding{
			MemoryID: id, Model: "test-embed", Dimension: 1536, Vector: orthogonal, CreatedAt: created,
		}))
	}

	results, err := s.HybridSearch(ctx, "nonmatchingterm", query, 1.0, 0.0, Page{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mem-old", results[0].Memory.ID, "top-scoring memory must win over merely-recent ones")

	all, err := s.HybridSearch(ctx, "nonmatchingterm", query, 1.0, 0.0, Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "mem-old", all[0].Memory.ID)
}

func TestConversationAndTurns(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	c := &Conversation{ID: "conv1", DeviceID: "kitchen-speaker", OpenedAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateConversation(ctx, c))

	require.NoError(t, s.AppendTurn(ctx, &Turn{
		ID: "turn1", ConversationID: "conv1", Role: RoleUser, Text: "turn on the lights",
		Intent: "device_control", Confidence: 0.97, CreatedAt: now,
	}))
	require.NoError(t, s.AppendTurn(ctx, &Turn{
		ID: "turn2", ConversationID: "conv1", Role: RoleAssistant, Text: "Turning on the lights.",
		CreatedAt: now + 1,
	}))

	turns, err := s.ListTurns(ctx, "conv1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, RoleUser, turns[0].Role)

	require.NoError(t, s.CloseConversation(ctx, "conv1", now+5))
}

func TestMirroredEntityAndAliases(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	e := &MirroredEntity{
		ID: "light.kitchen", Domain: "light", State: "off",
		FriendlyName: "Kitchen Light", Area: "kitchen",
		Keywords: []string{"kitchen", "light"}, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertMirroredEntity(ctx, e))

	all, err := s.ListMirroredEntities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Kitchen Light", all[0].FriendlyName)

	require.NoError(t, s.AddEntityAlias(ctx, EntityAlias{
		ID: "alias1", EntityID: "light.kitchen", Alias: "cook lamp", Source: "improvement", CreatedAt: now,
	}))
	aliases, err := s.ListEntityAliases(ctx, "light.kitchen")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	require.Equal(t, "cook lamp", aliases[0].Alias)
}

func TestSignalLifecycle(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	require.NoError(t, s.RecordSignal(ctx, &Signal{
		ID: "sig1", Kind: SignalLowConfidence, Utterance: "dim the thing", CreatedAt: now,
	}))

	unprocessed, err := s.UnprocessedSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	require.NoError(t, s.MarkSignalsProcessed(ctx, []string{"sig1"}))
	unprocessed, err = s.UnprocessedSignals(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, unprocessed)
}

func TestImprovementLifecycle(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	imp := &Improvement{
		ID: "imp1", Type: ImprovementAlias, Tier: Tier1, Target: "light.kitchen",
		ProposedValue: "cook lamp", Source: ImprovementAutomatic, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateImprovement(ctx, imp))

	require.NoError(t, s.UpdateImprovementShadow(ctx, "imp1", ShadowResult{
		AccuracyNew: 0.96, AccuracyOld: 0.95, Passed: true,
	}, now+1))

	got, err := s.GetImprovement(ctx, "imp1")
	require.NoError(t, err)
	require.Equal(t, ImprovementShadowTested, got.Status)
	require.True(t, got.Shadow.Passed)

	require.NoError(t, s.SetImprovementStatus(ctx, "imp1", ImprovementApplied, now+2))
	require.NoError(t, s.CreateImprovementBackup(ctx, &ImprovementBackup{
		ID: "bak1", ImprovementID: "imp1", Target: "light.kitchen", Snapshot: `{"aliases":[]}`, CreatedAt: now + 2,
	}))
	require.NoError(t, s.StartMonitoring(ctx, "imp1", now+2, now+2+86400))

	backup, err := s.GetImprovementBackup(ctx, "imp1")
	require.NoError(t, err)
	require.NotNil(t, backup)

	require.NoError(t, s.RollbackImprovement(ctx, "imp1", "accuracy regression", now+3))
	got, err = s.GetImprovement(ctx, "imp1")
	require.NoError(t, err)
	require.Equal(t, ImprovementRolledBack, got.Status)
	require.Equal(t, "accuracy regression", got.RollbackReason)

	require.NoError(t, s.AppendAudit(ctx, AuditEntry{
		ID: "audit1", ImprovementID: "imp1", Event: "rolled_back", Detail: "accuracy regression", CreatedAt: now + 3,
	}))
}

func TestGoldenCases(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Unix()

	require.NoError(t, s.PutGoldenCase(ctx, &GoldenCase{
		ID: "golden1", Utterance: "turn off the kitchen light",
		ExpectedIntent: "device_control", ExpectedEntities: []string{"light.kitchen"}, CreatedAt: now,
	}))

	count, err := s.CountGoldenCases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	cases, err := s.ListGoldenCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "device_control", cases[0].ExpectedIntent)
}
