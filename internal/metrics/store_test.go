package metrics

import (
	"context"
	"testing"
	"time"

	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/testutil"
)

func TestStore_RecordAndDailyUsage(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.DB(t).SQL)

	if err := store.RecordMeta(ctx, shared.AgentMeta{
		AgentName: "WeekPlanner",
		Usage:     shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "m"},
		Latency:   2 * time.Second,
	}); err != nil {
		t.Fatalf("RecordMeta failed: %v", err)
	}
	if err := store.Record(ctx, ExecutionMetric{AgentName: "RecipeWriter", Model: "m", PromptTokens: 10, CompletionTokens: 5}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	// Zero-usage metas are ignored.
	if err := store.RecordMeta(ctx, shared.AgentMeta{AgentName: "Empty"}); err != nil {
		t.Fatalf("RecordMeta failed: %v", err)
	}

	usage, err := store.GetDailyUsage(ctx, 7)
	if err != nil {
		t.Fatalf("GetDailyUsage failed: %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("Expected 1 day of usage, got %d", len(usage))
	}
	if usage[0].TotalPrompt != 110 || usage[0].TotalCompletion != 55 || usage[0].TotalExecution != 2 {
		t.Errorf("Unexpected usage %+v", usage[0])
	}
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.DB(t).SQL)

	old := ExecutionMetric{AgentName: "Old", Model: "m", PromptTokens: 1, Timestamp: time.Now().AddDate(0, 0, -40)}
	recent := ExecutionMetric{AgentName: "New", Model: "m", PromptTokens: 1}
	_ = store.Record(ctx, old)
	_ = store.Record(ctx, recent)

	affected, err := store.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 removed record, got %d", affected)
	}
}
