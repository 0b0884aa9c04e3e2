package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/consultdeck/deckgen/config"
)

func TestRecordStageAndJobCounters(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true})
	tel.RecordStage("j1", "storyline", 100*time.Millisecond, nil)
	tel.RecordStage("j1", "research", 200*time.Millisecond, errors.New("timeout"))
	tel.RecordStage("j2", "storyline", 150*time.Millisecond, nil)
	tel.RecordJob("j1", "failed", 0, 0, time.Second)
	tel.RecordJob("j2", "completed", 2, 84, 2*time.Second)

	stages, jobs := tel.Snapshot()
	if stages["storyline"] != 2 || stages["research"] != 1 {
		t.Fatalf("unexpected stage counts: %v", stages)
	}
	if jobs["failed"] != 1 || jobs["completed"] != 1 {
		t.Fatalf("unexpected job counts: %v", jobs)
	}
}

func TestRecordStageDisabled(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: false})
	tel.RecordStage("j1", "storyline", time.Millisecond, nil)
	stages, _ := tel.Snapshot()
	if len(stages) != 0 {
		t.Fatalf("disabled telemetry should not count stages, got %v", stages)
	}
}

func TestRecordTokensAccumulatesPerModel(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true, CostTracking: true})
	tel.RecordTokens("gpt-5", 120, 45)
	tel.RecordTokens("gpt-5", 80, 20)
	tel.RecordTokens("gpt-5-mini", 30, 10)

	tokens := tel.TokenSnapshot()
	if tokens["gpt-5"] != 265 {
		t.Fatalf("expected 265 tokens for gpt-5, got %d", tokens["gpt-5"])
	}
	if tokens["gpt-5-mini"] != 40 {
		t.Fatalf("expected 40 tokens for gpt-5-mini, got %d", tokens["gpt-5-mini"])
	}
}

func TestRecordTokensGatedOnCostTracking(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true, CostTracking: false})
	tel.RecordTokens("gpt-5", 120, 45)
	if tokens := tel.TokenSnapshot(); len(tokens) != 0 {
		t.Fatalf("cost tracking disabled, expected no tokens, got %v", tokens)
	}

	tel = New(config.TelemetryConfig{Enabled: false, CostTracking: true})
	tel.RecordTokens("gpt-5", 120, 45)
	if tokens := tel.TokenSnapshot(); len(tokens) != 0 {
		t.Fatalf("telemetry disabled, expected no tokens, got %v", tokens)
	}
}
