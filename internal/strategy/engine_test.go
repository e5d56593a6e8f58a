package strategy

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

func factorSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestLoadStrategiesRejectsUnknownFactor(t *testing.T) {
	e := New(zap.NewNop())
	defs := map[string]types.StrategyDefinition{
		"s1": {ID: "s1", Condition: "nope > 1"},
	}
	if err := e.LoadStrategies(defs, factorSet("profitPercent")); err == nil {
		t.Fatal("expected error for unknown factor")
	}
}

func TestLoadStrategiesSortsByPriority(t *testing.T) {
	e := New(zap.NewNop())
	defs := map[string]types.StrategyDefinition{
		"low":  {ID: "low", Priority: 2, Condition: "profitPercent >= 0"},
		"high": {ID: "high", Priority: 1, Condition: "profitPercent >= 0"},
	}
	if err := e.LoadStrategies(defs, factorSet("profitPercent")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := e.Strategies()
	if got[0].Def.ID != "high" || got[1].Def.ID != "low" {
		t.Fatalf("order = [%s %s], want [high low]", got[0].Def.ID, got[1].Def.ID)
	}
}

// S2 from spec.md §8: cooldown=60s, maxExecutions=2, condition
// `profitPercent >= 30`. t=0 fires; t=30s does not; t=65s fires; t=200s
// (max reached) does not.
func TestCooldownAndMaxExecutionsGating(t *testing.T) {
	e := New(zap.NewNop())
	maxExec := 2
	defs := map[string]types.StrategyDefinition{
		"s": {ID: "s", CooldownSeconds: 60, MaxExecutions: &maxExec, Condition: "profitPercent >= 30"},
	}
	if err := e.LoadStrategies(defs, factorSet("profitPercent")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	factors := map[string]float64{"profitPercent": 35}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if s := e.Evaluate(factors, "tok", base); s == nil {
		t.Fatal("expected fire at t=0")
	} else {
		e.RecordExecution(s.Def.ID, base)
	}

	if s := e.Evaluate(factors, "tok", base.Add(30*time.Second)); s != nil {
		t.Fatal("expected no fire at t=30s (within cooldown)")
	}

	t65 := base.Add(65 * time.Second)
	if s := e.Evaluate(factors, "tok", t65); s == nil {
		t.Fatal("expected fire at t=65s")
	} else {
		e.RecordExecution(s.Def.ID, t65)
	}

	if s := e.Evaluate(factors, "tok", base.Add(200*time.Second)); s != nil {
		t.Fatal("expected no fire at t=200s (maxExecutions reached)")
	}
}

func TestEvaluateSkipsDisabledStrategy(t *testing.T) {
	e := New(zap.NewNop())
	defs := map[string]types.StrategyDefinition{
		"s": {ID: "s", Disabled: true, Condition: "profitPercent >= 0"},
	}
	if err := e.LoadStrategies(defs, factorSet("profitPercent")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := e.Evaluate(map[string]float64{"profitPercent": 100}, "tok", time.Now()); s != nil {
		t.Fatal("expected disabled strategy to be skipped")
	}
}

func TestEvaluateFirstTruthyWins(t *testing.T) {
	e := New(zap.NewNop())
	defs := map[string]types.StrategyDefinition{
		"a": {ID: "a", Priority: 1, Condition: "profitPercent >= 10"},
		"b": {ID: "b", Priority: 2, Condition: "profitPercent >= 10"},
	}
	if err := e.LoadStrategies(defs, factorSet("profitPercent")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := e.Evaluate(map[string]float64{"profitPercent": 20}, "tok", time.Now())
	if s == nil || s.Def.ID != "a" {
		t.Fatalf("expected strategy 'a' (lower priority value wins), got %+v", s)
	}
}
