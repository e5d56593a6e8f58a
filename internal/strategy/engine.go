// Package strategy compiles and evaluates boolean expressions over a
// factor map (StrategyEngine, component C4).
package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// Compiled is a loaded strategy: its definition plus the parsed
// condition AST and mutable execution-accounting state.
type Compiled struct {
	Def             types.StrategyDefinition
	Condition       Expr
	executionCount  int
	lastExecutionAt time.Time
}

// Engine holds the compiled, priority-sorted strategy set for one
// experiment.
type Engine struct {
	logger     *zap.Logger
	strategies []*Compiled
}

// New creates an empty Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("strategy")}
}

// LoadStrategies compiles and validates every strategy's condition
// against availableFactorIds, rejecting any expression referencing an
// unknown factor, then sorts by priority ascending (§4.4).
func (e *Engine) LoadStrategies(defs map[string]types.StrategyDefinition, availableFactorIds map[string]struct{}) error {
	compiled := make([]*Compiled, 0, len(defs))
	for id, def := range defs {
		if def.ID == "" {
			def.ID = id
		}
		expr, err := Parse(def.Condition, availableFactorIds)
		if err != nil {
			return fmt.Errorf("strategy: load %q: %w", def.ID, err)
		}
		compiled = append(compiled, &Compiled{Def: def, Condition: expr})
	}
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Def.Priority < compiled[j].Def.Priority
	})
	e.strategies = compiled
	return nil
}

// Evaluate iterates strategies in priority order, returning the first
// whose gates and condition both pass. The caller is still responsible
// for the token-status gate (buy ⇒ monitoring, sell ⇒ bought) — Evaluate
// only resolves intent, not eligibility against live token state beyond
// what's available in factors.
func (e *Engine) Evaluate(factors map[string]float64, tokenAddress string, now time.Time) *Compiled {
	for _, s := range e.strategies {
		if s.Def.Disabled {
			continue
		}
		if s.Def.CooldownSeconds > 0 && !s.lastExecutionAt.IsZero() {
			if now.Sub(s.lastExecutionAt) < time.Duration(s.Def.CooldownSeconds)*time.Second {
				continue
			}
		}
		if s.Def.MaxExecutions != nil && s.executionCount >= *s.Def.MaxExecutions {
			continue
		}
		truthy, err := Eval(s.Condition, factors)
		if err != nil {
			e.logger.Warn("strategy: condition evaluation failed, skipping",
				zap.String("strategyId", s.Def.ID),
				zap.String("token", tokenAddress),
				zap.Error(err),
			)
			continue
		}
		if truthy {
			return s
		}
	}
	return nil
}

// RecordExecution is called by the engine after an order dispatch
// succeeds — never by Evaluate — per §4.4's "execution accounting is
// updated by the caller" contract.
func (e *Engine) RecordExecution(strategyID string, at time.Time) {
	for _, s := range e.strategies {
		if s.Def.ID == strategyID {
			s.executionCount++
			s.lastExecutionAt = at
			return
		}
	}
}

// Strategies returns the compiled, priority-sorted strategy set.
func (e *Engine) Strategies() []*Compiled {
	return e.strategies
}
