package planner

import (
	"context"

	"pss-server/pkg/circuitbreaker"
	"pss-server/pkg/milestones"
)

// GuardedPlanner fails fast while the text-generation service is down
type GuardedPlanner struct {
	next    Planner
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedPlanner wraps next with breaker
func NewGuardedPlanner(next Planner, breaker *circuitbreaker.CircuitBreaker) *GuardedPlanner {
	return &GuardedPlanner{next: next, breaker: breaker}
}

// GeneratePlan generates a plan through the breaker
func (g *GuardedPlanner) GeneratePlan(ctx context.Context, goal GoalPrompt) (*milestones.PhasedPlan, error) {
	var plan *milestones.PhasedPlan
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		plan, err = g.next.GeneratePlan(ctx, goal)
		return err
	})
	return plan, err
}
