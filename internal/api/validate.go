package api

import (
	"fmt"

	"dispo/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.Algorithm != "" && req.Algorithm != "exact" && req.Algorithm != "greedy" {
		return fmt.Errorf("invalid algorithm: %s (allowed: exact, greedy)", req.Algorithm)
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	p := req.Parameters
	if p.DistancePriority < 0 || p.TimeWindowPriority < 0 || p.OrderPriorityWeight < 0 {
		return fmt.Errorf("parameters must be >= 0")
	}
	return nil
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events is required")
	}
	known := map[string]struct{}{
		"plan.completed":      {},
		"assignment.locked":   {},
		"assignment.unlocked": {},
		"*":                   {},
	}
	for _, e := range req.Events {
		if _, ok := known[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
