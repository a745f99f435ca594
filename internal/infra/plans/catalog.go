// Package plans resolves a user's subscription to its numeric limits.
package plans

import (
	"context"
	"fmt"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// SubscriptionLookup returns the plan name of the user's active
// subscription, or "" when the user has none.
type SubscriptionLookup interface {
	PlanFor(ctx context.Context, userID string) (string, error)
}

// StaticSubscriptions maps user id to plan name, for config-driven setups.
type StaticSubscriptions map[string]string

func (s StaticSubscriptions) PlanFor(ctx context.Context, userID string) (string, error) {
	return s[userID], nil
}

// Catalog implements analyses.PlanResolver. Users without a subscription,
// or with a plan the catalog does not know, get the default plan.
type Catalog struct {
	plans       map[string]domain.PlanLimits
	defaultPlan string
	subs        SubscriptionLookup
}

func NewCatalog(limits []domain.PlanLimits, defaultPlan string, subs SubscriptionLookup) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]domain.PlanLimits, len(limits)), defaultPlan: defaultPlan, subs: subs}
	for _, l := range limits {
		if l.Plan == "" {
			return nil, fmt.Errorf("plan without a name")
		}
		if _, dup := c.plans[l.Plan]; dup {
			return nil, fmt.Errorf("duplicate plan %q", l.Plan)
		}
		c.plans[l.Plan] = l
	}
	if _, ok := c.plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q is not defined", defaultPlan)
	}
	return c, nil
}

func (c *Catalog) Resolve(ctx context.Context, userID string) (domain.PlanLimits, error) {
	name := ""
	if c.subs != nil {
		n, err := c.subs.PlanFor(ctx, userID)
		if err != nil {
			return domain.PlanLimits{}, fmt.Errorf("looking up subscription: %w", err)
		}
		name = n
	}
	if l, ok := c.plans[name]; ok {
		return l, nil
	}
	return c.plans[c.defaultPlan], nil
}
