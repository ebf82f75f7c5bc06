package citymatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// PlanDetails describes one purchasable tier.
type PlanDetails struct {
	Plan      Plan     `json:"plan"`
	Price     string   `json:"price"`
	ChatLimit int      `json:"chatLimit"`
	Validity  string   `json:"validity,omitempty"`
	Features  []string `json:"features"`
}

var planCatalog = []PlanDetails{
	{
		Plan:      Plan98,
		Price:     "₹98",
		ChatLimit: 2,
		Features:  []string{"Chat with up to 2 people"},
	},
	{
		Plan:      Plan199,
		Price:     "₹199",
		ChatLimit: 7,
		Features:  []string{"Chat with up to 7 people"},
	},
	{
		Plan:      Plan399,
		Price:     "₹399",
		ChatLimit: 7,
		Validity:  "Valid for 2 months",
		Features:  []string{"Chat with up to 7 people", "Valid for 2 months"},
	},
}

// DefaultChatLimit is the partner limit of PlanNone.
const DefaultChatLimit = 2

// Catalog returns the purchasable tiers in display order.
func Catalog() []PlanDetails {
	out := make([]PlanDetails, len(planCatalog))
	copy(out, planCatalog)
	return out
}

// LookupPlan returns the catalog entry for plan.
func LookupPlan(plan Plan) (PlanDetails, bool) {
	for _, d := range planCatalog {
		if d.Plan == plan {
			return d, true
		}
	}
	return PlanDetails{}, false
}

// ChatLimit returns the number of distinct chat partners plan allows. The
// backend enforces the limit; this value is for display.
func ChatLimit(plan Plan) int {
	if d, ok := LookupPlan(plan); ok {
		return d.ChatLimit
	}
	return DefaultChatLimit
}

// ============================================================================
// SubscriptionGate
// ============================================================================

// SubscriptionGate reads and changes the caller's plan.
type SubscriptionGate struct {
	backend Backend
	cache   *Cache
	chats   *ChatManager
	logger  zerolog.Logger
}

func newSubscriptionGate(backend Backend, cache *Cache, chats *ChatManager, logger zerolog.Logger) *SubscriptionGate {
	cache.Register(KeyPlan, func(ctx context.Context, _ Key) (any, error) {
		return backend.GetSubscription(ctx)
	})
	return &SubscriptionGate{backend: backend, cache: cache, chats: chats, logger: logger}
}

// Subscription returns the caller's current subscription from the cache.
// It is not polled.
func (g *SubscriptionGate) Subscription(ctx context.Context) (*Subscription, error) {
	s, err := getAs[*Subscription](ctx, g.cache, PlanKey())
	if err != nil {
		return nil, classify("get_plan", err)
	}
	return s, nil
}

// Plan returns the caller's current plan.
func (g *SubscriptionGate) Plan(ctx context.Context) (Plan, error) {
	s, err := g.Subscription(ctx)
	if err != nil {
		return "", err
	}
	return s.Plan, nil
}

// ActivatePlan switches the caller to plan. The plan and chat list are
// invalidated before it returns; existing chats stay open.
func (g *SubscriptionGate) ActivatePlan(ctx context.Context, plan Plan) error {
	const op = "activate_plan"
	if !plan.Valid() || plan == PlanNone {
		return validationError(op, "please select a plan")
	}
	if err := g.backend.ActivatePlan(ctx, plan); err != nil {
		g.logger.Warn().Str("plan", string(plan)).Err(err).Msg("plan activation failed")
		return classify(op, err)
	}
	g.cache.AfterMutation(MutationActivatePlan, 0)
	g.logger.Info().Str("plan", string(plan)).Msg("plan activated")
	return nil
}

// Remaining returns how many more distinct partners the caller may chat
// with under the current plan. It never goes below zero.
func (g *SubscriptionGate) Remaining(ctx context.Context) (int, error) {
	plan, err := g.Plan(ctx)
	if err != nil {
		return 0, err
	}
	chats, err := g.chats.ChatList(ctx)
	if err != nil {
		return 0, err
	}
	n := ChatLimit(plan) - DistinctCounterparts(chats, g.chats.Self())
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Upgrade returns a closed upgrade flow bound to this gate.
func (g *SubscriptionGate) Upgrade() *UpgradeFlow {
	return &UpgradeFlow{gate: g}
}

// ============================================================================
// UpgradeFlow
// ============================================================================

var errFlowClosed = errors.New("upgrade flow is not open")

// UpgradeFlow is the prompt shown after a chat-limit failure: the user picks
// a plan and confirms, or cancels.
type UpgradeFlow struct {
	gate *SubscriptionGate

	mu       sync.Mutex
	open     bool
	reason   error
	selected Plan
}

// OpenFor opens the flow if err is a chat-limit failure and reports whether
// it did. Any other error leaves the flow closed.
func (f *UpgradeFlow) OpenFor(err error) bool {
	if !IsChatLimit(err) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	f.reason = err
	f.selected = ""
	return true
}

func (f *UpgradeFlow) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Reason returns the error that opened the flow.
func (f *UpgradeFlow) Reason() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Select picks the plan Confirm will activate.
func (f *UpgradeFlow) Select(plan Plan) error {
	if _, ok := LookupPlan(plan); !ok {
		return validationError("activate_plan", "unknown plan "+string(plan))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errFlowClosed
	}
	f.selected = plan
	return nil
}

func (f *UpgradeFlow) Selected() Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

// Confirm activates the selected plan and closes the flow on success. On
// failure the flow stays open with its selection.
func (f *UpgradeFlow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	open, plan := f.open, f.selected
	f.mu.Unlock()

	if !open {
		return errFlowClosed
	}
	if plan == "" {
		return validationError("activate_plan", "please select a plan")
	}
	if err := f.gate.ActivatePlan(ctx, plan); err != nil {
		return err
	}

	f.mu.Lock()
	f.open = false
	f.reason = nil
	f.selected = ""
	f.mu.Unlock()
	return nil
}

// Cancel closes the flow without changing the plan.
func (f *UpgradeFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.reason = nil
	f.selected = ""
}
