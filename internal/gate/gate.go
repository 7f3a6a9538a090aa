package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askrepo/askrepo/internal/store"
)

// Gated features.
const (
	FeatureChat    = "chat"
	FeatureInsight = "insight"
	FeatureMedia   = "media"
)

// countedKind maps a counted feature to its usage ledger kind.
var countedKind = map[string]string{
	FeatureChat:    store.UsageKindChat,
	FeatureInsight: store.UsageKindInsight,
}

// tierLimits holds the default monthly limits per tier and feature.
var tierLimits = map[string]map[string]int64{
	store.TierFree:    {FeatureChat: 10, FeatureInsight: 2},
	store.TierPro:     {FeatureChat: 100, FeatureInsight: 20},
	store.TierFounder: {FeatureChat: 1000, FeatureInsight: 200},
}

// mediaTiers lists the tiers allowed to attach media.
var mediaTiers = map[string]bool{
	store.TierPro:     true,
	store.TierFounder: true,
}

const cacheTTL = 60 * time.Second

// Store is the persistence surface the gate reads.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	CountMonthlyUsage(ctx context.Context, userID, kind string) (int64, error)
	GetUsageLimitOverride(ctx context.Context, userID, feature string) (int64, error)
	MonthlyUsageSummary(ctx context.Context, userID string) ([]store.MonthlyUsage, error)
}

// Decision is the outcome of one access check.
type Decision struct {
	Allowed bool
	Feature string
	Tier    string
	Used    int64
	Limit   int64
	Reason  string
}

// Gate enforces tier-based feature availability and monthly usage limits.
// Counter reads are cached briefly in redis since the ledger is
// append-only; a missing redis client disables caching.
type Gate struct {
	store  Store
	redis  *redis.Client
	logger *log.Logger
}

func New(st Store, rdb *redis.Client) *Gate {
	return &Gate{
		store:  st,
		redis:  rdb,
		logger: log.New(log.Writer(), "[GATE] ", log.LstdFlags),
	}
}

// CheckAccess decides whether the user may perform a gated feature right
// now. A denied decision is not an error; errors indicate lookup failure.
func (g *Gate) CheckAccess(ctx context.Context, userID, feature string) (Decision, error) {
	user, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load user: %w", err)
	}
	d := Decision{Feature: feature, Tier: user.Tier}

	if feature == FeatureMedia {
		d.Allowed = mediaTiers[user.Tier]
		if !d.Allowed {
			d.Reason = "media analysis requires an upgraded tier"
		}
		return d, nil
	}

	kind, ok := countedKind[feature]
	if !ok {
		return Decision{}, fmt.Errorf("unknown feature %q", feature)
	}

	d.Limit, err = g.monthlyLimit(ctx, userID, user.Tier, feature)
	if err != nil {
		return Decision{}, err
	}
	d.Used, err = g.monthlyCount(ctx, userID, kind)
	if err != nil {
		return Decision{}, err
	}
	d.Allowed = d.Used < d.Limit
	if !d.Allowed {
		d.Reason = fmt.Sprintf("monthly %s limit reached (%d/%d)", feature, d.Used, d.Limit)
	}
	return d, nil
}

// monthlyLimit resolves the per-user override when set, the tier default
// otherwise. Unknown tiers fall back to the free tier.
func (g *Gate) monthlyLimit(ctx context.Context, userID, tier, feature string) (int64, error) {
	limit, err := g.store.GetUsageLimitOverride(ctx, userID, feature)
	switch {
	case err == nil:
		return limit, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return 0, fmt.Errorf("load usage override: %w", err)
	}
	limits, ok := tierLimits[tier]
	if !ok {
		limits = tierLimits[store.TierFree]
	}
	return limits[feature], nil
}

func (g *Gate) monthlyCount(ctx context.Context, userID, kind string) (int64, error) {
	key := fmt.Sprintf("askrepo:usage:%s:%s", userID, kind)
	if g.redis != nil {
		if raw, err := g.redis.Get(ctx, key).Result(); err == nil {
			if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				return n, nil
			}
		}
	}
	n, err := g.store.CountMonthlyUsage(ctx, userID, kind)
	if err != nil {
		return 0, fmt.Errorf("count monthly usage: %w", err)
	}
	if g.redis != nil {
		if err := g.redis.Set(ctx, key, strconv.FormatInt(n, 10), cacheTTL).Err(); err != nil {
			g.logger.Printf("cache usage count %s: %v", key, err)
		}
	}
	return n, nil
}

// FeatureUsage summarizes one feature's consumption for client display.
type FeatureUsage struct {
	Feature string  `json:"feature"`
	Used    int64   `json:"used"`
	Limit   int64   `json:"limit"`
	Tokens  int64   `json:"tokens"`
	Cost    float64 `json:"cost"`
}

// Report is the per-user usage overview served at the usage endpoint.
type Report struct {
	Tier         string         `json:"tier"`
	MediaAllowed bool           `json:"mediaAllowed"`
	Features     []FeatureUsage `json:"features"`
	TotalCost    float64        `json:"totalCost"`
}

// UsageReport assembles current-month usage against limits for a user.
func (g *Gate) UsageReport(ctx context.Context, userID string) (*Report, error) {
	user, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	summary, err := g.store.MonthlyUsageSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load usage summary: %w", err)
	}
	byKind := make(map[string]store.MonthlyUsage, len(summary))
	var total float64
	for _, m := range summary {
		byKind[m.Kind] = m
		total += m.Cost
	}

	rep := &Report{Tier: user.Tier, MediaAllowed: mediaTiers[user.Tier], TotalCost: total}
	for _, feature := range []string{FeatureChat, FeatureInsight} {
		limit, err := g.monthlyLimit(ctx, userID, user.Tier, feature)
		if err != nil {
			return nil, err
		}
		m := byKind[countedKind[feature]]
		rep.Features = append(rep.Features, FeatureUsage{
			Feature: feature,
			Used:    m.Count,
			Limit:   limit,
			Tokens:  m.Tokens,
			Cost:    m.Cost,
		})
	}
	return rep, nil
}
