// Package traders holds the fixed pool of 18 trading agents: five
// fundamental traders seeded from synthesis personalities, nine noise
// traders reading sphere sentiment, and four user-tracking traders
// following external accounts.
package traders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/foresightlab/foresight/pkg/models"
)

// Post is one item from a tracked account's feed.
type Post struct {
	Author   string
	Text     string
	PostedAt time.Time
}

// SentimentProvider samples a sphere's sentiment toward the question,
// scored in [-1,1].
type SentimentProvider interface {
	Sample(ctx context.Context, sphere, question string) (float64, error)
}

// AccountFeedProvider returns recent posts from a tracked account.
type AccountFeedProvider interface {
	Latest(ctx context.Context, handle string) ([]Post, error)
}

// StanceEstimator converts a tracked account's posts into a probability
// of YES on the question. The production implementation calls the LLM;
// tests substitute a stub.
type StanceEstimator interface {
	Estimate(ctx context.Context, question string, posts []Post) (probability, confidence float64, err error)
}

// Seed is one forecaster personality's synthesis output.
type Seed struct {
	Probability float64
	Confidence  float64
}

// DecisionContext is everything a trader may read when quoting. Traders
// never mutate the book; all writes go through the matching engine.
type DecisionContext struct {
	Question string
	Snapshot *models.OrderBookSnapshot
	State    *models.TraderState
	Seeds    map[models.ForecasterClass]Seed
	Round    int
	Elapsed  time.Duration
}

// Decision is a quote pair plus a note persisted to the trader's state.
type Decision struct {
	Bid, Ask, Qty int
	Note          string
}

// Trader decides one round's quotes. ok=false skips the round.
type Trader interface {
	Name() string
	Decide(ctx context.Context, dc DecisionContext) (Decision, bool, error)
}

// defaultQty matches the simulation's per-round quote size.
const defaultQty = 100

// Pool builds the full 18-trader roster.
func Pool(sentiment SentimentProvider, feed AccountFeedProvider, stance StanceEstimator) []Trader {
	cfg := DefaultQuoterConfig()
	var out []Trader
	for _, id := range models.TraderRoster() {
		switch id.Type {
		case models.TraderFundamental:
			out = append(out, &fundamentalTrader{identity: id, cfg: cfg})
		case models.TraderNoise:
			out = append(out, &noiseTrader{identity: id, cfg: cfg, sentiment: sentiment})
		case models.TraderUser:
			out = append(out, &userTrader{identity: id, cfg: cfg, feed: feed, stance: stance})
		}
	}
	return out
}

// fundamentalTrader quotes around its personality's synthesized
// probability.
type fundamentalTrader struct {
	identity models.TraderIdentity
	cfg      QuoterConfig
}

func (t *fundamentalTrader) Name() string { return t.identity.Name }

func (t *fundamentalTrader) Decide(_ context.Context, dc DecisionContext) (Decision, bool, error) {
	seed, ok := dc.Seeds[t.identity.Class]
	if !ok {
		return Decision{}, false, nil
	}
	bid, ask := t.cfg.Quote(seed.Probability, seed.Confidence, position(dc), dc.Elapsed.Seconds())
	note := fmt.Sprintf("round %d: belief %.2f conf %.2f -> bid %d ask %d",
		dc.Round, seed.Probability, seed.Confidence, bid, ask)
	return Decision{Bid: bid, Ask: ask, Qty: defaultQty, Note: note}, true, nil
}

// noiseTrader biases its quotes by its sphere's sentiment score.
type noiseTrader struct {
	identity  models.TraderIdentity
	cfg       QuoterConfig
	sentiment SentimentProvider
}

func (t *noiseTrader) Name() string { return t.identity.Name }

func (t *noiseTrader) Decide(ctx context.Context, dc DecisionContext) (Decision, bool, error) {
	score, err := t.sentiment.Sample(ctx, t.identity.Sphere, dc.Question)
	if err != nil {
		return Decision{}, false, fmt.Errorf("failed to sample sphere %s: %w", t.identity.Sphere, err)
	}
	score = math.Max(-1, math.Min(1, score))

	// sentiment shifts the belief away from the market mid (or 0.5 on an
	// empty book); conviction scales with the score's magnitude
	base := 0.5
	if mid, ok := marketMid(dc.Snapshot); ok {
		base = mid
	}
	belief := math.Max(0.02, math.Min(0.98, base+0.4*score))
	confidence := 0.3 + 0.4*math.Abs(score)

	bid, ask := t.cfg.Quote(belief, confidence, position(dc), dc.Elapsed.Seconds())
	note := fmt.Sprintf("round %d: sphere %s score %+.2f -> bid %d ask %d",
		dc.Round, t.identity.Sphere, score, bid, ask)
	return Decision{Bid: bid, Ask: ask, Qty: defaultQty, Note: note}, true, nil
}

// userTrader mirrors the stance of a tracked account's recent posts.
type userTrader struct {
	identity models.TraderIdentity
	cfg      QuoterConfig
	feed     AccountFeedProvider
	stance   StanceEstimator
}

func (t *userTrader) Name() string { return t.identity.Name }

func (t *userTrader) Decide(ctx context.Context, dc DecisionContext) (Decision, bool, error) {
	posts, err := t.feed.Latest(ctx, t.identity.Handle)
	if err != nil {
		return Decision{}, false, fmt.Errorf("failed to read feed %s: %w", t.identity.Handle, err)
	}
	if len(posts) == 0 {
		// nothing new to react to
		return Decision{}, false, nil
	}

	probability, confidence, err := t.stance.Estimate(ctx, dc.Question, posts)
	if err != nil {
		return Decision{}, false, fmt.Errorf("failed to estimate stance for %s: %w", t.identity.Handle, err)
	}
	probability = math.Max(0.02, math.Min(0.98, probability))

	bid, ask := t.cfg.Quote(probability, confidence, position(dc), dc.Elapsed.Seconds())
	note := fmt.Sprintf("round %d: %d posts from @%s, stance %.2f -> bid %d ask %d",
		dc.Round, len(posts), t.identity.Handle, probability, bid, ask)
	return Decision{Bid: bid, Ask: ask, Qty: defaultQty, Note: note}, true, nil
}

func position(dc DecisionContext) int {
	if dc.State == nil {
		return 0
	}
	return dc.State.Position
}

// marketMid returns the midpoint of the best bid/ask as a probability.
func marketMid(s *models.OrderBookSnapshot) (float64, bool) {
	if s == nil || len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, false
	}
	return (float64(s.Bids[0].Price) + float64(s.Asks[0].Price)) / 200.0, true
}
