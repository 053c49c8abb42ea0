package traders

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/foresightlab/foresight/pkg/llm"
)

// sphereDescriptions characterizes each noise sphere for sentiment
// sampling prompts.
var sphereDescriptions = map[string]string{
	"eacc_sovereign":      "techno-optimist accelerationists bullish on AI, energy abundance, and network states",
	"america_first":       "nationalist populists focused on sovereignty, trade protection, and border security",
	"blue_establishment":  "center-left institutionalists trusting mainstream media, agencies, and expert consensus",
	"progressive_left":    "progressive activists centered on inequality, climate justice, and corporate accountability",
	"optimizer_idw":       "rationalists and forecasters reasoning from base rates, calibration, and expected value",
	"fintwit_market":      "finance twitter traders reading price action, flows, positioning, and macro prints",
	"builder_engineering": "startup builders and engineers judging claims by shipped product and technical feasibility",
	"academic_research":   "academics weighing peer-reviewed evidence, methodology, and replication",
	"osint_intel":         "open-source intelligence analysts tracking satellite imagery, flight data, and primary documents",
}

var sentimentSchema = llm.Schema{
	Name: "sphere_sentiment",
	Root: llm.Object(map[string]*llm.Property{
		"score": {
			Type:        "number",
			Description: "Aggregate sentiment toward YES, from -1 (strongly against) to 1 (strongly for)",
			Minimum:     llm.Float(-1),
			Maximum:     llm.Float(1),
		},
		"rationale": {Type: "string", Description: "One sentence summarizing the sphere's mood"},
	}),
}

const sentimentSystemPrompt = `You estimate the aggregate sentiment of a specific online community
toward a yes/no question. Respond with a single score in [-1, 1] where
positive means the community leans toward YES. Base the score on how the
community's worldview and recent discourse would read the question.`

// LLMSentiment samples sphere sentiment through a completion call.
type LLMSentiment struct {
	completer llm.Completer
}

func NewLLMSentiment(completer llm.Completer) *LLMSentiment {
	return &LLMSentiment{completer: completer}
}

func (s *LLMSentiment) Sample(ctx context.Context, sphere, question string) (float64, error) {
	desc, ok := sphereDescriptions[sphere]
	if !ok {
		return 0, fmt.Errorf("unknown sphere: %s", sphere)
	}
	payload := fmt.Sprintf("Community: %s\n\nQuestion: %s\n\nEstimate this community's current sentiment.", desc, question)
	result, err := s.completer.Complete(ctx, llm.Request{
		SystemPrompt: sentimentSystemPrompt,
		UserPayload:  payload,
		Schema:       &sentimentSchema,
		Temperature:  0.7,
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(result.Output, &out); err != nil {
		return 0, fmt.Errorf("failed to decode sentiment output: %w", err)
	}
	return out.Score, nil
}

var stanceSchema = llm.Schema{
	Name: "account_stance",
	Root: llm.Object(map[string]*llm.Property{
		"probability": {
			Type:        "number",
			Description: "Probability of YES implied by the account's posts",
			Minimum:     llm.Float(0),
			Maximum:     llm.Float(1),
		},
		"confidence": {
			Type:        "number",
			Description: "How clearly the posts bear on the question, 0 to 1",
			Minimum:     llm.Float(0),
			Maximum:     llm.Float(1),
		},
	}),
}

const stanceSystemPrompt = `You read a person's recent posts and infer what probability they would
assign to a yes/no question. If the posts only touch the topic
indirectly, report low confidence rather than inventing a strong view.`

// LLMStance infers a tracked account's position from its recent posts.
type LLMStance struct {
	completer llm.Completer
}

func NewLLMStance(completer llm.Completer) *LLMStance {
	return &LLMStance{completer: completer}
}

func (s *LLMStance) Estimate(ctx context.Context, question string, posts []Post) (float64, float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nRecent posts:\n", question)
	for _, p := range posts {
		fmt.Fprintf(&b, "- %s\n", p.Text)
	}
	result, err := s.completer.Complete(ctx, llm.Request{
		SystemPrompt: stanceSystemPrompt,
		UserPayload:  b.String(),
		Schema:       &stanceSchema,
		Temperature:  0.3,
	})
	if err != nil {
		return 0, 0, err
	}
	var out struct {
		Probability float64 `json:"probability"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.Unmarshal(result.Output, &out); err != nil {
		return 0, 0, fmt.Errorf("failed to decode stance output: %w", err)
	}
	return out.Probability, out.Confidence, nil
}

// DriftSentiment is an offline sampler: each sphere gets a stable bias
// derived from its name plus bounded random drift per sample. Used in
// tests and offline runs with no completion backend.
type DriftSentiment struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDriftSentiment(seed int64) *DriftSentiment {
	return &DriftSentiment{rng: rand.New(rand.NewSource(seed))}
}

func (d *DriftSentiment) Sample(_ context.Context, sphere, _ string) (float64, error) {
	h := fnv.New32a()
	h.Write([]byte(sphere))
	bias := (float64(h.Sum32()%200) - 100.0) / 200.0 // stable in [-0.5, 0.5)

	d.mu.Lock()
	noise := d.rng.NormFloat64() * 0.2
	d.mu.Unlock()

	return math.Max(-1, math.Min(1, bias+noise)), nil
}

// EmptyFeed reports no posts for every handle, so user traders sit out.
type EmptyFeed struct{}

func (EmptyFeed) Latest(context.Context, string) ([]Post, error) { return nil, nil }
