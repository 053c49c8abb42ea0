// Package forecast drives a session through the four pipeline phases:
// discovery, validation, research, synthesis. Each phase launches its
// workers in parallel and completes only when every worker is terminal;
// the next phase starts only after that barrier.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/foresightlab/foresight/pkg/metrics"
	"github.com/foresightlab/foresight/pkg/models"
)

// ErrCancelled is returned when the session was failed externally while
// the pipeline was running.
var ErrCancelled = errors.New("session cancelled")

// topFactorCount is how many factors survive validation into research.
const topFactorCount = 5

// Orchestrator runs the pipeline. It is the only writer of session phase,
// agent logs, factors, and forecaster responses.
type Orchestrator struct {
	res            Resources
	timeout        time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAgentTimeout sets the per-worker deadline (default 300s).
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithMaxConcurrency caps concurrent LLM calls within a phase
// (default: the phase's worker count).
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) { o.maxConcurrency = n }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator builds an orchestrator over the given resources.
func NewOrchestrator(res Resources, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		res:     res,
		timeout: 300 * time.Second,
		logger:  slog.Default().With("component", "forecast"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full pipeline for a session already marked running.
// The session ends in exactly one of completed or failed.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	sess, err := o.res.Store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	counts := sess.AgentCounts.Normalized()
	durations := make(map[string]float64)
	logger := o.logger.With("session_id", sessionID)

	// Phase 1: discovery
	if err := o.setPhase(ctx, sess, models.PhaseDiscovery); err != nil {
		return err
	}
	start := time.Now()
	candidates, tokens := o.runDiscovery(ctx, sess, counts.Phase1Discovery)
	durations[string(models.PhaseDiscovery)] = time.Since(start).Seconds()
	metrics.GetCollector().PhaseDuration.WithLabelValues(string(models.PhaseDiscovery)).Observe(durations[string(models.PhaseDiscovery)])
	o.addTokens(ctx, sess, tokens)
	if len(candidates) == 0 {
		return o.failSession(ctx, sess, models.PhaseDiscovery, "no discovery worker succeeded")
	}
	if err := o.checkCancelled(ctx, sess); err != nil {
		return err
	}

	// Phase 2: validation
	if err := o.setPhase(ctx, sess, models.PhaseValidation); err != nil {
		return err
	}
	start = time.Now()
	factors, tokens := o.runValidation(ctx, sess, candidates)
	durations[string(models.PhaseValidation)] = time.Since(start).Seconds()
	metrics.GetCollector().PhaseDuration.WithLabelValues(string(models.PhaseValidation)).Observe(durations[string(models.PhaseValidation)])
	o.addTokens(ctx, sess, tokens)
	if len(factors) == 0 {
		return o.failSession(ctx, sess, models.PhaseValidation, "no factors survived validation")
	}
	if err := o.checkCancelled(ctx, sess); err != nil {
		return err
	}

	// Phase 3: research
	if err := o.setPhase(ctx, sess, models.PhaseResearch); err != nil {
		return err
	}
	start = time.Now()
	researched, tokens := o.runResearch(ctx, sess, factors, counts.Phase3Historical, counts.Phase3Current)
	durations[string(models.PhaseResearch)] = time.Since(start).Seconds()
	metrics.GetCollector().PhaseDuration.WithLabelValues(string(models.PhaseResearch)).Observe(durations[string(models.PhaseResearch)])
	o.addTokens(ctx, sess, tokens)
	if len(researched) == 0 {
		return o.failSession(ctx, sess, models.PhaseResearch, "no factor survived research")
	}
	if err := o.checkCancelled(ctx, sess); err != nil {
		return err
	}

	// Phase 4: synthesis
	if err := o.setPhase(ctx, sess, models.PhaseSynthesis); err != nil {
		return err
	}
	start = time.Now()
	completed, tokens := o.runSynthesis(ctx, sess, researched, durations)
	durations[string(models.PhaseSynthesis)] = time.Since(start).Seconds()
	metrics.GetCollector().PhaseDuration.WithLabelValues(string(models.PhaseSynthesis)).Observe(durations[string(models.PhaseSynthesis)])
	o.addTokens(ctx, sess, tokens)
	if completed == 0 {
		return o.failSession(ctx, sess, models.PhaseSynthesis, "no synthesizer completed")
	}

	now := time.Now().UTC()
	sess.Status = models.SessionCompleted
	sess.CompletedAt = &now
	if err := o.res.Store.Sessions().Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	o.publishSession(ctx, sess)
	metrics.GetCollector().RecordSession(string(models.SessionCompleted))
	logger.Info("Session completed",
		"tokens_used", sess.TokensUsed,
		"factors", len(researched),
		"forecasters", completed)
	return nil
}

// --- Phase 1 ---

func (o *Orchestrator) runDiscovery(ctx context.Context, sess *models.Session, n int) ([]FactorCandidate, int) {
	specs := make([]agentSpec, 0, n)
	for i := 0; i < n; i++ {
		system := discoveryPrompt
		perspective := discoveryPerspectives[i%len(discoveryPerspectives)]
		system += "\n\n" + perspective
		specs = append(specs, agentSpec{
			Name:        fmt.Sprintf("discovery_%d", i+1),
			Phase:       models.PhaseDiscovery,
			System:      system,
			User:        discoveryUserPayload(sess.QuestionText, sess.QuestionType),
			Schema:      discoverySchema,
			WebSearch:   true,
			Temperature: 0.8,
		})
	}

	results := o.runParallel(ctx, sess.ID, specs)
	var candidates []FactorCandidate
	tokens := 0
	for _, r := range results {
		tokens += r.Tokens
		if r.Err != nil {
			continue
		}
		var out DiscoveryOutput
		if err := json.Unmarshal(r.Output, &out); err != nil {
			o.logger.Warn("Discovery output unmarshal failed", "agent", r.Name, "error", err)
			continue
		}
		if len(out.Factors) > 5 {
			out.Factors = out.Factors[:5]
		}
		candidates = append(candidates, out.Factors...)
	}
	return candidates, tokens
}

// --- Phase 2 ---

// runValidation runs the validator then the rating-consensus worker, and
// persists the surviving top factors.
func (o *Orchestrator) runValidation(ctx context.Context, sess *models.Session, candidates []FactorCandidate) ([]*models.Factor, int) {
	tokens := 0

	validated := candidates
	r := o.runAgent(ctx, sess.ID, agentSpec{
		Name:   "validator",
		Phase:  models.PhaseValidation,
		System: validatorPrompt,
		User:   validatorUserPayload(sess.QuestionText, candidates),
		Schema: validationSchema,
	})
	tokens += r.Tokens
	if r.Err == nil {
		var out ValidationOutput
		if err := json.Unmarshal(r.Output, &out); err == nil && len(out.Factors) > 0 {
			validated = out.Factors
		}
	}
	// Local dedup always applies: the unique key is the normalized name,
	// regardless of what the validator returned.
	unique := dedupeFactors(validated)

	rated := make(map[string]float64)
	var topNames []string
	r = o.runAgent(ctx, sess.ID, agentSpec{
		Name:   "rating_consensus",
		Phase:  models.PhaseValidation,
		System: ratingConsensusPrompt,
		User:   ratingConsensusUserPayload(sess.QuestionText, unique),
		Schema: ratingConsensusSchema,
	})
	tokens += r.Tokens
	if r.Err == nil {
		var out RatingConsensusOutput
		if err := json.Unmarshal(r.Output, &out); err == nil {
			for _, f := range out.RatedFactors {
				rated[normalizeName(f.Name)] = f.ImportanceScore
			}
			for _, f := range out.TopFactors {
				topNames = append(topNames, normalizeName(f.Name))
			}
		}
	}

	selected := selectTopFactors(unique, rated, topNames, topFactorCount)

	var persisted []*models.Factor
	for _, c := range selected {
		f := &models.Factor{
			SessionID:   sess.ID,
			Name:        strings.TrimSpace(c.Name),
			Description: c.Description,
			Category:    c.Category,
		}
		if score, ok := rated[normalizeName(c.Name)]; ok {
			s := score
			f.ImportanceScore = &s
		}
		if err := o.res.Store.Factors().Create(ctx, f); err != nil {
			o.logger.Error("Failed to persist factor", "name", f.Name, "error", err)
			continue
		}
		o.publishFactor(ctx, f)
		persisted = append(persisted, f)
	}
	return persisted, tokens
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// dedupeFactors merges candidates by normalized name, preferring the more
// specific (longer) description. Output is sorted by normalized name.
func dedupeFactors(candidates []FactorCandidate) []FactorCandidate {
	byName := make(map[string]FactorCandidate)
	for _, c := range candidates {
		key := normalizeName(c.Name)
		if key == "" {
			continue
		}
		if existing, ok := byName[key]; !ok || len(c.Description) > len(existing.Description) {
			byName[key] = c
		}
	}
	out := make([]FactorCandidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return normalizeName(out[i].Name) < normalizeName(out[j].Name)
	})
	return out
}

// selectTopFactors picks k factors: the rating worker's explicit selection
// when present, otherwise highest score with lexicographic tie-break.
func selectTopFactors(unique []FactorCandidate, rated map[string]float64, topNames []string, k int) []FactorCandidate {
	byName := make(map[string]FactorCandidate, len(unique))
	for _, c := range unique {
		byName[normalizeName(c.Name)] = c
	}

	var out []FactorCandidate
	seen := make(map[string]bool)
	for _, name := range topNames {
		if c, ok := byName[name]; ok && !seen[name] {
			out = append(out, c)
			seen[name] = true
			if len(out) == k {
				return out
			}
		}
	}

	rest := make([]FactorCandidate, 0, len(unique))
	for _, c := range unique {
		if !seen[normalizeName(c.Name)] {
			rest = append(rest, c)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		si := rated[normalizeName(rest[i].Name)]
		sj := rated[normalizeName(rest[j].Name)]
		if si != sj {
			return si > sj
		}
		return normalizeName(rest[i].Name) < normalizeName(rest[j].Name)
	})
	for _, c := range rest {
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out
}

// --- Phase 3 ---

// runResearch fans historical and current workers out over the factors
// and folds their summaries back into the factor rows. Every factor gets
// at least one worker of each kind; configured counts beyond the factor
// count round-robin as extras. A factor survives when at least one of
// its workers produced output.
func (o *Orchestrator) runResearch(ctx context.Context, sess *models.Session, factors []*models.Factor, nHistorical, nCurrent int) ([]*models.Factor, int) {
	type assignment struct {
		factorIdx  int
		historical bool
	}
	assignments := make(map[string]assignment)
	var specs []agentSpec

	for j := 0; j < max(nHistorical, len(factors)); j++ {
		f := factors[j%len(factors)]
		name := fmt.Sprintf("historical_%d", j+1)
		assignments[name] = assignment{factorIdx: j % len(factors), historical: true}
		specs = append(specs, agentSpec{
			Name:      name,
			Phase:     models.PhaseResearch,
			System:    historicalResearchPrompt,
			User:      researchUserPayload(sess.QuestionText, f, true),
			Schema:    researchSchema,
			WebSearch: true,
		})
	}
	for j := 0; j < max(nCurrent, len(factors)); j++ {
		f := factors[j%len(factors)]
		name := fmt.Sprintf("current_%d", j+1)
		assignments[name] = assignment{factorIdx: j % len(factors)}
		specs = append(specs, agentSpec{
			Name:      name,
			Phase:     models.PhaseResearch,
			System:    currentResearchPrompt,
			User:      researchUserPayload(sess.QuestionText, f, false),
			Schema:    researchSchema,
			WebSearch: true,
		})
	}

	results := o.runParallel(ctx, sess.ID, specs)
	summaries := make(map[int][]string)
	tokens := 0
	for _, r := range results {
		tokens += r.Tokens
		if r.Err != nil {
			continue
		}
		var out ResearchOutput
		if err := json.Unmarshal(r.Output, &out); err != nil {
			o.logger.Warn("Research output unmarshal failed", "agent", r.Name, "error", err)
			continue
		}
		a := assignments[r.Name]
		kind := "Current"
		if a.historical {
			kind = "Historical"
		}
		summaries[a.factorIdx] = append(summaries[a.factorIdx],
			fmt.Sprintf("[%s, confidence %.2f] %s", kind, out.Confidence, out.Summary))
	}

	var survived []*models.Factor
	for i, f := range factors {
		parts := summaries[i]
		if len(parts) == 0 {
			o.logger.Warn("Factor excluded from synthesis, no research output", "factor", f.Name)
			continue
		}
		f.ResearchSummary = strings.Join(parts, "\n\n")
		if err := o.res.Store.Factors().Update(ctx, f); err != nil {
			o.logger.Error("Failed to update factor research", "factor", f.Name, "error", err)
		}
		o.publishFactor(ctx, f)
		survived = append(survived, f)
	}
	return survived, tokens
}

// --- Phase 4 ---

// runSynthesis runs one synthesizer per requested personality and records
// a ForecasterResponse for each. Returns how many completed.
func (o *Orchestrator) runSynthesis(ctx context.Context, sess *models.Session, factors []*models.Factor, durations map[string]float64) (int, int) {
	classes := o.requestedClasses(sess)
	phaseStart := time.Now()

	responses := make(map[models.ForecasterClass]*models.ForecasterResponse, len(classes))
	for _, class := range classes {
		resp := &models.ForecasterResponse{
			SessionID:       sess.ID,
			ForecasterClass: class,
			Status:          models.AgentRunning,
		}
		if err := o.res.Store.ForecasterResponses().Create(ctx, resp); err != nil {
			o.logger.Error("Failed to create forecaster response", "class", class, "error", err)
			continue
		}
		responses[class] = resp
		o.publishResponse(ctx, resp)
	}

	var specs []agentSpec
	for _, class := range classes {
		if responses[class] == nil {
			continue
		}
		specs = append(specs, agentSpec{
			Name:   "synthesis_" + string(class),
			Phase:  models.PhaseSynthesis,
			System: synthesisPrompt + "\n\n" + personalityModifiers[class],
			User:   synthesisUserPayload(sess.QuestionText, sess.QuestionType, factors),
			Schema: synthesisSchema,
		})
	}
	results := o.runParallel(ctx, sess.ID, specs)

	completed := 0
	tokens := 0
	for _, r := range results {
		tokens += r.Tokens
		class := models.ForecasterClass(strings.TrimPrefix(r.Name, "synthesis_"))
		resp := responses[class]
		if resp == nil {
			continue
		}
		if r.Err != nil {
			resp.Status = models.AgentFailed
			if err := o.res.Store.ForecasterResponses().Update(ctx, resp); err != nil {
				o.logger.Error("Failed to record forecaster failure", "class", class, "error", err)
			}
			o.publishResponse(ctx, resp)
			continue
		}
		var out SynthesisOutput
		if err := json.Unmarshal(r.Output, &out); err != nil {
			o.logger.Warn("Synthesis output unmarshal failed", "class", class, "error", err)
			resp.Status = models.AgentFailed
			_ = o.res.Store.ForecasterResponses().Update(ctx, resp)
			o.publishResponse(ctx, resp)
			continue
		}

		classDurations := make(map[string]float64, len(durations)+1)
		for k, v := range durations {
			classDurations[k] = v
		}
		classDurations[string(models.PhaseSynthesis)] = time.Since(phaseStart).Seconds()

		prob, conf := out.PredictionProbability, out.Confidence
		resp.PredictionProbability = &prob
		resp.Confidence = &conf
		resp.Reasoning = out.Reasoning
		resp.KeyFactors = out.KeyFactors
		resp.PhaseDurations = classDurations
		resp.Status = models.AgentCompleted
		if err := o.res.Store.ForecasterResponses().Update(ctx, resp); err != nil {
			o.logger.Error("Failed to record forecaster response", "class", class, "error", err)
			continue
		}
		o.publishResponse(ctx, resp)
		completed++
	}
	return completed, tokens
}

// requestedClasses resolves which personalities to synthesize.
func (o *Orchestrator) requestedClasses(sess *models.Session) []models.ForecasterClass {
	if sess.RunAllForecasters {
		return models.AllForecasterClasses()
	}
	class := models.ForecasterClass(sess.ForecasterClass)
	if !class.Valid() {
		class = models.ClassBalanced
	}
	return []models.ForecasterClass{class}
}

// --- session helpers ---

func (o *Orchestrator) setPhase(ctx context.Context, sess *models.Session, phase models.Phase) error {
	sess.CurrentPhase = &phase
	if err := o.res.Store.Sessions().Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to set phase %s: %w", phase, err)
	}
	o.publishSession(ctx, sess)
	return nil
}

func (o *Orchestrator) addTokens(ctx context.Context, sess *models.Session, tokens int) {
	if tokens == 0 {
		return
	}
	sess.TokensUsed += tokens
	if err := o.res.Store.Sessions().Update(ctx, sess); err != nil {
		o.logger.Error("Failed to roll up tokens", "session_id", sess.ID, "error", err)
	}
}

// checkCancelled aborts when the session was failed externally.
func (o *Orchestrator) checkCancelled(ctx context.Context, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	current, err := o.res.Store.Sessions().Get(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to poll session status: %w", err)
	}
	if current.Status == models.SessionFailed {
		return ErrCancelled
	}
	return nil
}

func (o *Orchestrator) failSession(ctx context.Context, sess *models.Session, phase models.Phase, reason string) error {
	now := time.Now().UTC()
	sess.Status = models.SessionFailed
	sess.CurrentPhase = &phase
	sess.ErrorMessage = fmt.Sprintf("%s: %s", phase, reason)
	sess.CompletedAt = &now
	if err := o.res.Store.Sessions().Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	o.publishSession(ctx, sess)
	metrics.GetCollector().RecordSession(string(models.SessionFailed))
	o.logger.Warn("Session failed", "session_id", sess.ID, "phase", phase, "reason", reason)
	return fmt.Errorf("session failed in %s: %s", phase, reason)
}

func (o *Orchestrator) publishSession(ctx context.Context, sess *models.Session) {
	payload := map[string]any{
		"id":     sess.ID,
		"status": string(sess.Status),
	}
	if sess.CurrentPhase != nil {
		payload["current_phase"] = string(*sess.CurrentPhase)
	}
	if sess.ErrorMessage != "" {
		payload["error_message"] = sess.ErrorMessage
	}
	if err := o.res.Bus.Publish(ctx, sess.ID, models.ChannelSessions, payload); err != nil {
		o.logger.Warn("Failed to publish session event", "error", err)
	}
}

func (o *Orchestrator) publishFactor(ctx context.Context, f *models.Factor) {
	payload := map[string]any{
		"id":       f.ID,
		"name":     f.Name,
		"category": f.Category,
	}
	if f.ImportanceScore != nil {
		payload["importance_score"] = *f.ImportanceScore
	}
	if f.ResearchSummary != "" {
		payload["research_summary"] = f.ResearchSummary
	}
	if err := o.res.Bus.Publish(ctx, f.SessionID, models.ChannelFactors, payload); err != nil {
		o.logger.Warn("Failed to publish factor event", "error", err)
	}
}

func (o *Orchestrator) publishResponse(ctx context.Context, resp *models.ForecasterResponse) {
	payload := map[string]any{
		"id":               resp.ID,
		"forecaster_class": string(resp.ForecasterClass),
		"status":           string(resp.Status),
	}
	if resp.PredictionProbability != nil {
		payload["prediction_probability"] = *resp.PredictionProbability
	}
	if resp.Confidence != nil {
		payload["confidence"] = *resp.Confidence
	}
	if err := o.res.Bus.Publish(ctx, resp.SessionID, models.ChannelForecasterResponses, payload); err != nil {
		o.logger.Warn("Failed to publish forecaster event", "error", err)
	}
}
