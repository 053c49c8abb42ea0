package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/llm"
	"github.com/foresightlab/foresight/pkg/metrics"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

// Resources are the external collaborators the pipeline depends on. They
// are passed in explicitly; there are no process-wide singletons.
type Resources struct {
	Store store.Store
	LLM   llm.Completer
	Bus   events.Broadcaster
}

// agentSpec describes one worker invocation.
type agentSpec struct {
	Name        string
	Phase       models.Phase
	System      string
	User        string
	Schema      *llm.Schema
	WebSearch   bool
	Temperature float64
}

// agentResult pairs a worker's raw output with its accounting.
type agentResult struct {
	Name   string
	Output json.RawMessage
	Tokens int
	Err    error
}

// runAgent executes one worker: running log before the call, exactly one
// terminal update after.
func (o *Orchestrator) runAgent(ctx context.Context, sessionID string, spec agentSpec) agentResult {
	log := &models.AgentLog{
		SessionID: sessionID,
		AgentName: spec.Name,
		Phase:     spec.Phase,
		Status:    models.AgentRunning,
	}
	if err := o.res.Store.AgentLogs().Create(ctx, log); err != nil {
		return agentResult{Name: spec.Name, Err: fmt.Errorf("failed to create agent log: %w", err)}
	}
	o.publishAgentLog(ctx, log)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.res.LLM.Complete(callCtx, llm.Request{
		SystemPrompt: spec.System,
		UserPayload:  spec.User,
		Schema:       spec.Schema,
		WebSearch:    spec.WebSearch,
		Temperature:  spec.Temperature,
	})

	now := time.Now().UTC()
	log.CompletedAt = &now
	if result != nil {
		log.TokensUsed = result.TotalTokens()
		metrics.GetCollector().RecordTokens(result.PromptTokens, result.CompletionTokens)
	}

	if err != nil {
		log.Status = models.AgentFailed
		log.ErrorMessage = failureReason(ctx, callCtx, err)
		if uerr := o.res.Store.AgentLogs().Update(ctx, log); uerr != nil {
			o.logger.Error("Failed to record agent failure", "agent", spec.Name, "error", uerr)
		}
		o.publishAgentLog(ctx, log)
		metrics.GetCollector().RecordAgentRun(string(spec.Phase), string(models.AgentFailed))
		return agentResult{Name: spec.Name, Tokens: log.TokensUsed, Err: err}
	}

	log.Status = models.AgentCompleted
	log.OutputData = result.Output
	if err := o.res.Store.AgentLogs().Update(ctx, log); err != nil {
		o.logger.Error("Failed to record agent completion", "agent", spec.Name, "error", err)
	}
	o.publishAgentLog(ctx, log)
	metrics.GetCollector().RecordAgentRun(string(spec.Phase), string(models.AgentCompleted))

	return agentResult{Name: spec.Name, Output: result.Output, Tokens: log.TokensUsed}
}

// failureReason maps an error to the recorded log reason.
func failureReason(parent, call context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return "cancelled"
	case errors.Is(err, llm.ErrTimeout) || errors.Is(call.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return err.Error()
	}
}

// runParallel executes the specs concurrently, bounded by the
// orchestrator's concurrency ceiling. Results are collected in completion
// order and returned sorted by agent name so downstream consumption is
// deterministic.
func (o *Orchestrator) runParallel(ctx context.Context, sessionID string, specs []agentSpec) []agentResult {
	limit := o.maxConcurrency
	if limit <= 0 || limit > len(specs) {
		limit = len(specs)
	}
	sem := make(chan struct{}, limit)

	var (
		mu      sync.Mutex
		results []agentResult
		wg      sync.WaitGroup
	)
	for _, spec := range specs {
		wg.Add(1)
		go func(spec agentSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := o.runAgent(ctx, sessionID, spec)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(spec)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func (o *Orchestrator) publishAgentLog(ctx context.Context, log *models.AgentLog) {
	payload := map[string]any{
		"id":          log.ID,
		"agent_name":  log.AgentName,
		"phase":       string(log.Phase),
		"status":      string(log.Status),
		"tokens_used": log.TokensUsed,
	}
	if log.ErrorMessage != "" {
		payload["error_message"] = log.ErrorMessage
	}
	if err := o.res.Bus.Publish(ctx, log.SessionID, models.ChannelAgentLogs, payload); err != nil {
		o.logger.Warn("Failed to publish agent log event", "agent", log.AgentName, "error", err)
	}
}
