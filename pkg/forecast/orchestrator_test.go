package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/llm"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
	"github.com/foresightlab/foresight/pkg/store/memory"
)

// scriptedCompleter routes each request by its schema, which uniquely
// identifies the phase worker making the call.
type scriptedCompleter struct {
	mu    sync.Mutex
	calls int

	onDiscovery func(req llm.Request) (*llm.Result, error)
	onValidator func(req llm.Request) (*llm.Result, error)
	onRating    func(req llm.Request) (*llm.Result, error)
	onResearch  func(req llm.Request) (*llm.Result, error)
	onSynthesis func(req llm.Request) (*llm.Result, error)
}

func ok(v any) (*llm.Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &llm.Result{Output: b, PromptTokens: 3, CompletionTokens: 4}, nil
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	switch req.Schema {
	case discoverySchema:
		return c.onDiscovery(req)
	case validationSchema:
		return c.onValidator(req)
	case ratingConsensusSchema:
		return c.onRating(req)
	case researchSchema:
		return c.onResearch(req)
	case synthesisSchema:
		return c.onSynthesis(req)
	}
	return nil, fmt.Errorf("unexpected schema %v", req.Schema)
}

func (c *scriptedCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func happyCompleter() *scriptedCompleter {
	factors := []FactorCandidate{
		{Name: "Central bank policy", Description: "Rate path drives the outcome", Category: "economic"},
		{Name: "Labor market", Description: "Employment trends", Category: "economic"},
	}
	return &scriptedCompleter{
		onDiscovery: func(llm.Request) (*llm.Result, error) {
			return ok(DiscoveryOutput{Factors: factors})
		},
		onValidator: func(llm.Request) (*llm.Result, error) {
			return ok(ValidationOutput{Factors: factors})
		},
		onRating: func(llm.Request) (*llm.Result, error) {
			return ok(RatingConsensusOutput{
				RatedFactors: []RatedFactor{
					{Name: "Central bank policy", ImportanceScore: 9},
					{Name: "Labor market", ImportanceScore: 6},
				},
			})
		},
		onResearch: func(llm.Request) (*llm.Result, error) {
			return ok(ResearchOutput{Summary: "Cuts priced in for Q2", Confidence: 0.8})
		},
		onSynthesis: func(llm.Request) (*llm.Result, error) {
			return ok(SynthesisOutput{
				PredictionProbability: 0.72,
				Confidence:            0.65,
				Reasoning:             "Policy trajectory dominates",
				KeyFactors:            []string{"Central bank policy"},
			})
		},
	}
}

func runningSession(t *testing.T, st store.Store, mutate func(*models.Session)) *models.Session {
	t.Helper()
	sess := &models.Session{
		QuestionText:      "Will the Fed cut rates by June?",
		QuestionType:      models.QuestionBinary,
		Status:            models.SessionRunning,
		RunAllForecasters: true,
		AgentCounts: models.AgentCounts{
			Phase1Discovery:  2,
			Phase3Historical: 1,
			Phase3Current:    1,
		},
	}
	if mutate != nil {
		mutate(sess)
	}
	require.NoError(t, st.Sessions().Create(context.Background(), sess))
	return sess
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the full pipeline", func(t *testing.T) {
		st := memory.New()
		mock := happyCompleter()
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, nil)

		require.NoError(t, o.Run(ctx, sess.ID))

		got, err := st.Sessions().Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)

		// 2 discovery + validator + rating + 4 research (one historical
		// and one current per factor) + 5 synthesis
		assert.Equal(t, 13, mock.callCount())
		assert.Equal(t, 13*7, got.TokensUsed)

		responses, err := st.ForecasterResponses().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, responses, len(models.AllForecasterClasses()))
		for _, r := range responses {
			assert.Equal(t, models.AgentCompleted, r.Status)
			require.NotNil(t, r.PredictionProbability)
			assert.Equal(t, 0.72, *r.PredictionProbability)
			assert.Contains(t, r.PhaseDurations, string(models.PhaseSynthesis))
		}

		// Every surviving factor carries both research perspectives.
		factors, err := st.Factors().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, factors, 2)
		for _, f := range factors {
			require.NotNil(t, f.ImportanceScore)
			require.NotEmpty(t, f.ResearchSummary, "factor %s", f.Name)
			assert.Contains(t, f.ResearchSummary, "Historical")
			assert.Contains(t, f.ResearchSummary, "Current")
		}

		logs, err := st.AgentLogs().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, logs, 13)
		for _, l := range logs {
			assert.Equal(t, models.AgentCompleted, l.Status)
			assert.Equal(t, 7, l.TokensUsed)
			require.NotNil(t, l.CompletedAt)
		}
	})

	t.Run("fails when discovery produces nothing", func(t *testing.T) {
		st := memory.New()
		mock := happyCompleter()
		mock.onDiscovery = func(llm.Request) (*llm.Result, error) {
			return &llm.Result{PromptTokens: 2, CompletionTokens: 1}, errors.New("provider down")
		}
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, nil)

		err := o.Run(ctx, sess.ID)
		require.Error(t, err)

		got, err := st.Sessions().Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, string(models.PhaseDiscovery))

		logs, err := st.AgentLogs().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		for _, l := range logs {
			assert.Equal(t, models.AgentFailed, l.Status)
		}
	})

	t.Run("one surviving discovery worker carries the pipeline", func(t *testing.T) {
		st := memory.New()
		mock := happyCompleter()
		base := mock.onDiscovery
		var discoveryCalls int
		var mu sync.Mutex
		mock.onDiscovery = func(req llm.Request) (*llm.Result, error) {
			mu.Lock()
			discoveryCalls++
			fail := discoveryCalls > 1
			mu.Unlock()
			if fail {
				return nil, errors.New("provider down")
			}
			return base(req)
		}
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, func(s *models.Session) {
			s.AgentCounts.Phase1Discovery = 10
		})

		require.NoError(t, o.Run(ctx, sess.ID))

		got, err := st.Sessions().Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, got.Status)

		factors, err := st.Factors().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, factors, 2)

		logs, err := st.AgentLogs().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		var discoveryFailed, discoveryCompleted int
		for _, l := range logs {
			if l.Phase != models.PhaseDiscovery {
				continue
			}
			switch l.Status {
			case models.AgentFailed:
				discoveryFailed++
			case models.AgentCompleted:
				discoveryCompleted++
			}
		}
		assert.Equal(t, 9, discoveryFailed)
		assert.Equal(t, 1, discoveryCompleted)
	})

	t.Run("survives validator and rating failures", func(t *testing.T) {
		st := memory.New()
		mock := happyCompleter()
		mock.onValidator = func(llm.Request) (*llm.Result, error) {
			return nil, errors.New("validator down")
		}
		mock.onRating = func(llm.Request) (*llm.Result, error) {
			return nil, errors.New("rating down")
		}
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, nil)

		require.NoError(t, o.Run(ctx, sess.ID))

		// Falls back to the deduplicated discovery set, unscored.
		factors, err := st.Factors().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, factors, 2)
		for _, f := range factors {
			assert.Nil(t, f.ImportanceScore)
		}
	})

	t.Run("single-class session synthesizes one response", func(t *testing.T) {
		st := memory.New()
		o := NewOrchestrator(Resources{Store: st, LLM: happyCompleter(), Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, func(s *models.Session) {
			s.RunAllForecasters = false
			s.ForecasterClass = string(models.ClassMomentum)
		})

		require.NoError(t, o.Run(ctx, sess.ID))

		responses, err := st.ForecasterResponses().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, responses, 1)
		assert.Equal(t, models.ClassMomentum, responses[0].ForecasterClass)
	})

	t.Run("unknown class falls back to balanced", func(t *testing.T) {
		st := memory.New()
		o := NewOrchestrator(Resources{Store: st, LLM: happyCompleter(), Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, func(s *models.Session) {
			s.RunAllForecasters = false
			s.ForecasterClass = "contrarian"
		})

		require.NoError(t, o.Run(ctx, sess.ID))

		responses, err := st.ForecasterResponses().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, responses, 1)
		assert.Equal(t, models.ClassBalanced, responses[0].ForecasterClass)
	})

	t.Run("aborts when cancelled mid-phase", func(t *testing.T) {
		st := memory.New()
		runCtx, cancel := context.WithCancel(context.Background())
		mock := happyCompleter()
		base := mock.onDiscovery
		mock.onDiscovery = func(req llm.Request) (*llm.Result, error) {
			cancel()
			return base(req)
		}
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, nil)

		err := o.Run(runCtx, sess.ID)
		assert.ErrorIs(t, err, ErrCancelled)
	})

	t.Run("marks partial synthesis completed", func(t *testing.T) {
		st := memory.New()
		mock := happyCompleter()
		var synthCalls int
		var mu sync.Mutex
		mock.onSynthesis = func(req llm.Request) (*llm.Result, error) {
			mu.Lock()
			synthCalls++
			fail := synthCalls == 1
			mu.Unlock()
			if fail {
				return nil, errors.New("synth down")
			}
			return ok(SynthesisOutput{PredictionProbability: 0.6, Confidence: 0.5})
		}
		o := NewOrchestrator(Resources{Store: st, LLM: mock, Bus: events.NopBroadcaster{}})
		sess := runningSession(t, st, nil)

		require.NoError(t, o.Run(ctx, sess.ID))

		responses, err := st.ForecasterResponses().ListBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, responses, len(models.AllForecasterClasses()))
		var completed, failed int
		for _, r := range responses {
			switch r.Status {
			case models.AgentCompleted:
				completed++
			case models.AgentFailed:
				failed++
				assert.Nil(t, r.PredictionProbability)
			}
		}
		assert.Equal(t, 4, completed)
		assert.Equal(t, 1, failed)
	})
}

func TestDedupeFactors(t *testing.T) {
	out := dedupeFactors([]FactorCandidate{
		{Name: "Rates", Description: "short"},
		{Name: "  rates ", Description: "the longer, more specific one"},
		{Name: "Labor", Description: "jobs"},
		{Name: "", Description: "ignored"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "Labor", out[0].Name)
	assert.Equal(t, "the longer, more specific one", out[1].Description)
}

func TestSelectTopFactors(t *testing.T) {
	unique := []FactorCandidate{
		{Name: "alpha"}, {Name: "bravo"}, {Name: "charlie"}, {Name: "delta"},
	}
	rated := map[string]float64{"alpha": 2, "bravo": 9, "charlie": 5}

	t.Run("explicit selection wins", func(t *testing.T) {
		out := selectTopFactors(unique, rated, []string{"delta", "alpha"}, 2)
		require.Len(t, out, 2)
		assert.Equal(t, "delta", out[0].Name)
		assert.Equal(t, "alpha", out[1].Name)
	})

	t.Run("falls back to scores", func(t *testing.T) {
		out := selectTopFactors(unique, rated, nil, 2)
		require.Len(t, out, 2)
		assert.Equal(t, "bravo", out[0].Name)
		assert.Equal(t, "charlie", out[1].Name)
	})

	t.Run("tops up an explicit selection", func(t *testing.T) {
		out := selectTopFactors(unique, rated, []string{"delta"}, 3)
		require.Len(t, out, 3)
		assert.Equal(t, "delta", out[0].Name)
		assert.Equal(t, "bravo", out[1].Name)
		assert.Equal(t, "charlie", out[2].Name)
	})
}
