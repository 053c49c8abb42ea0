package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/market"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/sim"
	"github.com/foresightlab/foresight/pkg/store/memory"
	"github.com/foresightlab/foresight/pkg/traders"
)

type fixedStance struct{}

func (fixedStance) Estimate(context.Context, string, []traders.Post) (float64, float64, error) {
	return 0.5, 0.5, nil
}

type testServer struct {
	*Server
	store  *memory.Store
	engine *market.Engine
	hub    *events.Hub
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	hub := events.NewHub()
	bus := events.NewMemoryBus(hub)
	engine := market.NewEngine(st, bus)
	pool := traders.Pool(traders.NewDriftSentiment(1), traders.EmptyFeed{}, fixedStance{})
	registry := sim.NewRegistry(st, engine, bus, pool)
	t.Cleanup(registry.Shutdown)

	srv := NewServer(st, engine, registry, hub, nil)
	return &testServer{
		Server: srv,
		store:  st,
		engine: engine,
		hub:    hub,
		router: srv.Router(),
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateForecast(t *testing.T) {
	ts := newTestServer(t)

	t.Run("queues a pending session", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/forecasts",
			`{"question_text":"  Will inflation fall below 2%?  ","run_all_forecasters":true}`)
		require.Equal(t, http.StatusCreated, w.Code)

		sess := decode[models.Session](t, w)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, "Will inflation fall below 2%?", sess.QuestionText)
		assert.Equal(t, models.QuestionBinary, sess.QuestionType)
		assert.Equal(t, models.SessionPending, sess.Status)
		assert.Equal(t, 10, sess.AgentCounts.Phase1Discovery)
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"empty body", `{}`},
			{"blank question", `{"question_text":"   "}`},
			{"bad question type", `{"question_text":"q","question_type":"essay"}`},
			{"bad forecaster class", `{"question_text":"q","forecaster_class":"psychic"}`},
			{"malformed json", `{"question_text":`},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				w := ts.do(t, http.MethodPost, "/api/forecasts", tc.body)
				assert.Equal(t, http.StatusBadRequest, w.Code)
			})
		}
	})
}

func TestGetForecast(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/forecasts/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns session with artifacts", func(t *testing.T) {
		sess := &models.Session{
			QuestionText: "q",
			QuestionType: models.QuestionBinary,
			Status:       models.SessionCompleted,
		}
		require.NoError(t, ts.store.Sessions().Create(ctx, sess))
		require.NoError(t, ts.store.Factors().Create(ctx, &models.Factor{
			SessionID: sess.ID, Name: "Policy", Description: "d",
		}))
		require.NoError(t, ts.store.ForecasterResponses().Create(ctx, &models.ForecasterResponse{
			SessionID: sess.ID, ForecasterClass: models.ClassBalanced, Status: models.AgentCompleted,
		}))

		w := ts.do(t, http.MethodGet, "/api/forecasts/"+sess.ID, "")
		require.Equal(t, http.StatusOK, w.Code)

		detail := decode[models.SessionDetail](t, w)
		assert.Equal(t, sess.ID, detail.ID)
		require.Len(t, detail.Factors, 1)
		require.Len(t, detail.ForecasterResponses, 1)
	})
}

func TestListForecasts(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, status := range []models.SessionStatus{
		models.SessionCompleted, models.SessionPending, models.SessionPending,
	} {
		require.NoError(t, ts.store.Sessions().Create(ctx, &models.Session{
			QuestionText: "question " + string(rune('a'+i)),
			QuestionType: models.QuestionBinary,
			Status:       status,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	t.Run("empty store stays well-formed", func(t *testing.T) {
		empty := newTestServer(t)
		w := empty.do(t, http.MethodGet, "/api/forecasts", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[models.SessionListResponse](t, w)
		assert.NotNil(t, list.Forecasts)
		assert.Zero(t, list.TotalCount)
	})

	t.Run("defaults and totals", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/forecasts", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[models.SessionListResponse](t, w)
		assert.Equal(t, 3, list.TotalCount)
		assert.Equal(t, 20, list.Limit)
		require.Len(t, list.Forecasts, 3)
		// newest first
		assert.Equal(t, "question c", list.Forecasts[0].QuestionText)
	})

	t.Run("status filter", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/forecasts?status=pending", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[models.SessionListResponse](t, w)
		assert.Equal(t, 2, list.TotalCount)
	})

	t.Run("invalid status", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/forecasts?status=paused", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("paging", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/forecasts?limit=1&offset=1", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[models.SessionListResponse](t, w)
		assert.Equal(t, 3, list.TotalCount)
		require.Len(t, list.Forecasts, 1)
		assert.Equal(t, "question b", list.Forecasts[0].QuestionText)
	})
}

func TestSimulationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("run requires a question", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/run", `{"question_text":" "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	var sessionID string
	t.Run("run starts a simulation", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/run",
			`{"question_text":"Will the launch happen this quarter?"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		var out struct {
			Session models.Session `json:"session"`
			Reused  bool           `json:"reused"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.False(t, out.Reused)
		assert.Equal(t, models.SessionPending, out.Session.Status)
		sessionID = out.Session.ID
	})

	t.Run("duplicate run is reused with 200", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/run",
			`{"question_text":"will the LAUNCH happen  this quarter?"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var out struct {
			Session models.Session `json:"session"`
			Reused  bool           `json:"reused"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.True(t, out.Reused)
		assert.Equal(t, sessionID, out.Session.ID)
	})

	t.Run("status reports the live loop", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/status", "")
		require.Equal(t, http.StatusOK, w.Code)

		var out struct {
			Simulation models.SimulationStatus `json:"simulation"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.True(t, out.Simulation.Running)
	})

	t.Run("status for unknown session", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/sessions/missing/status", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stop halts the loop", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/stop", "")
		require.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/stop", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSettleSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	sess := &models.Session{
		QuestionText: "q", QuestionType: models.QuestionBinary, Status: models.SessionCompleted,
	}
	require.NoError(t, ts.store.Sessions().Create(ctx, sess))
	_, _, err := ts.engine.PlaceOrder(ctx, sess.ID, "momentum", models.SideSell, 40, 10)
	require.NoError(t, err)
	_, _, err = ts.engine.PlaceOrder(ctx, sess.ID, "conservative", models.SideBuy, 40, 10)
	require.NoError(t, err)

	t.Run("requires an outcome", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/settle", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/missing/settle", `{"outcome":true}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("pays the winning side", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/settle", `{"outcome":true}`)
		require.Equal(t, http.StatusOK, w.Code)

		var out struct {
			Outcome bool              `json:"outcome"`
			Payouts map[string]string `json:"payouts"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.True(t, out.Outcome)
		assert.Equal(t, "10", out.Payouts["conservative"])
		assert.Equal(t, "0", out.Payouts["momentum"])
	})
}

func TestMarketReadEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	sess := &models.Session{
		QuestionText: "q", QuestionType: models.QuestionBinary, Status: models.SessionCompleted,
	}
	require.NoError(t, ts.store.Sessions().Create(ctx, sess))

	t.Run("orderbook for unknown session", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/sessions/missing/orderbook", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty book renders empty arrays", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/orderbook", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"bids":[]`)
		assert.Contains(t, w.Body.String(), `"asks":[]`)
	})

	t.Run("orderbook reflects resting orders", func(t *testing.T) {
		_, _, err := ts.engine.PlaceOrder(ctx, sess.ID, "momentum", models.SideBuy, 45, 20)
		require.NoError(t, err)

		w := ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/orderbook", "")
		require.Equal(t, http.StatusOK, w.Code)
		snap := decode[models.OrderBookSnapshot](t, w)
		require.Len(t, snap.Bids, 1)
		assert.Equal(t, 45, snap.Bids[0].Price)
		assert.Equal(t, 20, snap.Bids[0].Quantity)
	})

	t.Run("trades and traders lists", func(t *testing.T) {
		_, _, err := ts.engine.PlaceOrder(ctx, sess.ID, "balanced", models.SideSell, 45, 5)
		require.NoError(t, err)

		w := ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/trades", "")
		require.Equal(t, http.StatusOK, w.Code)
		var tradesOut struct {
			Trades []models.Trade `json:"trades"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tradesOut))
		require.Len(t, tradesOut.Trades, 1)
		assert.Equal(t, 45, tradesOut.Trades[0].Price)

		w = ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/traders", "")
		require.Equal(t, http.StatusOK, w.Code)
		var tradersOut struct {
			Traders []models.TraderState `json:"traders"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tradersOut))
		require.Len(t, tradersOut.Traders, 2)
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestWebSocketFeed(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	sess := &models.Session{
		QuestionText: "q", QuestionType: models.QuestionBinary, Status: models.SessionCompleted,
	}
	require.NoError(t, ts.store.Sessions().Create(ctx, sess))

	srv := httptest.NewServer(ts.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=" + sess.ID

	t.Run("rejects a missing session", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ws?session_id=missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("streams published events", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		defer conn.Close()

		require.Eventually(t, func() bool {
			return ts.hub.SubscriberCount(sess.ID) == 1
		}, 5*time.Second, 10*time.Millisecond)

		ts.hub.Broadcast(models.Event{
			SessionID: sess.ID,
			Channel:   models.ChannelTrades,
			Payload:   map[string]any{"price": 42},
		})

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev models.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, models.ChannelTrades, ev.Channel)
		assert.Equal(t, float64(42), ev.Payload["price"])
	})
}
