package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/npcflow/internal/config"
	"github.com/scrypster/npcflow/internal/engine"
	"github.com/scrypster/npcflow/pkg/types"
)

type stubGenerator struct {
	lastReq engine.Request
	resp    types.DialogueResponse
}

func (s *stubGenerator) GenerateDialogue(_ context.Context, req engine.Request) types.DialogueResponse {
	s.lastReq = req
	return s.resp
}

type stubLedger struct {
	stats      types.DailyStats
	hours      [24]int64
	projection types.CostProjection
	alert      *types.BudgetAlert
	setErr     error
	setPct     float64
}

func (s *stubLedger) DailyStats(_ context.Context, date string) types.DailyStats { return s.stats }
func (s *stubLedger) HourlyBreakdown(_ context.Context, date string) [24]int64   { return s.hours }
func (s *stubLedger) Projection(_ context.Context) types.CostProjection          { return s.projection }
func (s *stubLedger) CheckAlert(_ context.Context) *types.BudgetAlert            { return s.alert }

func (s *stubLedger) SetAlert(pct float64) error {
	s.setPct = pct
	return s.setErr
}

func newTestHandlers() (*Handlers, *stubGenerator, *stubLedger) {
	gen := &stubGenerator{resp: types.DialogueResponse{Text: "Well met!", Emotion: types.EmotionHappy}}
	ledger := &stubLedger{
		stats:      types.DailyStats{Date: "2026-08-29", TotalCost: 1.5, TotalRequests: 80, BudgetLimit: 50},
		projection: types.CostProjection{DailyAvg: 1.5, MonthlyProjection: 45, Confidence: "medium", DataPoints: 4},
	}
	return NewHandlers(gen, ledger), gen, ledger
}

func TestGenerateDialogueHandler(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		h, gen, _ := newTestHandlers()

		body, _ := json.Marshal(map[string]interface{}{
			"npc_id": "npc-elder",
			"context": map[string]interface{}{
				"interaction_type":   "greeting",
				"relationship_level": 0.4,
				"player_id":          "player-1",
			},
			"personality": map[string]float64{"friendliness": 0.8},
			"memories":    []interface{}{},
			"force_cloud": true,
		})

		rec := httptest.NewRecorder()
		h.GenerateDialogue(rec, httptest.NewRequest(http.MethodPost, "/api/dialogue", bytes.NewReader(body)))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp types.DialogueResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Well met!", resp.Text)
		assert.Equal(t, types.EmotionHappy, resp.Emotion)

		assert.Equal(t, "npc-elder", gen.lastReq.NPCID)
		assert.Equal(t, "npc-elder", gen.lastReq.Context.NPCID)
		assert.True(t, gen.lastReq.ForceCloud)
	})

	t.Run("missing npc_id", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.GenerateDialogue(rec, httptest.NewRequest(http.MethodPost, "/api/dialogue", bytes.NewReader([]byte(`{}`))))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_NPC_ID")
	})

	t.Run("malformed body", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.GenerateDialogue(rec, httptest.NewRequest(http.MethodPost, "/api/dialogue", bytes.NewReader([]byte(`{not json`))))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.GenerateDialogue(rec, httptest.NewRequest(http.MethodGet, "/api/dialogue", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestBudgetHandlers(t *testing.T) {
	t.Run("daily stats", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.DailyStats(rec, httptest.NewRequest(http.MethodGet, "/api/budget/stats?date=2026-08-29", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var stats types.DailyStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, "2026-08-29", stats.Date)
		assert.InDelta(t, 1.5, stats.TotalCost, 1e-9)
	})

	t.Run("hourly breakdown", func(t *testing.T) {
		h, _, ledger := newTestHandlers()
		ledger.hours[9] = 14

		rec := httptest.NewRecorder()
		h.HourlyBreakdown(rec, httptest.NewRequest(http.MethodGet, "/api/budget/hourly", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Hours [24]int64 `json:"hours"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(14), body.Hours[9])
	})

	t.Run("projection", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.Projection(rec, httptest.NewRequest(http.MethodGet, "/api/budget/projection", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var proj types.CostProjection
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
		assert.Equal(t, "medium", proj.Confidence)
		assert.InDelta(t, 45, proj.MonthlyProjection, 1e-9)
	})

	t.Run("set alert", func(t *testing.T) {
		h, _, ledger := newTestHandlers()

		rec := httptest.NewRecorder()
		h.SetAlert(rec, httptest.NewRequest(http.MethodPost, "/api/budget/alert",
			bytes.NewReader([]byte(`{"threshold_percent":75}`))))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 75.0, ledger.setPct, 1e-9)
	})

	t.Run("check alerts with pending alert", func(t *testing.T) {
		h, _, ledger := newTestHandlers()
		ledger.alert = &types.BudgetAlert{
			AlertType:          "budget_warning",
			UtilizationPercent: 82,
			ThresholdPercent:   75,
		}

		rec := httptest.NewRecorder()
		h.CheckAlerts(rec, httptest.NewRequest(http.MethodGet, "/api/budget/alerts", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Alerts []types.BudgetAlert `json:"alerts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Alerts, 1)
		assert.Equal(t, "budget_warning", body.Alerts[0].AlertType)
	})

	t.Run("check alerts empty", func(t *testing.T) {
		h, _, _ := newTestHandlers()

		rec := httptest.NewRecorder()
		h.CheckAlerts(rec, httptest.NewRequest(http.MethodGet, "/api/budget/alerts", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"alerts":[]`)
	})
}

func TestServerLifecycle(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Server.Port = 0

	gen := &stubGenerator{resp: types.DialogueResponse{Text: "Hello!", Emotion: types.EmotionNeutral}}
	ledger := &stubLedger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Start(ctx, cfg, gen, ledger)
	require.NoError(t, err)

	t.Run("health endpoint open", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	})

	t.Run("dialogue endpoint reachable in development mode", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"npc_id":"npc-1","context":{"interaction_type":"greeting"}}`))
		resp, err := http.Post("http://"+addr+"/api/dialogue", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("production mode requires token", func(t *testing.T) {
		prodCfg, err := config.LoadConfig()
		require.NoError(t, err)
		prodCfg.Server.Port = 0
		prodCfg.Security.SecurityMode = "production"
		prodCfg.Security.APIToken = "secret-token"

		prodCtx, prodCancel := context.WithCancel(context.Background())
		defer prodCancel()

		prodAddr, err := Start(prodCtx, prodCfg, gen, ledger)
		require.NoError(t, err)

		resp, err := http.Get("http://" + prodAddr + "/api/budget/stats")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		req, _ := http.NewRequest(http.MethodGet, "http://"+prodAddr+"/api/budget/stats", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		authed, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		authed.Body.Close()
		assert.Equal(t, http.StatusOK, authed.StatusCode)
	})

	cancel()
	time.Sleep(50 * time.Millisecond)
}
