// Package server provides the HTTP surface of the npcflow service: the
// dialogue generation endpoint and the budget observability endpoints.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/scrypster/npcflow/internal/engine"
	"github.com/scrypster/npcflow/pkg/types"
)

// DialogueGenerator is the pipeline entry point the dialogue endpoint
// delegates to.
type DialogueGenerator interface {
	GenerateDialogue(ctx context.Context, req engine.Request) types.DialogueResponse
}

// BudgetReader exposes the ledger's observability surface.
type BudgetReader interface {
	DailyStats(ctx context.Context, date string) types.DailyStats
	HourlyBreakdown(ctx context.Context, date string) [24]int64
	Projection(ctx context.Context) types.CostProjection
	SetAlert(pct float64) error
	CheckAlert(ctx context.Context) *types.BudgetAlert
}

// Handlers bundles the HTTP handlers with their collaborators.
type Handlers struct {
	generator DialogueGenerator
	ledger    BudgetReader
}

// NewHandlers creates the handler set.
func NewHandlers(generator DialogueGenerator, ledger BudgetReader) *Handlers {
	return &Handlers{generator: generator, ledger: ledger}
}

// dialogueRequest is the wire shape of POST /api/dialogue.
type dialogueRequest struct {
	NPCID       string                    `json:"npc_id"`
	Context     types.DialogueContext     `json:"context"`
	Personality types.PersonalityProfile  `json:"personality"`
	Memories    []types.MemoryItem        `json:"memories"`
	ForceCloud  bool                      `json:"force_cloud"`
	Emotional   *types.EmotionalInfluence `json:"emotional_influence,omitempty"`
	Gossip      *types.GossipContext      `json:"gossip_context,omitempty"`
}

// GenerateDialogue handles POST /api/dialogue.
func (h *Handlers) GenerateDialogue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	var req dialogueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.NPCID == "" {
		writeError(w, http.StatusBadRequest, "npc_id is required", "MISSING_NPC_ID")
		return
	}
	if req.Context.NPCID == "" {
		req.Context.NPCID = req.NPCID
	}

	resp := h.generator.GenerateDialogue(r.Context(), engine.Request{
		NPCID:       req.NPCID,
		Context:     req.Context,
		Personality: req.Personality,
		Memories:    req.Memories,
		ForceCloud:  req.ForceCloud,
		Emotional:   req.Emotional,
		Gossip:      req.Gossip,
	})

	writeJSON(w, http.StatusOK, resp)
}

// DailyStats handles GET /api/budget/stats. An empty date means today.
func (h *Handlers) DailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.DailyStats(r.Context(), r.URL.Query().Get("date")))
}

// HourlyBreakdown handles GET /api/budget/hourly.
func (h *Handlers) HourlyBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	date := r.URL.Query().Get("date")
	hours := h.ledger.HourlyBreakdown(r.Context(), date)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  date,
		"hours": hours,
	})
}

// Projection handles GET /api/budget/projection.
func (h *Handlers) Projection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.Projection(r.Context()))
}

// SetAlert handles POST /api/budget/alert.
func (h *Handlers) SetAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	var body struct {
		ThresholdPercent float64 `json:"threshold_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if err := h.ledger.SetAlert(body.ThresholdPercent); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_THRESHOLD")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold_percent": body.ThresholdPercent,
	})
}

// CheckAlerts handles GET /api/budget/alerts. Alerts are informational;
// an empty list means no threshold crossing since the alert was armed.
func (h *Handlers) CheckAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	alerts := []types.BudgetAlert{}
	if alert := h.ledger.CheckAlert(r.Context()); alert != nil {
		alerts = append(alerts, *alert)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Server] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
