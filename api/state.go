package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentboard/domain"
)

// GetState builds and returns the full snapshot view.
// GET /state
func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.BuildState())
}

// BuildState assembles the read-optimized view on demand. Summary and
// session rollups cover the whole store; only the agent list is
// truncated.
func (h *Handler) BuildState() domain.StateView {
	summary := h.store.Summary()
	totals := h.store.Totals()

	return domain.StateView{
		Summary:            summary,
		OrchestratorStatus: h.orchStatus(summary),
		Model:              h.config.ModelName,
		Agents:             h.store.List(h.config.MaxAgentsInState),
		Messages:           h.store.Messages(),
		Sessions:           h.store.Sessions(),
		Totals:             totals,
		CostUSD:            float64(totals.Tokens) * h.config.CostPerMTok / 1e6,
	}
}

// orchStatus derives the orchestrator display status. The
// orchestrator has no "done" event of its own, so liveness is
// inferred from whatever it last caused.
func (h *Handler) orchStatus(summary domain.Summary) domain.OrchStatus {
	if summary.Running > 0 {
		return domain.OrchRunning
	}
	last := h.store.LastActivity()
	if !last.IsZero() && h.store.Now().Sub(last) < h.config.OrchLiveness {
		return domain.OrchRunning
	}
	if summary.Total == 0 {
		return domain.OrchIdle
	}
	return domain.OrchDone
}
