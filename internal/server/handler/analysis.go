package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/botfleet/internal/analyzer"
)

// AnalysisHandler exposes on-demand runs of the performance analyzer.
type AnalysisHandler struct {
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(an *analyzer.Analyzer, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{analyzer: an, logger: logger}
}

// AnalyzeAgent handles POST /api/agents/{id}/analyze. Results, if any, go
// out over the bus; the response only acknowledges the run.
func (h *AnalysisHandler) AnalyzeAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.analyzer.AnalyzeAgent(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "analyzed"})
}

// AnalyzeGroup handles POST /api/groups/{id}/analyze.
func (h *AnalysisHandler) AnalyzeGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.analyzer.AnalyzeGroup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "analyzed"})
}
