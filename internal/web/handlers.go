package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/camuig/treasury-agent/internal/dashboard"
	"github.com/camuig/treasury-agent/internal/storage"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

type DashboardData struct {
	Status       *dashboard.Status
	RecentTrades []storage.Trade
	AdvisorLogs  []storage.AdvisorLog
	LLMShare     float64
	Mode         string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{Mode: s.config.Venue.Mode}

	// The artifact is missing until the first cycle completes.
	if status, err := dashboard.Read(s.dashboardPath); err == nil {
		data.Status = status
	}

	if trades, err := s.repo.GetRecentTrades(r.Context(), 20); err == nil {
		data.RecentTrades = trades
	}

	if logs, err := s.repo.GetRecentAdvisorLogs(r.Context(), 20); err == nil {
		data.AdvisorLogs = logs
		data.LLMShare = llmShare(logs)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("execute template", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := dashboard.Read(s.dashboardPath)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no completed cycle yet"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	trades, err := s.repo.GetRecentTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("get recent trades", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAdvisorLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.repo.GetRecentAdvisorLogs(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.logger.Error("get advisor logs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.transfers.RecentTransfers(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.logger.Error("get recent transfers", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func llmShare(logs []storage.AdvisorLog) float64 {
	if len(logs) == 0 {
		return 0
	}
	n := 0
	for _, l := range logs {
		if l.Source == "llm" {
			n++
		}
	}
	return float64(n) / float64(len(logs)) * 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
