package api

import (
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/trace"
)

// Run DTOs

// RunAgentResponse — ответ на POST /run_agent.
type RunAgentResponse struct {
	RunID     string           `json:"run_id"`
	Status    domain.RunStatus `json:"status"`
	Trace     trace.Trace      `json:"trace"`
	Timestamp time.Time        `json:"timestamp"`
}

// RunAgentFromDomain конвертирует запись run в RunAgentResponse.
func RunAgentFromDomain(run *domain.RunRecord, now time.Time) RunAgentResponse {
	return RunAgentResponse{
		RunID:     run.ID,
		Status:    run.Status,
		Trace:     trace.Render(run),
		Timestamp: now.UTC(),
	}
}

// Service DTOs

// StatusResponse — ответ на GET /status.
type StatusResponse struct {
	Service    string    `json:"service"`
	Version    string    `json:"version"`
	CommitSHA  string    `json:"commit_sha"`
	StartTime  time.Time `json:"start_time"`
	Ready      bool      `json:"ready"`
	Pipeline   []string  `json:"pipeline"`
	ActiveRuns int       `json:"active_runs"`
}

// HealthResponse — ответ на GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
