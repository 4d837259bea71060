package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/repo"
	"github.com/shaiso/tta-agent/internal/telemetry"
	"github.com/shaiso/tta-agent/internal/trace"
)

// maxRequestBody — предел размера тела POST /run_agent.
const maxRequestBody = 1 << 20

// RunAgent запускает новый run.
// POST /run_agent
func (h *Handler) RunAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req domain.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			BadRequest(w, "request body too large")
		case errors.Is(err, domain.ErrInvalidRequest):
			BadRequest(w, err.Error())
		default:
			BadRequest(w, "invalid request body")
		}
		return
	}

	id, err := h.runner.Start(r.Context(), req)
	if HandleError(w, h.logger, err) {
		return
	}

	// В синхронном режиме run уже завершён, в асинхронном —
	// ответ содержит снимок на момент приёма.
	run, err := h.runner.Get(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	telemetry.WithRunID(telemetry.FromContext(r.Context()), id).Info("run accepted via api", "status", run.Status)

	Created(w, RunAgentFromDomain(run, h.clock.Now()))
}

// GetRun возвращает trace run.
// GET /run/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.Get(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, trace.Render(run))
}

// CancelRun запрашивает отмену run.
// POST /run/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.Cancel(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err) {
		return
	}

	h.logger.Info("run cancel requested", "run_id", run.ID, "status", run.Status)

	Success(w, trace.Render(run))
}

// ListRuns возвращает список runs с фильтрацией.
// GET /runs?status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}

	// Парсим query параметры
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	var ok bool
	if filter.Limit, ok = parseNonNegative(r, "limit"); !ok {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, ok = parseNonNegative(r, "offset"); !ok {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.runner.List(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, trace.RenderAll(runs), len(runs))
}

// Status возвращает метаданные сервиса.
// GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	pipeline := h.info.Pipeline
	if pipeline == nil {
		pipeline = []string{}
	}

	Success(w, StatusResponse{
		Service:    h.info.Service,
		Version:    h.info.Version,
		CommitSHA:  h.info.CommitSHA,
		StartTime:  h.info.StartTime.UTC(),
		Ready:      h.runner.Ping(r.Context()) == nil,
		Pipeline:   pipeline,
		ActiveRuns: h.runner.ActiveRuns(),
	})
}

// Healthz проверяет доступность хранилища.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// parseNonNegative читает неотрицательное целое из query.
// Отсутствующий параметр даёт 0.
func parseNonNegative(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
