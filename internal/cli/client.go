package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StepResponse — шаг в trace.
type StepResponse struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TraceResponse — trace run из API.
type TraceResponse struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	Who         string         `json:"who"`
	Action      string         `json:"action"`
	Steps       []StepResponse `json:"steps"`
	CreatedAt   string         `json:"created_at"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
}

// IsFinished возвращает true для финального статуса.
func (t *TraceResponse) IsFinished() bool {
	switch t.Status {
	case "succeeded", "failed", "cancelled":
		return true
	default:
		return false
	}
}

// RunAgentResponse — ответ на запуск run.
type RunAgentResponse struct {
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	Trace     TraceResponse `json:"trace"`
	Timestamp string        `json:"timestamp"`
}

// StatusResponse — метаданные сервиса.
type StatusResponse struct {
	Service    string   `json:"service"`
	Version    string   `json:"version"`
	CommitSHA  string   `json:"commit_sha"`
	StartTime  string   `json:"start_time"`
	Ready      bool     `json:"ready"`
	Pipeline   []string `json:"pipeline"`
	ActiveRuns int      `json:"active_runs"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Status string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable возвращает true, если запрос имеет смысл повторить.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// IsNotFound проверяет, что err — ответ 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// --- Client ---

// Client — HTTP-клиент для tta-agent API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// StartRun запускает run. Поля who/action и extra передаются плоским объектом.
func (c *Client) StartRun(ctx context.Context, who, action string, extra map[string]any) (*RunAgentResponse, error) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["who"] = who
	body["action"] = action

	var resp RunAgentResponse
	err := c.post(ctx, "/run_agent", body, &resp)
	return &resp, err
}

// GetRun возвращает trace run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*TraceResponse, error) {
	var tr TraceResponse
	err := c.get(ctx, "/run/"+url.PathEscape(id), &tr)
	return &tr, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(ctx context.Context, id string) (*TraceResponse, error) {
	var tr TraceResponse
	err := c.post(ctx, "/run/"+url.PathEscape(id)+"/cancel", nil, &tr)
	return &tr, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]TraceResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []TraceResponse
	err := c.list(ctx, "/runs", params, &runs)
	return runs, err
}

// WaitRun опрашивает run, пока он не завершится или не истечёт ctx.
// Ответы 503 считаются временными и не прерывают ожидание.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*TraceResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tr, err := c.GetRun(ctx, id)
		if err == nil && tr.IsFinished() {
			return tr, nil
		}
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Retryable()) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait run %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// --- Service ---

// Status возвращает метаданные сервиса.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var st StatusResponse
	err := c.get(ctx, "/status", &st)
	return &st, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	var lr listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &lr); err != nil {
		return err
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
