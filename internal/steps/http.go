package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

const (
	// StepNameHTTP — имя шага вызова удалённого агента.
	StepNameHTTP = "http"

	// Значения по умолчанию.
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
	maxErrorBody       = 512
)

// HTTPStep — шаг вызова удалённого агента.
//
// Отправляет POST на настроенный URL:
//
//	{
//	    "run_id": "run-...",
//	    "request": {"who": "...", "action": "...", ...},
//	    "previous": [{"name": "agentA", "status": "ok", ...}]
//	}
//
// Outputs:
//
//	{
//	    "status_code": 200,
//	    "body": {...}  // parsed JSON или string
//	}
//
// Статус ответа >= 400 считается ошибкой шага.
type HTTPStep struct {
	url    string
	client *http.Client
}

// NewHTTPStep создаёт новый HTTPStep.
func NewHTTPStep(url string) *HTTPStep {
	return &HTTPStep{
		url: url,
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Name возвращает имя шага.
func (s *HTTPStep) Name() string {
	return StepNameHTTP
}

// remoteCall — тело запроса к удалённому агенту.
type remoteCall struct {
	RunID    string              `json:"run_id"`
	Request  domain.RunRequest   `json:"request"`
	Previous []domain.StepResult `json:"previous"`
}

// Execute выполняет HTTP запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if s.url == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, StepNameHTTP)
	}

	previous := req.Previous
	if previous == nil {
		previous = []domain.StepResult{}
	}
	body, err := json.Marshal(remoteCall{
		RunID:    req.RunID,
		Request:  req.Run,
		Previous: previous,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := s.client
	if req.Timeout > 0 {
		client = &http.Client{Timeout: req.Timeout, Transport: s.client.Transport}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return s.parseResponse(resp)
}

// parseResponse парсит HTTP ответ в Response.
func (s *HTTPStep) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		text := string(bodyBytes)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: text}
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	return NewResponse(map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}), nil
}

// HTTPError — ответ удалённого агента со статусом ошибки.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
}
