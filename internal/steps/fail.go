package steps

import (
	"context"
	"errors"
)

const (
	// StepNameFail — имя шага, который всегда падает.
	StepNameFail = "fail"

	extraFailMessage   = "fail_message"
	defaultFailMessage = "forced failure"
)

// FailStep всегда завершается ошибкой с текстом из Extra["fail_message"].
// Нужен для проверки fail-fast поведения pipeline.
type FailStep struct{}

// NewFailStep создаёт новый FailStep.
func NewFailStep() *FailStep {
	return &FailStep{}
}

// Name возвращает имя шага.
func (s *FailStep) Name() string {
	return StepNameFail
}

// Execute возвращает ошибку.
func (s *FailStep) Execute(_ context.Context, req *Request) (*Response, error) {
	msg := GetExtraString(req.Run.Extra, extraFailMessage)
	if msg == "" {
		msg = defaultFailMessage
	}
	return nil, errors.New(msg)
}
