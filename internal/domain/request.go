package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ключи ядра запроса. Всё остальное попадает в Extra.
const (
	fieldWho    = "who"
	fieldAction = "action"
)

// RunRequest — входные данные для запуска run.
//
// Неизменяем после создания. Состоит из проверяемого ядра (Who, Action)
// и непрозрачной карты расширений Extra, которую шаги могут читать.
//
// В JSON все поля плоские:
//
//	{"who": "teacher-1", "action": "analyze", "class_id": "7b"}
//
// class_id окажется в Extra.
type RunRequest struct {
	// Who — идентификатор инициатора.
	Who string

	// Action — имя операции.
	Action string

	// Extra — дополнительные поля запроса.
	Extra map[string]any
}

// Validate проверяет обязательные поля.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Who) == "" {
		return fmt.Errorf("%w: who is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidRequest)
	}
	return nil
}

// Clone возвращает копию запроса с собственной картой Extra.
func (r RunRequest) Clone() RunRequest {
	out := RunRequest{Who: r.Who, Action: r.Action}
	if r.Extra != nil {
		out.Extra = cloneMap(r.Extra)
	}
	return out
}

// MarshalJSON раскладывает Extra на верхний уровень рядом с who/action.
func (r RunRequest) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		flat[k] = v
	}
	flat[fieldWho] = r.Who
	flat[fieldAction] = r.Action
	return json.Marshal(flat)
}

// UnmarshalJSON собирает who/action в ядро, остальное — в Extra.
func (r *RunRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	who, err := stringField(raw, fieldWho)
	if err != nil {
		return err
	}
	action, err := stringField(raw, fieldAction)
	if err != nil {
		return err
	}

	delete(raw, fieldWho)
	delete(raw, fieldAction)

	r.Who = who
	r.Action = action
	r.Extra = nil
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// stringField извлекает строковое поле; отсутствие поля — не ошибка.
func stringField(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, key)
	}
	return s, nil
}
