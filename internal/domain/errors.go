package domain

import "errors"

// Ошибки модели.
var (
	// ErrInvalidRequest — запрос не прошёл валидацию.
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrInvalidTransition — недопустимый переход статуса run.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// cloneMap делает глубокую копию JSON-совместимых значений.
func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
