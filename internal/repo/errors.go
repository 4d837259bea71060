package repo

import "errors"

// Ошибки хранилища runs.
var (
	// ErrRunNotFound — run с таким id не существует.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRunID — run с таким id уже существует.
	ErrDuplicateRunID = errors.New("run id already exists")

	// ErrStoreUnavailable — хранилище недоступно (сеть, пул, БД).
	// Ошибка инфраструктуры: запрос можно повторить.
	ErrStoreUnavailable = errors.New("run store unavailable")
)
