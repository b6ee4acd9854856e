package model

import "errors"

// Ошибки уровня домена. По ним вызывающий код различает,
// что именно пошло не так, через errors.Is.
var (
	// Некорректный инпут
	ErrValidation = errors.New("validation error")
	// Сессия или новость не найдена
	ErrNotFound = errors.New("not found")
	// Чтение TTL-сессии после истечения срока
	ErrExpired = errors.New("session expired")
	// Недопустимый переход состояния: повторное закрытие сессии,
	// открытие второй активной сессии дайджеста для одного чата
	ErrStateConflict = errors.New("state conflict")
	// Проигравший писатель при оптимистичной блокировке
	ErrVersionConflict = errors.New("version conflict")
	// Сбой внешнего сервиса (AI, телеграм), можно ретраить
	ErrExternalService = errors.New("external service error")
)
