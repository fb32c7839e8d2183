package models

import "errors"

var (
	// ErrModelUnavailable возвращается, когда артефакт модели не загружен
	ErrModelUnavailable = errors.New("model artifact is not loaded")

	// ErrInsufficientData возвращается, пока в буфере меньше одного окна
	ErrInsufficientData = errors.New("insufficient data for a full window")

	// ErrMalformedInput возвращается для некорректного пакета отсчетов
	ErrMalformedInput = errors.New("malformed input")

	// ErrTransientComputation возвращается при численной ошибке обработки окна
	ErrTransientComputation = errors.New("transient computation error")

	// ErrSessionNotFound возвращается для неизвестной сессии
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists возвращается при повторном запуске активной сессии
	ErrSessionExists = errors.New("session already active")

	// ErrInvalidConfig возвращается для некорректной конфигурации
	ErrInvalidConfig = errors.New("invalid configuration")
)
